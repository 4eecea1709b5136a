// Package postgres persists audit events in PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
	"github.com/atvirokodosprendimai/chainaudit/migrations"
)

const (
	columnsPerRow = 8
	// Postgres caps bind parameters at 65535 per statement.
	maxRowsPerInsert = 500
)

// Open connects with the pgx driver, checks the connection and applies
// migrations.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrations.Up(ctx, db, migrations.DialectPostgres); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type AuditEventStore struct {
	db    *sql.DB
	codec ports.EventCodec
}

func NewAuditEventStore(db *sql.DB, codec ports.EventCodec) *AuditEventStore {
	return &AuditEventStore{db: db, codec: codec}
}

// WriteBatch inserts the batch with multi-row INSERTs inside one
// transaction. Rows whose event_id already exists are skipped, and events
// that fail to encode are left out and reported through *ports.EncodeError.
func (s *AuditEventStore) WriteBatch(ctx context.Context, events []domain.AuditEvent) error {
	encoded, encErr := ports.EncodeBatch(s.codec.Encode, events)
	if len(encoded) == 0 {
		return encErr
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(encoded); start += maxRowsPerInsert {
		end := min(start+maxRowsPerInsert, len(encoded))
		query, args := insertStatement(encoded[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert audit events: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return encErr
}

func insertStatement(encoded []ports.EncodedEvent) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO audit_events (event_id, schema_version, event_type, severity, correlation_id, source, created_at, record) VALUES ")
	args := make([]any, 0, len(encoded)*columnsPerRow)
	for i, enc := range encoded {
		e := enc.Event
		if i > 0 {
			b.WriteString(", ")
		}
		p := i * columnsPerRow
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)", p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8)
		args = append(args,
			e.ID, domain.CurrentEventSchemaVersion, string(e.Type), e.Severity.String(),
			e.Context.CorrelationID, e.Context.Source, e.CreatedAt.UTC(), string(enc.Record),
		)
	}
	b.WriteString(" ON CONFLICT (event_id) DO NOTHING")
	return b.String(), args
}

func (s *AuditEventStore) ReadSince(ctx context.Context, since time.Time) ([]domain.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT event_id, record FROM audit_events WHERE created_at >= $1 ORDER BY seq ASC", since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e, err := s.codec.Decode([]byte(record))
		if err != nil {
			return nil, fmt.Errorf("decode audit event %s: %w", id, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}

func (s *AuditEventStore) Close() error {
	return s.db.Close()
}
