// Package sqlite persists audit events in a local SQLite database.
package sqlite

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/chainaudit/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
)

const insertBatchSize = 200

type auditEventModel struct {
	Seq             int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	EventID         string `gorm:"column:event_id;not null"`
	SchemaVersion   int    `gorm:"column:schema_version;not null"`
	EventType       string `gorm:"column:event_type;not null"`
	Severity        string `gorm:"column:severity;not null"`
	CorrelationID   string `gorm:"column:correlation_id;not null"`
	Source          string `gorm:"column:source;not null"`
	CreatedUnixNano int64  `gorm:"column:created_unix_nano;not null"`
	Record          string `gorm:"column:record;not null"`
}

func (auditEventModel) TableName() string {
	return "audit_events"
}

// AuditEventStore is an EventSink and EventSource over the audit_events
// table. Rows are written once; a repeated event id is ignored.
type AuditEventStore struct {
	db    *gormsqlite.DB
	codec ports.EventCodec
}

func NewAuditEventStore(db *gormsqlite.DB, codec ports.EventCodec) *AuditEventStore {
	return &AuditEventStore{db: db, codec: codec}
}

func (s *AuditEventStore) WriteBatch(ctx context.Context, events []domain.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	encoded, encErr := ports.EncodeBatch(s.codec.Encode, events)
	if len(encoded) == 0 {
		return encErr
	}
	rows := make([]auditEventModel, 0, len(encoded))
	for _, enc := range encoded {
		e := enc.Event
		rows = append(rows, auditEventModel{
			EventID:         e.ID,
			SchemaVersion:   domain.CurrentEventSchemaVersion,
			EventType:       string(e.Type),
			Severity:        e.Severity.String(),
			CorrelationID:   e.Context.CorrelationID,
			Source:          e.Context.Source,
			CreatedUnixNano: e.CreatedAt.UnixNano(),
			Record:          string(enc.Record),
		})
	}

	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).CreateInBatches(&rows, insertBatchSize).Error
		if err != nil {
			return fmt.Errorf("insert audit events: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return encErr
}

func (s *AuditEventStore) ReadSince(ctx context.Context, since time.Time) ([]domain.AuditEvent, error) {
	var rows []auditEventModel
	err := s.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		q := tx.Model(&auditEventModel{})
		if !since.IsZero() {
			q = q.Where("created_unix_nano >= ?", since.UnixNano())
		}
		return q.Order("seq ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("read audit events: %w", err)
	}

	out := make([]domain.AuditEvent, 0, len(rows))
	for _, row := range rows {
		e, err := s.codec.Decode([]byte(row.Record))
		if err != nil {
			return nil, fmt.Errorf("decode audit event %s: %w", row.EventID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *AuditEventStore) Close() error {
	return s.db.Close()
}
