package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
)

// Log writes each event as a structured log line. Nothing is kept, so it
// cannot be replayed.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.With(zap.String("mod", "audit_log"))}
}

func (l *Log) WriteBatch(_ context.Context, events []domain.AuditEvent) error {
	for _, e := range events {
		l.logger.Info(e.Message,
			zap.String("event_id", e.ID),
			zap.String("type", string(e.Type)),
			zap.Stringer("severity", e.Severity),
			zap.String("correlation_id", e.Context.CorrelationID),
			zap.String("source", e.Context.Source),
			zap.Time("created_at", e.CreatedAt),
		)
	}
	return nil
}

func (l *Log) Close() error {
	_ = l.logger.Sync()
	return nil
}
