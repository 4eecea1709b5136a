package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
)

// EventSink is the durable side of the event store. Writes are best-effort:
// the store logs and drops sink errors.
type EventSink interface {
	WriteBatch(ctx context.Context, events []domain.AuditEvent) error
	Close() error
}

// EventSource is implemented by sinks that can replay what they stored.
type EventSource interface {
	ReadSince(ctx context.Context, since time.Time) ([]domain.AuditEvent, error)
}
