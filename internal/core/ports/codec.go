package ports

import (
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
)

// EventCodec turns events into one persisted record and back.
type EventCodec interface {
	Encode(event domain.AuditEvent) ([]byte, error)
	Decode(raw []byte) (domain.AuditEvent, error)
}

// EncodedEvent pairs an event with its persisted record.
type EncodedEvent struct {
	Event  domain.AuditEvent
	Record []byte
}

// SkippedEvent is an event a sink left out of a write.
type SkippedEvent struct {
	ID  string
	Err error
}

// EncodeError is returned by a sink whose write succeeded for every event
// except the ones listed. The caller counts those as dropped.
type EncodeError struct {
	Skipped []SkippedEvent
}

func (e *EncodeError) Error() string {
	parts := make([]string, 0, len(e.Skipped))
	for _, s := range e.Skipped {
		parts = append(parts, fmt.Sprintf("%s: %v", s.ID, s.Err))
	}
	return fmt.Sprintf("skipped %d unencodable events: %s", len(e.Skipped), strings.Join(parts, "; "))
}

// EncodeBatch encodes each event on its own so one bad payload cannot sink
// the rest of the batch. The error is nil or an *EncodeError.
func EncodeBatch(encode func(domain.AuditEvent) ([]byte, error), events []domain.AuditEvent) ([]EncodedEvent, error) {
	out := make([]EncodedEvent, 0, len(events))
	var skipped []SkippedEvent
	for _, e := range events {
		raw, err := encode(e)
		if err != nil {
			skipped = append(skipped, SkippedEvent{ID: e.ID, Err: err})
			continue
		}
		out = append(out, EncodedEvent{Event: e, Record: raw})
	}
	if len(skipped) > 0 {
		return out, &EncodeError{Skipped: skipped}
	}
	return out, nil
}
