package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
)

// Upcaster rewrites a raw event record from one schema version to the next.
type Upcaster interface {
	FromVersion() int
	ToVersion() int
	Upcast(payload json.RawMessage) (json.RawMessage, error)
}

type EventCodec struct {
	upcasters map[int]Upcaster
}

// NewEventCodec registers the given upcasters. Without arguments it uses the
// built-in chain that reads records written before the envelope existed.
func NewEventCodec(upcasters ...Upcaster) *EventCodec {
	if len(upcasters) == 0 {
		upcasters = []Upcaster{legacyEventUpcaster{}}
	}
	m := make(map[int]Upcaster, len(upcasters))
	for _, up := range upcasters {
		m[up.FromVersion()] = up
	}
	return &EventCodec{upcasters: m}
}

func (c *EventCodec) Encode(event domain.AuditEvent) ([]byte, error) {
	raw, err := json.Marshal(domain.EventEnvelope{
		SchemaVersion: domain.CurrentEventSchemaVersion,
		Event:         event,
	})
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	return raw, nil
}

// Decode accepts an enveloped record of any known version or a bare v0
// event and returns the current representation.
func (c *EventCodec) Decode(raw []byte) (domain.AuditEvent, error) {
	raw = bytes.TrimSpace(raw)
	var head struct {
		SchemaVersion *int            `json:"schema_version"`
		Event         json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return domain.AuditEvent{}, fmt.Errorf("decode event record: %w", err)
	}

	version := 0
	payload := json.RawMessage(raw)
	if head.SchemaVersion != nil {
		version = *head.SchemaVersion
		payload = head.Event
	}
	if version > domain.CurrentEventSchemaVersion {
		return domain.AuditEvent{}, fmt.Errorf("unsupported event schema version %d", version)
	}

	payload, err := c.normalize(version, payload)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	var event domain.AuditEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.AuditEvent{}, fmt.Errorf("decode event payload: %w", err)
	}
	return event, nil
}

func (c *EventCodec) normalize(version int, payload json.RawMessage) (json.RawMessage, error) {
	for version < domain.CurrentEventSchemaVersion {
		up, ok := c.upcasters[version]
		if !ok {
			return nil, fmt.Errorf("missing upcaster from version %d", version)
		}
		next, err := up.Upcast(payload)
		if err != nil {
			return nil, fmt.Errorf("upcast %d->%d: %w", up.FromVersion(), up.ToVersion(), err)
		}
		payload = next
		version = up.ToVersion()
	}
	return payload, nil
}

// legacyEventUpcaster reads bare event lines with camelCase keys and string
// severities in any case.
type legacyEventUpcaster struct{}

func (legacyEventUpcaster) FromVersion() int { return 0 }
func (legacyEventUpcaster) ToVersion() int   { return 1 }

var legacyKeys = map[string]string{
	"createdAt":     "created_at",
	"correlationId": "correlation_id",
	"agentId":       "agent_id",
	"userId":        "user_id",
	"sessionId":     "session_id",
	"requestId":     "request_id",
	"transactionId": "transaction_id",
	"testId":        "test_id",
}

func (legacyEventUpcaster) Upcast(payload json.RawMessage) (json.RawMessage, error) {
	var event map[string]any
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	renameKeys(event)
	if ctx, ok := event["context"].(map[string]any); ok {
		renameKeys(ctx)
	}
	if _, ok := event["created_at"]; !ok {
		if ts, ok := event["timestamp"]; ok {
			event["created_at"] = ts
			delete(event, "timestamp")
		}
	}
	return json.Marshal(event)
}

func renameKeys(m map[string]any) {
	for old, current := range legacyKeys {
		v, ok := m[old]
		if !ok {
			continue
		}
		if _, exists := m[current]; !exists {
			m[current] = v
		}
		delete(m, old)
	}
}
