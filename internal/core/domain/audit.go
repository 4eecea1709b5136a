package domain

import (
	"maps"
	"time"
)

const (
	DefaultSource = "unknown"
	NoopEventID   = "noop"
)

type AuditContext struct {
	CorrelationID string         `json:"correlation_id" yaml:"correlation_id"`
	Timestamp     time.Time      `json:"timestamp" yaml:"timestamp"`
	Source        string         `json:"source" yaml:"source"`
	AgentID       string         `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	UserID        string         `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	SessionID     string         `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	RequestID     string         `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty" yaml:"transaction_id,omitempty"`
	TestID        string         `json:"test_id,omitempty" yaml:"test_id,omitempty"`
	Environment   string         `json:"environment,omitempty" yaml:"environment,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Field returns the named context field for equality filtering.
func (c AuditContext) Field(name string) (any, bool) {
	switch name {
	case "correlation_id":
		return c.CorrelationID, true
	case "timestamp":
		return c.Timestamp, true
	case "source":
		return c.Source, true
	case "agent_id":
		return c.AgentID, true
	case "user_id":
		return c.UserID, true
	case "session_id":
		return c.SessionID, true
	case "request_id":
		return c.RequestID, true
	case "transaction_id":
		return c.TransactionID, true
	case "test_id":
		return c.TestID, true
	case "environment":
		return c.Environment, true
	case "metadata":
		return c.Metadata, true
	}
	return nil, false
}

type AuditEvent struct {
	ID        string       `json:"id" yaml:"id"`
	Type      EventType    `json:"type" yaml:"type"`
	Severity  Severity     `json:"severity" yaml:"severity"`
	Message   string       `json:"message" yaml:"message"`
	Context   AuditContext `json:"context" yaml:"context"`
	Data      any          `json:"data,omitempty" yaml:"data,omitempty"`
	CreatedAt time.Time    `json:"created_at" yaml:"created_at"`
}

// Clone copies the event so the stored value cannot be changed through the
// caller's metadata map.
func (e AuditEvent) Clone() AuditEvent {
	e.Context.Metadata = maps.Clone(e.Context.Metadata)
	return e
}
