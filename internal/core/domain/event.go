package domain

import (
	"fmt"
	"strings"
)

const CurrentEventSchemaVersion = 1

// EventType is the closed set of audit event tags.
type EventType string

const (
	EventAgentDecision        EventType = "AGENT_DECISION"
	EventAgentAction          EventType = "AGENT_ACTION"
	EventAgentReasoning       EventType = "AGENT_REASONING"
	EventTransactionInitiated EventType = "TRANSACTION_INITIATED"
	EventTransactionTrace     EventType = "TRANSACTION_TRACE"
	EventTransactionCompleted EventType = "TRANSACTION_COMPLETED"
	EventTransactionFailed    EventType = "TRANSACTION_FAILED"
	EventTestStarted          EventType = "TEST_STARTED"
	EventTestCompleted        EventType = "TEST_COMPLETED"
	EventTestDecision         EventType = "TEST_DECISION"
	EventTestOutcome          EventType = "TEST_OUTCOME"
	EventSystem               EventType = "SYSTEM_EVENT"
	EventError                EventType = "ERROR_EVENT"
)

var eventTypes = map[EventType]struct{}{
	EventAgentDecision:        {},
	EventAgentAction:          {},
	EventAgentReasoning:       {},
	EventTransactionInitiated: {},
	EventTransactionTrace:     {},
	EventTransactionCompleted: {},
	EventTransactionFailed:    {},
	EventTestStarted:          {},
	EventTestCompleted:        {},
	EventTestDecision:         {},
	EventTestOutcome:          {},
	EventSystem:               {},
	EventError:                {},
}

func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

func ParseEventType(raw string) (EventType, error) {
	t := EventType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEventType, raw)
	}
	return t, nil
}

// Severity is a coarse triage ordinal. The zero value means "not set" and is
// replaced with SeverityMedium when an event is logged.
type Severity int

const (
	SeverityUnset Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "LOW",
	SeverityMedium:   "MEDIUM",
	SeverityHigh:     "HIGH",
	SeverityCritical: "CRITICAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return ""
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = SeverityUnset
		return nil
	}
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseSeverity(raw string) (Severity, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	for sev, name := range severityNames {
		if name == normalized {
			return sev, nil
		}
	}
	return SeverityUnset, fmt.Errorf("%w: %q", ErrInvalidSeverity, raw)
}

// EventEnvelope is the persisted form of an event. Older records without a
// schema version are upcast by the event codec on replay.
type EventEnvelope struct {
	SchemaVersion int        `json:"schema_version"`
	Event         AuditEvent `json:"event"`
}
