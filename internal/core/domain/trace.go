package domain

import (
	"maps"
	"slices"
	"time"
)

type TraceStatus string

const (
	TraceInitiated  TraceStatus = "initiated"
	TraceProcessing TraceStatus = "processing"
	TraceCompleted  TraceStatus = "completed"
	TraceFailed     TraceStatus = "failed"
	TraceCancelled  TraceStatus = "cancelled"
)

// Final reports whether the status ends a trace.
func (s TraceStatus) Final() bool {
	return s == TraceCompleted || s == TraceFailed || s == TraceCancelled
}

type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

type TransactionStep struct {
	StepID     string         `json:"step_id" yaml:"step_id"`
	StepName   string         `json:"step_name" yaml:"step_name"`
	Component  string         `json:"component" yaml:"component"`
	StartTime  time.Time      `json:"start_time" yaml:"start_time"`
	EndTime    *time.Time     `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	DurationMs int64          `json:"duration_ms" yaml:"duration_ms"`
	Status     StepStatus     `json:"status" yaml:"status"`
	Input      any            `json:"input,omitempty" yaml:"input,omitempty"`
	Output     any            `json:"output,omitempty" yaml:"output,omitempty"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type TransactionTrace struct {
	TransactionID string            `json:"transaction_id" yaml:"transaction_id"`
	CorrelationID string            `json:"correlation_id" yaml:"correlation_id"`
	StartTime     time.Time         `json:"start_time" yaml:"start_time"`
	EndTime       *time.Time        `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	DurationMs    int64             `json:"duration_ms" yaml:"duration_ms"`
	Status        TraceStatus       `json:"status" yaml:"status"`
	Steps         []TransactionStep `json:"steps" yaml:"steps"`
	Summary       string            `json:"summary,omitempty" yaml:"summary,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Clone returns a copy that shares no slices or maps with t.
func (t TransactionTrace) Clone() TransactionTrace {
	t.Steps = slices.Clone(t.Steps)
	for i := range t.Steps {
		t.Steps[i].Metadata = maps.Clone(t.Steps[i].Metadata)
	}
	t.Metadata = maps.Clone(t.Metadata)
	return t
}

func (t TransactionTrace) StepIndex(stepID string) int {
	return slices.IndexFunc(t.Steps, func(s TransactionStep) bool { return s.StepID == stepID })
}

type TraceSummary struct {
	TransactionID    string             `json:"transaction_id"`
	CorrelationID    string             `json:"correlation_id"`
	Status           TraceStatus        `json:"status"`
	TotalSteps       int                `json:"total_steps"`
	StepsByStatus    map[StepStatus]int `json:"steps_by_status"`
	CorrelatedEvents int                `json:"correlated_events"`
	ElapsedMs        int64              `json:"elapsed_ms"`
}

type TraceFilter struct {
	Status        TraceStatus
	StartTime     *time.Time
	EndTime       *time.Time
	TransactionID string
}

func (f TraceFilter) Match(t TransactionTrace) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.TransactionID != "" && t.TransactionID != f.TransactionID {
		return false
	}
	return InRange(t.StartTime, f.StartTime, f.EndTime)
}

// InRange reports whether at falls inside the optional inclusive bounds.
func InRange(at time.Time, start, end *time.Time) bool {
	if start != nil && at.Before(*start) {
		return false
	}
	if end != nil && at.After(*end) {
		return false
	}
	return true
}
