package domain

import (
	"maps"
	"time"
)

type TestStatus string

const (
	TestRunning TestStatus = "running"
	TestPassed  TestStatus = "passed"
	TestFailed  TestStatus = "failed"
	TestSkipped TestStatus = "skipped"
	TestTimeout TestStatus = "timeout"
)

func (s TestStatus) Final() bool {
	return s == TestPassed || s == TestFailed || s == TestSkipped || s == TestTimeout
}

type TestExecution struct {
	TestID        string         `json:"test_id" yaml:"test_id"`
	TestName      string         `json:"test_name" yaml:"test_name"`
	TestSuite     string         `json:"test_suite" yaml:"test_suite"`
	AgentID       string         `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	Environment   string         `json:"environment" yaml:"environment"`
	StartTime     time.Time      `json:"start_time" yaml:"start_time"`
	EndTime       *time.Time     `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	DurationMs    int64          `json:"duration_ms" yaml:"duration_ms"`
	Status        TestStatus     `json:"status" yaml:"status"`
	CorrelationID string         `json:"correlation_id" yaml:"correlation_id"`
	Summary       string         `json:"summary,omitempty" yaml:"summary,omitempty"`
	Details       map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (t TestExecution) Clone() TestExecution {
	t.Details = maps.Clone(t.Details)
	t.Metadata = maps.Clone(t.Metadata)
	return t
}

type TestDecisionType string

const (
	TestDecisionContinue TestDecisionType = "continue"
	TestDecisionSkip     TestDecisionType = "skip"
	TestDecisionRetry    TestDecisionType = "retry"
	TestDecisionAbort    TestDecisionType = "abort"
	TestDecisionModify   TestDecisionType = "modify"
)

type TestDecision struct {
	TestID        string           `json:"test_id" yaml:"test_id"`
	DecisionType  TestDecisionType `json:"decision_type" yaml:"decision_type"`
	Reason        string           `json:"reason" yaml:"reason"`
	AgentID       string           `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	Confidence    float64          `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Context       map[string]any   `json:"context,omitempty" yaml:"context,omitempty"`
	CorrelationID string           `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	Timestamp     time.Time        `json:"timestamp" yaml:"timestamp"`
}

type TestOutcomeKind string

const (
	OutcomeSuccess      TestOutcomeKind = "success"
	OutcomeFailure      TestOutcomeKind = "failure"
	OutcomePartial      TestOutcomeKind = "partial"
	OutcomeInconclusive TestOutcomeKind = "inconclusive"
)

type TestOutcome struct {
	TestID           string          `json:"test_id" yaml:"test_id"`
	Outcome          TestOutcomeKind `json:"outcome" yaml:"outcome"`
	Expected         any             `json:"expected,omitempty" yaml:"expected,omitempty"`
	Actual           any             `json:"actual,omitempty" yaml:"actual,omitempty"`
	Message          string          `json:"message,omitempty" yaml:"message,omitempty"`
	AssertionsPassed int             `json:"assertions_passed" yaml:"assertions_passed"`
	AssertionsFailed int             `json:"assertions_failed" yaml:"assertions_failed"`
	CorrelationID    string          `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	Timestamp        time.Time       `json:"timestamp" yaml:"timestamp"`
}

type TestMetrics struct {
	TestID          string    `json:"test_id" yaml:"test_id"`
	ExecutionTimeMs int64     `json:"execution_time_ms" yaml:"execution_time_ms"`
	MemoryBytes     *uint64   `json:"memory_bytes,omitempty" yaml:"memory_bytes,omitempty"`
	CPUPercent      *float64  `json:"cpu_percent,omitempty" yaml:"cpu_percent,omitempty"`
	NetworkCalls    *int      `json:"network_calls,omitempty" yaml:"network_calls,omitempty"`
	CorrelationID   string    `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
}

// TestResult is a completed test joined with the decisions logged for it.
type TestResult struct {
	TestExecution `yaml:",inline"`
	Decisions []TestDecision `json:"decisions" yaml:"decisions"`
}

type TestFilter struct {
	TestSuite string
	Status    TestStatus
	TestID    string
	StartTime *time.Time
	EndTime   *time.Time
}

func (f TestFilter) Match(t TestExecution) bool {
	if f.TestSuite != "" && t.TestSuite != f.TestSuite {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.TestID != "" && t.TestID != f.TestID {
		return false
	}
	return InRange(t.StartTime, f.StartTime, f.EndTime)
}
