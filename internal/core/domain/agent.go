package domain

import "time"

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

const (
	DecisionTypeTransaction = "transaction"
	DecisionTypeRecovery    = "recovery"

	DecisionApprove = "approve"
)

type AgentDecision struct {
	AgentID         string         `json:"agent_id" yaml:"agent_id"`
	DecisionType    string         `json:"decision_type" yaml:"decision_type"`
	Input           any            `json:"input,omitempty" yaml:"input,omitempty"`
	Reasoning       string         `json:"reasoning" yaml:"reasoning"`
	Confidence      float64        `json:"confidence" yaml:"confidence"`
	SelectedAction  string         `json:"selected_action" yaml:"selected_action"`
	Alternatives    []string       `json:"alternatives,omitempty" yaml:"alternatives,omitempty"`
	RiskAssessment  RiskLevel      `json:"risk_assessment,omitempty" yaml:"risk_assessment,omitempty"`
	ExpectedOutcome string         `json:"expected_outcome,omitempty" yaml:"expected_outcome,omitempty"`
	CorrelationID   string         `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Timestamp       time.Time      `json:"timestamp" yaml:"timestamp"`
}

type AgentAction struct {
	AgentID       string         `json:"agent_id" yaml:"agent_id"`
	ActionType    string         `json:"action_type" yaml:"action_type"`
	Target        string         `json:"target,omitempty" yaml:"target,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Result        any            `json:"result,omitempty" yaml:"result,omitempty"`
	Success       bool           `json:"success" yaml:"success"`
	DurationMs    int64          `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp" yaml:"timestamp"`
}

type AgentReasoning struct {
	AgentID       string    `json:"agent_id" yaml:"agent_id"`
	Topic         string    `json:"topic" yaml:"topic"`
	Steps         []string  `json:"steps,omitempty" yaml:"steps,omitempty"`
	Conclusion    string    `json:"conclusion" yaml:"conclusion"`
	Confidence    float64   `json:"confidence" yaml:"confidence"`
	CorrelationID string    `json:"correlation_id,omitempty" yaml:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
}

type DecisionFilter struct {
	AgentID      string
	DecisionType string
	StartTime    *time.Time
	EndTime      *time.Time
}

func (f DecisionFilter) Match(d AgentDecision) bool {
	if f.AgentID != "" && d.AgentID != f.AgentID {
		return false
	}
	if f.DecisionType != "" && d.DecisionType != f.DecisionType {
		return false
	}
	return InRange(d.Timestamp, f.StartTime, f.EndTime)
}
