package usecase

import (
	"fmt"
	"maps"
	"time"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
)

const decisionSource = "agent-decision-recorder"

// DecisionRecorder emits agent decision, action and reasoning events. It
// keeps no state of its own; reads go back to the event store.
type DecisionRecorder struct {
	store *EventStore
	clock func() time.Time
}

func NewDecisionRecorder(store *EventStore, opts ...Option) *DecisionRecorder {
	o := buildOptions(opts)
	return &DecisionRecorder{store: store, clock: o.clock}
}

func agentContext(agentID, correlationID string) domain.AuditContext {
	return domain.AuditContext{CorrelationID: correlationID, Source: decisionSource, AgentID: agentID}
}

func (r *DecisionRecorder) LogDecision(decision domain.AgentDecision) string {
	if decision.Timestamp.IsZero() {
		decision.Timestamp = r.clock()
	}
	decision.Metadata = maps.Clone(decision.Metadata)
	return r.store.LogEvent(domain.EventAgentDecision,
		fmt.Sprintf("Agent %s decided %s: %s", decision.AgentID, decision.DecisionType, decision.SelectedAction),
		domain.DecisionSeverity(decision.RiskAssessment, decision.DecisionType),
		agentContext(decision.AgentID, decision.CorrelationID),
		decision)
}

func (r *DecisionRecorder) LogAction(action domain.AgentAction) string {
	if action.Timestamp.IsZero() {
		action.Timestamp = r.clock()
	}
	action.Parameters = maps.Clone(action.Parameters)
	action.Metadata = maps.Clone(action.Metadata)
	return r.store.LogEvent(domain.EventAgentAction,
		fmt.Sprintf("Agent %s performed %s", action.AgentID, action.ActionType),
		domain.SeverityMedium,
		agentContext(action.AgentID, action.CorrelationID),
		action)
}

func (r *DecisionRecorder) LogReasoning(reasoning domain.AgentReasoning) string {
	if reasoning.Timestamp.IsZero() {
		reasoning.Timestamp = r.clock()
	}
	return r.store.LogEvent(domain.EventAgentReasoning,
		fmt.Sprintf("Agent %s reasoning on %s", reasoning.AgentID, reasoning.Topic),
		domain.ConfidenceSeverity(reasoning.Confidence),
		agentContext(reasoning.AgentID, reasoning.CorrelationID),
		reasoning)
}

type TransactionDecisionRequest struct {
	AgentID       string  `json:"agent_id"`
	TransactionID string  `json:"transaction_id"`
	Decision      string  `json:"decision"`
	Reasoning     string  `json:"reasoning"`
	Confidence    float64 `json:"confidence"`
	Amount        string  `json:"amount,omitempty"`
	Recipient     string  `json:"recipient,omitempty"`
	CorrelationID string  `json:"correlation_id,omitempty"`
}

// LogTransactionDecision records an approve/block verdict on a transaction.
func (r *DecisionRecorder) LogTransactionDecision(req TransactionDecisionRequest) string {
	expected := "Transaction will be blocked"
	if req.Decision == domain.DecisionApprove {
		expected = "Transaction will be processed"
	}
	input := map[string]any{"transaction_id": req.TransactionID}
	if req.Amount != "" {
		input["amount"] = req.Amount
	}
	if req.Recipient != "" {
		input["recipient"] = req.Recipient
	}
	return r.LogDecision(domain.AgentDecision{
		AgentID:         req.AgentID,
		DecisionType:    domain.DecisionTypeTransaction,
		Input:           input,
		Reasoning:       req.Reasoning,
		Confidence:      req.Confidence,
		SelectedAction:  req.Decision,
		ExpectedOutcome: expected,
		CorrelationID:   req.CorrelationID,
		Metadata:        map[string]any{"transaction_id": req.TransactionID},
	})
}

type RecoveryDecisionRequest struct {
	AgentID       string           `json:"agent_id"`
	ErrorType     string           `json:"error_type"`
	Strategy      string           `json:"strategy"`
	Reasoning     string           `json:"reasoning"`
	Confidence    float64          `json:"confidence"`
	Risk          domain.RiskLevel `json:"risk,omitempty"`
	Alternatives  []string         `json:"alternatives,omitempty"`
	CorrelationID string           `json:"correlation_id,omitempty"`
}

// LogRecoveryDecision records the strategy an agent picked after an error.
func (r *DecisionRecorder) LogRecoveryDecision(req RecoveryDecisionRequest) string {
	return r.LogDecision(domain.AgentDecision{
		AgentID:         req.AgentID,
		DecisionType:    domain.DecisionTypeRecovery,
		Input:           map[string]any{"error_type": req.ErrorType},
		Reasoning:       req.Reasoning,
		Confidence:      req.Confidence,
		SelectedAction:  req.Strategy,
		Alternatives:    req.Alternatives,
		RiskAssessment:  req.Risk,
		ExpectedOutcome: fmt.Sprintf("Recover from %s via %s", req.ErrorType, req.Strategy),
		CorrelationID:   req.CorrelationID,
	})
}

func (r *DecisionRecorder) decisions(events []domain.AuditEvent, filter domain.DecisionFilter) []domain.AgentDecision {
	out := make([]domain.AgentDecision, 0)
	for _, event := range events {
		if event.Type != domain.EventAgentDecision {
			continue
		}
		d, ok := decodeData[domain.AgentDecision](event.Data)
		if !ok {
			continue
		}
		if filter.Match(d) {
			out = append(out, d)
		}
	}
	return out
}

func (r *DecisionRecorder) ExportDecisions(filter domain.DecisionFilter) []domain.AgentDecision {
	return r.decisions(r.store.EventsByType(domain.EventAgentDecision), filter)
}

func (r *DecisionRecorder) AgentDecisions(agentID string) []domain.AgentDecision {
	return r.ExportDecisions(domain.DecisionFilter{AgentID: agentID})
}

func (r *DecisionRecorder) AgentActions(agentID string) []domain.AgentAction {
	out := make([]domain.AgentAction, 0)
	for _, event := range r.store.EventsByType(domain.EventAgentAction) {
		a, ok := decodeData[domain.AgentAction](event.Data)
		if ok && a.AgentID == agentID {
			out = append(out, a)
		}
	}
	return out
}

// DecisionHistory returns the decisions that share a correlation id, in log
// order.
func (r *DecisionRecorder) DecisionHistory(correlationID string) []domain.AgentDecision {
	return r.decisions(r.store.EventsByCorrelationID(correlationID), domain.DecisionFilter{})
}
