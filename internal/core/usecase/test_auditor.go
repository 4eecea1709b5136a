package usecase

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/metrics"
)

const testSource = "test-auditor"

type TestAuditor struct {
	store   *EventStore
	clock   func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	active map[string]*domain.TestExecution
}

func NewTestAuditor(store *EventStore, opts ...Option) *TestAuditor {
	o := buildOptions(opts)
	return &TestAuditor{
		store:   store,
		clock:   o.clock,
		logger:  o.logger.With(zap.String("mod", "test_auditor")),
		metrics: o.metrics,
		active:  make(map[string]*domain.TestExecution),
	}
}

func testContext(testID, correlationID, agentID, environment string) domain.AuditContext {
	return domain.AuditContext{
		CorrelationID: correlationID,
		Source:        testSource,
		TestID:        testID,
		AgentID:       agentID,
		Environment:   environment,
	}
}

// StartTest registers the execution as running. Missing start time and
// correlation id are filled in; an active test with the same id is replaced.
func (a *TestAuditor) StartTest(execution domain.TestExecution) domain.TestExecution {
	exec := execution.Clone()
	if exec.CorrelationID == "" {
		exec.CorrelationID = a.store.GenerateCorrelationID()
	}
	if exec.StartTime.IsZero() {
		exec.StartTime = a.clock()
	}
	exec.Status = domain.TestRunning
	exec.EndTime = nil
	exec.DurationMs = 0

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.active[exec.TestID]; exists {
		a.logger.Warn("replacing active test", zap.String("test_id", exec.TestID))
	}
	a.active[exec.TestID] = &exec
	a.metrics.ActiveTests.Set(float64(len(a.active)))

	a.store.LogEvent(domain.EventTestStarted,
		fmt.Sprintf("Test %s started", exec.TestName),
		domain.SeverityLow,
		testContext(exec.TestID, exec.CorrelationID, exec.AgentID, exec.Environment),
		exec.Clone())
	return exec.Clone()
}

func (a *TestAuditor) CompleteTest(testID string, status domain.TestStatus, summary string, details map[string]any) error {
	_, err := a.finish(testID, status, summary, details, time.Time{})
	return err
}

// reapIfStartedBefore times the test out only if the execution active under
// the id still started before cutoff.
func (a *TestAuditor) reapIfStartedBefore(testID string, cutoff time.Time, details map[string]any) (bool, error) {
	return a.finish(testID, domain.TestTimeout, reapSummary, details, cutoff)
}

func (a *TestAuditor) finish(testID string, status domain.TestStatus, summary string, details map[string]any, startedBefore time.Time) (bool, error) {
	if !status.Final() {
		return false, fmt.Errorf("%w: %q is not a final test status", domain.ErrInvalidStatus, status)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	exec, ok := a.active[testID]
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrTestNotFound, testID)
	}
	if !startedBefore.IsZero() && !exec.StartTime.Before(startedBefore) {
		return false, nil
	}
	end := a.clock()
	exec.EndTime = &end
	exec.DurationMs = durationMs(exec.StartTime, end)
	exec.Status = status
	exec.Summary = summary
	exec.Details = maps.Clone(details)
	delete(a.active, testID)
	a.metrics.ActiveTests.Set(float64(len(a.active)))

	a.store.LogEvent(domain.EventTestCompleted,
		fmt.Sprintf("Test %s %s", exec.TestName, status),
		domain.TestCompletionSeverity(status),
		testContext(exec.TestID, exec.CorrelationID, exec.AgentID, exec.Environment),
		exec.Clone())
	return true, nil
}

func (a *TestAuditor) LogTestDecision(decision domain.TestDecision) string {
	if decision.Timestamp.IsZero() {
		decision.Timestamp = a.clock()
	}
	decision.Context = maps.Clone(decision.Context)
	return a.store.LogEvent(domain.EventTestDecision,
		fmt.Sprintf("Test decision %s: %s", decision.DecisionType, decision.Reason),
		domain.TestDecisionSeverity(decision.DecisionType),
		testContext(decision.TestID, decision.CorrelationID, decision.AgentID, ""),
		decision)
}

func (a *TestAuditor) LogTestOutcome(outcome domain.TestOutcome) string {
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = a.clock()
	}
	return a.store.LogEvent(domain.EventTestOutcome,
		fmt.Sprintf("Test outcome %s", outcome.Outcome),
		domain.TestOutcomeSeverity(outcome.Outcome),
		testContext(outcome.TestID, outcome.CorrelationID, "", ""),
		outcome)
}

func (a *TestAuditor) LogTestMetrics(m domain.TestMetrics) string {
	if m.Timestamp.IsZero() {
		m.Timestamp = a.clock()
	}
	return a.store.LogEvent(domain.EventSystem,
		fmt.Sprintf("Test %s metrics: %dms", m.TestID, m.ExecutionTimeMs),
		domain.SeverityLow,
		testContext(m.TestID, m.CorrelationID, "", ""),
		m)
}

type testFailure struct {
	TestID  string         `json:"test_id" yaml:"test_id"`
	Error   string         `json:"error" yaml:"error"`
	Context map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
}

func (a *TestAuditor) LogTestFailure(testID string, failure error, details map[string]any, correlationID string) string {
	msg := "unknown error"
	if failure != nil {
		msg = failure.Error()
	}
	return a.store.LogEvent(domain.EventError,
		fmt.Sprintf("Test %s failed: %s", testID, msg),
		domain.SeverityHigh,
		testContext(testID, correlationID, "", ""),
		testFailure{TestID: testID, Error: msg, Context: maps.Clone(details)})
}

// TestOutcomes rebuilds completed tests from TEST_COMPLETED events and
// attaches every TEST_DECISION logged for the same test id.
func (a *TestAuditor) TestOutcomes() []domain.TestResult {
	decisions := make(map[string][]domain.TestDecision)
	for _, event := range a.store.EventsByType(domain.EventTestDecision) {
		d, ok := decodeData[domain.TestDecision](event.Data)
		if !ok {
			continue
		}
		decisions[d.TestID] = append(decisions[d.TestID], d)
	}

	out := make([]domain.TestResult, 0)
	for _, event := range a.store.EventsByType(domain.EventTestCompleted) {
		exec, ok := decodeData[domain.TestExecution](event.Data)
		if !ok || exec.TestID == "" {
			continue
		}
		joined := decisions[exec.TestID]
		if joined == nil {
			joined = []domain.TestDecision{}
		}
		out = append(out, domain.TestResult{TestExecution: exec.Clone(), Decisions: joined})
	}
	return out
}

func (a *TestAuditor) ExportTestOutcomes(filter domain.TestFilter) []domain.TestResult {
	out := make([]domain.TestResult, 0)
	for _, result := range a.TestOutcomes() {
		if filter.Match(result.TestExecution) {
			out = append(out, result)
		}
	}
	return out
}

func (a *TestAuditor) ActiveTests() []domain.TestExecution {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.TestExecution, 0, len(a.active))
	for _, exec := range a.active {
		out = append(out, exec.Clone())
	}
	return out
}

func (a *TestAuditor) startedBefore(cutoff time.Time) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var ids []string
	for id, exec := range a.active {
		if exec.StartTime.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
