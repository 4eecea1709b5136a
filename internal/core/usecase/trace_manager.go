package usecase

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
	"github.com/atvirokodosprendimai/chainaudit/internal/metrics"
)

const traceSource = "transaction-tracer"

// TraceManager follows each blockchain operation from initiation to a final
// status. Active traces live in memory; finalized ones are only recoverable
// from the event store.
type TraceManager struct {
	store   *EventStore
	clock   func() time.Time
	ids     ports.IDGenerator
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	active map[string]*domain.TransactionTrace
}

func NewTraceManager(store *EventStore, opts ...Option) *TraceManager {
	o := buildOptions(opts)
	return &TraceManager{
		store:   store,
		clock:   o.clock,
		ids:     o.ids,
		logger:  o.logger.With(zap.String("mod", "trace_manager")),
		metrics: o.metrics,
		active:  make(map[string]*domain.TransactionTrace),
	}
}

func (m *TraceManager) traceContext(t *domain.TransactionTrace) domain.AuditContext {
	return domain.AuditContext{
		CorrelationID: t.CorrelationID,
		Source:        traceSource,
		TransactionID: t.TransactionID,
	}
}

// StartTrace registers a trace in the initiated state. An active trace with
// the same id is replaced.
func (m *TraceManager) StartTrace(transactionID, correlationID string, metadata map[string]any) domain.TransactionTrace {
	if correlationID == "" {
		correlationID = m.store.GenerateCorrelationID()
	}
	trace := &domain.TransactionTrace{
		TransactionID: transactionID,
		CorrelationID: correlationID,
		StartTime:     m.clock(),
		Status:        domain.TraceInitiated,
		Steps:         []domain.TransactionStep{},
		Metadata:      maps.Clone(metadata),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.active[transactionID]; exists {
		m.logger.Warn("replacing active trace", zap.String("transaction_id", transactionID))
	}
	m.active[transactionID] = trace
	m.metrics.ActiveTraces.Set(float64(len(m.active)))

	m.store.LogEvent(domain.EventTransactionInitiated,
		fmt.Sprintf("Transaction %s initiated", transactionID),
		domain.SeverityMedium, m.traceContext(trace), trace.Clone())
	return trace.Clone()
}

func (m *TraceManager) AddStep(transactionID, stepName, component string, input any, metadata map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	trace, ok := m.active[transactionID]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrTraceNotFound, transactionID)
	}
	step := domain.TransactionStep{
		StepID:    m.ids.NewID(),
		StepName:  stepName,
		Component: component,
		StartTime: m.clock(),
		Status:    domain.StepStarted,
		Input:     input,
		Metadata:  maps.Clone(metadata),
	}
	trace.Steps = append(trace.Steps, step)
	trace.Status = domain.TraceProcessing

	m.store.LogEvent(domain.EventTransactionTrace,
		fmt.Sprintf("Step %s started in %s", stepName, component),
		domain.SeverityLow, m.traceContext(trace), step)
	return step.StepID, nil
}

// CompleteStep closes a step. A non-nil stepErr marks it failed.
func (m *TraceManager) CompleteStep(transactionID, stepID string, output any, stepErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	trace, ok := m.active[transactionID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTraceNotFound, transactionID)
	}
	idx := trace.StepIndex(stepID)
	if idx < 0 {
		return fmt.Errorf("%w: %s in trace %s", domain.ErrStepNotFound, stepID, transactionID)
	}

	step := &trace.Steps[idx]
	end := m.clock()
	step.EndTime = &end
	step.DurationMs = durationMs(step.StartTime, end)
	step.Output = output
	step.Status = domain.StepCompleted
	if stepErr != nil {
		step.Status = domain.StepFailed
		step.Error = stepErr.Error()
	}

	m.store.LogEvent(domain.EventTransactionTrace,
		fmt.Sprintf("Step %s %s", step.StepName, step.Status),
		domain.StepSeverity(stepErr != nil), m.traceContext(trace), *step)
	return nil
}

// CompleteTrace finalizes a trace and removes it from the active table.
// Cancelled traces are logged as TRANSACTION_FAILED with status "cancelled"
// in the payload.
func (m *TraceManager) CompleteTrace(transactionID string, status domain.TraceStatus, summary string, metadata map[string]any) error {
	_, err := m.finish(transactionID, status, summary, metadata, time.Time{})
	return err
}

// reapIfStartedBefore cancels the trace only if the one active under the id
// still started before cutoff. A trace restarted after the reaper listed it
// is left alone.
func (m *TraceManager) reapIfStartedBefore(transactionID string, cutoff time.Time, metadata map[string]any) (bool, error) {
	return m.finish(transactionID, domain.TraceCancelled, reapSummary, metadata, cutoff)
}

// finish completes the trace. A non-zero startedBefore skips traces that
// started at or after it and reports false.
func (m *TraceManager) finish(transactionID string, status domain.TraceStatus, summary string, metadata map[string]any, startedBefore time.Time) (bool, error) {
	if !status.Final() {
		return false, fmt.Errorf("%w: %q is not a final trace status", domain.ErrInvalidStatus, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	trace, ok := m.active[transactionID]
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrTraceNotFound, transactionID)
	}
	if !startedBefore.IsZero() && !trace.StartTime.Before(startedBefore) {
		return false, nil
	}
	end := m.clock()
	trace.EndTime = &end
	trace.DurationMs = durationMs(trace.StartTime, end)
	trace.Status = status
	trace.Summary = summary
	if len(metadata) > 0 {
		if trace.Metadata == nil {
			trace.Metadata = make(map[string]any, len(metadata))
		}
		maps.Copy(trace.Metadata, metadata)
	}
	delete(m.active, transactionID)
	m.metrics.ActiveTraces.Set(float64(len(m.active)))

	m.store.LogEvent(domain.TraceCompletionEventType(status),
		fmt.Sprintf("Transaction %s %s", transactionID, status),
		domain.TraceCompletionSeverity(status), m.traceContext(trace), trace.Clone())
	return true, nil
}

type transactionSent struct {
	TransactionID string `json:"transaction_id" yaml:"transaction_id"`
	ChainTxID     string `json:"chain_tx_id" yaml:"chain_tx_id"`
}

// LogTransactionSent records that a transaction reached the chain. It does
// not need an active trace.
func (m *TraceManager) LogTransactionSent(transactionID, chainTxID, correlationID string) string {
	return m.store.LogEvent(domain.EventTransactionTrace,
		fmt.Sprintf("Transaction %s sent as %s", transactionID, chainTxID),
		domain.SeverityLow,
		domain.AuditContext{CorrelationID: correlationID, Source: traceSource, TransactionID: transactionID},
		transactionSent{TransactionID: transactionID, ChainTxID: chainTxID})
}

type transactionFailure struct {
	TransactionID string         `json:"transaction_id" yaml:"transaction_id"`
	Error         string         `json:"error" yaml:"error"`
	Context       map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
}

func (m *TraceManager) LogTransactionFailure(transactionID string, failure error, details map[string]any, correlationID string) string {
	msg := "unknown error"
	if failure != nil {
		msg = failure.Error()
	}
	return m.store.LogEvent(domain.EventError,
		fmt.Sprintf("Transaction %s failed: %s", transactionID, msg),
		domain.SeverityHigh,
		domain.AuditContext{CorrelationID: correlationID, Source: traceSource, TransactionID: transactionID},
		transactionFailure{TransactionID: transactionID, Error: msg, Context: maps.Clone(details)})
}

// Traces rebuilds finalized traces from completion events in log order.
// Active traces are not included.
func (m *TraceManager) Traces() []domain.TransactionTrace {
	out := make([]domain.TransactionTrace, 0)
	for _, event := range m.store.AllEvents() {
		if event.Type != domain.EventTransactionCompleted && event.Type != domain.EventTransactionFailed {
			continue
		}
		trace, ok := decodeData[domain.TransactionTrace](event.Data)
		if !ok || trace.TransactionID == "" {
			continue
		}
		out = append(out, trace.Clone())
	}
	return out
}

func (m *TraceManager) ExportTraces(filter domain.TraceFilter) []domain.TransactionTrace {
	out := make([]domain.TransactionTrace, 0)
	for _, trace := range m.Traces() {
		if filter.Match(trace) {
			out = append(out, trace)
		}
	}
	return out
}

// TransactionSummary reports on an active trace. The bool is false when the
// trace is unknown or already finalized.
func (m *TraceManager) TransactionSummary(transactionID string) (domain.TraceSummary, bool) {
	m.mu.Lock()
	trace, ok := m.active[transactionID]
	if !ok {
		m.mu.Unlock()
		return domain.TraceSummary{}, false
	}
	snapshot := trace.Clone()
	m.mu.Unlock()

	byStatus := make(map[domain.StepStatus]int)
	for _, step := range snapshot.Steps {
		byStatus[step.Status]++
	}
	return domain.TraceSummary{
		TransactionID:    snapshot.TransactionID,
		CorrelationID:    snapshot.CorrelationID,
		Status:           snapshot.Status,
		TotalSteps:       len(snapshot.Steps),
		StepsByStatus:    byStatus,
		CorrelatedEvents: len(m.store.EventsByCorrelationID(snapshot.CorrelationID)),
		ElapsedMs:        durationMs(snapshot.StartTime, m.clock()),
	}, true
}

func (m *TraceManager) ActiveTraces() []domain.TransactionTrace {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TransactionTrace, 0, len(m.active))
	for _, trace := range m.active {
		out = append(out, trace.Clone())
	}
	return out
}

// startedBefore lists active traces started before cutoff.
func (m *TraceManager) startedBefore(cutoff time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, trace := range m.active {
		if trace.StartTime.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
