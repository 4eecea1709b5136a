package usecase

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
)

func newTraceFixture() (*TraceManager, *EventStore, *fakeClock) {
	clock := newFakeClock()
	store := newTestStore(DefaultStoreConfig(), clock)
	return NewTraceManager(store, WithClock(clock.Now), WithIDGenerator(&seqIDs{prefix: "step-"})), store, clock
}

func TestTraceLifecycle(t *testing.T) {
	tm, store, clock := newTraceFixture()

	trace := tm.StartTrace("tx1", "", map[string]any{"chain": "testnet"})
	if trace.Status != domain.TraceInitiated || trace.CorrelationID == "" {
		t.Fatalf("unexpected trace: %+v", trace)
	}
	stepID, err := tm.AddStep("tx1", "validate", "wallet", map[string]any{"amount": 5}, nil)
	if err != nil {
		t.Fatalf("add step: %v", err)
	}
	clock.Advance(150 * time.Millisecond)
	if err := tm.CompleteStep("tx1", stepID, map[string]any{"ok": true}, nil); err != nil {
		t.Fatalf("complete step: %v", err)
	}
	if err := tm.CompleteTrace("tx1", domain.TraceCompleted, "done", map[string]any{"block": 7}); err != nil {
		t.Fatalf("complete trace: %v", err)
	}

	traces := tm.Traces()
	if len(traces) != 1 {
		t.Fatalf("expected one finalized trace, got %d", len(traces))
	}
	got := traces[0]
	if got.TransactionID != "tx1" || got.Status != domain.TraceCompleted {
		t.Fatalf("unexpected trace: %+v", got)
	}
	if len(got.Steps) != 1 || got.Steps[0].Status != domain.StepCompleted || got.Steps[0].DurationMs != 150 {
		t.Fatalf("unexpected steps: %+v", got.Steps)
	}
	if got.Metadata["chain"] != "testnet" || got.Metadata["block"] != 7 {
		t.Fatalf("metadata not merged: %+v", got.Metadata)
	}
	if len(tm.ActiveTraces()) != 0 {
		t.Fatalf("trace still active after completion")
	}

	correlated := store.EventsByCorrelationID(trace.CorrelationID)
	wantTypes := []domain.EventType{
		domain.EventTransactionInitiated, domain.EventTransactionTrace,
		domain.EventTransactionTrace, domain.EventTransactionCompleted,
	}
	if len(correlated) != len(wantTypes) {
		t.Fatalf("expected %d correlated events, got %d", len(wantTypes), len(correlated))
	}
	for i, e := range correlated {
		if e.Type != wantTypes[i] {
			t.Fatalf("event %d: expected %s, got %s", i, wantTypes[i], e.Type)
		}
		if e.Context.Source != traceSource || e.Context.TransactionID != "tx1" {
			t.Fatalf("unexpected context: %+v", e.Context)
		}
	}
}

func TestTraceVisibleOnlyAfterCompletion(t *testing.T) {
	tm, _, _ := newTraceFixture()
	tm.StartTrace("tx1", "c1", nil)
	if len(tm.Traces()) != 0 {
		t.Fatalf("active trace must not be reconstructed")
	}
}

func TestTraceNotFoundErrors(t *testing.T) {
	tm, _, _ := newTraceFixture()

	if _, err := tm.AddStep("missing", "s", "c", nil, nil); !errors.Is(err, domain.ErrTraceNotFound) {
		t.Fatalf("add step: expected trace not found, got %v", err)
	}
	if err := tm.CompleteStep("missing", "s", nil, nil); !errors.Is(err, domain.ErrTraceNotFound) {
		t.Fatalf("complete step: expected trace not found, got %v", err)
	}
	if err := tm.CompleteTrace("missing", domain.TraceCompleted, "", nil); !errors.Is(err, domain.ErrTraceNotFound) {
		t.Fatalf("complete trace: expected trace not found, got %v", err)
	}

	tm.StartTrace("tx1", "", nil)
	if err := tm.CompleteStep("tx1", "bogus-step", nil, nil); !errors.Is(err, domain.ErrStepNotFound) {
		t.Fatalf("expected step not found, got %v", err)
	}
	if err := tm.CompleteTrace("tx1", domain.TraceProcessing, "", nil); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestFailedStepAndCancelledTrace(t *testing.T) {
	tm, store, _ := newTraceFixture()
	tm.StartTrace("tx1", "c1", nil)
	stepID, _ := tm.AddStep("tx1", "sign", "wallet", nil, nil)
	if err := tm.CompleteStep("tx1", stepID, nil, errors.New("nonce too low")); err != nil {
		t.Fatalf("complete step: %v", err)
	}
	if err := tm.CompleteTrace("tx1", domain.TraceCancelled, "user abort", nil); err != nil {
		t.Fatalf("complete trace: %v", err)
	}

	events := store.EventsByCorrelationID("c1")
	stepDone := events[2]
	if stepDone.Severity != domain.SeverityHigh {
		t.Fatalf("failed step should be HIGH, got %v", stepDone.Severity)
	}
	final := events[3]
	if final.Type != domain.EventTransactionFailed || final.Severity != domain.SeverityMedium {
		t.Fatalf("cancelled trace should be TRANSACTION_FAILED/MEDIUM, got %s/%v", final.Type, final.Severity)
	}

	traces := tm.ExportTraces(domain.TraceFilter{Status: domain.TraceCancelled})
	if len(traces) != 1 || traces[0].Steps[0].Error != "nonce too low" {
		t.Fatalf("unexpected export: %+v", traces)
	}
	if got := tm.ExportTraces(domain.TraceFilter{Status: domain.TraceFailed}); len(got) != 0 {
		t.Fatalf("cancelled trace matched failed filter")
	}
}

func TestTracesFromReplayedEvents(t *testing.T) {
	tm, store, _ := newTraceFixture()
	tm.StartTrace("tx1", "c1", nil)
	_ = tm.CompleteTrace("tx1", domain.TraceFailed, "reverted", nil)

	// Replayed events carry generic JSON instead of typed payloads.
	raw, _ := json.Marshal(store.AllEvents())
	var generic []domain.AuditEvent
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	fresh := newTestStore(DefaultStoreConfig(), newFakeClock())
	fresh.Restore(generic)

	traces := NewTraceManager(fresh).Traces()
	if len(traces) != 1 || traces[0].Status != domain.TraceFailed || traces[0].Summary != "reverted" {
		t.Fatalf("unexpected traces: %+v", traces)
	}
}

func TestTransactionSummary(t *testing.T) {
	tm, _, clock := newTraceFixture()
	tm.StartTrace("tx1", "c1", nil)
	s1, _ := tm.AddStep("tx1", "a", "wallet", nil, nil)
	tm.AddStep("tx1", "b", "indexer", nil, nil)
	_ = tm.CompleteStep("tx1", s1, nil, nil)
	clock.Advance(time.Second)

	summary, ok := tm.TransactionSummary("tx1")
	if !ok {
		t.Fatalf("expected summary for active trace")
	}
	if summary.TotalSteps != 2 || summary.StepsByStatus[domain.StepCompleted] != 1 || summary.StepsByStatus[domain.StepStarted] != 1 {
		t.Fatalf("unexpected step counts: %+v", summary)
	}
	if summary.CorrelatedEvents != 4 || summary.Status != domain.TraceProcessing || summary.ElapsedMs != 1000 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if _, ok := tm.TransactionSummary("nope"); ok {
		t.Fatalf("expected no summary for unknown trace")
	}
}

func TestStandaloneTransactionEvents(t *testing.T) {
	tm, store, _ := newTraceFixture()
	tm.LogTransactionSent("tx9", "0xabc", "c9")
	tm.LogTransactionFailure("tx9", errors.New("rpc timeout"), map[string]any{"rpc": "node-1"}, "c9")

	events := store.EventsByCorrelationID("c9")
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != domain.EventTransactionTrace || events[0].Severity != domain.SeverityLow {
		t.Fatalf("unexpected sent event: %+v", events[0])
	}
	if events[1].Type != domain.EventError || events[1].Severity != domain.SeverityHigh {
		t.Fatalf("unexpected failure event: %+v", events[1])
	}
	if len(tm.ActiveTraces()) != 0 {
		t.Fatalf("standalone events must not create traces")
	}
}

func TestStartTraceReplacesActiveEntry(t *testing.T) {
	tm, _, _ := newTraceFixture()
	tm.StartTrace("tx1", "c1", nil)
	tm.AddStep("tx1", "a", "wallet", nil, nil)
	tm.StartTrace("tx1", "c2", nil)

	active := tm.ActiveTraces()
	if len(active) != 1 || active[0].CorrelationID != "c2" || len(active[0].Steps) != 0 {
		t.Fatalf("expected fresh trace to replace the old one: %+v", active)
	}
}
