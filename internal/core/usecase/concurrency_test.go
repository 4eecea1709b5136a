package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
)

func TestConcurrentProducers(t *testing.T) {
	const producers = 16

	sink := &sinkStub{}
	persister := NewPersister(sink, 4096, 32, 5*time.Millisecond)
	persister.Start()
	store := NewEventStore(DefaultStoreConfig(), persister)
	tm := NewTraceManager(store)
	ta := NewTestAuditor(store)
	dr := NewDecisionRecorder(store)

	reaper := NewReaper(tm, ta, time.Millisecond, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reaper.Start(ctx)

	var wg sync.WaitGroup
	errs := make(chan error, producers*4)
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txID := fmt.Sprintf("tx-%d", i)
			tm.StartTrace(txID, "trace-"+txID, nil)
			stepID, err := tm.AddStep(txID, "sign", "wallet", nil, nil)
			if err != nil {
				errs <- err
				return
			}
			if err := tm.CompleteStep(txID, stepID, "ok", nil); err != nil {
				errs <- err
			}
			if err := tm.CompleteTrace(txID, domain.TraceCompleted, "done", nil); err != nil {
				errs <- err
			}

			testID := fmt.Sprintf("test-%d", i)
			ta.StartTest(domain.TestExecution{TestID: testID, TestName: testID, CorrelationID: "run-" + testID})
			if err := ta.CompleteTest(testID, domain.TestPassed, "ok", nil); err != nil {
				errs <- err
			}

			dr.LogDecision(domain.AgentDecision{
				AgentID:        fmt.Sprintf("agent-%d", i),
				DecisionType:   domain.DecisionTypeTransaction,
				SelectedAction: domain.DecisionApprove,
				Confidence:     0.9,
				CorrelationID:  "trace-" + txID,
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("producer error: %v", err)
	}

	_ = reaper.Close()
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	logged := store.AllEvents()
	written := sink.written()
	if len(logged) != producers*7 {
		t.Fatalf("expected %d logged events, got %d", producers*7, len(logged))
	}
	if len(written) != len(logged) {
		t.Fatalf("lost events: logged %d, persisted %d", len(logged), len(written))
	}
	for i := range logged {
		if written[i].ID != logged[i].ID {
			t.Fatalf("persisted order differs from log order at %d: %s vs %s", i, written[i].ID, logged[i].ID)
		}
	}
	if stats := persister.Stats(); stats.Dropped != 0 || stats.Failed != 0 {
		t.Fatalf("unexpected persister stats: %+v", stats)
	}

	for i := 0; i < producers; i++ {
		txID := fmt.Sprintf("tx-%d", i)
		events := store.EventsByCorrelationID("trace-" + txID)
		want := []domain.EventType{
			domain.EventTransactionInitiated,
			domain.EventTransactionTrace,
			domain.EventTransactionTrace,
			domain.EventTransactionCompleted,
			domain.EventAgentDecision,
		}
		if len(events) != len(want) {
			t.Fatalf("%s: expected %d correlated events, got %d", txID, len(want), len(events))
		}
		for j, e := range events {
			if e.Type != want[j] {
				t.Fatalf("%s: event %d is %s, want %s", txID, j, e.Type, want[j])
			}
			if j > 0 && e.CreatedAt.Before(events[j-1].CreatedAt) {
				t.Fatalf("%s: created_at went backwards at %d", txID, j)
			}
		}
	}
}
