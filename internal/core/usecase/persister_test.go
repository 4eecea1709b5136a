package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
)

type sinkStub struct {
	mu      sync.Mutex
	batches [][]domain.AuditEvent
	failFn  func(batch []domain.AuditEvent) error
	block   chan struct{}
	closed  bool
}

func (s *sinkStub) WriteBatch(_ context.Context, events []domain.AuditEvent) error {
	if s.block != nil {
		<-s.block
	}
	if s.failFn != nil {
		if err := s.failFn(events); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]domain.AuditEvent(nil), events...))
	return nil
}

func (s *sinkStub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *sinkStub) written() []domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEvent
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

// encodeSkippingSink writes everything except the event with the bad id and
// reports it the way the real sinks report unencodable events.
type encodeSkippingSink struct {
	*sinkStub
	bad string
}

func (s *encodeSkippingSink) WriteBatch(ctx context.Context, events []domain.AuditEvent) error {
	encoded, err := ports.EncodeBatch(func(e domain.AuditEvent) ([]byte, error) {
		if e.ID == s.bad {
			return nil, errors.New("unsupported value")
		}
		return []byte(e.ID), nil
	}, events)
	kept := make([]domain.AuditEvent, 0, len(encoded))
	for _, enc := range encoded {
		kept = append(kept, enc.Event)
	}
	if werr := s.sinkStub.WriteBatch(ctx, kept); werr != nil {
		return werr
	}
	return err
}

func TestPersisterFlushesOnClose(t *testing.T) {
	sink := &sinkStub{}
	p := NewPersister(sink, 16, 4, time.Hour)
	p.Start()

	for i := 0; i < 10; i++ {
		p.Enqueue(domain.AuditEvent{ID: string(rune('a' + i))})
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := sink.written()
	if len(got) != 10 {
		t.Fatalf("expected 10 written events, got %d", len(got))
	}
	for i, e := range got {
		if e.ID != string(rune('a'+i)) {
			t.Fatalf("event %d out of order: %s", i, e.ID)
		}
	}
	if !sink.closed {
		t.Fatalf("expected sink to be closed")
	}
	if stats := p.Stats(); stats.Written != 10 || stats.Dropped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPersisterDrainsWithoutStart(t *testing.T) {
	sink := &sinkStub{}
	p := NewPersister(sink, 8, 100, time.Hour)
	p.Enqueue(domain.AuditEvent{ID: "e1"})
	p.Enqueue(domain.AuditEvent{ID: "e2"})

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(sink.written()); got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
}

func TestPersisterDropsWhenFull(t *testing.T) {
	sink := &sinkStub{}
	p := NewPersister(sink, 2, 10, time.Hour)

	for i := 0; i < 5; i++ {
		p.Enqueue(domain.AuditEvent{ID: "e"})
	}
	if stats := p.Stats(); stats.Dropped != 3 {
		t.Fatalf("expected 3 dropped, got %+v", stats)
	}

	_ = p.Close()
	p.Enqueue(domain.AuditEvent{ID: "late"})
	if stats := p.Stats(); stats.Dropped != 4 || stats.Written != 2 {
		t.Fatalf("unexpected stats after close: %+v", stats)
	}
}

func TestPersisterSwallowsSinkErrors(t *testing.T) {
	sink := &sinkStub{failFn: func([]domain.AuditEvent) error { return errors.New("disk full") }}
	p := NewPersister(sink, 8, 2, time.Hour)
	p.Start()
	p.Enqueue(domain.AuditEvent{ID: "e1"})
	p.Enqueue(domain.AuditEvent{ID: "e2"})
	p.Enqueue(domain.AuditEvent{ID: "e3"})

	if err := p.Close(); err != nil {
		t.Fatalf("close should not surface sink errors: %v", err)
	}
	if stats := p.Stats(); stats.Failed != 3 || stats.Written != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestEventStoreLogEventDoesNotWaitForSink(t *testing.T) {
	sink := &sinkStub{block: make(chan struct{})}
	p := NewPersister(sink, 64, 1, time.Hour)
	p.Start()
	store := NewEventStore(DefaultStoreConfig(), p)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			store.LogEvent(domain.EventSystem, "tick", domain.SeverityLow, domain.AuditContext{}, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("LogEvent blocked on a stalled sink")
	}
	if store.Len() != 20 {
		t.Fatalf("expected events visible in memory, got %d", store.Len())
	}

	close(sink.block)
	_ = p.Close()
	if got := len(sink.written()); got != 20 {
		t.Fatalf("expected 20 persisted events, got %d", got)
	}
}

func TestPersisterCountsUnencodableEventsAsDropped(t *testing.T) {
	sink := &sinkStub{}
	p := NewPersister(&encodeSkippingSink{sinkStub: sink, bad: "bad"}, 8, 10, time.Hour)
	p.Start()
	p.Enqueue(domain.AuditEvent{ID: "ok-1"})
	p.Enqueue(domain.AuditEvent{ID: "bad"})
	p.Enqueue(domain.AuditEvent{ID: "ok-2"})

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(sink.written()); got != 2 {
		t.Fatalf("expected 2 persisted events, got %d", got)
	}
	if stats := p.Stats(); stats.Written != 2 || stats.Dropped != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPersisterGroupIsolatesStalledSink(t *testing.T) {
	primary := &sinkStub{}
	stalled := &sinkStub{block: make(chan struct{})}
	group := NewPersisterGroup(
		NewPersister(primary, 64, 1, time.Hour),
		NewPersister(stalled, 64, 1, time.Hour),
	)
	group.Start()
	store := NewEventStore(DefaultStoreConfig(), group)

	for i := 0; i < 5; i++ {
		store.LogEvent(domain.EventSystem, "tick", domain.SeverityLow, domain.AuditContext{}, nil)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(primary.written()) < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("primary sink starved by a stalled secondary: wrote %d of 5", len(primary.written()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(stalled.block)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(stalled.written()); got != 5 {
		t.Fatalf("expected the secondary to drain 5 events on close, got %d", got)
	}
	if !primary.closed || !stalled.closed {
		t.Fatalf("expected both sinks closed")
	}
	stats := group.Stats()
	if len(stats) != 2 || stats[0].Written != 5 || stats[1].Written != 5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
