package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
)

type sourceStub struct {
	events []domain.AuditEvent
	err    error
	since  time.Time
}

func (s *sourceStub) ReadSince(_ context.Context, since time.Time) ([]domain.AuditEvent, error) {
	s.since = since
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.AuditEvent, 0, len(s.events))
	for _, e := range s.events {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestHydrateRestoresInTimeOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &sourceStub{events: []domain.AuditEvent{
		{ID: "b", Type: domain.EventSystem, CreatedAt: base.Add(2 * time.Minute), Context: domain.AuditContext{CorrelationID: "c1"}},
		{ID: "a", Type: domain.EventSystem, CreatedAt: base.Add(time.Minute), Context: domain.AuditContext{CorrelationID: "c1"}},
		{ID: "old", Type: domain.EventSystem, CreatedAt: base.Add(-48 * time.Hour)},
	}}
	store := NewEventStore(DefaultStoreConfig(), nil)

	n, err := Hydrate(context.Background(), store, src, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 restored events, got %d", n)
	}
	got := store.EventsByCorrelationID("c1")
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", got)
	}

	again, err := Hydrate(context.Background(), store, src, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("second hydrate: %v", err)
	}
	if again != 0 || store.Len() != 2 {
		t.Fatalf("expected second hydrate to be a no-op, restored %d, len %d", again, store.Len())
	}
}

func TestHydrateKeepsCreatedAtMonotonic(t *testing.T) {
	stored := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &sourceStub{events: []domain.AuditEvent{{ID: "x", Type: domain.EventSystem, CreatedAt: stored}}}
	store := NewEventStore(DefaultStoreConfig(), nil, WithClock(func() time.Time { return stored.Add(-time.Minute) }))

	if _, err := Hydrate(context.Background(), store, src, time.Time{}); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	store.LogEvent(domain.EventSystem, "after", domain.SeverityLow, domain.AuditContext{}, nil)

	all := store.AllEvents()
	if all[1].CreatedAt.Before(all[0].CreatedAt) {
		t.Fatalf("created_at went backwards: %v then %v", all[0].CreatedAt, all[1].CreatedAt)
	}
}

func TestHydratePropagatesSourceError(t *testing.T) {
	boom := errors.New("disk gone")
	_, err := Hydrate(context.Background(), NewEventStore(DefaultStoreConfig(), nil), &sourceStub{err: boom}, time.Time{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}
