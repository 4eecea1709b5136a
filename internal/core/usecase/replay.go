package usecase

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
)

// Hydrate replays events stored since the given instant into the in-memory
// log, oldest first. Events already present by id are skipped so a second
// call is harmless.
func Hydrate(ctx context.Context, store *EventStore, src ports.EventSource, since time.Time) (int, error) {
	events, err := src.ReadSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("read stored events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	known := make(map[string]struct{}, store.Len())
	for _, e := range store.AllEvents() {
		known[e.ID] = struct{}{}
	}
	fresh := make([]domain.AuditEvent, 0, len(events))
	for _, e := range events {
		if _, ok := known[e.ID]; ok {
			continue
		}
		known[e.ID] = struct{}{}
		fresh = append(fresh, e)
	}
	slices.SortStableFunc(fresh, func(a, b domain.AuditEvent) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return store.Restore(fresh), nil
}

// RetentionStart is the oldest instant the store keeps under cfg.
func RetentionStart(cfg StoreConfig, now time.Time) time.Time {
	return now.Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour)
}
