package redis_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/chainaudit/internal/adapters/redis"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/usecase"
)

func newStore(t *testing.T, opts ...redis.Option) (*redis.EventStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	store := redis.NewFromClient(client, usecase.NewEventCodec(), opts...)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func event(id string, at time.Time) domain.AuditEvent {
	return domain.AuditEvent{
		ID:        id,
		Type:      domain.EventTestStarted,
		Severity:  domain.SeverityLow,
		Context:   domain.AuditContext{CorrelationID: "c-" + id, Source: "test-auditor", TestID: id},
		CreatedAt: at,
	}
}

func TestEventStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t, redis.WithPrefix("t:"))
	require.NoError(t, store.Ping(ctx))

	day1 := time.Date(2026, 6, 1, 22, 0, 0, 0, time.UTC)
	day2 := day1.Add(4 * time.Hour)
	require.NoError(t, store.WriteBatch(ctx, []domain.AuditEvent{event("a", day1), event("b", day2), event("c", day2)}))

	assert.True(t, mr.Exists("t:2026-06-01"))
	assert.True(t, mr.Exists("t:2026-06-02"))

	all, err := store.ReadSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "c", all[2].ID)
	assert.Equal(t, "c-b", all[1].Context.CorrelationID)

	recent, err := store.ReadSince(ctx, day2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestEventStoreTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t, redis.WithTTL(time.Hour))

	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.WriteBatch(ctx, []domain.AuditEvent{event("a", at)}))
	assert.Equal(t, time.Hour, mr.TTL("chainaudit:events:2026-06-01"))

	mr.FastForward(2 * time.Hour)
	got, err := store.ReadSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEventStoreKeepsEncodableEventsOfMixedBatch(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	bad := event("bad", at)
	bad.Type = domain.EventAgentReasoning
	bad.Data = domain.AgentReasoning{AgentID: "a1", Confidence: math.NaN()}

	err := store.WriteBatch(ctx, []domain.AuditEvent{event("a", at), bad, event("b", at)})
	var encErr *ports.EncodeError
	require.ErrorAs(t, err, &encErr)
	require.Len(t, encErr.Skipped, 1)
	assert.Equal(t, "bad", encErr.Skipped[0].ID)

	got, err := store.ReadSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a", "b"}, []string{got[0].ID, got[1].ID})
}
