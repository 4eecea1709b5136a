package sink

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/usecase"
)

func eventAt(id string, at time.Time) domain.AuditEvent {
	return domain.AuditEvent{
		ID:        id,
		Type:      domain.EventSystem,
		Severity:  domain.SeverityLow,
		Message:   id,
		Context:   domain.AuditContext{CorrelationID: "c-" + id, Source: "test", Timestamp: at},
		CreatedAt: at,
	}
}

func TestFileGroupsByDay(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, usecase.NewEventCodec(), nil)
	require.NoError(t, err)

	day1 := time.Date(2026, 2, 1, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)
	require.NoError(t, f.WriteBatch(context.Background(), []domain.AuditEvent{eventAt("a", day1), eventAt("b", day2)}))
	require.NoError(t, f.WriteBatch(context.Background(), []domain.AuditEvent{eventAt("c", day2)}))

	for _, name := range []string{"audit-events-2026-02-01.jsonl", "audit-events-2026-02-02.jsonl"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	all, err := f.ReadSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, "c-a", all[0].Context.CorrelationID)

	recent, err := f.ReadSince(context.Background(), day2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
	require.NoError(t, f.Close())
}

func TestFileSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, usecase.NewEventCodec(), nil)
	require.NoError(t, err)

	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.WriteBatch(context.Background(), []domain.AuditEvent{eventAt("a", at)}))

	path := filepath.Join(dir, DayFileName(at))
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = fh.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, fh.Close())
	require.NoError(t, f.WriteBatch(context.Background(), []domain.AuditEvent{eventAt("b", at)}))

	got, err := f.ReadSince(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestFileReadsLegacyLines(t *testing.T) {
	dir := t.TempDir()
	legacy := `{"id":"old","type":"SYSTEM_EVENT","severity":"LOW","message":"m","context":{"correlationId":"c","source":"s"},"createdAt":"2026-02-01T00:00:00Z"}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "audit-events-2026-02-01.jsonl"), []byte(legacy), 0o644))

	f, err := NewFile(dir, usecase.NewEventCodec(), nil)
	require.NoError(t, err)
	got, err := f.ReadSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].Context.CorrelationID)
}

func TestFileKeepsEncodableEventsOfMixedBatch(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, usecase.NewEventCodec(), nil)
	require.NoError(t, err)

	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	bad := eventAt("bad", at)
	bad.Type = domain.EventAgentReasoning
	bad.Data = domain.AgentReasoning{AgentID: "a1", Topic: "fees", Confidence: math.NaN(), Timestamp: at}

	err = f.WriteBatch(context.Background(), []domain.AuditEvent{eventAt("a", at), bad, eventAt("b", at)})
	var encErr *ports.EncodeError
	require.ErrorAs(t, err, &encErr)
	require.Len(t, encErr.Skipped, 1)
	assert.Equal(t, "bad", encErr.Skipped[0].ID)

	got, err := f.ReadSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"a", "b"}, []string{got[0].ID, got[1].ID})
}

func TestDiscardKeepsNothing(t *testing.T) {
	var s ports.EventSink = NewDiscard()
	require.NoError(t, s.WriteBatch(context.Background(), []domain.AuditEvent{eventAt("a", time.Now())}))
	_, replayable := s.(ports.EventSource)
	assert.False(t, replayable)
	require.NoError(t, s.Close())
}
