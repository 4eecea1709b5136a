package usecase

import (
	"io"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
	"github.com/atvirokodosprendimai/chainaudit/internal/metrics"
)

type RetentionPolicy string

const (
	// RetentionAge drops only events older than the retention window, even
	// when the survivors still exceed MaxEvents.
	RetentionAge RetentionPolicy = "age"
	// RetentionCap runs the age pass and then trims the oldest events until
	// the log fits MaxEvents.
	RetentionCap RetentionPolicy = "cap"
)

type StoreConfig struct {
	Enabled         bool
	MaxEvents       int
	RetentionDays   int
	RetentionPolicy RetentionPolicy
	// InlineRetention sweeps at the end of every LogEvent call. Disable it
	// when a RetentionWorker runs the sweep in the background.
	InlineRetention bool
	ExportDir       string
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Enabled:         true,
		MaxEvents:       10000,
		RetentionDays:   30,
		RetentionPolicy: RetentionAge,
		InlineRetention: true,
		ExportDir:       ".",
	}
}

type eventQueue interface {
	Enqueue(event domain.AuditEvent)
}

// EventStore is the append-only audit log with its type and correlation
// indices. It is constructed once and shared by every logger.
type EventStore struct {
	cfg     StoreConfig
	clock   func() time.Time
	ids     ports.IDGenerator
	logger  *zap.Logger
	metrics *metrics.Metrics
	queue   eventQueue

	mu            sync.RWMutex
	events        []domain.AuditEvent
	byType        map[domain.EventType][]int
	byCorrelation map[string][]int
	last          time.Time
}

func NewEventStore(cfg StoreConfig, queue eventQueue, opts ...Option) *EventStore {
	o := buildOptions(opts)
	if cfg.RetentionPolicy == "" {
		cfg.RetentionPolicy = RetentionAge
	}
	return &EventStore{
		cfg:           cfg,
		clock:         o.clock,
		ids:           o.ids,
		logger:        o.logger.With(zap.String("mod", "event_store")),
		metrics:       o.metrics,
		queue:         queue,
		byType:        make(map[domain.EventType][]int),
		byCorrelation: make(map[string][]int),
	}
}

func (s *EventStore) GenerateCorrelationID() string {
	return s.ids.NewID()
}

// LogEvent appends an event and returns its id. A zero severity becomes
// MEDIUM, a missing correlation id is generated and a missing source becomes
// "unknown". It never fails: persistence problems are handled by the queue.
func (s *EventStore) LogEvent(eventType domain.EventType, message string, severity domain.Severity, actx domain.AuditContext, data any) string {
	if !s.cfg.Enabled {
		return domain.NoopEventID
	}
	if severity == domain.SeverityUnset {
		severity = domain.SeverityMedium
	}
	if actx.CorrelationID == "" {
		actx.CorrelationID = s.GenerateCorrelationID()
	}
	if actx.Source == "" {
		actx.Source = domain.DefaultSource
	}

	s.mu.Lock()
	now := s.clock()
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	if actx.Timestamp.IsZero() {
		actx.Timestamp = now
	}

	event := domain.AuditEvent{
		ID:        s.ids.NewID(),
		Type:      eventType,
		Severity:  severity,
		Message:   message,
		Context:   actx,
		Data:      data,
		CreatedAt: now,
	}.Clone()
	s.appendLocked(event)
	if s.queue != nil {
		s.queue.Enqueue(event)
	}
	s.mu.Unlock()

	s.metrics.EventsLogged.WithLabelValues(string(eventType), severity.String()).Inc()

	if s.cfg.InlineRetention {
		s.Sweep(now)
	}
	return event.ID
}

func (s *EventStore) appendLocked(event domain.AuditEvent) {
	idx := len(s.events)
	s.events = append(s.events, event)
	s.byType[event.Type] = append(s.byType[event.Type], idx)
	s.byCorrelation[event.Context.CorrelationID] = append(s.byCorrelation[event.Context.CorrelationID], idx)
}

func (s *EventStore) reindexLocked() {
	s.byType = make(map[domain.EventType][]int)
	s.byCorrelation = make(map[string][]int)
	for i, event := range s.events {
		s.byType[event.Type] = append(s.byType[event.Type], i)
		s.byCorrelation[event.Context.CorrelationID] = append(s.byCorrelation[event.Context.CorrelationID], i)
	}
}

// Restore appends previously persisted events without assigning new ids or
// handing them back to the sink. Used to hydrate the store on start.
func (s *EventStore) Restore(events []domain.AuditEvent) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		s.appendLocked(event.Clone())
		if event.CreatedAt.After(s.last) {
			s.last = event.CreatedAt
		}
	}
	return len(events)
}

// Sweep applies the retention policy. It only acts when the log holds more
// than MaxEvents; it returns the number of events dropped.
func (s *EventStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MaxEvents <= 0 || len(s.events) <= s.cfg.MaxEvents {
		return 0
	}

	cutoff := now.Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	kept := make([]domain.AuditEvent, 0, len(s.events))
	for _, event := range s.events {
		if event.CreatedAt.After(cutoff) {
			kept = append(kept, event)
		}
	}
	if s.cfg.RetentionPolicy == RetentionCap && len(kept) > s.cfg.MaxEvents {
		kept = kept[len(kept)-s.cfg.MaxEvents:]
	}

	removed := len(s.events) - len(kept)
	if removed == 0 {
		return 0
	}
	s.events = kept
	s.reindexLocked()
	s.metrics.RetentionPruned.Add(float64(removed))
	s.logger.Debug("retention sweep", zap.Int("removed", removed), zap.Int("remaining", len(kept)))
	return removed
}

func (s *EventStore) AllEvents() []domain.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *EventStore) EventsByType(eventType domain.EventType) []domain.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pickLocked(s.byType[eventType])
}

func (s *EventStore) EventsByCorrelationID(correlationID string) []domain.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pickLocked(s.byCorrelation[correlationID])
}

func (s *EventStore) EventsByTimeRange(start, end time.Time) []domain.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditEvent, 0)
	for _, event := range s.events {
		if domain.InRange(event.CreatedAt, &start, &end) {
			out = append(out, event)
		}
	}
	return out
}

func (s *EventStore) pickLocked(positions []int) []domain.AuditEvent {
	out := make([]domain.AuditEvent, 0, len(positions))
	for _, i := range positions {
		out = append(out, s.events[i])
	}
	return out
}

// ClearEvents drops the in-memory log. Persisted data is left alone.
func (s *EventStore) ClearEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.byType = make(map[domain.EventType][]int)
	s.byCorrelation = make(map[string][]int)
}

// Close flushes pending persistence when the queue supports it. The
// in-memory log stays readable.
func (s *EventStore) Close() error {
	if c, ok := s.queue.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
