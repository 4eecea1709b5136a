package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
	"github.com/atvirokodosprendimai/chainaudit/internal/metrics"
)

// Persister moves events from the store to the sink off the logging path.
// Enqueue never blocks: when the buffer is full the event is dropped, logged
// and counted. A single worker writes batches by size or on a ticker, and
// Close drains the buffer before closing the sink.
type Persister struct {
	sink      ports.EventSink
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
	metrics   *metrics.Metrics

	ch chan domain.AuditEvent

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup

	writtenTotal atomic.Int64
	failedTotal  atomic.Int64
	droppedTotal atomic.Int64
}

type PersisterStats struct {
	Written int64
	Failed  int64
	Dropped int64
}

func NewPersister(sink ports.EventSink, bufferSize, batchSize int, interval time.Duration, opts ...Option) *Persister {
	o := buildOptions(opts)
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Persister{
		sink:      sink,
		interval:  interval,
		batchSize: batchSize,
		logger:    o.logger.With(zap.String("mod", "persister")),
		metrics:   o.metrics,
		ch:        make(chan domain.AuditEvent, bufferSize),
	}
}

func (p *Persister) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run()
	}()
}

func (p *Persister) Enqueue(event domain.AuditEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.drop(event, "persister closed")
		return
	}
	select {
	case p.ch <- event:
		p.metrics.QueueDepth.Set(float64(len(p.ch)))
	default:
		p.drop(event, "persist buffer full")
	}
}

func (p *Persister) drop(event domain.AuditEvent, reason string) {
	p.droppedTotal.Add(1)
	p.metrics.SinkDropped.Inc()
	p.logger.Warn("audit event not persisted",
		zap.String("reason", reason),
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("correlation_id", event.Context.CorrelationID),
	)
}

// Close stops intake, flushes what is queued and closes the sink. Without a
// prior Start the queue is drained on the caller's goroutine.
func (p *Persister) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.ch)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
	} else {
		p.run()
	}
	return p.sink.Close()
}

func (p *Persister) run() {
	batch := make([]domain.AuditEvent, 0, p.batchSize)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// The caller's context may be gone by now; persistence outlives it.
		err := p.sink.WriteBatch(context.Background(), batch)
		var encErr *ports.EncodeError
		switch {
		case err == nil:
			p.writtenTotal.Add(int64(len(batch)))
			p.metrics.SinkBatches.Inc()
		case errors.As(err, &encErr):
			p.writtenTotal.Add(int64(len(batch) - len(encErr.Skipped)))
			p.metrics.SinkBatches.Inc()
			for _, skipped := range encErr.Skipped {
				p.droppedTotal.Add(1)
				p.metrics.SinkDropped.Inc()
				p.logger.Error("audit event not encodable",
					zap.String("event_id", skipped.ID), zap.Error(skipped.Err))
			}
		default:
			p.failedTotal.Add(int64(len(batch)))
			p.metrics.SinkFailures.Inc()
			p.logger.Error("audit flush failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
		p.metrics.QueueDepth.Set(float64(len(p.ch)))
	}

	for {
		select {
		case event, ok := <-p.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= p.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (p *Persister) Stats() PersisterStats {
	return PersisterStats{
		Written: p.writtenTotal.Load(),
		Failed:  p.failedTotal.Load(),
		Dropped: p.droppedTotal.Load(),
	}
}

// PersisterGroup hands every event to each persister. Each one has its own
// buffer and worker, so a stalled sink only backs up its own queue.
type PersisterGroup struct {
	persisters []*Persister
}

func NewPersisterGroup(persisters ...*Persister) *PersisterGroup {
	return &PersisterGroup{persisters: persisters}
}

func (g *PersisterGroup) Start() {
	for _, p := range g.persisters {
		p.Start()
	}
}

func (g *PersisterGroup) Enqueue(event domain.AuditEvent) {
	for _, p := range g.persisters {
		p.Enqueue(event)
	}
}

// Close drains and closes every persister and joins their errors.
func (g *PersisterGroup) Close() error {
	errs := make([]error, 0, len(g.persisters))
	for _, p := range g.persisters {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// Stats reports one entry per persister in construction order.
func (g *PersisterGroup) Stats() []PersisterStats {
	out := make([]PersisterStats, 0, len(g.persisters))
	for _, p := range g.persisters {
		out = append(out, p.Stats())
	}
	return out
}
