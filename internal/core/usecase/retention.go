package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// periodic runs fn on a ticker until closed.
type periodic struct {
	interval time.Duration
	fn       func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (p *periodic) start(parent context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil || p.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.wg.Add(1)
	go p.loop(ctx)
}

func (p *periodic) close() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *periodic) loop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fn(ctx)
		}
	}
}

// RetentionWorker runs the store's retention sweep in the background so
// producers do not pay for a full-log scan on every append.
type RetentionWorker struct {
	store  *EventStore
	clock  func() time.Time
	logger *zap.Logger
	runner periodic
}

func NewRetentionWorker(store *EventStore, interval time.Duration, opts ...Option) *RetentionWorker {
	o := buildOptions(opts)
	w := &RetentionWorker{
		store:  store,
		clock:  o.clock,
		logger: o.logger.With(zap.String("mod", "retention")),
	}
	w.runner = periodic{interval: interval, fn: func(context.Context) { w.RunOnce() }}
	return w
}

func (w *RetentionWorker) Start(ctx context.Context) {
	w.runner.start(ctx)
}

func (w *RetentionWorker) RunOnce() int {
	removed := w.store.Sweep(w.clock())
	if removed > 0 {
		w.logger.Info("retention sweep removed events", zap.Int("removed", removed))
	}
	return removed
}

func (w *RetentionWorker) Close() error {
	w.runner.close()
	return nil
}
