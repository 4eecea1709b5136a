package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/metrics"
)

const reapSummary = "abandoned: exceeded max lifetime"

// Reaper finalizes traces and tests that outlived maxLifetime. Traces end as
// cancelled and tests as timeout, each with reaped=true in the metadata.
type Reaper struct {
	traces      *TraceManager
	tests       *TestAuditor
	maxLifetime time.Duration
	clock       func() time.Time
	logger      *zap.Logger
	metrics     *metrics.Metrics
	runner      periodic
}

func NewReaper(traces *TraceManager, tests *TestAuditor, interval, maxLifetime time.Duration, opts ...Option) *Reaper {
	o := buildOptions(opts)
	r := &Reaper{
		traces:      traces,
		tests:       tests,
		maxLifetime: maxLifetime,
		clock:       o.clock,
		logger:      o.logger.With(zap.String("mod", "reaper")),
		metrics:     o.metrics,
	}
	if maxLifetime <= 0 {
		interval = 0
	}
	r.runner = periodic{interval: interval, fn: func(context.Context) { r.RunOnce() }}
	return r
}

func (r *Reaper) Start(ctx context.Context) {
	r.runner.start(ctx)
}

func (r *Reaper) Close() error {
	r.runner.close()
	return nil
}

// RunOnce reaps everything older than maxLifetime and returns how many
// traces and tests it finalized.
func (r *Reaper) RunOnce() (traces, tests int) {
	if r.maxLifetime <= 0 {
		return 0, 0
	}
	cutoff := r.clock().Add(-r.maxLifetime)
	meta := map[string]any{"reaped": true}

	if r.traces != nil {
		for _, id := range r.traces.startedBefore(cutoff) {
			reaped, err := r.traces.reapIfStartedBefore(id, cutoff, meta)
			if errors.Is(err, domain.ErrTraceNotFound) {
				continue // finalized by its owner in the meantime
			}
			if err != nil {
				r.logger.Error("reap trace", zap.String("transaction_id", id), zap.Error(err))
				continue
			}
			if !reaped {
				continue
			}
			traces++
			r.metrics.Reaped.WithLabelValues("trace").Inc()
		}
	}
	if r.tests != nil {
		for _, id := range r.tests.startedBefore(cutoff) {
			reaped, err := r.tests.reapIfStartedBefore(id, cutoff, meta)
			if errors.Is(err, domain.ErrTestNotFound) {
				continue
			}
			if err != nil {
				r.logger.Error("reap test", zap.String("test_id", id), zap.Error(err))
				continue
			}
			if !reaped {
				continue
			}
			tests++
			r.metrics.Reaped.WithLabelValues("test").Inc()
		}
	}
	if traces+tests > 0 {
		r.logger.Warn("reaped abandoned entries", zap.Int("traces", traces), zap.Int("tests", tests))
	}
	return traces, tests
}
