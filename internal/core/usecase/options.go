package usecase

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
	"github.com/atvirokodosprendimai/chainaudit/internal/metrics"
)

type Option func(*options)

type options struct {
	clock   func() time.Time
	ids     ports.IDGenerator
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

func WithIDGenerator(ids ports.IDGenerator) Option {
	return func(o *options) { o.ids = ids }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.ids == nil {
		o.ids = UUIDGenerator{}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.metrics == nil {
		o.metrics = metrics.New(nil)
	}
	return o
}

// UUIDGenerator produces random v4 UUIDs; no coordination between callers.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// decodeData recovers a typed payload. In-process events carry the original
// value; events replayed from a sink carry generic JSON and go through a
// marshal round trip.
func decodeData[T any](data any) (T, bool) {
	var zero T
	switch v := data.(type) {
	case nil:
		return zero, false
	case T:
		return v, true
	case *T:
		if v == nil {
			return zero, false
		}
		return *v, true
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false
	}
	return out, true
}

func durationMs(start, end time.Time) int64 {
	d := end.Sub(start).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}
