package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/chainaudit/internal/adapters/httpapi"
	"github.com/atvirokodosprendimai/chainaudit/internal/adapters/postgres"
	redisadapter "github.com/atvirokodosprendimai/chainaudit/internal/adapters/redis"
	"github.com/atvirokodosprendimai/chainaudit/internal/adapters/sink"
	sqliteadapter "github.com/atvirokodosprendimai/chainaudit/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/chainaudit/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/chainaudit/internal/config"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/usecase"
	"github.com/atvirokodosprendimai/chainaudit/internal/metrics"
	"github.com/atvirokodosprendimai/chainaudit/migrations"
)

const startupTimeout = 10 * time.Second

type resourceCloser struct {
	closers []io.Closer
}

// Close closes in order and reports the first error.
func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Runtime is the wired audit system: one store shared by every logger, the
// persistence pipeline behind it and the background workers.
type Runtime struct {
	Config    *config.Config
	Logger    *zap.Logger
	Registry  *prometheus.Registry
	Store     *usecase.EventStore
	Traces    *usecase.TraceManager
	Tests     *usecase.TestAuditor
	Decisions *usecase.DecisionRecorder
	Auth      *usecase.AuthService

	persister *usecase.PersisterGroup
	retention *usecase.RetentionWorker
	reaper    *usecase.Reaper
	started   bool
}

// New opens the configured sink, replays what it holds inside the retention
// window and builds the loggers. Workers are not running until Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	opts := []usecase.Option{
		usecase.WithLogger(logger),
		usecase.WithMetrics(metrics.New(reg)),
	}

	openCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	codec := usecase.NewEventCodec()
	primary, err := openSink(openCtx, cfg, codec, logger)
	if err != nil {
		return nil, err
	}
	persisters := []*usecase.Persister{
		newPersister(primary, cfg, logger.With(zap.String("sink", cfg.Sink.Kind)), opts),
	}
	if cfg.Sink.WebhookURL != "" {
		webhook := sink.NewWebhook(sink.WebhookConfig{
			URL:           cfg.Sink.WebhookURL,
			Secret:        cfg.Sink.WebhookSecret,
			RatePerSecond: cfg.Sink.WebhookRate,
		})
		persisters = append(persisters, newPersister(webhook, cfg, logger.With(zap.String("sink", "webhook")), opts))
	}
	queue := usecase.NewPersisterGroup(persisters...)

	storeCfg := cfg.StoreConfig()
	store := usecase.NewEventStore(storeCfg, queue, opts...)

	if src, ok := primary.(ports.EventSource); ok && storeCfg.Enabled {
		n, err := usecase.Hydrate(openCtx, store, src, usecase.RetentionStart(storeCfg, time.Now()))
		if err != nil {
			_ = queue.Close()
			return nil, err
		}
		logger.Info("hydrated audit log", zap.Int("events", n), zap.String("sink", cfg.Sink.Kind))
	}

	traces := usecase.NewTraceManager(store, opts...)
	tests := usecase.NewTestAuditor(store, opts...)

	return &Runtime{
		Config:    cfg,
		Logger:    logger,
		Registry:  reg,
		Store:     store,
		Traces:    traces,
		Tests:     tests,
		Decisions: usecase.NewDecisionRecorder(store, opts...),
		Auth:      usecase.NewAuthService(cfg.APIKeys()...),
		persister: queue,
		retention: usecase.NewRetentionWorker(store, cfg.Store.RetentionInterval, opts...),
		reaper:    usecase.NewReaper(traces, tests, cfg.Reaper.Interval, cfg.Reaper.MaxLifetime, opts...),
	}, nil
}

// newPersister gives each sink its own buffer and worker so a slow
// secondary cannot hold up the primary.
func newPersister(s ports.EventSink, cfg *config.Config, logger *zap.Logger, opts []usecase.Option) *usecase.Persister {
	opts = append(slices.Clip(opts), usecase.WithLogger(logger))
	return usecase.NewPersister(s, cfg.Sink.BufferSize, cfg.Sink.BatchSize, cfg.Sink.FlushInterval, opts...)
}

func openSink(ctx context.Context, cfg *config.Config, codec ports.EventCodec, logger *zap.Logger) (ports.EventSink, error) {
	switch cfg.Sink.Kind {
	case config.SinkMemory:
		return sink.NewDiscard(), nil
	case config.SinkLog:
		return sink.NewLog(logger), nil
	case config.SinkFile:
		return sink.NewFile(cfg.Sink.Dir, codec, logger)
	case config.SinkSQLite:
		db, err := gormsqlite.Open(cfg.Sink.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		writeSQLDB, err := db.WriteSQLDB()
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("resolve writer sql db: %w", err)
		}
		if err := migrations.Up(ctx, writeSQLDB, migrations.DialectSQLite); err != nil {
			_ = db.Close()
			return nil, err
		}
		return sqliteadapter.NewAuditEventStore(db, codec), nil
	case config.SinkPostgres:
		db, err := postgres.Open(ctx, cfg.Sink.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return postgres.NewAuditEventStore(db, codec), nil
	case config.SinkRedis:
		store := redisadapter.New(cfg.Sink.RedisAddr, cfg.Sink.RedisPassword, cfg.Sink.RedisDB, codec,
			redisadapter.WithTTL(cfg.Sink.RedisTTL))
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
}

// Start launches the persistence worker, the retention sweep and the reaper.
func (r *Runtime) Start(ctx context.Context) {
	if r.started {
		return
	}
	r.started = true
	r.persister.Start()
	r.retention.Start(ctx)
	r.reaper.Start(ctx)
}

func (r *Runtime) Handler() http.Handler {
	return httpapi.NewHandler(httpapi.Services{
		Store:     r.Store,
		Traces:    r.Traces,
		Tests:     r.Tests,
		Decisions: r.Decisions,
		Auth:      r.Auth,
	}, r.Registry, r.Logger).Router()
}

// Close stops the workers, then drains the queue into the sink and closes it.
func (r *Runtime) Close() error {
	err := resourceCloser{closers: []io.Closer{r.reaper, r.retention, r.Store}}.Close()
	for i, stats := range r.persister.Stats() {
		r.Logger.Info("audit log closed",
			zap.Int("persister", i),
			zap.Int64("written", stats.Written),
			zap.Int64("failed", stats.Failed),
			zap.Int64("dropped", stats.Dropped),
		)
	}
	return err
}

// NewServer builds and starts a runtime and returns the HTTP server in front
// of it. Closing the returned closer flushes the audit log.
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*http.Server, io.Closer, error) {
	rt, err := New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	rt.Start(context.Background())

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	return server, rt, nil
}
