package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/chainaudit/internal/app"
	"github.com/atvirokodosprendimai/chainaudit/internal/config"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/logging"
)

func main() {
	cmd := &cli.Command{
		Name:  "chainaudit",
		Usage: "Audit trail for blockchain agents, transactions and tests",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Sources: cli.EnvVars("CHAINAUDIT_CONFIG"),
				Usage:   "Path to a YAML config file (default: ./chainaudit.yaml if present)",
			},
			&cli.StringFlag{
				Name:  "sink",
				Usage: "Persistence sink: memory, file, sqlite, postgres, redis or log",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP API and background workers",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "HTTP listen address",
					},
				},
				Action: serve,
			},
			{
				Name:  "export",
				Usage: "Replay the sink and write a snapshot file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Output file; .yaml or .yml selects YAML (default: auto-named JSON in store.export_dir)",
					},
				},
				Action: export,
			},
			{
				Name:  "report",
				Usage: "Replay the sink and print an audit report as JSON",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "since",
						Value: 24 * time.Hour,
						Usage: "Report window ending now; 0 covers everything",
					},
				},
				Action: report,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config, applies flag overrides and builds the logger.
func setup(c *cli.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if c.IsSet("sink") {
		cfg.Sink.Kind = c.String("sink")
	}
	if c.IsSet("log-level") {
		cfg.Logger.Level = c.String("log-level")
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func serve(ctx context.Context, c *cli.Command) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	server, closer, err := app.NewServer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer func() {
		if closeErr := closer.Close(); closeErr != nil {
			logger.Error("close resources", zap.Error(closeErr))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("sink", cfg.Sink.Kind))
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}

	select {
	case <-ctx.Done():
		return shutdown()
	case sig := <-sigCh:
		logger.Info("received signal", zap.String("signal", sig.String()))
		return shutdown()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func export(ctx context.Context, c *cli.Command) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	path, err := rt.Store.ExportToFile(c.String("name"))
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Fprintln(c.Root().Writer, path)
	return nil
}

func report(ctx context.Context, c *cli.Command) error {
	cfg, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	var opts domain.ReportOptions
	if since := c.Duration("since"); since > 0 {
		start := time.Now().Add(-since)
		opts.StartTime = &start
	}
	rep, err := rt.Store.GenerateAuditReport(opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
