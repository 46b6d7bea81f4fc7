package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"vigiecore/internal/adapters/httpapi"
	"vigiecore/internal/adapters/natspub"
	"vigiecore/internal/core"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the registry HTTP API",
		Long: `Start the registry daemon: opens the configured storage backend,
wires the event publisher, and serves the JSON API until interrupted.

Example:
  vigiecored serve --config ./vigiecore.yaml
  VIGIECORE_STORAGE_DRIVER=memory vigiecored serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), rootOpts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		return err
	}

	serviceOpts := []core.Option{
		core.WithLogger(core.NewSlogLogger(logger)),
		core.WithMetricsRecorder(metrics),
	}
	if cfg.NATS.URL != "" {
		publisher, err := natspub.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return err
		}
		defer func() { _ = publisher.Close() }()
		serviceOpts = append(serviceOpts, core.WithPublisher(publisher))
	}

	service := core.NewService(store, serviceOpts...)
	router := httpapi.NewRouter(service, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "driver", storageDriver(cfg))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func storageDriver(cfg Config) string {
	if cfg.Storage.Driver != "" {
		return cfg.Storage.Driver
	}
	return string(core.StorageSQLite)
}

func openStore(cfg Config) (core.PersistentStore, error) {
	engine := core.DefaultRulesEngine()
	switch core.StorageDriver(storageDriver(cfg)) {
	case core.StorageMemory:
		return core.NewMemoryStore(engine), nil
	case core.StorageSQLite:
		return core.NewSQLiteStore(cfg.Storage.SQLitePath, engine)
	case core.StoragePostgres:
		return core.NewPostgresStore(cfg.Storage.PostgresDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Storage.Driver)
	}
}
