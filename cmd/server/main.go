package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"olympus/internal/platform/config"
	"olympus/internal/platform/httpserver"
	"olympus/internal/platform/logger"
	"olympus/internal/platform/telemetry"
	httptransport "olympus/internal/transport/http"
	"olympus/pkg/platform/middleware/auth"
)

// main loads configuration, wires the modules and keeps the process
// lifecycle. Business logic lives in the internal module packages.
func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "olympus: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, syncLog, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
		Development: cfg.Log.Development,
		OutputPath:  cfg.Log.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = syncLog() }()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.Telemetry.CollectorAddr,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}

	infra, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	app, err := buildApp(cfg, infra, log)
	if err != nil {
		return err
	}

	// Access tokens are stateless unless the per-request revocation check is
	// switched on.
	var revocations auth.RevocationChecker
	if cfg.Auth.RevocationCheck {
		revocations = app.revocations
	}

	router := httptransport.NewRouter(httptransport.Config{
		Logger:      log,
		Identity:    app.identity,
		Orders:      app.orders,
		Tenants:     app.tenants,
		DeadLetters: app.bus,
		Audit:       app.trail,
		Validator:   httptransport.ValidatorFunc(app.identity.Validate),
		Revocations: revocations,
		AuthLimiter: app.authLimiter,
		AdminToken:  cfg.Server.AdminToken,
		Metrics:     app.httpMetrics,
		Gatherer:    app.registry,
		Health:      infra.Health,
		Timeout:     cfg.Server.WriteTimeout,
	})
	srv := httpserver.New(cfg.Server.Addr, router, httpserver.Options{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})

	if err := app.bus.Start(ctx); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}

	// Workers stop on ctx; the HTTP server and the bus are drained below with
	// their own deadline.
	workers, workerCtx := errgroup.WithContext(ctx)
	workers.Go(func() error { return app.relay.Run(workerCtx) })
	for _, job := range app.background {
		workers.Go(func() error { return job(workerCtx) })
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("olympus listening",
			"addr", cfg.Server.Addr,
			"environment", cfg.App.Environment,
			"event_transport", cfg.EventBus.Transport,
			"postgres", cfg.Postgres.Enabled(),
			"redis", cfg.Redis.Enabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if err := workers.Wait(); err != nil {
		log.Error("background worker failed", "error", err)
	}
	if err := app.bus.Shutdown(shutdownCtx); err != nil {
		log.Error("event bus shutdown failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracer shutdown failed", "error", err)
	}
	log.Info("olympus stopped")
	return runErr
}
