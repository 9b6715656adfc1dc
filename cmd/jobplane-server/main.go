// jobplane-server is the HTTP control-plane server: job submission and
// resolution, agent claim/status endpoints, registry administration and the
// maintenance sweeps.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobplane/internal/api"
	"jobplane/internal/config"
	"jobplane/internal/execmode"
	"jobplane/internal/health"
	"jobplane/internal/job"
	"jobplane/internal/launcher"
	"jobplane/internal/maintenance"
	"jobplane/internal/notify"
	"jobplane/internal/observability"
	"jobplane/internal/registry"
	"jobplane/internal/resolve"
	"jobplane/internal/sqlite"
	"jobplane/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg := config.LoadServiceConfig()
	defaults, err := config.LoadDefaults(cfg.DefaultsPath)
	if err != nil {
		return err
	}

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Open the database shared by the registry and the lifecycle store
	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	regStore, err := registry.NewSQLiteStore(db)
	if err != nil {
		return err
	}
	jobStore, err := store.NewSQLiteStore(db)
	if err != nil {
		return err
	}
	slog.Info("Database ready", "path", cfg.DatabasePath)

	resolver := resolve.New(regStore, defaults)

	// State-change webhooks are optional
	var notifier job.Notifier
	var webhookNotifier *notify.Notifier
	if len(cfg.WebhookURLs) > 0 {
		webhookNotifier = notify.New(notify.Config{
			Destinations: cfg.WebhookURLs,
			SigningKey:   cfg.WebhookSigningKey,
		}, metrics)
		notifier = webhookNotifier
		slog.Info("State-change notifications enabled", "destinations", len(cfg.WebhookURLs))
	}

	// Server-launched agents are optional; without them agents claim jobs
	// out-of-band.
	healthChecks := map[string]health.Check{
		"store":    jobStore.Ping,
		"registry": regStore.Ping,
	}
	var agentLauncher job.AgentLauncher
	var mode job.ModeSelector
	if cfg.LaunchAgents {
		dockerLauncher, err := launcher.NewDocker(launcher.DockerConfig{
			AgentImage: cfg.AgentImage,
			ServerURL:  cfg.ServerURL,
		})
		if err != nil {
			return err
		}
		agentLauncher = dockerLauncher
		mode = execmode.NewSelector(true, execmode.TagCheck("external-agent", false))
		healthChecks["launcher"] = func(ctx context.Context) error { return dockerLauncher.Ready(ctx) }
		slog.Info("Docker agent launcher enabled", "image", cfg.AgentImage)
	}

	healthChecker := health.NewChecker(healthChecks)

	// Create job service
	jobService := job.NewService(jobStore, resolver, agentLauncher, notifier, mode, metrics)

	// Background sweeps: timeout enforcement, stale-job invalidation, retention
	sweeper := maintenance.NewSweeper(jobStore, jobService, maintenance.DefaultConfig())
	if err := sweeper.Start(); err != nil {
		return err
	}

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		JobService:    jobService,
		Registry:      regStore,
		Resolver:      resolver,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        cfg.APIKey,
		AgentAPIKey:   cfg.AgentAPIKey,
	})

	if cfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	// Start API server
	go func() {
		slog.Info("Starting API server", "port", cfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start metrics server
	go func() {
		slog.Info("Starting metrics server", "port", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	// Wait for load balancers to stop sending traffic
	if cfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", cfg.ShutdownDrainWait)
		time.Sleep(cfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Stop the sweeps and drain pending notifications
	sweepCtx, sweepCancel := context.WithTimeout(context.Background(), 10*time.Second)
	sweeper.Stop(sweepCtx)
	sweepCancel()

	if webhookNotifier != nil {
		slog.Info("Draining notifier")
		notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer notifyCancel()
		if err := webhookNotifier.Close(notifyCtx); err != nil {
			slog.Warn("Notifier shutdown error", "error", err)
		}

		stats := webhookNotifier.Stats()
		slog.Info("Notifier stats",
			"delivered", stats.Delivered,
			"failed", stats.Failed,
			"dropped", stats.Dropped,
		)
	}

	// Claimed jobs keep running: agents are self-contained and report back when
	// the server returns.
	slog.Info("Shutdown complete")
	return nil
}
