package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-config-runner/internal/api"
	"go-config-runner/internal/app"
	"go-config-runner/internal/classify"
	"go-config-runner/internal/config"
	"go-config-runner/internal/database"
	"go-config-runner/internal/events"
	"go-config-runner/internal/job"
	"go-config-runner/internal/logger"
	"go-config-runner/internal/monitor"
	"go-config-runner/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)
	log.Info().Msg("Configuration loaded successfully")

	// 2. Initialize database
	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	jobRepo := database.NewJobRepository(db)
	hitRepo := database.NewHitRepository(db)
	proxyRepo := database.NewProxyRepository(db)
	triggerRepo := database.NewTriggeredActionRepository(db)

	log.Info().Str("path", cfg.DatabasePath).Msg("Database initialized successfully")

	// 3. Initialize notifiers
	var notifiers notify.Multi
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.WebhookURL, cfg.WebhookRate))
	}
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		notifiers = append(notifiers, notify.NewRedis(rdb, cfg.RedisStream))
	}

	log.Info().Int("count", len(notifiers)).Msg("Notifiers initialized")

	// 4. Initialize job manager and restore persisted jobs
	bus := events.NewBus()
	builder := &app.Builder{
		Configs:         classify.NewConfigStore(cfg.ConfigsDir),
		Hits:            hitRepo,
		States:          jobRepo,
		Proxies:         proxyRepo,
		Events:          bus,
		MetricsInterval: cfg.MetricsInterval,
		ProxyWait:       cfg.ProxyWaitTimeout,
		MaxBots:         cfg.MaxBots,
	}
	mgr := job.NewManager(builder.Build, jobRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := mgr.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to restore jobs")
	}

	// 5. Start triggered-action monitor
	mon := monitor.New(mgr, monitor.Options{
		Interval: cfg.MonitorInterval,
		Notifier: notifiers,
		Store:    triggerRepo,
		Events:   bus,
	})
	if _, err := mon.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load triggered actions")
	}

	// 6. Setup API router
	hub := api.NewHub(bus)
	router := api.SetupRouter(api.Services{
		Jobs:    mgr,
		Monitor: mon,
		Hits:    hitRepo,
		Proxies: proxyRepo,
		Hub:     hub,
	}, cfg)

	// 7. Run monitor and API server until a shutdown signal
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		mon.Run(gctx)
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		log.Info().Str("addr", addr).Msg("Starting API server")
		if err := router.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutdown signal received, gracefully shutting down...")

		// 8. Graceful shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := router.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down API server")
		}
		hub.Close()
		if err := mgr.StopAll(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping jobs")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
	}
	log.Info().Msg("Shutdown complete")
}
