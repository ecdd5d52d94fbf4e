package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/nfvorch/vimworker/internal/action"
	"github.com/nfvorch/vimworker/internal/adminhttp"
	"github.com/nfvorch/vimworker/internal/config"
	"github.com/nfvorch/vimworker/internal/database"
	"github.com/nfvorch/vimworker/internal/event"
	"github.com/nfvorch/vimworker/internal/logging"
	"github.com/nfvorch/vimworker/internal/redis"
	"github.com/nfvorch/vimworker/internal/supervisor"
)

// runDaemon constructs every dependency for one vimworkerd process — store,
// event bus, per-tenant supervisor, optional Redis cache, admin HTTP
// surface — starts them, and blocks until a termination signal arrives.
func runDaemon() {
	if cfgFile != "" {
		os.Setenv("VIMENGINE_CONFIG", cfgFile)
	}

	banner := color.New(color.FgCyan, color.Bold)
	banner.Printf("vimworkerd v%s (build %s, commit %s)\n", version, buildTime, gitCommit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := buildLogger(cfg.Logging)

	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.InitializeSchema(); err != nil {
		logger.Error("failed to initialize database schema: %v", err)
		os.Exit(1)
	}

	store := action.NewStore(db)
	bus := event.NewEventBus(true)
	sup := supervisor.New(cfg.Worker, store, bus, logger)

	cache, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		logger.Error("failed to initialize redis cache: %v", err)
		os.Exit(1)
	}
	defer cache.Close()
	sup.SetCache(cache)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup.Start(rootCtx, cfg.Tenants)
	logger.Info("started %d tenant worker(s)", len(cfg.Tenants))

	admin := adminhttp.New(cfg.Server, sup, logger)
	go func() {
		if err := admin.Start(); err != nil {
			logger.Error("admin HTTP server exited: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received, draining tenant workers")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.Server))
	defer shutdownCancel()

	if err := admin.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin HTTP server shutdown error: %v", err)
	}

	sup.Shutdown(shutdownCtx)
	logger.Info("vimworkerd exited")
}

func buildLogger(cfg config.LoggingConfig) *logging.Logger {
	switch cfg.Level {
	case "debug":
		return logging.NewLogger(logging.DEBUG)
	case "warn":
		return logging.NewLogger(logging.WARN)
	case "error":
		return logging.NewLogger(logging.ERROR)
	default:
		return logging.NewLogger(logging.INFO)
	}
}

func shutdownTimeout(cfg config.ServerConfig) time.Duration {
	if cfg.ShutdownTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(cfg.ShutdownTimeout) * time.Second
}
