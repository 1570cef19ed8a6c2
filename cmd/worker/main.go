// Package main provides the scheduled sync worker for the loyalty leaderboard.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loyalty-leaderboard/internal/app"
	"github.com/loyalty-leaderboard/internal/config"
	"github.com/loyalty-leaderboard/internal/logging"
	"github.com/loyalty-leaderboard/internal/worker"
)

func main() {
	once := flag.Bool("once", false, "Run a single sync and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.Initialize(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer application.Close()

	w, err := worker.NewSyncWorker(&worker.SyncWorkerConfig{
		Syncer:   application.Sync,
		Schedule: cfg.Sync.Schedule,
		Timeout:  cfg.Sync.Timeout,
		Logger:   logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sync worker")
	}

	if *once {
		w.RunOnce(ctx)
		if status := w.GetStatus(); status.LastError != nil {
			os.Exit(1)
		}
		return
	}

	if err := w.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start sync worker")
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Sync.Timeout+5*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("Sync worker did not stop cleanly")
	}

	logger.Info("Worker exited")
}
