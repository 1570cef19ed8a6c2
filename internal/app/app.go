// Package app assembles the leaderboard services from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/loyalty-leaderboard/internal/adapter"
	"github.com/loyalty-leaderboard/internal/config"
	"github.com/loyalty-leaderboard/internal/logging"
	"github.com/loyalty-leaderboard/internal/service"
	"github.com/loyalty-leaderboard/internal/storage"
)

// App holds the wired components shared by the server and the worker
type App struct {
	Config      *config.Config
	Store       storage.LeaderboardStore
	Sync        *service.SyncService
	Leaderboard *service.LeaderboardService

	postgres *storage.PostgresDB
	redis    *storage.RedisDB
	logger   *logging.Logger
}

// Initialize connects the configured backend and builds the services.
// Connections opened before a failure are closed.
func Initialize(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	a := &App{Config: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.Config, a.logger
	var err error

	if cfg.RedisEnabled() {
		a.redis, err = storage.NewRedisDB(ctx, &cfg.Database.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.WithField("addr", cfg.Database.Redis.Addr()).Info("Connected to Redis")
	}

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		if cfg.Database.Postgres.AutoMigrate {
			if err := storage.RunMigrations(cfg.Database.Postgres.MigrationURL()); err != nil {
				return err
			}
			logger.Info("Postgres schema is up to date")
		}
		a.postgres, err = storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		a.Store = storage.NewPostgresLeaderboardStore(a.postgres, cfg.Locations)
		logger.Info("Using Postgres leaderboard store")
	case config.BackendRedis:
		if a.redis == nil {
			return fmt.Errorf("redis backend selected without REDIS_HOST")
		}
		a.Store = storage.NewRedisLeaderboardStore(a.redis.Client(), cfg.Locations)
		logger.Info("Using Redis leaderboard store")
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	var lock storage.SyncLocker = storage.NoopSyncLock{}
	if a.redis != nil {
		lock = storage.NewRedisSyncLock(a.redis.Client(), cfg.Sync.LockTTL)
	} else {
		logger.Warn("No Redis configured, syncs are coalesced within this process only")
	}

	client, err := adapter.NewLoyaltyClient(&cfg.Loyalty)
	if err != nil {
		return err
	}

	a.Sync = service.NewSyncService(client, a.Store, lock, cfg.Sync.Timeout)
	a.Leaderboard = service.NewLeaderboardService(a.Store, a.Sync, cfg.Locations, cfg.Sync.StaleMinutes)
	return nil
}

// Close releases every open connection
func (a *App) Close() {
	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close Redis connection")
		}
	}
}
