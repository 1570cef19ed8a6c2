package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/loyalty-leaderboard/internal/config"
	"github.com/loyalty-leaderboard/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisBackedConfig(mr *miniredis.Miniredis) *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Backend: config.BackendRedis},
		Database: config.DatabaseConfig{
			Redis: config.RedisConfig{Host: mr.Host(), Port: mr.Port(), MaxConnections: 2},
		},
		Loyalty: config.LoyaltyConfig{
			APIURL:     "http://feed.invalid/operations",
			APIKey:     "key",
			TemplateID: "tpl",
			PageSize:   100,
		},
		Locations: types.DefaultLocations(),
		Sync:      config.SyncConfig{StaleMinutes: 60, LockTTL: time.Minute, Timeout: time.Second},
	}
}

func TestInitialize_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, err := Initialize(ctx, redisBackedConfig(mr), nil)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Store)
	require.NotNil(t, a.Sync)
	require.NotNil(t, a.Leaderboard)
	assert.NoError(t, a.Store.Ping(ctx))

	last, err := a.Store.GetLastSync(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestInitialize_Failures(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown backend", func(c *config.Config) { c.Storage.Backend = "mongo" }},
		{"redis backend without host", func(c *config.Config) { c.Database.Redis.Host = "" }},
		{"missing feed key", func(c *config.Config) { c.Loyalty.APIKey = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := redisBackedConfig(mr)
			tt.mutate(cfg)
			a, err := Initialize(context.Background(), cfg, nil)
			assert.Error(t, err)
			assert.Nil(t, a)
		})
	}
}
