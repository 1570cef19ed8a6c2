package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/loyalty-leaderboard/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newTestRedis starts a miniredis server and a client connected to it
func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

var testSyncTime = time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)

func managerID(id int64) *int64 {
	return &id
}

func customer(id string, visits int64, spend string, manager *int64) *models.CustomerMetrics {
	return &models.CustomerMetrics{
		CustomerID:  id,
		FirstName:   "First " + id,
		Surname:     "Last " + id,
		VisitCount:  visits,
		TotalSpend:  decimal.RequireFromString(spend),
		ManagerID:   manager,
		LastUpdated: testSyncTime,
	}
}

func customerIDs(customers []*models.CustomerMetrics) []string {
	ids := make([]string, len(customers))
	for i, c := range customers {
		ids[i] = c.CustomerID
	}
	return ids
}
