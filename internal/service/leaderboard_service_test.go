package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	apperrors "github.com/loyalty-leaderboard/internal/errors"
	"github.com/loyalty-leaderboard/internal/models"
	"github.com/loyalty-leaderboard/internal/storage"
	"github.com/loyalty-leaderboard/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore() *memoryStore {
	store := newMemoryStore()
	ts := aggregateTime
	store.lastSync = &ts
	store.customers = Aggregate(sampleOperations(), aggregateTime).Metrics()
	return store
}

func TestLeaderboardService_ParseLeaderboardRequest(t *testing.T) {
	svc := NewLeaderboardService(newMemoryStore(), &mockSyncer{}, nil, DefaultStaleMinutes)

	tests := []struct {
		name     string
		sortBy   string
		limit    string
		location string
		want     LeaderboardRequest
		wantErr  bool
	}{
		{"defaults", "", "", "", LeaderboardRequest{types.MetricVisits, DefaultLimit, types.LocationAll}, false},
		{"spend", "spend", "2", "jumeirah", LeaderboardRequest{types.MetricSpend, 2, types.LocationJumeirah}, false},
		{"unknown sortBy ranks by visits", "revenue", "5", "rak", LeaderboardRequest{types.MetricVisits, 5, types.LocationRAK}, false},
		{"case insensitive", "SPEND", "3", "RAK", LeaderboardRequest{types.MetricSpend, 3, types.LocationRAK}, false},
		{"non-numeric limit", "visits", "ten", "", LeaderboardRequest{types.MetricVisits, DefaultLimit, types.LocationAll}, false},
		{"zero limit", "visits", "0", "", LeaderboardRequest{types.MetricVisits, DefaultLimit, types.LocationAll}, false},
		{"negative limit", "visits", "-4", "", LeaderboardRequest{types.MetricVisits, DefaultLimit, types.LocationAll}, false},
		{"limit capped", "visits", "5000", "", LeaderboardRequest{types.MetricVisits, MaxLimit, types.LocationAll}, false},
		{"unknown location", "visits", "10", "marina", LeaderboardRequest{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ParseLeaderboardRequest(tt.sortBy, tt.limit, tt.location)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, apperrors.GetHTTPStatusCode(err))
				assert.Contains(t, err.Error(), "jumeirah, rak")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLeaderboardService_FreshDataDoesNotSync(t *testing.T) {
	store := seededStore()
	syncer := &mockSyncer{stale: false}
	svc := NewLeaderboardService(store, syncer, nil, DefaultStaleMinutes)

	res, err := svc.GetLeaderboard(context.Background(), LeaderboardRequest{Metric: types.MetricVisits, Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, 0, syncer.syncCalls)
	assert.Equal(t, []string{"B", "A"}, ids(res.Customers))
	require.NotNil(t, res.LastSync)
	assert.Equal(t, aggregateTime, *res.LastSync)
	assert.Equal(t, types.MetricVisits, res.Metric)
	assert.Equal(t, types.LocationAll, res.Location)
}

func TestLeaderboardService_StaleDataSyncsFirst(t *testing.T) {
	store := newMemoryStore()
	syncer := &mockSyncer{stale: true}
	syncer.onSync = func() {
		store.customers = Aggregate(sampleOperations(), aggregateTime).Metrics()
		ts := aggregateTime
		store.lastSync = &ts
	}
	svc := NewLeaderboardService(store, syncer, nil, DefaultStaleMinutes)

	res, err := svc.GetLeaderboard(context.Background(), LeaderboardRequest{Metric: types.MetricSpend, Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, 1, syncer.syncCalls)
	assert.Equal(t, []string{"C", "A", "D"}, ids(res.Customers))
	require.NotNil(t, res.LastSync)
}

func TestLeaderboardService_SyncFailuresAreSwallowed(t *testing.T) {
	tests := []struct {
		name   string
		syncer *mockSyncer
	}{
		{"sync fails", &mockSyncer{stale: true, syncErr: apperrors.NewUpstreamFetchError("feed down", nil)}},
		{"sync already running", &mockSyncer{stale: true, syncErr: apperrors.NewSyncInProgressError()}},
		{"staleness check fails", &mockSyncer{staleErr: errors.New("store timeout")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewLeaderboardService(seededStore(), tt.syncer, nil, DefaultStaleMinutes)

			res, err := svc.GetLeaderboard(context.Background(), LeaderboardRequest{Metric: types.MetricVisits, Limit: 10})
			require.NoError(t, err)
			assert.Equal(t, []string{"B", "A"}, ids(res.Customers))
		})
	}
}

func TestLeaderboardService_ExcludesNonPositiveMetric(t *testing.T) {
	svc := NewLeaderboardService(seededStore(), &mockSyncer{}, nil, DefaultStaleMinutes)

	res, err := svc.GetLeaderboard(context.Background(), LeaderboardRequest{Metric: types.MetricVisits, Limit: 10})
	require.NoError(t, err)
	for _, c := range res.Customers {
		assert.Positive(t, c.VisitCount, "customer %s", c.CustomerID)
	}
	assert.NotContains(t, ids(res.Customers), "C", "spender without visits must not rank by visits")
}

func TestLeaderboardService_ClampsLimitAndRejectsUnknownLocation(t *testing.T) {
	svc := NewLeaderboardService(seededStore(), &mockSyncer{}, nil, DefaultStaleMinutes)

	res, err := svc.GetLeaderboard(context.Background(), LeaderboardRequest{Metric: types.MetricSpend, Limit: 0})
	require.NoError(t, err)
	assert.Len(t, res.Customers, 3)

	_, err = svc.GetLeaderboard(context.Background(), LeaderboardRequest{Metric: types.MetricSpend, Location: "marina"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryValidation, apperrors.Categorize(err).Category)
}

func TestLeaderboardService_StatusAndDebug(t *testing.T) {
	store := seededStore()
	svc := NewLeaderboardService(store, &mockSyncer{}, nil, DefaultStaleMinutes)

	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), status.CustomerCount)
	assert.Equal(t, aggregateTime, *status.LastSync)

	debug, err := svc.Debug(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), debug.Rankings["customers:by:visits"].Size)

	store.statsErr = apperrors.NewPersistenceError("read stats", errors.New("down"))
	_, err = svc.Status(context.Background())
	assert.True(t, apperrors.IsPersistence(err))
	_, err = svc.Debug(context.Background())
	assert.True(t, apperrors.IsPersistence(err))
}

func TestLeaderboardService_EndToEndSpendByLocation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locations := types.DefaultLocations()
	store := storage.NewRedisLeaderboardStore(client, locations)
	syncSvc := NewSyncService(&mockFetcher{operations: sampleOperations()}, store, storage.NewRedisSyncLock(client, time.Minute), time.Minute)
	svc := NewLeaderboardService(store, syncSvc, locations, DefaultStaleMinutes)

	req, err := svc.ParseLeaderboardRequest("spend", "2", "jumeirah")
	require.NoError(t, err)

	// Never synced, so the read triggers the first sync
	res, err := svc.GetLeaderboard(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.Customers, 2)
	assert.Equal(t, []string{"C", "A"}, ids(res.Customers))
	for _, c := range res.Customers {
		require.NotNil(t, c.ManagerID)
		assert.Equal(t, types.DefaultJumeirahManagerID, *c.ManagerID)
		assert.True(t, c.TotalSpend.IsPositive())
	}
	assert.True(t, res.Customers[0].TotalSpend.GreaterThan(res.Customers[1].TotalSpend))
	assert.True(t, decimal.RequireFromString("120.75").Equal(res.Customers[0].TotalSpend))
	require.NotNil(t, res.LastSync)
	assert.False(t, mr.Exists(storage.SyncLockKey), "lock released after sync")
}

func ids(customers []*models.CustomerMetrics) []string {
	out := make([]string, len(customers))
	for i, c := range customers {
		out[i] = c.CustomerID
	}
	return out
}
