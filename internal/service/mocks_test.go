package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loyalty-leaderboard/internal/models"
	"github.com/loyalty-leaderboard/internal/storage"
	"github.com/loyalty-leaderboard/internal/types"
	"github.com/shopspring/decimal"
)

// Mock collaborators for testing

type mockFetcher struct {
	operations []models.Operation
	err        error
	calls      atomic.Int32
	started    chan struct{} // closed on the first call when set
	release    chan struct{} // blocks every call until closed when set
	once       sync.Once
}

func (m *mockFetcher) FetchAllOperations(ctx context.Context) ([]models.Operation, error) {
	m.calls.Add(1)
	if m.started != nil {
		m.once.Do(func() { close(m.started) })
	}
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.operations, nil
}

// memoryStore is an in-process LeaderboardStore
type memoryStore struct {
	mu           sync.Mutex
	locations    types.Locations
	customers    []*models.CustomerMetrics
	lastSync     *time.Time
	replaceErr   error
	lastSyncErr  error
	statsErr     error
	replaceCalls int
}

var _ storage.LeaderboardStore = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{locations: types.DefaultLocations()}
}

func (m *memoryStore) ReplaceLeaderboard(ctx context.Context, metrics []*models.CustomerMetrics, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceCalls++
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.customers = metrics
	ts := syncedAt
	m.lastSync = &ts
	return nil
}

func (m *memoryStore) GetTopN(ctx context.Context, metric types.Metric, location types.Location, limit int) ([]*models.CustomerMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value := func(c *models.CustomerMetrics) decimal.Decimal {
		if metric == types.MetricSpend {
			return c.TotalSpend
		}
		return decimal.NewFromInt(c.VisitCount)
	}

	var out []*models.CustomerMetrics
	for _, c := range m.customers {
		if !value(c).IsPositive() {
			continue
		}
		if location != types.LocationAll && m.locations.Bucket(c.ManagerID) != location {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := value(out[i]).Cmp(value(out[j])); c != 0 {
			return c > 0
		}
		return out[i].CustomerID < out[j].CustomerID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) GetLastSync(ctx context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastSyncErr != nil {
		return nil, m.lastSyncErr
	}
	return m.lastSync, nil
}

func (m *memoryStore) SetLastSync(ctx context.Context, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSync = &ts
	return nil
}

func (m *memoryStore) Stats(ctx context.Context) (*models.LeaderboardStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	return &models.LeaderboardStats{
		CustomerCount: int64(len(m.customers)),
		Rankings: map[string]models.RankingStats{
			"customers:by:visits": {Size: int64(len(m.customers))},
		},
	}, nil
}

func (m *memoryStore) Ping(ctx context.Context) error {
	return nil
}

type mockLock struct {
	err      error
	acquired int
	released int
}

func (m *mockLock) Acquire(ctx context.Context) (storage.UnlockFunc, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.acquired++
	return func(context.Context) error {
		m.released++
		return nil
	}, nil
}

type mockSyncer struct {
	stale     bool
	staleErr  error
	syncErr   error
	syncCalls int
	onSync    func()
}

func (m *mockSyncer) Sync(ctx context.Context) (*models.SyncSummary, error) {
	m.syncCalls++
	if m.syncErr != nil {
		return nil, m.syncErr
	}
	if m.onSync != nil {
		m.onSync()
	}
	return &models.SyncSummary{}, nil
}

func (m *mockSyncer) ShouldAutoSync(ctx context.Context, staleMinutes int) (bool, error) {
	return m.stale, m.staleErr
}

func int64Ptr(v int64) *int64 {
	return &v
}

func visit(id int64, customerID string, manager *int64) models.Operation {
	return models.Operation{
		ID:         id,
		CustomerID: customerID,
		Customer:   models.LoyaltyCustomer{ID: customerID, FirstName: "First " + customerID, Surname: "Last " + customerID},
		EventID:    types.EventVisit,
		ManagerID:  manager,
	}
}

func spend(id int64, customerID string, amount string, manager *int64) models.Operation {
	op := visit(id, customerID, manager)
	op.EventID = types.EventSpend
	op.PurchaseSum = decimal.RequireFromString(amount)
	return op
}
