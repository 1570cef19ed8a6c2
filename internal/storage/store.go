package storage

import (
	"context"
	"sort"
	"time"

	"github.com/loyalty-leaderboard/internal/logging"
	"github.com/loyalty-leaderboard/internal/models"
	"github.com/loyalty-leaderboard/internal/types"
)

// LeaderboardStore persists the aggregated leaderboard and the last sync
// timestamp. ReplaceLeaderboard is all-or-nothing: on error the previous
// leaderboard and timestamp stay readable.
type LeaderboardStore interface {
	ReplaceLeaderboard(ctx context.Context, metrics []*models.CustomerMetrics, syncedAt time.Time) error
	// GetTopN returns at most limit customers with a strictly positive
	// metric, ordered by metric desc then customer id asc.
	GetTopN(ctx context.Context, metric types.Metric, location types.Location, limit int) ([]*models.CustomerMetrics, error)
	// GetLastSync returns nil when no sync has been recorded
	GetLastSync(ctx context.Context) (*time.Time, error)
	SetLastSync(ctx context.Context, ts time.Time) error
	Stats(ctx context.Context) (*models.LeaderboardStats, error)
	Ping(ctx context.Context) error
}

// lastSyncKey names the last sync timestamp in both backends
const lastSyncKey = "last_sync"

// statsTopSize is the number of leaders reported per ranking by Stats
const statsTopSize = 5

func formatSyncTimestamp(ts time.Time) string {
	return ts.UTC().Format(models.TimestampLayout)
}

// parseSyncTimestamp treats a value that does not parse as never synced
func parseSyncTimestamp(value string) *time.Time {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		logging.WithField("value", value).Warn("Ignoring unparseable last sync timestamp")
		return nil
	}
	ts = ts.UTC()
	return &ts
}

// score returns the ranking score of m for metric
func score(m *models.CustomerMetrics, metric types.Metric) float64 {
	if metric == types.MetricSpend {
		return m.TotalSpend.InexactFloat64()
	}
	return float64(m.VisitCount)
}

// sortEntries orders by score desc, then customer id asc
func sortEntries(entries []models.RankingEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].CustomerID < entries[j].CustomerID
	})
}

// ranking identifies one ordered view of the leaderboard
type ranking struct {
	metric   types.Metric
	location types.Location
}

func (r ranking) name() string {
	return types.RankingName(r.metric, r.location)
}

// allRankings enumerates every ranking a store maintains: both metrics for
// the global board and each named location.
func allRankings(locations types.Locations) []ranking {
	locs := append([]types.Location{types.LocationAll}, locations.Named()...)
	out := make([]ranking, 0, len(locs)*2)
	for _, metric := range types.Metrics() {
		for _, loc := range locs {
			out = append(out, ranking{metric: metric, location: loc})
		}
	}
	return out
}
