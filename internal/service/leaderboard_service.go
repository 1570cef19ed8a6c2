package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/loyalty-leaderboard/internal/errors"
	"github.com/loyalty-leaderboard/internal/logging"
	"github.com/loyalty-leaderboard/internal/models"
	"github.com/loyalty-leaderboard/internal/storage"
	"github.com/loyalty-leaderboard/internal/types"
)

// Leaderboard page size bounds
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Syncer runs syncs and reports staleness. *SyncService implements it.
type Syncer interface {
	Sync(ctx context.Context) (*models.SyncSummary, error)
	ShouldAutoSync(ctx context.Context, staleMinutes int) (bool, error)
}

// LeaderboardRequest is a validated leaderboard query
type LeaderboardRequest struct {
	Metric   types.Metric
	Limit    int
	Location types.Location
}

// LeaderboardResult is one page of a ranking
type LeaderboardResult struct {
	Customers []*models.CustomerMetrics
	LastSync  *time.Time
	Metric    types.Metric
	Location  types.Location
}

// StatusResult summarizes the stored leaderboard
type StatusResult struct {
	CustomerCount int64
	LastSync      *time.Time
}

// DebugResult exposes every ranking's size and leaders
type DebugResult struct {
	Rankings map[string]models.RankingStats
	LastSync *time.Time
}

// LeaderboardService serves ranking reads, refreshing stale data first
type LeaderboardService struct {
	store        storage.LeaderboardStore
	syncer       Syncer
	locations    types.Locations
	staleMinutes int
}

// NewLeaderboardService creates a new leaderboard service
func NewLeaderboardService(store storage.LeaderboardStore, syncer Syncer, locations types.Locations, staleMinutes int) *LeaderboardService {
	if locations == nil {
		locations = types.DefaultLocations()
	}
	return &LeaderboardService{
		store:        store,
		syncer:       syncer,
		locations:    locations,
		staleMinutes: staleMinutes,
	}
}

// ParseLeaderboardRequest validates raw query values. Unknown sortBy values
// rank by visits and a missing, malformed or non-positive limit falls back
// to DefaultLimit; limits above MaxLimit are capped. An unknown location is
// rejected.
func (s *LeaderboardService) ParseLeaderboardRequest(sortBy, limit, location string) (LeaderboardRequest, error) {
	req := LeaderboardRequest{
		Metric:   types.ParseMetric(strings.ToLower(strings.TrimSpace(sortBy))),
		Limit:    DefaultLimit,
		Location: types.Location(strings.ToLower(strings.TrimSpace(location))),
	}

	if n, err := strconv.Atoi(strings.TrimSpace(limit)); err == nil && n > 0 {
		req.Limit = n
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	if !s.locations.Known(req.Location) {
		return LeaderboardRequest{}, apperrors.NewInvalidParameterError("location",
			fmt.Sprintf("must be one of %s", s.locationNames()))
	}
	return req, nil
}

func (s *LeaderboardService) locationNames() string {
	names := make([]string, 0, len(s.locations))
	for _, loc := range s.locations.Named() {
		names = append(names, string(loc))
	}
	return strings.Join(names, ", ")
}

// GetLeaderboard returns the top customers of the requested ranking. A
// stale leaderboard is synced first; if that sync fails the failure is
// logged and the current data is served.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, req LeaderboardRequest) (*LeaderboardResult, error) {
	if !s.locations.Known(req.Location) {
		return nil, apperrors.NewInvalidParameterError("location", fmt.Sprintf("unknown location %q", req.Location))
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	s.refreshIfStale(ctx)

	customers, err := s.store.GetTopN(ctx, req.Metric, req.Location, req.Limit)
	if err != nil {
		return nil, err
	}
	lastSync, err := s.store.GetLastSync(ctx)
	if err != nil {
		return nil, err
	}

	return &LeaderboardResult{
		Customers: customers,
		LastSync:  lastSync,
		Metric:    req.Metric,
		Location:  req.Location,
	}, nil
}

func (s *LeaderboardService) refreshIfStale(ctx context.Context) {
	log := logging.FromContext(ctx)

	stale, err := s.syncer.ShouldAutoSync(ctx, s.staleMinutes)
	if err != nil {
		log.WithError(err).Warn("Auto-sync check failed, serving current data")
		return
	}
	if !stale {
		return
	}

	log.WithField("stale_minutes", s.staleMinutes).Info("Leaderboard is stale, syncing before read")
	if _, err := s.syncer.Sync(ctx); err != nil {
		log.WithError(err).Warn("Auto-sync failed, serving current data")
	}
}

// Status returns the customer count and last sync time
func (s *LeaderboardService) Status(ctx context.Context) (*StatusResult, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	lastSync, err := s.store.GetLastSync(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusResult{CustomerCount: stats.CustomerCount, LastSync: lastSync}, nil
}

// Debug returns every ranking's size and top entries
func (s *LeaderboardService) Debug(ctx context.Context) (*DebugResult, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	lastSync, err := s.store.GetLastSync(ctx)
	if err != nil {
		return nil, err
	}
	return &DebugResult{Rankings: stats.Rankings, LastSync: lastSync}, nil
}
