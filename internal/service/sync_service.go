// Package service implements the leaderboard sync engine and read path.
package service

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/loyalty-leaderboard/internal/errors"
	"github.com/loyalty-leaderboard/internal/logging"
	"github.com/loyalty-leaderboard/internal/models"
	"github.com/loyalty-leaderboard/internal/storage"
	"golang.org/x/sync/singleflight"
)

// DefaultStaleMinutes is the auto-sync threshold when none is configured
const DefaultStaleMinutes = 60

// lockReleaseTimeout bounds the unlock after a run, which may have
// exhausted its own deadline
const lockReleaseTimeout = 5 * time.Second

// OperationsFetcher returns every operation of the upstream feed
type OperationsFetcher interface {
	FetchAllOperations(ctx context.Context) ([]models.Operation, error)
}

// SyncService rebuilds the leaderboard from the upstream feed. Concurrent
// Sync calls in one process share a single run; the SyncLocker keeps runs
// in other processes out.
type SyncService struct {
	fetcher OperationsFetcher
	store   storage.LeaderboardStore
	lock    storage.SyncLocker
	timeout time.Duration
	group   singleflight.Group
	now     func() time.Time
}

// NewSyncService creates a new sync service. A non-positive timeout
// leaves runs bounded only by the caller.
func NewSyncService(fetcher OperationsFetcher, store storage.LeaderboardStore, lock storage.SyncLocker, timeout time.Duration) *SyncService {
	if lock == nil {
		lock = storage.NoopSyncLock{}
	}
	return &SyncService{
		fetcher: fetcher,
		store:   store,
		lock:    lock,
		timeout: timeout,
		now:     time.Now,
	}
}

// Sync fetches the feed, aggregates it and replaces the stored leaderboard.
// Fetch and persistence failures are returned as is and nothing is retried
// at this level. Callers that join an in-flight run receive its result.
func (s *SyncService) Sync(ctx context.Context) (*models.SyncSummary, error) {
	ch := s.group.DoChan("sync", func() (interface{}, error) {
		// The run is shared, so one caller going away must not cancel it
		runCtx := context.WithoutCancel(ctx)
		if s.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, s.timeout)
			defer cancel()
		}
		return s.run(runCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		summary := *res.Val.(*models.SyncSummary)
		return &summary, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *SyncService) run(ctx context.Context) (*models.SyncSummary, error) {
	log := logging.FromContext(ctx)

	unlock, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		if err := unlock(releaseCtx); err != nil {
			log.WithError(err).Warn("Failed to release sync lock")
		}
	}()

	start := s.now()
	log.Info("Starting loyalty data sync")

	operations, err := s.fetcher.FetchAllOperations(ctx)
	if err != nil {
		log.WithError(err).Error("Sync aborted: fetch failed")
		return nil, ensureCategory(err, func(err error) error {
			return apperrors.NewUpstreamFetchError("fetch operations", err)
		})
	}

	agg := Aggregate(operations, start)

	syncedAt := s.now().UTC()
	if err := s.store.ReplaceLeaderboard(ctx, agg.Metrics(), syncedAt); err != nil {
		log.WithError(err).Error("Sync aborted: persistence failed")
		return nil, ensureCategory(err, func(err error) error {
			return apperrors.NewPersistenceError("replace leaderboard", err)
		})
	}

	summary := &models.SyncSummary{
		CustomersProcessed:  agg.CustomersProcessed,
		OperationsProcessed: agg.OperationsProcessed,
		VisitorsCount:       agg.VisitorsCount,
		SpendersCount:       agg.SpendersCount,
		SyncedAt:            syncedAt,
	}

	log.WithFields(map[string]interface{}{
		"customers":  summary.CustomersProcessed,
		"operations": summary.OperationsProcessed,
		"visitors":   summary.VisitorsCount,
		"spenders":   summary.SpendersCount,
		"duration":   s.now().Sub(start).String(),
	}).Info("Loyalty data sync completed")

	return summary, nil
}

// ShouldAutoSync reports whether the stored leaderboard is older than
// staleMinutes. A missing or unreadable timestamp counts as stale; an
// age exactly equal to the threshold does not.
func (s *SyncService) ShouldAutoSync(ctx context.Context, staleMinutes int) (bool, error) {
	last, err := s.store.GetLastSync(ctx)
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, nil
	}
	elapsed := s.now().Sub(*last)
	return elapsed > time.Duration(staleMinutes)*time.Minute, nil
}

// ensureCategory wraps err with wrap unless it already carries a category
func ensureCategory(err error, wrap func(error) error) error {
	var catErr *apperrors.CategorizedError
	if errors.As(err, &catErr) {
		return err
	}
	return wrap(err)
}
