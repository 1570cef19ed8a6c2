package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/loyalty-leaderboard/internal/errors"
	"github.com/loyalty-leaderboard/internal/logging"
	"github.com/loyalty-leaderboard/internal/models"
	"github.com/loyalty-leaderboard/internal/types"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	// currentGenerationKey points at the live generation of leaderboard keys
	currentGenerationKey = "lb:current"
	// redisLastSyncKey holds the last sync timestamp
	redisLastSyncKey = "sync:last"
	// writeBatchSize bounds the number of customers per pipeline round trip
	writeBatchSize = 500
	// retiredGenerationTTL keeps a replaced generation readable for readers
	// that resolved lb:current before the swap
	retiredGenerationTTL = time.Minute
	// readAttempts bounds how often GetTopN re-resolves lb:current when the
	// generation it read has already expired
	readAttempts = 3
)

// errGenerationGone reports that a generation's keys vanished mid-read
var errGenerationGone = errors.New("leaderboard generation expired during read")

// Customer hash fields
const (
	fieldFirstName   = "firstName"
	fieldSurname     = "surname"
	fieldVisitCount  = "visitCount"
	fieldTotalSpend  = "totalSpend"
	fieldManagerID   = "managerId"
	fieldLastUpdated = "lastUpdated"
)

// RedisLeaderboardStore keeps the leaderboard as customer hashes plus one
// sorted set per ranking. Every ReplaceLeaderboard writes a new generation
// of keys and flips lb:current together with sync:last in one MULTI/EXEC,
// so readers see either the old or the new leaderboard.
type RedisLeaderboardStore struct {
	client    redis.UniversalClient
	locations types.Locations

	// beforeSwap runs after staging and before the pointer flip
	beforeSwap func()
	// beforeLoad runs between reading a ranking and loading its customers
	beforeLoad func()
}

// NewRedisLeaderboardStore creates a new Redis backed store
func NewRedisLeaderboardStore(client redis.UniversalClient, locations types.Locations) *RedisLeaderboardStore {
	return &RedisLeaderboardStore{client: client, locations: locations}
}

func generationPrefix(gen string) string {
	return "lb:" + gen + ":"
}

func customerKey(gen, customerID string) string {
	return generationPrefix(gen) + "customer:" + customerID
}

func membersKey(gen string) string {
	return generationPrefix(gen) + "customers"
}

func rankingKey(gen string, r ranking) string {
	return generationPrefix(gen) + r.name()
}

// ReplaceLeaderboard stages a new generation and makes it live atomically
func (s *RedisLeaderboardStore) ReplaceLeaderboard(ctx context.Context, metrics []*models.CustomerMetrics, syncedAt time.Time) error {
	gen := uuid.NewString()
	log := logging.WithField("generation", gen)

	if err := s.stage(ctx, gen, metrics); err != nil {
		s.dropGeneration(ctx, gen, log)
		return apperrors.NewPersistenceError("replace leaderboard", err)
	}

	previous, err := s.client.Get(ctx, currentGenerationKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.dropGeneration(ctx, gen, log)
		return apperrors.NewPersistenceError("replace leaderboard", fmt.Errorf("failed to read current generation: %w", err))
	}

	if s.beforeSwap != nil {
		s.beforeSwap()
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, currentGenerationKey, gen, 0)
		pipe.Set(ctx, redisLastSyncKey, formatSyncTimestamp(syncedAt), 0)
		return nil
	})
	if err != nil {
		s.dropGeneration(ctx, gen, log)
		return apperrors.NewPersistenceError("replace leaderboard", fmt.Errorf("failed to publish generation: %w", err))
	}

	if previous != "" && previous != gen {
		s.retireGeneration(ctx, previous, log.WithField("previous", previous))
	}

	log.WithField("customers", len(metrics)).Debug("Published leaderboard generation")
	return nil
}

// stage writes every customer hash and ranking member under gen
func (s *RedisLeaderboardStore) stage(ctx context.Context, gen string, metrics []*models.CustomerMetrics) error {
	rankingsList := allRankings(s.locations)

	for start := 0; start < len(metrics); start += writeBatchSize {
		end := start + writeBatchSize
		if end > len(metrics) {
			end = len(metrics)
		}

		pipe := s.client.Pipeline()
		for _, m := range metrics[start:end] {
			pipe.HSet(ctx, customerKey(gen, m.CustomerID), customerFields(m))
			pipe.SAdd(ctx, membersKey(gen), m.CustomerID)

			bucket := s.locations.Bucket(m.ManagerID)
			for _, r := range rankingsList {
				if r.location != types.LocationAll && r.location != bucket {
					continue
				}
				if sc := score(m, r.metric); sc > 0 {
					pipe.ZAdd(ctx, rankingKey(gen, r), redis.Z{Score: sc, Member: m.CustomerID})
				}
			}
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to stage customers %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func customerFields(m *models.CustomerMetrics) map[string]interface{} {
	fields := map[string]interface{}{
		fieldFirstName:   m.FirstName,
		fieldSurname:     m.Surname,
		fieldVisitCount:  m.VisitCount,
		fieldTotalSpend:  m.TotalSpend.String(),
		fieldLastUpdated: formatSyncTimestamp(m.LastUpdated),
	}
	if m.ManagerID != nil {
		fields[fieldManagerID] = *m.ManagerID
	}
	return fields
}

// dropGeneration deletes every key of gen. Failures only leave unreachable
// keys behind, so they are logged rather than returned.
func (s *RedisLeaderboardStore) dropGeneration(ctx context.Context, gen string, log *logging.Logger) {
	err := s.scanGeneration(ctx, gen, func(keys []string) error {
		return s.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		log.WithError(err).Warn("Failed to delete leaderboard generation")
	}
}

// retireGeneration lets every key of gen expire after retiredGenerationTTL
// so in-flight reads of the old board can still finish
func (s *RedisLeaderboardStore) retireGeneration(ctx context.Context, gen string, log *logging.Logger) {
	err := s.scanGeneration(ctx, gen, func(keys []string) error {
		_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range keys {
				pipe.Expire(ctx, key, retiredGenerationTTL)
			}
			return nil
		})
		return err
	})
	if err != nil {
		log.WithError(err).Warn("Failed to expire leaderboard generation")
	}
}

// scanGeneration passes the keys of gen to fn in batches
func (s *RedisLeaderboardStore) scanGeneration(ctx context.Context, gen string, fn func(keys []string) error) error {
	keys := make([]string, 0, writeBatchSize)
	iter := s.client.Scan(ctx, 0, generationPrefix(gen)+"*", writeBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= writeBatchSize {
			if err := fn(keys); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan generation %s: %w", gen, err)
	}
	if len(keys) > 0 {
		return fn(keys)
	}
	return nil
}

// currentGeneration returns "" when nothing has been published
func (s *RedisLeaderboardStore) currentGeneration(ctx context.Context) (string, error) {
	gen, err := s.client.Get(ctx, currentGenerationKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return gen, err
}

// GetTopN returns the leaders of one ranking. A read that outlives the
// generation it resolved starts over on the current one.
func (s *RedisLeaderboardStore) GetTopN(ctx context.Context, metric types.Metric, location types.Location, limit int) ([]*models.CustomerMetrics, error) {
	if !s.locations.Known(location) {
		return nil, apperrors.NewInvalidParameterError("location", fmt.Sprintf("unknown location %q", location))
	}
	if limit <= 0 {
		return []*models.CustomerMetrics{}, nil
	}

	r := ranking{metric: metric, location: location}
	var err error
	for attempt := 0; attempt < readAttempts; attempt++ {
		var customers []*models.CustomerMetrics
		customers, err = s.readTopN(ctx, r, limit)
		if !errors.Is(err, errGenerationGone) {
			if err != nil {
				return nil, apperrors.NewPersistenceError("read leaderboard", err)
			}
			return customers, nil
		}
	}
	return nil, apperrors.NewPersistenceError("read leaderboard", err)
}

func (s *RedisLeaderboardStore) readTopN(ctx context.Context, r ranking, limit int) ([]*models.CustomerMetrics, error) {
	gen, err := s.currentGeneration(ctx)
	if err != nil {
		return nil, err
	}
	if gen == "" {
		return []*models.CustomerMetrics{}, nil
	}

	entries, err := s.topEntries(ctx, rankingKey(gen, r), limit)
	if err != nil {
		return nil, err
	}

	if s.beforeLoad != nil {
		s.beforeLoad()
	}
	return s.loadCustomers(ctx, gen, entries)
}

// topEntries reads the first limit members of a sorted set ordered by score
// desc and member asc. Redis orders equal scores by member desc in reverse
// ranges, so members tied at the cut-off score are fetched in full and
// re-ordered before truncation.
func (s *RedisLeaderboardStore) topEntries(ctx context.Context, key string, limit int) ([]models.RankingEntry, error) {
	zs, err := s.client.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   "(0",
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ranking %s: %w", key, err)
	}

	entries := make([]models.RankingEntry, 0, len(zs))
	if len(zs) < limit {
		for _, z := range zs {
			entries = append(entries, models.RankingEntry{CustomerID: memberString(z.Member), Score: z.Score})
		}
		sortEntries(entries)
		return entries, nil
	}

	cutoff := zs[len(zs)-1].Score
	for _, z := range zs {
		if z.Score > cutoff {
			entries = append(entries, models.RankingEntry{CustomerID: memberString(z.Member), Score: z.Score})
		}
	}
	bound := strconv.FormatFloat(cutoff, 'f', -1, 64)
	tied, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: bound, Max: bound}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ties in ranking %s: %w", key, err)
	}
	for _, member := range tied {
		entries = append(entries, models.RankingEntry{CustomerID: member, Score: cutoff})
	}

	sortEntries(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func memberString(member interface{}) string {
	if s, ok := member.(string); ok {
		return s
	}
	return fmt.Sprint(member)
}

// loadCustomers fetches the hashes for entries in one pipeline, keeping
// the entry order
func (s *RedisLeaderboardStore) loadCustomers(ctx context.Context, gen string, entries []models.RankingEntry) ([]*models.CustomerMetrics, error) {
	if len(entries) == 0 {
		return []*models.CustomerMetrics{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(entries))
	for i, e := range entries {
		cmds[i] = pipe.HGetAll(ctx, customerKey(gen, e.CustomerID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load customers: %w", err)
	}

	customers := make([]*models.CustomerMetrics, 0, len(entries))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			return nil, errGenerationGone
		}
		m, err := customerFromFields(entries[i].CustomerID, fields)
		if err != nil {
			return nil, err
		}
		customers = append(customers, m)
	}
	return customers, nil
}

func customerFromFields(id string, fields map[string]string) (*models.CustomerMetrics, error) {
	m := &models.CustomerMetrics{
		CustomerID: id,
		FirstName:  fields[fieldFirstName],
		Surname:    fields[fieldSurname],
	}

	visits, err := strconv.ParseInt(fields[fieldVisitCount], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("customer %s: invalid visit count: %w", id, err)
	}
	m.VisitCount = visits

	spend, err := decimal.NewFromString(fields[fieldTotalSpend])
	if err != nil {
		return nil, fmt.Errorf("customer %s: invalid total spend: %w", id, err)
	}
	m.TotalSpend = spend

	if raw, ok := fields[fieldManagerID]; ok {
		managerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("customer %s: invalid manager id: %w", id, err)
		}
		m.ManagerID = &managerID
	}

	if ts := parseSyncTimestamp(fields[fieldLastUpdated]); ts != nil {
		m.LastUpdated = *ts
	}
	return m, nil
}

// GetLastSync reads the last sync timestamp
func (s *RedisLeaderboardStore) GetLastSync(ctx context.Context) (*time.Time, error) {
	value, err := s.client.Get(ctx, redisLastSyncKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("read last sync", err)
	}
	return parseSyncTimestamp(value), nil
}

// SetLastSync overwrites the last sync timestamp
func (s *RedisLeaderboardStore) SetLastSync(ctx context.Context, ts time.Time) error {
	if err := s.client.Set(ctx, redisLastSyncKey, formatSyncTimestamp(ts), 0).Err(); err != nil {
		return apperrors.NewPersistenceError("write last sync", err)
	}
	return nil
}

// Stats reports the customer count and each ranking's size and leaders
func (s *RedisLeaderboardStore) Stats(ctx context.Context) (*models.LeaderboardStats, error) {
	stats := &models.LeaderboardStats{Rankings: make(map[string]models.RankingStats)}

	gen, err := s.currentGeneration(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError("read stats", err)
	}

	if gen != "" {
		if stats.CustomerCount, err = s.client.SCard(ctx, membersKey(gen)).Result(); err != nil {
			return nil, apperrors.NewPersistenceError("read stats", err)
		}
	}

	for _, r := range allRankings(s.locations) {
		rs := models.RankingStats{Top5: []models.RankingEntry{}}
		if gen != "" {
			key := rankingKey(gen, r)
			if rs.Size, err = s.client.ZCard(ctx, key).Result(); err != nil {
				return nil, apperrors.NewPersistenceError("read stats", err)
			}
			if rs.Top5, err = s.topEntries(ctx, key, statsTopSize); err != nil {
				return nil, apperrors.NewPersistenceError("read stats", err)
			}
		}
		stats.Rankings[r.name()] = rs
	}

	return stats, nil
}

// Ping checks the Redis connection
func (s *RedisLeaderboardStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
