package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	apperrors "github.com/loyalty-leaderboard/internal/errors"
	"github.com/loyalty-leaderboard/internal/models"
	"github.com/loyalty-leaderboard/internal/types"
	"github.com/shopspring/decimal"
)

// customerColumns is the column order used by CopyFrom and every select
var customerColumns = []string{
	"customer_id",
	"first_name",
	"surname",
	"visit_count",
	"total_spend",
	"manager_id",
	"last_updated",
}

const selectCustomers = `
	SELECT customer_id, first_name, surname, visit_count, total_spend, manager_id, last_updated
	FROM customers
`

const upsertSyncMetadata = `
	INSERT INTO sync_metadata (key, value, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
`

// PostgresLeaderboardStore keeps the leaderboard in the customers table.
// Rankings are ordered queries over it.
type PostgresLeaderboardStore struct {
	db        *PostgresDB
	locations types.Locations
}

// NewPostgresLeaderboardStore creates a new Postgres backed store
func NewPostgresLeaderboardStore(db *PostgresDB, locations types.Locations) *PostgresLeaderboardStore {
	return &PostgresLeaderboardStore{db: db, locations: locations}
}

// ReplaceLeaderboard swaps the whole customers table and the last sync
// timestamp in one transaction
func (s *PostgresLeaderboardStore) ReplaceLeaderboard(ctx context.Context, metrics []*models.CustomerMetrics, syncedAt time.Time) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return apperrors.NewPersistenceError("replace leaderboard", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM customers`); err != nil {
		return apperrors.NewPersistenceError("replace leaderboard", fmt.Errorf("failed to clear customers: %w", err))
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"customers"},
		customerColumns,
		pgx.CopyFromSlice(len(metrics), func(i int) ([]any, error) {
			m := metrics[i]
			return []any{
				m.CustomerID,
				m.FirstName,
				m.Surname,
				m.VisitCount,
				toNumeric(m.TotalSpend),
				m.ManagerID,
				m.LastUpdated.UTC(),
			}, nil
		}),
	)
	if err != nil {
		return apperrors.NewPersistenceError("replace leaderboard", fmt.Errorf("failed to copy customers: %w", err))
	}
	if copied != int64(len(metrics)) {
		return apperrors.NewPersistenceError("replace leaderboard", fmt.Errorf("copied %d of %d customers", copied, len(metrics)))
	}

	if _, err := tx.Exec(ctx, upsertSyncMetadata, lastSyncKey, formatSyncTimestamp(syncedAt)); err != nil {
		return apperrors.NewPersistenceError("replace leaderboard", fmt.Errorf("failed to record last sync: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewPersistenceError("replace leaderboard", fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// GetTopN returns the leaders of one ranking
func (s *PostgresLeaderboardStore) GetTopN(ctx context.Context, metric types.Metric, location types.Location, limit int) ([]*models.CustomerMetrics, error) {
	query, args, err := s.topNQuery(metric, location, limit)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewPersistenceError("read leaderboard", fmt.Errorf("failed to query customers: %w", err))
	}
	defer rows.Close()

	customers := make([]*models.CustomerMetrics, 0, limit)
	for rows.Next() {
		m, err := scanCustomer(rows)
		if err != nil {
			return nil, apperrors.NewPersistenceError("read leaderboard", err)
		}
		customers = append(customers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("read leaderboard", fmt.Errorf("error iterating customers: %w", err))
	}

	return customers, nil
}

// rankingFilter returns the metric column and WHERE clause of a ranking.
// The column is chosen from a closed set, never from input.
func (s *PostgresLeaderboardStore) rankingFilter(metric types.Metric, location types.Location) (column, where string, args []any, err error) {
	column = "visit_count"
	if metric == types.MetricSpend {
		column = "total_spend"
	}

	where = fmt.Sprintf("WHERE %s > 0", column)
	if location != types.LocationAll {
		managerID, ok := s.locations.ManagerID(location)
		if !ok {
			return "", "", nil, apperrors.NewInvalidParameterError("location", fmt.Sprintf("unknown location %q", location))
		}
		args = append(args, managerID)
		where += " AND manager_id = $1"
	}
	return column, where, args, nil
}

func (s *PostgresLeaderboardStore) topNQuery(metric types.Metric, location types.Location, limit int) (string, []any, error) {
	column, where, args, err := s.rankingFilter(metric, location)
	if err != nil {
		return "", nil, err
	}
	args = append(args, limit)
	query := fmt.Sprintf("%s %s ORDER BY %s DESC, customer_id ASC LIMIT $%d", selectCustomers, where, column, len(args))
	return query, args, nil
}

func scanCustomer(row pgx.Row) (*models.CustomerMetrics, error) {
	var (
		m     models.CustomerMetrics
		spend pgtype.Numeric
	)
	if err := row.Scan(
		&m.CustomerID,
		&m.FirstName,
		&m.Surname,
		&m.VisitCount,
		&spend,
		&m.ManagerID,
		&m.LastUpdated,
	); err != nil {
		return nil, fmt.Errorf("failed to scan customer: %w", err)
	}
	total, err := fromNumeric(spend)
	if err != nil {
		return nil, fmt.Errorf("customer %s: %w", m.CustomerID, err)
	}
	m.TotalSpend = total
	m.LastUpdated = m.LastUpdated.UTC()
	return &m, nil
}

// GetLastSync reads the last sync timestamp
func (s *PostgresLeaderboardStore) GetLastSync(ctx context.Context) (*time.Time, error) {
	var value string
	err := s.db.Pool().QueryRow(ctx,
		`SELECT value FROM sync_metadata WHERE key = $1`, lastSyncKey,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("read last sync", err)
	}
	return parseSyncTimestamp(value), nil
}

// SetLastSync overwrites the last sync timestamp
func (s *PostgresLeaderboardStore) SetLastSync(ctx context.Context, ts time.Time) error {
	if _, err := s.db.Pool().Exec(ctx, upsertSyncMetadata, lastSyncKey, formatSyncTimestamp(ts)); err != nil {
		return apperrors.NewPersistenceError("write last sync", err)
	}
	return nil
}

// Stats reports the customer count and each ranking's size and leaders
func (s *PostgresLeaderboardStore) Stats(ctx context.Context) (*models.LeaderboardStats, error) {
	stats := &models.LeaderboardStats{Rankings: make(map[string]models.RankingStats)}

	if err := s.db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM customers`).Scan(&stats.CustomerCount); err != nil {
		return nil, apperrors.NewPersistenceError("read stats", err)
	}

	for _, r := range allRankings(s.locations) {
		_, where, args, err := s.rankingFilter(r.metric, r.location)
		if err != nil {
			return nil, err
		}

		var size int64
		if err := s.db.Pool().QueryRow(ctx, "SELECT COUNT(*) FROM customers "+where, args...).Scan(&size); err != nil {
			return nil, apperrors.NewPersistenceError("read stats", fmt.Errorf("%s: %w", r.name(), err))
		}

		top, err := s.GetTopN(ctx, r.metric, r.location, statsTopSize)
		if err != nil {
			return nil, err
		}
		entries := make([]models.RankingEntry, 0, len(top))
		for _, m := range top {
			entries = append(entries, models.RankingEntry{CustomerID: m.CustomerID, Score: score(m, r.metric)})
		}
		stats.Rankings[r.name()] = models.RankingStats{Size: size, Top5: entries}
	}

	return stats, nil
}

// Ping checks the database connection
func (s *PostgresLeaderboardStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid {
		return decimal.Zero, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Zero, fmt.Errorf("non-finite numeric value")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}
