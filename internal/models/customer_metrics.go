package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// CustomerMetrics is the aggregated leaderboard row for one customer
type CustomerMetrics struct {
	CustomerID  string          `json:"customerId" db:"customer_id"`
	FirstName   string          `json:"firstName" db:"first_name"`
	Surname     string          `json:"surname" db:"surname"`
	VisitCount  int64           `json:"visitCount" db:"visit_count"`
	TotalSpend  decimal.Decimal `json:"totalSpend" db:"total_spend"`
	ManagerID   *int64          `json:"managerId,omitempty" db:"manager_id"`
	LastUpdated time.Time       `json:"lastUpdated" db:"last_updated"`
}

// MarshalJSON renders totalSpend as a JSON number
func (m CustomerMetrics) MarshalJSON() ([]byte, error) {
	type alias CustomerMetrics
	return json.Marshal(struct {
		alias
		TotalSpend  json.Number `json:"totalSpend"`
		LastUpdated string      `json:"lastUpdated"`
	}{
		alias:       alias(m),
		TotalSpend:  json.Number(m.TotalSpend.String()),
		LastUpdated: m.LastUpdated.UTC().Format(TimestampLayout),
	})
}

// TimestampLayout is the ISO-8601 layout used for every persisted and
// rendered timestamp
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// SyncSummary reports the outcome of one sync pass
type SyncSummary struct {
	CustomersProcessed  int       `json:"customersProcessed"`
	OperationsProcessed int       `json:"operationsProcessed"`
	VisitorsCount       int       `json:"visitorsCount"`
	SpendersCount       int       `json:"spendersCount"`
	SyncedAt            time.Time `json:"syncedAt"`
}

// RankingEntry is a member of a ranking with its score
type RankingEntry struct {
	CustomerID string  `json:"customerId"`
	Score      float64 `json:"score"`
}

// RankingStats describes one persisted ranking
type RankingStats struct {
	Size int64          `json:"size"`
	Top5 []RankingEntry `json:"top5"`
}

// LeaderboardStats summarizes the persisted leaderboard for diagnostics
type LeaderboardStats struct {
	CustomerCount int64                   `json:"customerCount"`
	Rankings      map[string]RankingStats `json:"rankings"`
}
