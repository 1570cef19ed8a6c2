package service

import (
	"sort"
	"time"

	"github.com/loyalty-leaderboard/internal/models"
	"github.com/loyalty-leaderboard/internal/types"
)

// Aggregation is the per-customer fold of one feed snapshot
type Aggregation struct {
	Customers           map[string]*models.CustomerMetrics
	CustomersProcessed  int
	OperationsProcessed int
	VisitorsCount       int
	SpendersCount       int
}

// Aggregate folds operations into per-customer metrics. The first
// occurrence of an operation id wins and later duplicates are dropped.
// A customer's manager id is the last non-null one seen; names come from
// the first operation seen for the customer. Events other than visits and
// spends count as processed but do not change any metric.
func Aggregate(operations []models.Operation, now time.Time) *Aggregation {
	seen := make(map[int64]struct{}, len(operations))
	customers := make(map[string]*models.CustomerMetrics)
	now = now.UTC()

	for i := range operations {
		op := &operations[i]
		if _, dup := seen[op.ID]; dup {
			continue
		}
		seen[op.ID] = struct{}{}

		m, ok := customers[op.CustomerID]
		if !ok {
			m = &models.CustomerMetrics{
				CustomerID:  op.CustomerID,
				FirstName:   op.Customer.FirstName,
				Surname:     op.Customer.Surname,
				LastUpdated: now,
			}
			customers[op.CustomerID] = m
		}

		if op.ManagerID != nil {
			id := *op.ManagerID
			m.ManagerID = &id
		}

		switch op.EventID {
		case types.EventVisit:
			m.VisitCount++
		case types.EventSpend:
			m.TotalSpend = m.TotalSpend.Add(op.PurchaseSum)
		}
	}

	agg := &Aggregation{
		Customers:           customers,
		CustomersProcessed:  len(customers),
		OperationsProcessed: len(seen),
	}
	for _, m := range customers {
		if m.VisitCount > 0 {
			agg.VisitorsCount++
		}
		if m.TotalSpend.IsPositive() {
			agg.SpendersCount++
		}
	}
	return agg
}

// Metrics returns the customers ordered by id
func (a *Aggregation) Metrics() []*models.CustomerMetrics {
	out := make([]*models.CustomerMetrics, 0, len(a.Customers))
	for _, m := range a.Customers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out
}
