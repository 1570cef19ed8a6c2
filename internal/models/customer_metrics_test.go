package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomerMetrics_MarshalJSON(t *testing.T) {
	managerID := int64(1547855)
	m := CustomerMetrics{
		CustomerID:  "cust-1",
		FirstName:   "Amal",
		Surname:     "Haddad",
		VisitCount:  3,
		TotalSpend:  decimal.RequireFromString("125.50"),
		ManagerID:   &managerID,
		LastUpdated: time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC),
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, "cust-1", got["customerId"])
	assert.Equal(t, float64(3), got["visitCount"])
	assert.Equal(t, 125.5, got["totalSpend"])
	assert.Equal(t, float64(1547855), got["managerId"])
	assert.Equal(t, "2025-06-01T10:30:00.000Z", got["lastUpdated"])
}

func TestCustomerMetrics_MarshalJSON_OmitsNullManager(t *testing.T) {
	data, err := json.Marshal(CustomerMetrics{CustomerID: "cust-2"})
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))

	_, ok := got["managerId"]
	assert.False(t, ok)
	assert.Equal(t, float64(0), got["totalSpend"])
}

func TestFeedMeta_TotalPages(t *testing.T) {
	tests := []struct {
		name string
		meta FeedMeta
		want int
	}{
		{"exact multiple", FeedMeta{TotalItems: 2000, ItemsPerPage: 1000}, 2},
		{"partial last page", FeedMeta{TotalItems: 2001, ItemsPerPage: 1000}, 3},
		{"empty feed", FeedMeta{TotalItems: 0, ItemsPerPage: 1000}, 0},
		{"unpaginated", FeedMeta{TotalItems: 15, ItemsPerPage: 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.meta.TotalPages())
		})
	}
}

func TestOperation_UnmarshalNullManager(t *testing.T) {
	raw := `{"id":7,"customerId":"c","customer":{"firstName":"A","surname":"B"},"eventId":9,"managerId":null,"purchaseSum":49.99}`

	var op Operation
	require.NoError(t, json.Unmarshal([]byte(raw), &op))

	assert.Nil(t, op.ManagerID)
	assert.True(t, op.PurchaseSum.Equal(decimal.RequireFromString("49.99")))
	assert.Equal(t, "A", op.Customer.FirstName)
}
