// Package models provides data models for the loyalty leaderboard.
package models

import (
	"github.com/loyalty-leaderboard/internal/types"
	"github.com/shopspring/decimal"
)

// LoyaltyCustomer is the customer identity embedded in every operation
type LoyaltyCustomer struct {
	ID             string  `json:"id"`
	Phone          *string `json:"phone"`
	Email          *string `json:"email"`
	Gender         *string `json:"gender"`
	DateOfBirth    *string `json:"dateOfBirth"`
	FirstName      string  `json:"firstName"`
	Surname        string  `json:"surname"`
	ExternalUserID *string `json:"externalUserId"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

// Operation is a single loyalty event as delivered by the upstream feed
type Operation struct {
	ID          int64           `json:"id"`
	CompanyID   int64           `json:"companyId"`
	TemplateID  int64           `json:"templateId"`
	CustomerID  string          `json:"customerId"`
	Customer    LoyaltyCustomer `json:"customer"`
	CardID      string          `json:"cardId"`
	CardDevice  string          `json:"cardDevice"`
	EventID     types.EventID   `json:"eventId"`
	ManagerID   *int64          `json:"managerId"`
	LocationID  *int64          `json:"locationId"`
	Amount      decimal.Decimal `json:"amount"`
	PurchaseSum decimal.Decimal `json:"purchaseSum"`
	Balance     decimal.Decimal `json:"balance"`
	Source      string          `json:"source"`
	Comment     string          `json:"comment"`
	CreatedAt   string          `json:"createdAt"`
	UpdatedAt   string          `json:"updatedAt"`
}

// FeedMeta is the paging block of a feed response
type FeedMeta struct {
	TotalItems   int `json:"totalItems"`
	ItemsPerPage int `json:"itemsPerPage"`
	CurrentPage  int `json:"currentPage"`
}

// FeedResponse is one page of the loyalty operations feed
type FeedResponse struct {
	ResponseID string      `json:"responseId"`
	CreatedAt  string      `json:"createdAt"`
	Code       int         `json:"code"`
	Meta       FeedMeta    `json:"meta"`
	Data       []Operation `json:"data"`
}

// TotalPages returns how many pages the feed reports. A non-positive page
// size means the feed does not paginate.
func (m FeedMeta) TotalPages() int {
	if m.ItemsPerPage <= 0 {
		return 1
	}
	return (m.TotalItems + m.ItemsPerPage - 1) / m.ItemsPerPage
}
