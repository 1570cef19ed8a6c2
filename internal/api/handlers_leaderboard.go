package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/loyalty-leaderboard/internal/models"
	"github.com/loyalty-leaderboard/internal/types"
)

// CustomersResponse is the body of GET /api/customers
type CustomersResponse struct {
	Success   bool                      `json:"success"`
	Customers []*models.CustomerMetrics `json:"customers"`
	LastSync  *string                   `json:"lastSync"`
	SortBy    types.Metric              `json:"sortBy"`
	Location  *string                   `json:"location"`
}

// SyncResponse is the body of POST /api/sync
type SyncResponse struct {
	Success             bool   `json:"success"`
	Message             string `json:"message"`
	CustomersProcessed  int    `json:"customersProcessed"`
	OperationsProcessed int    `json:"operationsProcessed"`
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	Success       bool    `json:"success"`
	CustomerCount int64   `json:"customerCount"`
	LastSync      *string `json:"lastSync"`
	Message       string  `json:"message"`
}

// DebugResponse is the body of GET /api/debug
type DebugResponse struct {
	Success bool      `json:"success"`
	Debug   DebugInfo `json:"debug"`
}

// DebugInfo lists every ranking with its size and leaders
type DebugInfo struct {
	Rankings map[string]models.RankingStats `json:"rankings"`
	LastSync *string                        `json:"lastSync"`
}

func formatLastSync(ts *time.Time) *string {
	if ts == nil {
		return nil
	}
	s := ts.UTC().Format(models.TimestampLayout)
	return &s
}

// handleGetCustomers serves one page of a ranking
func (s *Server) handleGetCustomers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := s.leaderboardService.ParseLeaderboardRequest(q.Get("sortBy"), q.Get("limit"), q.Get("location"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.leaderboardService.GetLeaderboard(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var location *string
	if result.Location != types.LocationAll {
		loc := string(result.Location)
		location = &loc
	}
	customers := result.Customers
	if customers == nil {
		customers = []*models.CustomerMetrics{}
	}

	respondJSON(w, http.StatusOK, CustomersResponse{
		Success:   true,
		Customers: customers,
		LastSync:  formatLastSync(result.LastSync),
		SortBy:    result.Metric,
		Location:  location,
	})
}

// handleSync runs a sync and reports its counters
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	summary, err := s.syncService.Sync(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, SyncResponse{
		Success:             true,
		Message:             "Sync completed successfully",
		CustomersProcessed:  summary.CustomersProcessed,
		OperationsProcessed: summary.OperationsProcessed,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.leaderboardService.Status(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	message := fmt.Sprintf("Found %d customers", status.CustomerCount)
	if status.CustomerCount == 0 {
		message = "No data in database. Run sync first!"
	}

	respondJSON(w, http.StatusOK, StatusResponse{
		Success:       true,
		CustomerCount: status.CustomerCount,
		LastSync:      formatLastSync(status.LastSync),
		Message:       message,
	})
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	debug, err := s.leaderboardService.Debug(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, DebugResponse{
		Success: true,
		Debug: DebugInfo{
			Rankings: debug.Rankings,
			LastSync: formatLastSync(debug.LastSync),
		},
	})
}
