package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/loyalty-leaderboard/internal/errors"
	"github.com/loyalty-leaderboard/internal/logging"
)

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// respondError maps err to its category's status and writes the failure
// envelope. Internal errors are logged and their detail withheld.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	message := catErr.Error()

	log := logging.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"code":   catErr.Code,
		"status": catErr.StatusCode,
	})
	switch {
	case catErr.StatusCode >= http.StatusInternalServerError:
		log.Error("Request failed")
		if catErr.Category == apperrors.CategorySystem {
			message = "An internal error occurred"
		}
	default:
		log.Warn("Request rejected")
	}

	respondFailure(w, catErr.StatusCode, message)
}

// respondFailure writes {success:false, error:message}
func respondFailure(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}
