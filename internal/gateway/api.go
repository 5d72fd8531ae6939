// ABOUTME: HTTP API handlers for the call ledger
// ABOUTME: GET /api/calls lists recent calls newest first as JSON

package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const (
	defaultCallsLimit = 50
	maxCallsLimit     = 500
)

// handleListCalls returns the most recent call ledger entries.
func (g *Gateway) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := defaultCallsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		limit = min(n, maxCallsLimit)
	}

	records, err := g.store.ListCalls(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list calls", "error", err)
		http.Error(w, `{"error":"failed to list calls"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		g.logger.Debug("failed to write calls response", "error", err)
	}
}
