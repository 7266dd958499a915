package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/docsql/docsql/internal/observability"
)

const defaultStatsLimit = 10

// StatsResponse lists the most filtered columns and the unindexed ones
// worth an index. Columns are named database.table.column.
type StatsResponse struct {
	TopPredicates   []observability.ColumnStats `json:"top_predicates"`
	IndexCandidates []observability.ColumnStats `json:"index_candidates"`
	Databases       []string                    `json:"databases"`
	RequestID       string                      `json:"request_id"`
}

// StatsHandler handles GET /v1/stats.
type StatsHandler struct {
	stats     *observability.QueryStats
	databases func(ctx context.Context) ([]string, error)
}

// NewStatsHandler creates a stats handler. databases lists the catalog.
func NewStatsHandler(stats *observability.QueryStats, databases func(ctx context.Context) ([]string, error)) *StatsHandler {
	return &StatsHandler{stats: stats, databases: databases}
}

// ServeHTTP handles the stats request. The limit query parameter bounds
// both lists.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	limit := defaultStatsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", requestID)
			return
		}
		limit = n
	}

	h.stats.Prune()
	resp := StatsResponse{
		TopPredicates:   h.stats.GetTopPredicates(limit),
		IndexCandidates: h.stats.IndexCandidates(limit),
		Databases:       []string{},
		RequestID:       requestID,
	}
	if h.databases != nil {
		names, err := h.databases(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error(), requestID)
			return
		}
		if names != nil {
			resp.Databases = names
		}
	}
	if resp.TopPredicates == nil {
		resp.TopPredicates = []observability.ColumnStats{}
	}
	if resp.IndexCandidates == nil {
		resp.IndexCandidates = []observability.ColumnStats{}
	}
	writeJSON(w, http.StatusOK, resp)
}
