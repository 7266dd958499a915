package http

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse reports liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Backend string `json:"backend"`
	Error   string `json:"error,omitempty"`
}

// HealthHandler handles GET /health. When check is set it must succeed
// within timeout for the service to report healthy.
type HealthHandler struct {
	backend string
	check   func(ctx context.Context) error
	timeout time.Duration
}

// NewHealthHandler creates a health handler for the named storage backend.
func NewHealthHandler(backend string, check func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{backend: backend, check: check, timeout: 2 * time.Second}
}

// ServeHTTP handles the health request.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Service: "docsql", Backend: h.backend}
	if h.check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		if err := h.check(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
