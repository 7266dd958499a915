package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/docsql/docsql/internal/engine"
)

// ScriptExecutor runs a script within a session.
type ScriptExecutor interface {
	ExecuteScript(ctx context.Context, sess *engine.Session, script string) []engine.Result
}

// QueryRequest represents a query request. Database is the database the
// session starts in.
type QueryRequest struct {
	SQL      string `json:"sql"`
	Database string `json:"database,omitempty"`
}

// QueryResponse holds one result per statement and the database the
// session ended in.
type QueryResponse struct {
	Results   []engine.Result `json:"results"`
	Database  string          `json:"database"`
	RequestID string          `json:"request_id"`
}

// QueryHandler handles POST /v1/query requests. Every request runs in a
// session of its own.
type QueryHandler struct {
	executor ScriptExecutor
	logger   *zap.SugaredLogger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(exec ScriptExecutor, logger *zap.SugaredLogger) *QueryHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &QueryHandler{executor: exec, logger: logger}
}

// ServeHTTP handles the query HTTP request.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", requestID)
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if req.SQL == "" {
		writeError(w, http.StatusBadRequest, "sql is required", requestID)
		return
	}

	sess := engine.NewSession(req.Database)
	results := h.executor.ExecuteScript(r.Context(), sess, req.SQL)

	failed := 0
	for _, res := range results {
		if res.Failed() {
			failed++
		}
	}
	h.logger.Debugw("script executed",
		"request_id", requestID,
		"session", sess.ID.String(),
		"statements", len(results),
		"failed", failed)

	if results == nil {
		results = []engine.Result{}
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		Results:   results,
		Database:  sess.Database,
		RequestID: requestID,
	})
}
