package http

import (
	"context"
	"net/http"

	"github.com/docsql/docsql/internal/catalog"
	dserrors "github.com/docsql/docsql/internal/errors"
)

// CatalogReader reads catalog metadata.
type CatalogReader interface {
	Databases(ctx context.Context) ([]string, error)
	Tables(ctx context.Context, database string) ([]*catalog.Table, error)
}

// DatabasesResponse lists the databases of the catalog.
type DatabasesResponse struct {
	Databases []string `json:"databases"`
	RequestID string   `json:"request_id"`
}

// TableInfo is the catalog definition of one table.
type TableInfo struct {
	Name        string              `json:"name"`
	Columns     []catalog.Column    `json:"columns"`
	Constraints catalog.Constraints `json:"constraints"`
	Indexes     []catalog.Index     `json:"indexes"`
}

// TablesResponse lists the tables of one database.
type TablesResponse struct {
	Database  string      `json:"database"`
	Tables    []TableInfo `json:"tables"`
	RequestID string      `json:"request_id"`
}

// DatabasesHandler handles GET /v1/databases.
type DatabasesHandler struct {
	reader CatalogReader
}

// NewDatabasesHandler creates a database listing handler.
func NewDatabasesHandler(reader CatalogReader) *DatabasesHandler {
	return &DatabasesHandler{reader: reader}
}

func (h *DatabasesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	names, err := h.reader.Databases(r.Context())
	if err != nil {
		writeCatalogError(w, err, requestID)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, DatabasesResponse{Databases: names, RequestID: requestID})
}

// TablesHandler handles GET /v1/databases/{db}/tables.
type TablesHandler struct {
	reader CatalogReader
}

// NewTablesHandler creates a table listing handler. The database name is
// taken from the {db} path wildcard.
func NewTablesHandler(reader CatalogReader) *TablesHandler {
	return &TablesHandler{reader: reader}
}

func (h *TablesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	database := r.PathValue("db")
	if database == "" {
		writeError(w, http.StatusBadRequest, "database name is required", requestID)
		return
	}

	tables, err := h.reader.Tables(r.Context(), database)
	if err != nil {
		writeCatalogError(w, err, requestID)
		return
	}

	resp := TablesResponse{Database: database, Tables: make([]TableInfo, 0, len(tables)), RequestID: requestID}
	for _, t := range tables {
		info := TableInfo{
			Name:        t.Name,
			Columns:     t.Columns,
			Constraints: t.Constraints,
			Indexes:     t.Indexes,
		}
		if info.Indexes == nil {
			info.Indexes = []catalog.Index{}
		}
		resp.Tables = append(resp.Tables, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeCatalogError(w http.ResponseWriter, err error, requestID string) {
	status := http.StatusInternalServerError
	if dserrors.GetCategory(err) == dserrors.ErrCategoryNotFound {
		status = http.StatusNotFound
	}
	writeError(w, status, err.Error(), requestID)
}
