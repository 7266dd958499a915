package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsql/docsql/internal/config"
	"github.com/docsql/docsql/internal/docstore"
	"github.com/docsql/docsql/internal/engine"
	"github.com/docsql/docsql/internal/logging"
)

type queryReply struct {
	Results []struct {
		Statement string   `json:"statement"`
		Message   string   `json:"message"`
		Columns   []string `json:"columns"`
		Rows      [][]any  `json:"rows"`
		Category  string   `json:"error_category"`
		Code      string   `json:"error_code"`
	} `json:"results"`
	Database  string `json:"database"`
	RequestID string `json:"request_id"`
}

func newTestServer(t *testing.T, maxBody int64) (*httptest.Server, *engine.Engine) {
	t.Helper()
	eng := engine.New(docstore.NewMemoryStore(), config.DefaultEngineConfig(), logging.Nop())
	mw := DefaultMiddleware(logging.Nop(), maxBody)

	mux := http.NewServeMux()
	mux.Handle("/v1/query", mw(NewQueryHandler(eng, logging.Nop())))
	mux.Handle("/v1/stats", mw(NewStatsHandler(eng.Stats(), eng.Databases)))
	mux.Handle("/v1/databases", mw(NewDatabasesHandler(eng)))
	mux.Handle("/v1/databases/{db}/tables", mw(NewTablesHandler(eng)))
	mux.Handle("/health", mw(NewHealthHandler("memory", nil)))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, eng
}

func postQuery(t *testing.T, srv *httptest.Server, req QueryRequest) (*http.Response, queryReply) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/v1/query", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var reply queryReply
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	}
	return resp, reply
}

func TestQueryRunsScriptInSession(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	resp, reply := postQuery(t, srv, QueryRequest{SQL: `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE t(id INT PRIMARY KEY, name TEXT);
		INSERT INTO t VALUES (1, 'a');
		INSERT INTO t VALUES (1, 'b');
		SELECT * FROM t`})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, reply.Results, 6)
	assert.Equal(t, "shop", reply.Database)
	assert.NotEmpty(t, reply.RequestID)
	assert.Equal(t, reply.RequestID, resp.Header.Get("X-Request-ID"))

	assert.Equal(t, "Row '1' inserted into 't'", reply.Results[3].Message)
	assert.Equal(t, "CONSTRAINT", reply.Results[4].Category)
	assert.Equal(t, "PRIMARY_KEY", reply.Results[4].Code)
	assert.Equal(t, []string{"id", "name"}, reply.Results[5].Columns)
	assert.Equal(t, [][]any{{"1", "a"}}, reply.Results[5].Rows)

	// A new request starts a new session.
	_, reply = postQuery(t, srv, QueryRequest{SQL: "SELECT * FROM t"})
	require.Len(t, reply.Results, 1)
	assert.Equal(t, "NO_DATABASE", reply.Results[0].Code)

	_, reply = postQuery(t, srv, QueryRequest{SQL: "SELECT name FROM t WHERE id = 1", Database: "shop"})
	require.Len(t, reply.Results, 1)
	assert.Equal(t, [][]any{{"a"}}, reply.Results[0].Rows)
}

func TestQueryRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, 64)

	resp, err := http.Get(srv.URL + "/v1/query")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/query", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	var e ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, e.Error, "invalid request body")
	assert.NotEmpty(t, e.RequestID)

	resp, _ = postQuery(t, srv, QueryRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postQuery(t, srv, QueryRequest{SQL: "SELECT * FROM t WHERE name = '" + strings.Repeat("x", 100) + "'"})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestRequestIDIsKept(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/query", strings.NewReader(`{"sql":"CREATE DATABASE a"}`))
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var reply queryReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, "req-42", reply.RequestID)
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	postQuery(t, srv, QueryRequest{SQL: `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE people(id INT PRIMARY KEY, city TEXT);
		SELECT * FROM people WHERE city = 'Oslo'`})

	resp, err := http.Get(srv.URL + "/v1/stats?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.Len(t, stats.IndexCandidates, 1)
	assert.Equal(t, "shop.people.city", stats.IndexCandidates[0].Column)
	assert.Equal(t, []string{"shop"}, stats.Databases)

	bad, err := http.Get(srv.URL + "/v1/stats?limit=zero")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestCatalogEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	postQuery(t, srv, QueryRequest{SQL: `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE people(id INT PRIMARY KEY, name VARCHAR(20) UNIQUE);
		CREATE TABLE orders(id INT PRIMARY KEY, person INT REFERENCES people(id), total FLOAT);
		CREATE INDEX by_person ON orders(person);
		CREATE DATABASE empty`})

	resp, err := http.Get(srv.URL + "/v1/databases")
	require.NoError(t, err)
	var dbs DatabasesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dbs))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"empty", "shop"}, dbs.Databases)

	resp, err = http.Get(srv.URL + "/v1/databases/shop/tables")
	require.NoError(t, err)
	var tables TablesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tables))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "shop", tables.Database)
	require.Len(t, tables.Tables, 2)

	orders := tables.Tables[0]
	assert.Equal(t, "orders", orders.Name)
	require.Len(t, orders.Columns, 3)
	assert.Equal(t, "person", orders.Columns[1].Name)
	assert.Equal(t, []string{"id"}, orders.Constraints.PrimaryKey)
	require.Len(t, orders.Constraints.ForeignKeys, 1)
	assert.Equal(t, "people", orders.Constraints.ForeignKeys[0].References.Table)
	require.Len(t, orders.Indexes, 1)
	assert.Equal(t, "by_person", orders.Indexes[0].Name)

	people := tables.Tables[1]
	assert.Equal(t, "people", people.Name)
	assert.Equal(t, "VARCHAR(20)", people.Columns[1].Type)
	assert.Equal(t, []string{"name"}, people.Constraints.UniqueKey)
	assert.Empty(t, people.Indexes)

	resp, err = http.Get(srv.URL + "/v1/databases/empty/tables")
	require.NoError(t, err)
	tables = TablesResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tables))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, tables.Tables)

	missing, err := http.Get(srv.URL + "/v1/databases/nope/tables")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	post, err := http.Post(srv.URL+"/v1/databases", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, 0)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "memory", health.Backend)

	failing := NewHealthHandler("redis", func(ctx context.Context) error { return errors.New("connection refused") })
	rec := httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestRecoveryMiddleware(t *testing.T) {
	h := DefaultMiddleware(nil, 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "internal server error", e.Error)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), e.RequestID)
}
