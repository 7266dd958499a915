package app

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	grpcapi "github.com/docsql/docsql/internal/api/grpc"
	"github.com/docsql/docsql/internal/config"
	"github.com/docsql/docsql/internal/engine"
)

func testConfig(t *testing.T, backend string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Storage.Backend = backend
	cfg.Logging.Level = "error"
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "floppy")
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestServeAndStop(t *testing.T) {
	a, err := New(testConfig(t, config.BackendMemory), nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	assert.Error(t, a.Start(context.Background()))

	base := "http://" + a.Addr()
	resp, err := http.Post(base+"/v1/query", "application/json",
		strings.NewReader(`{"sql":"CREATE DATABASE shop; USE shop; CREATE TABLE t(id INT PRIMARY KEY)"}`))
	require.NoError(t, err)
	var reply struct {
		Results  []map[string]any `json:"results"`
		Database string           `json:"database"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, reply.Results, 3)
	assert.Equal(t, "shop", reply.Database)

	health, err := http.Get(base + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	require.NoError(t, a.Stop(context.Background()))
	_, err = http.Get(base + "/health")
	assert.Error(t, err)
}

func TestServeGRPC(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.GRPC.Enabled = true
	cfg.GRPC.Addr = "127.0.0.1:0"
	a, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	require.NotEmpty(t, a.GRPCAddr())

	conn, err := grpc.NewClient(a.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	req, err := structpb.NewStruct(map[string]any{"sql": "CREATE DATABASE shop; USE shop; CREATE TABLE t(id INT PRIMARY KEY)"})
	require.NoError(t, err)
	resp, err := grpcapi.NewQueryServiceClient(conn).Query(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "shop", resp.AsMap()["database"])
	assert.Len(t, resp.AsMap()["results"], 3)

	check, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: grpcapi.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check.Status)

	require.NoError(t, a.Stop(context.Background()))
}

func TestGRPCDisabledByDefault(t *testing.T) {
	a, err := New(testConfig(t, config.BackendMemory), nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	assert.Empty(t, a.GRPCAddr())
	require.NoError(t, a.Stop(context.Background()))
}

func TestSQLiteBackendPersists(t *testing.T) {
	cfg := testConfig(t, config.BackendSQLite)
	cfg.Storage.SQLite.Path = filepath.Join(cfg.DataDir, "nested", "docsql.db")

	a, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Open(context.Background()))
	results := a.Engine().ExecuteScript(context.Background(), engine.NewSession(""), `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE t(id INT PRIMARY KEY, name TEXT);
		INSERT INTO t VALUES (1, 'a')`)
	for _, r := range results {
		require.False(t, r.Failed(), r.Error)
	}
	require.NoError(t, a.Stop(context.Background()))

	reopened, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, reopened.Open(context.Background()))
	defer reopened.Stop(context.Background())

	res := reopened.Engine().Execute(context.Background(), engine.NewSession("shop"), "SELECT name FROM t WHERE id = 1")
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, [][]any{{"a"}}, res.Rows)
}
