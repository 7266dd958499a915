package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/docsql/docsql/internal/config"
	"github.com/docsql/docsql/internal/docstore"
	"github.com/docsql/docsql/internal/engine"
	dserrors "github.com/docsql/docsql/internal/errors"
	"github.com/docsql/docsql/internal/logging"
)

func newTestClient(t *testing.T) (*QueryServiceClient, *grpc.ClientConn) {
	t.Helper()
	eng := engine.New(docstore.NewMemoryStore(), config.DefaultEngineConfig(), logging.Nop())
	srv := NewServer(eng, logging.Nop())

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(func() { srv.Stop(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewQueryServiceClient(conn), conn
}

func request(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func TestQueryRunsScriptInSession(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	resp, err := client.Query(ctx, request(t, map[string]any{"sql": `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE t(id INT PRIMARY KEY, name TEXT);
		INSERT INTO t VALUES (1, 'a');
		SELECT name FROM t WHERE id = 1;
		SELECT * FROM missing`}))
	require.NoError(t, err)

	reply := resp.AsMap()
	assert.Equal(t, "shop", reply["database"])
	assert.NotEmpty(t, reply["request_id"])

	results := reply["results"].([]any)
	require.Len(t, results, 6)
	sel := results[4].(map[string]any)
	assert.Equal(t, []any{"name"}, sel["columns"])
	assert.Equal(t, []any{[]any{"a"}}, sel["rows"])
	assert.Equal(t, "NOT_FOUND", results[5].(map[string]any)["error_category"])

	// A new call starts in the requested database.
	resp, err = client.Query(ctx, request(t, map[string]any{"sql": "SELECT COUNT(*) FROM t", "database": "shop"}))
	require.NoError(t, err)
	results = resp.AsMap()["results"].([]any)
	assert.Equal(t, []any{[]any{1.0}}, results[0].(map[string]any)["rows"])
}

func TestQueryRejectsBadRequests(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	for _, fields := range []map[string]any{
		{},
		{"sql": "   "},
		{"sql": 42.0},
		{"sql": "SELECT 1", "database": true},
	} {
		_, err := client.Query(ctx, request(t, fields))
		assert.Equal(t, codes.InvalidArgument, status.Code(err), fmt.Sprint(fields))
	}
}

func TestRequestIDIsKept(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-request-id", "req-7")

	var header metadata.MD
	resp, err := client.Query(ctx, request(t, map[string]any{"sql": "CREATE DATABASE a"}), grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, "req-7", resp.AsMap()["request_id"])
	assert.Equal(t, []string{"req-7"}, header.Get("x-request-id"))
}

func TestTables(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.Query(ctx, request(t, map[string]any{"sql": `
		CREATE DATABASE shop; USE shop;
		CREATE TABLE people(id INT PRIMARY KEY, city TEXT);
		CREATE INDEX by_city ON people(city)`}))
	require.NoError(t, err)

	resp, err := client.Tables(ctx, request(t, map[string]any{"database": "shop"}))
	require.NoError(t, err)
	reply := resp.AsMap()
	assert.Equal(t, "shop", reply["database"])
	tables := reply["tables"].([]any)
	require.Len(t, tables, 1)
	people := tables[0].(map[string]any)
	assert.Equal(t, "people", people["name"])
	assert.Len(t, people["columns"], 2)
	assert.Len(t, people["indexes"], 1)

	_, err = client.Tables(ctx, request(t, map[string]any{"database": "nope"}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.Tables(ctx, request(t, map[string]any{}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHealthService(t *testing.T) {
	_, conn := newTestClient(t)
	health := healthpb.NewHealthClient(conn)

	for _, service := range []string{"", ServiceName} {
		resp, err := health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
	}
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{dserrors.NewNotFoundError(dserrors.CodeDatabase, "missing"), codes.NotFound},
		{dserrors.NewSyntaxError("bad", nil), codes.InvalidArgument},
		{dserrors.NewSchemaError(dserrors.CodeUnknownColumn, "bad column"), codes.InvalidArgument},
		{dserrors.NewConstraintViolation(dserrors.CodePrimaryKey, "dup"), codes.FailedPrecondition},
		{dserrors.NewStorageError("down", errors.New("refused")), codes.Unavailable},
		{errors.New("plain"), codes.Internal},
		{fmt.Errorf("load: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(statusFromError(tt.err)), tt.err.Error())
	}
}

func TestUnaryInterceptorRecoversPanics(t *testing.T) {
	intercept := UnaryInterceptor(logging.Nop())
	info := &grpc.UnaryServerInfo{FullMethod: QueryMethod}
	_, err := intercept(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}
