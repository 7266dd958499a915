package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/docsql/docsql/internal/catalog"
	"github.com/docsql/docsql/internal/engine"
	dserrors "github.com/docsql/docsql/internal/errors"
)

const requestIDKey = "x-request-id"

// Backend is the part of the engine the query service uses.
type Backend interface {
	ExecuteScript(ctx context.Context, sess *engine.Session, script string) []engine.Result
	Tables(ctx context.Context, database string) ([]*catalog.Table, error)
}

// QueryServer implements QueryServiceServer on an engine.
type QueryServer struct {
	backend Backend
	logger  *zap.SugaredLogger
}

// NewQueryServer creates a query server.
func NewQueryServer(backend Backend, logger *zap.SugaredLogger) *QueryServer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &QueryServer{backend: backend, logger: logger}
}

type queryResponse struct {
	Results   []engine.Result `json:"results"`
	Database  string          `json:"database"`
	RequestID string          `json:"request_id"`
}

type tableInfo struct {
	Name        string              `json:"name"`
	Columns     []catalog.Column    `json:"columns"`
	Constraints catalog.Constraints `json:"constraints"`
	Indexes     []catalog.Index     `json:"indexes"`
}

type tablesResponse struct {
	Database  string      `json:"database"`
	Tables    []tableInfo `json:"tables"`
	RequestID string      `json:"request_id"`
}

// Query runs the script in a session of its own. Statement failures are
// reported per result; only a malformed request fails the call.
func (s *QueryServer) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requestID := extractRequestID(ctx)

	sql, err := stringField(req, "sql", true)
	if err != nil {
		return nil, err
	}
	database, err := stringField(req, "database", false)
	if err != nil {
		return nil, err
	}

	sess := engine.NewSession(database)
	results := s.backend.ExecuteScript(ctx, sess, sql)
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	s.logger.Debugw("grpc query finished",
		"request_id", requestID,
		"session", sess.ID.String(),
		"statements", len(results),
		"failed", failed)

	_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDKey, requestID))
	return toStruct(queryResponse{Results: results, Database: sess.Database, RequestID: requestID})
}

// Tables returns the table definitions of the requested database.
func (s *QueryServer) Tables(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requestID := extractRequestID(ctx)

	database, err := stringField(req, "database", true)
	if err != nil {
		return nil, err
	}
	tables, err := s.backend.Tables(ctx, database)
	if err != nil {
		return nil, statusFromError(err)
	}

	resp := tablesResponse{Database: database, Tables: make([]tableInfo, 0, len(tables)), RequestID: requestID}
	for _, t := range tables {
		resp.Tables = append(resp.Tables, tableInfo{
			Name:        t.Name,
			Columns:     t.Columns,
			Constraints: t.Constraints,
			Indexes:     t.Indexes,
		})
	}
	_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDKey, requestID))
	return toStruct(resp)
}

// stringField reads a string field of req. A missing optional field is "".
func stringField(req *structpb.Struct, name string, required bool) (string, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		if required {
			return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
		}
		return "", nil
	}
	sv, isString := v.GetKind().(*structpb.Value_StringValue)
	if !isString {
		return "", status.Errorf(codes.InvalidArgument, "%s must be a string", name)
	}
	if required && strings.TrimSpace(sv.StringValue) == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return sv.StringValue, nil
}

// toStruct converts a JSON-tagged response into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

// statusFromError maps an engine error onto a gRPC status.
func statusFromError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	code := codes.Internal
	switch dserrors.GetCategory(err) {
	case dserrors.ErrCategoryNotFound:
		code = codes.NotFound
	case dserrors.ErrCategorySyntax, dserrors.ErrCategorySchema:
		code = codes.InvalidArgument
	case dserrors.ErrCategoryConstraint:
		code = codes.FailedPrecondition
	case dserrors.ErrCategoryStorage:
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}

// extractRequestID returns the caller's request id from the incoming
// metadata, or a new one.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(requestIDKey); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return uuid.New().String()
}
