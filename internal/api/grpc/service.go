// Package grpc serves the docsql engine over gRPC.
//
// The query service is declared by hand on the well-known Struct message,
// so clients need no generated stubs. A Query request is
// {"sql": "...", "database": "optional"} and its response mirrors the HTTP
// query response. A Tables request is {"database": "..."}.
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified name of the query service.
	ServiceName = "docsql.v1.QueryService"

	QueryMethod  = "/" + ServiceName + "/Query"
	TablesMethod = "/" + ServiceName + "/Tables"
)

// QueryServiceServer is the server API for the query service.
type QueryServiceServer interface {
	// Query runs a script in a fresh session.
	Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

	// Tables returns the catalog definitions of one database.
	Tables(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// QueryServiceDesc describes the query service for grpc.Server.RegisterService.
var QueryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QueryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Query", Handler: queryHandler},
		{MethodName: "Tables", Handler: tablesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "docsql/v1/query.proto",
}

// RegisterQueryServiceServer registers srv on s.
func RegisterQueryServiceServer(s grpc.ServiceRegistrar, srv QueryServiceServer) {
	s.RegisterService(&QueryServiceDesc, srv)
}

func queryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryServiceServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: QueryMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(QueryServiceServer).Query(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func tablesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueryServiceServer).Tables(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: TablesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(QueryServiceServer).Tables(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// QueryServiceClient calls the query service.
type QueryServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewQueryServiceClient creates a client on cc.
func NewQueryServiceClient(cc grpc.ClientConnInterface) *QueryServiceClient {
	return &QueryServiceClient{cc: cc}
}

// Query runs a script on the server.
func (c *QueryServiceClient) Query(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, QueryMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Tables reads the catalog of one database.
func (c *QueryServiceClient) Tables(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, TablesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
