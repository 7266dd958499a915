package grpc

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Server hosts the query service and the standard health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.SugaredLogger
}

// NewServer creates a gRPC server for backend. opts are passed to
// grpc.NewServer after the logging and recovery interceptor.
func NewServer(backend Backend, logger *zap.SugaredLogger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryInterceptor(logger))}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterQueryServiceServer(gs, NewQueryServer(backend, logger))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{grpc: gs, health: hs, logger: logger}
}

// Serve accepts connections on ln until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	return s.grpc.Serve(ln)
}

// Stop reports NOT_SERVING to health checks and waits for pending calls.
// If ctx ends first the remaining calls are cancelled.
func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
		return ctx.Err()
	}
}

// UnaryInterceptor logs every call and turns a panic into an Internal
// status.
func UnaryInterceptor(logger *zap.SugaredLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				logger.Errorw("panic recovered", "method", info.FullMethod, "panic", p)
				resp, err = nil, status.Error(codes.Internal, "internal server error")
			}
			logger.Debugw("grpc request",
				"method", info.FullMethod,
				"code", status.Code(err).String(),
				"duration", time.Since(start))
		}()
		return handler(ctx, req)
	}
}
