// Package app manages the docsql lifecycle: configuration, logging, the
// document store, the engine and the HTTP and gRPC servers.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"

	grpcapi "github.com/docsql/docsql/internal/api/grpc"
	httpapi "github.com/docsql/docsql/internal/api/http"
	"github.com/docsql/docsql/internal/config"
	"github.com/docsql/docsql/internal/docstore"
	"github.com/docsql/docsql/internal/engine"
	"github.com/docsql/docsql/internal/server"
)

// App owns the store, the engine and, when serving, the HTTP server.
type App struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	store    docstore.Store
	engine   *engine.Engine
	shutdown *server.ShutdownManager

	httpServer *http.Server
	listener   net.Listener

	grpcServer   *grpcapi.Server
	grpcListener net.Listener

	mu      sync.Mutex
	opened  bool
	running bool
	wg      sync.WaitGroup
}

// New creates an App with the given configuration.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sugar := logger.Sugar()
	return &App{
		cfg:      cfg,
		logger:   sugar,
		shutdown: server.NewShutdownManager(server.DefaultShutdownConfig(), sugar.Named("shutdown")),
	}, nil
}

// Open connects the document store and builds the engine. Start calls it;
// script runs call it directly.
func (a *App) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return nil
	}

	store, err := docstore.Open(ctx, a.cfg.Storage)
	if err != nil {
		return err
	}
	a.store = store
	a.engine = engine.New(store, a.cfg.Engine, a.logger.Named("engine"))
	a.shutdown.Register("docstore", store.Close)
	a.opened = true

	a.logger.Infow("document store opened",
		"backend", a.cfg.Storage.Backend,
		"rate_limit", a.cfg.Storage.RateLimit)
	return nil
}

// Engine returns the engine. It is nil until Open succeeds.
func (a *App) Engine() *engine.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

// Handler builds the HTTP routes of the service.
func (a *App) Handler() http.Handler {
	eng := a.Engine()
	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.DefaultMiddleware(a.logger.Named("http"), a.cfg.HTTP.MaxBodyBytes),
	)

	health := func(ctx context.Context) error {
		_, err := eng.Databases(ctx)
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/query", middleware(httpapi.NewQueryHandler(eng, a.logger.Named("query"))))
	mux.Handle("/v1/stats", middleware(httpapi.NewStatsHandler(eng.Stats(), eng.Databases)))
	mux.Handle("/v1/databases", middleware(httpapi.NewDatabasesHandler(eng)))
	mux.Handle("/v1/databases/{db}/tables", middleware(httpapi.NewTablesHandler(eng)))
	mux.Handle("/health", httpapi.NewHealthHandler(a.cfg.Storage.Backend, health))
	return mux
}

// Start opens the store and starts serving HTTP, and gRPC when enabled.
func (a *App) Start(ctx context.Context) error {
	if err := a.Open(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	var grpcLn net.Listener
	if a.cfg.GRPC.Enabled {
		grpcLn, err = net.Listen("tcp", a.cfg.GRPC.Addr)
		if err != nil {
			ln.Close()
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
			return fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPC.Addr, err)
		}
	}

	a.listener = ln
	a.httpServer = &http.Server{
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	a.shutdown.Register("http", server.HTTPServerHook(a.httpServer))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Infow("HTTP server listening", "addr", ln.Addr().String())
		if err := a.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Errorw("HTTP server error", "error", err)
		}
	}()

	if grpcLn != nil {
		a.startGRPC(grpcLn)
	}
	return nil
}

func (a *App) startGRPC(ln net.Listener) {
	a.grpcListener = ln
	a.grpcServer = grpcapi.NewServer(a.Engine(), a.logger.Named("grpc"))
	a.shutdown.Register("grpc", a.grpcServer.Stop)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Infow("gRPC server listening", "addr", ln.Addr().String())
		if err := a.grpcServer.Serve(ln); err != nil {
			a.logger.Errorw("gRPC server error", "error", err)
		}
	}()
}

// Addr returns the address the HTTP server listens on.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// GRPCAddr returns the address the gRPC server listens on, or "" when
// gRPC is disabled.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// Stop drains requests, stops the servers and closes the store.
func (a *App) Stop(ctx context.Context) error {
	err := a.shutdown.Shutdown(ctx, "stop requested")
	a.wg.Wait()

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	return err
}

// WaitForShutdown blocks until a shutdown signal is received and the
// shutdown has finished.
func (a *App) WaitForShutdown(ctx context.Context) error {
	err := a.shutdown.ListenForSignals(ctx)
	a.wg.Wait()
	return err
}
