// Package server coordinates graceful shutdown of the docsql HTTP service:
// signal handling, draining in-flight requests and closing the document
// store once nothing uses it.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Hook releases one resource during shutdown.
type Hook struct {
	Name  string
	Close func(ctx context.Context) error
}

// ShutdownManager handles graceful shutdown of server components.
type ShutdownManager struct {
	shutdownTimeout time.Duration
	drainTimeout    time.Duration
	logger          *zap.SugaredLogger

	shutdownCh     chan struct{}
	shutdownOnce   sync.Once
	shutdownErr    error
	inFlight       int64
	isShuttingDown int32

	hooks   []Hook
	hooksMu sync.Mutex
}

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// ShutdownTimeout bounds the whole shutdown. Default: 30 seconds
	ShutdownTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight requests. Default: 15 seconds
	DrainTimeout time.Duration
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
	}
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager(config ShutdownConfig, logger *zap.SugaredLogger) *ShutdownManager {
	def := DefaultShutdownConfig()
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = def.DrainTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ShutdownManager{
		shutdownTimeout: config.ShutdownTimeout,
		drainTimeout:    config.DrainTimeout,
		logger:          logger,
		shutdownCh:      make(chan struct{}),
	}
}

// Register adds a hook. Hooks run in reverse order of registration, so the
// HTTP server registered after the store is stopped before it.
func (sm *ShutdownManager) Register(name string, closeFn func(ctx context.Context) error) {
	sm.hooksMu.Lock()
	defer sm.hooksMu.Unlock()
	sm.hooks = append(sm.hooks, Hook{Name: name, Close: closeFn})
}

// ListenForSignals blocks until SIGTERM or SIGINT arrives, ctx ends or
// Shutdown is called elsewhere, and then shuts down.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(context.Background(), fmt.Sprintf("received signal: %v", sig))
	case <-ctx.Done():
		return sm.Shutdown(context.Background(), "context cancelled")
	case <-sm.shutdownCh:
		return sm.Shutdown(context.Background(), "")
	}
}

// Shutdown drains in-flight requests and runs the hooks. Only the first
// call does any work; later calls return its result.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.shutdownOnce.Do(func() {
		sm.logger.Infow("shutting down", "reason", reason)
		atomic.StoreInt32(&sm.isShuttingDown, 1)
		close(sm.shutdownCh)

		shutdownCtx, cancel := context.WithTimeout(ctx, sm.shutdownTimeout)
		defer cancel()

		if err := sm.drainInFlight(shutdownCtx); err != nil {
			sm.shutdownErr = fmt.Errorf("drain failed: %w", err)
		}

		sm.hooksMu.Lock()
		hooks := sm.hooks
		sm.hooksMu.Unlock()
		for i := len(hooks) - 1; i >= 0; i-- {
			if err := hooks[i].Close(shutdownCtx); err != nil {
				sm.logger.Warnw("shutdown hook failed", "hook", hooks[i].Name, "error", err)
				if sm.shutdownErr == nil {
					sm.shutdownErr = fmt.Errorf("close %s: %w", hooks[i].Name, err)
				}
			}
		}
		sm.logger.Infow("shutdown complete")
	})
	return sm.shutdownErr
}

func (sm *ShutdownManager) drainInFlight(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, sm.drainTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if atomic.LoadInt64(&sm.inFlight) == 0 {
			return nil
		}
		select {
		case <-drainCtx.Done():
			if remaining := atomic.LoadInt64(&sm.inFlight); remaining > 0 {
				return fmt.Errorf("timeout waiting for %d in-flight requests", remaining)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// TrackRequest counts a request in. It returns false once shutdown has
// begun, in which case the request must be rejected.
func (sm *ShutdownManager) TrackRequest() bool {
	if atomic.LoadInt32(&sm.isShuttingDown) == 1 {
		return false
	}
	atomic.AddInt64(&sm.inFlight, 1)
	return true
}

// UntrackRequest counts a request out.
func (sm *ShutdownManager) UntrackRequest() {
	atomic.AddInt64(&sm.inFlight, -1)
}

// IsShuttingDown reports whether shutdown has begun.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return atomic.LoadInt32(&sm.isShuttingDown) == 1
}

// InFlightCount returns the number of requests being served.
func (sm *ShutdownManager) InFlightCount() int64 {
	return atomic.LoadInt64(&sm.inFlight)
}

// Done is closed when shutdown begins.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.shutdownCh
}

// ShutdownMiddleware tracks in-flight requests and rejects new ones during
// shutdown.
func ShutdownMiddleware(sm *ShutdownManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sm.TrackRequest() {
				w.Header().Set("Connection", "close")
				http.Error(w, "service unavailable: shutting down", http.StatusServiceUnavailable)
				return
			}
			defer sm.UntrackRequest()
			next.ServeHTTP(w, r)
		})
	}
}

// HTTPServerHook returns a hook that stops srv gracefully.
func HTTPServerHook(srv *http.Server) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}
}
