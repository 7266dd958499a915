package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHooksRunInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, nil)
	var order []string
	for _, name := range []string{"store", "engine", "http"} {
		name := name
		sm.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	assert.Equal(t, []string{"http", "engine", "store"}, order)
	assert.True(t, sm.IsShuttingDown())

	// Later calls do not run the hooks again.
	require.NoError(t, sm.Shutdown(context.Background(), "again"))
	assert.Len(t, order, 3)
}

func TestShutdownReportsFirstHookError(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, nil)
	sm.Register("store", func(ctx context.Context) error { return errors.New("store busy") })
	sm.Register("http", func(ctx context.Context) error { return nil })

	err := sm.Shutdown(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store busy")
}

func TestShutdownWaitsForInFlightRequests(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{DrainTimeout: 2 * time.Second}, nil)
	release := make(chan struct{})
	started := make(chan struct{})

	h := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.WriteHeader(http.StatusNoContent)
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	rec := httptest.NewRecorder()
	go func() {
		defer wg.Done()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	}()
	<-started
	assert.Equal(t, int64(1), sm.InFlightCount())

	done := make(chan error, 1)
	go func() { done <- sm.Shutdown(context.Background(), "test") }()

	<-sm.Done()
	late := httptest.NewRecorder()
	h.ServeHTTP(late, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, late.Code)

	close(release)
	wg.Wait()
	require.NoError(t, <-done)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, int64(0), sm.InFlightCount())
}

func TestListenForSignalsStopsOnContext(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{}, nil)
	closed := false
	sm.Register("store", func(ctx context.Context) error {
		closed = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sm.ListenForSignals(ctx))
	assert.True(t, closed)
}
