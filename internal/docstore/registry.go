package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/docsql/docsql/internal/config"
)

// Config is the storage section of the docsql configuration.
type Config = config.StorageConfig

// Factory creates a Store from configuration. Each backend registers one
// from its package init function.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	// factoryRegistry stores all registered backend factories.
	factoryRegistry = make(map[string]Factory)

	// registryMutex protects the registry from concurrent access.
	registryMutex sync.RWMutex
)

// Register registers a backend factory under name.
func Register(name string, factory Factory) {
	if factory == nil {
		panic("docstore: factory cannot be nil")
	}
	if name == "" {
		panic("docstore: backend name cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[name]; exists {
		panic(fmt.Sprintf("docstore: backend %q is already registered", name))
	}
	factoryRegistry[name] = factory
}

// Open creates the store selected by cfg.Backend. When cfg.RateLimit is
// positive the store is wrapped with Throttle.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Backend == "" {
		return nil, fmt.Errorf("storage backend is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[cfg.Backend]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported storage backend: %s (registered: %v)", cfg.Backend, Backends())
	}

	store, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}

	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		store = Throttle(store, rate.NewLimiter(rate.Limit(cfg.RateLimit), burst))
	}
	return store, nil
}

// Backends returns the registered backend names in sorted order.
func Backends() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	names := make([]string, 0, len(factoryRegistry))
	for name := range factoryRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
