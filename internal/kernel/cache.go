package kernel

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/born-ml/sdpa/internal/metrics"
)

// Cache maps signatures to compiled kernels. It is owned by one session;
// entries live until the cache is closed.
//
// Concurrent requests for a missing signature build it exactly once: the
// first caller builds while the others wait for its result.
type Cache struct {
	mu      sync.RWMutex
	entries map[Signature]any
	group   singleflight.Group
	log     *slog.Logger
}

// NewCache returns an empty kernel cache.
func NewCache(log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		entries: make(map[Signature]any),
		log:     log,
	}
}

// GetOrCreate returns the entry for sig, calling build if it is missing.
// A failed build is not cached; the next lookup retries.
func GetOrCreate[T any](c *Cache, sig Signature, build func(Signature) (T, error)) (T, error) {
	var zero T

	if v, ok := c.lookup(sig); ok {
		metrics.KernelCacheLookups.WithLabelValues("hit").Inc()
		return cast[T](sig, v)
	}
	metrics.KernelCacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(sig.String(), func() (any, error) {
		// A build may have completed between the fast path and here.
		if v, ok := c.lookup(sig); ok {
			return v, nil
		}
		built, err := build(sig)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.entries == nil {
			c.entries = make(map[Signature]any)
		}
		c.entries[sig] = built
		c.mu.Unlock()

		metrics.KernelBuilds.WithLabelValues(sig.Kind.String()).Inc()
		c.log.Debug("kernel built", "signature", sig.String())
		return built, nil
	})
	if err != nil {
		return zero, fmt.Errorf("build kernel %s: %w", sig, err)
	}
	return cast[T](sig, v)
}

func (c *Cache) lookup(sig Signature) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[sig]
	return v, ok
}

func cast[T any](sig Signature, v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("kernel cache entry %s has type %T", sig, v)
	}
	return t, nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close drops every entry.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}
