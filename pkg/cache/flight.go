package cache

import (
	"context"
	"sync"

	"github.com/sroyama/dicom-server/errors"
)

// PopulateFunc produces the value for a cache key that missed. It is
// invoked at most once per concurrent burst of Get calls for that key.
type PopulateFunc[K any, V any] func(ctx context.Context, id K) (V, error)

// Flight wraps a Cache with single-flight population. When multiple
// callers miss on the same key at the same time, exactly one populate
// call runs; the others wait and observe the leader's result, success or
// failure alike. Failed populations are never cached, so a later burst
// retries from scratch.
type Flight[K any, V any] struct {
	cache Cache[V]

	mu    sync.Mutex
	calls map[string]*flightCall[V]
}

// flightCall tracks one in-flight population. done is closed once val
// and err are final.
type flightCall[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// NewFlight creates a Flight over the given cache. The cache may be a
// noop cache, in which case every burst still coalesces but nothing is
// retained between bursts.
func NewFlight[K any, V any](cache Cache[V]) *Flight[K, V] {
	return &Flight[K, V]{
		cache: cache,
		calls: make(map[string]*flightCall[V]),
	}
}

// Get returns the cached value for key, populating it via populate on a
// miss. Concurrent callers for the same key share one populate call.
// Waiting callers honor their own ctx and detach with its error without
// aborting the leader.
func (f *Flight[K, V]) Get(ctx context.Context, key string, id K, populate PopulateFunc[K, V]) (V, error) {
	var zero V

	if err := validateKey(key); err != nil {
		return zero, err
	}
	if populate == nil {
		return zero, errors.WrapInvalid(errors.ErrBadRequest, "Flight", "Get", "populate function is required")
	}

	if value, ok := f.cache.Get(key); ok {
		return value, nil
	}

	f.mu.Lock()

	// The leader publishes to the cache before removing its call handle,
	// so a second cache check under the mutex catches values that landed
	// between the lock-free check above and acquiring the mutex.
	if value, ok := f.cache.Get(key); ok {
		f.mu.Unlock()
		return value, nil
	}

	if c, ok := f.calls[key]; ok {
		f.mu.Unlock()
		select {
		case <-c.done:
			return c.val, c.err
		case <-ctx.Done():
			return zero, errors.WrapTransient(ctx.Err(), "Flight", "Get", "wait for in-flight population")
		}
	}

	c := &flightCall[V]{done: make(chan struct{})}
	f.calls[key] = c
	f.mu.Unlock()

	c.val, c.err = populate(ctx, id)
	if c.err == nil {
		if _, err := f.cache.Set(key, c.val); err != nil {
			c.err = err
		}
	}

	f.mu.Lock()
	delete(f.calls, key)
	f.mu.Unlock()
	close(c.done)

	return c.val, c.err
}

// Invalidate drops the cached value for key. In-flight populations are
// unaffected; their result still lands in the cache.
func (f *Flight[K, V]) Invalidate(key string) error {
	_, err := f.cache.Delete(key)
	return err
}

// Clear drops all cached values.
func (f *Flight[K, V]) Clear() error {
	return f.cache.Clear()
}

// Cache exposes the underlying cache, mainly for stats.
func (f *Flight[K, V]) Cache() Cache[V] {
	return f.cache
}
