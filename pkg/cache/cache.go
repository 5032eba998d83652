// Package cache provides generic, thread-safe caches plus single-flight
// population for coalescing concurrent identical cache-fill work.
//
// The engine uses two keyed caches built from this package: the instance
// metadata cache (keyed by instance identifier) and the frame-range cache
// (keyed by instance version). Entries are not proactively evicted here;
// eviction policy, if any, is a configuration concern of the surrounding
// deployment.
package cache

import (
	"github.com/sroyama/dicom-server/errors"
)

// Cache represents a generic cache interface. The cache is parameterized by
// value type V for type safety.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found,
	// zero value and false otherwise.
	Get(key string) (V, bool)

	// Set stores a value with the given key. Returns true if a new entry was
	// created, false if an existing entry was updated.
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries in the cache.
	Size() int

	// Stats returns cache statistics. Always non-nil for real caches, nil
	// for the noop cache.
	Stats() *Statistics

	// Close shuts down the cache and releases any resources.
	Close() error
}

// Config contains configuration for cache creation.
type Config struct {
	// Enabled determines if caching is enabled. A disabled cache always
	// misses, which turns single-flight population into per-request work.
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// NewFromConfig creates a cache based on the provided configuration.
// Returns a NoopCache if config.Enabled is false.
func NewFromConfig[V any](config Config, options ...Option[V]) (Cache[V], error) {
	if !config.Enabled {
		return NewNoop[V](), nil
	}
	return NewSimple[V](options...)
}

// NewSimple creates a new cache with no eviction policy. Stats are always
// enabled for observability; use WithMetrics to also export them as
// Prometheus metrics.
func NewSimple[V any](options ...Option[V]) (Cache[V], error) {
	opts := applyOptions(options...)
	return newSimpleCache[V](opts)
}

// NewNoop creates a cache that does nothing (always returns cache misses).
func NewNoop[V any]() Cache[V] {
	return &noopCache[V]{}
}

// noopCache is a cache implementation that does nothing.
type noopCache[V any] struct{}

func (c *noopCache[V]) Get(_ string) (V, bool) {
	var zero V
	return zero, false
}

func (c *noopCache[V]) Set(_ string, _ V) (bool, error) { return false, nil }
func (c *noopCache[V]) Delete(_ string) (bool, error)   { return false, nil }
func (c *noopCache[V]) Clear() error                    { return nil }
func (c *noopCache[V]) Size() int                       { return 0 }
func (c *noopCache[V]) Stats() *Statistics              { return nil }
func (c *noopCache[V]) Close() error                    { return nil }

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrBadRequest, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
