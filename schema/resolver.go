package schema

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sroyama/dicom-server/errors"
)

// Registration pairs a schema version with the implementation that
// serves it.
type Registration[T any] struct {
	Version Version
	Impl    T
}

// Resolver returns the implementation for the currently active schema
// version: the highest registered version at or below the active one.
// The resolution is cached; Invalidate drops the cache when the active
// version signal changes. Resolution failures are never cached.
type Resolver[T any] struct {
	source        VersionSource
	registrations []Registration[T] // sorted ascending by version

	mu     sync.RWMutex
	cached *Registration[T]
}

// NewResolver creates a resolver over the given registrations. At least
// one registration is required; duplicate versions are rejected.
func NewResolver[T any](source VersionSource, registrations ...Registration[T]) (*Resolver[T], error) {
	if source == nil {
		return nil, errors.WrapInvalid(errors.ErrBadRequest, "Resolver", "NewResolver",
			"version source is required")
	}
	if len(registrations) == 0 {
		return nil, errors.WrapInvalid(errors.ErrBadRequest, "Resolver", "NewResolver",
			"at least one registration is required")
	}

	regs := make([]Registration[T], len(registrations))
	copy(regs, registrations)
	sort.Slice(regs, func(i, j int) bool { return regs[i].Version < regs[j].Version })

	for i := 1; i < len(regs); i++ {
		if regs[i].Version == regs[i-1].Version {
			return nil, errors.WrapInvalid(errors.ErrBadRequest, "Resolver", "NewResolver",
				fmt.Sprintf("duplicate registration for version %s", regs[i].Version))
		}
	}

	return &Resolver[T]{source: source, registrations: regs}, nil
}

// Resolve returns the implementation for the active version. Concurrent
// calls during a cache miss share one resolution; the write lock makes
// late arrivals wait and then read the cached result.
func (r *Resolver[T]) Resolve(ctx context.Context) (T, error) {
	r.mu.RLock()
	cached := r.cached
	r.mu.RUnlock()

	if cached != nil {
		return cached.Impl, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have resolved while we waited for the lock.
	if r.cached != nil {
		return r.cached.Impl, nil
	}

	var zero T

	active, err := r.source.Active(ctx)
	if err != nil {
		return zero, err
	}

	reg, ok := r.match(active)
	if !ok {
		return zero, errors.WrapFatal(errors.ErrConfiguration, "Resolver", "Resolve",
			fmt.Sprintf("no implementation registered at or below active version %s", active))
	}

	r.cached = &reg
	return reg.Impl, nil
}

// match finds the highest registration at or below the active version.
func (r *Resolver[T]) match(active Version) (Registration[T], bool) {
	idx := sort.Search(len(r.registrations), func(i int) bool {
		return r.registrations[i].Version > active
	})
	if idx == 0 {
		return Registration[T]{}, false
	}
	return r.registrations[idx-1], true
}

// Invalidate drops the cached resolution. The next Resolve re-reads the
// active version signal.
func (r *Resolver[T]) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

// ResolvedVersion returns the version of the cached resolution, or
// false if nothing is cached.
func (r *Resolver[T]) ResolvedVersion() (Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cached == nil {
		return 0, false
	}
	return r.cached.Version, true
}
