package schema

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sroyama/dicom-server/errors"
)

// staticSource returns a fixed active version and counts reads.
type staticSource struct {
	version Version
	err     error
	reads   atomic.Int64
}

func (s *staticSource) Active(_ context.Context) (Version, error) {
	s.reads.Add(1)
	if s.err != nil {
		return 0, s.err
	}
	return s.version, nil
}

type fakeStore struct {
	name string
}

func TestNewResolver_Validation(t *testing.T) {
	src := &staticSource{version: 1}

	_, err := NewResolver[*fakeStore](nil, Registration[*fakeStore]{Version: 1, Impl: &fakeStore{}})
	require.Error(t, err)

	_, err = NewResolver[*fakeStore](src)
	require.Error(t, err)

	_, err = NewResolver(src,
		Registration[*fakeStore]{Version: 1, Impl: &fakeStore{"a"}},
		Registration[*fakeStore]{Version: 1, Impl: &fakeStore{"b"}},
	)
	require.Error(t, err, "duplicate versions must be rejected")
}

func TestResolve_ExactMatch(t *testing.T) {
	src := &staticSource{version: 2}
	v1 := &fakeStore{"v1"}
	v2 := &fakeStore{"v2"}

	r, err := NewResolver(src,
		Registration[*fakeStore]{Version: 1, Impl: v1},
		Registration[*fakeStore]{Version: 2, Impl: v2},
	)
	require.NoError(t, err)

	impl, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Same(t, v2, impl)

	version, ok := r.ResolvedVersion()
	assert.True(t, ok)
	assert.Equal(t, Version(2), version)
}

func TestResolve_HighestAtOrBelowActive(t *testing.T) {
	src := &staticSource{version: 5}
	v1 := &fakeStore{"v1"}
	v3 := &fakeStore{"v3"}

	r, err := NewResolver(src,
		Registration[*fakeStore]{Version: 1, Impl: v1},
		Registration[*fakeStore]{Version: 3, Impl: v3},
	)
	require.NoError(t, err)

	impl, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Same(t, v3, impl)
}

func TestResolve_NoImplementationAtOrBelow(t *testing.T) {
	src := &staticSource{version: 1}

	r, err := NewResolver(src,
		Registration[*fakeStore]{Version: 2, Impl: &fakeStore{"v2"}},
	)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrConfiguration)
}

func TestResolve_CachedUntilInvalidated(t *testing.T) {
	src := &staticSource{version: 1}
	v1 := &fakeStore{"v1"}
	v2 := &fakeStore{"v2"}

	r, err := NewResolver(src,
		Registration[*fakeStore]{Version: 1, Impl: v1},
		Registration[*fakeStore]{Version: 2, Impl: v2},
	)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		impl, err := r.Resolve(context.Background())
		require.NoError(t, err)
		assert.Same(t, v1, impl)
	}
	assert.Equal(t, int64(1), src.reads.Load(), "resolution must be cached")

	// Version bump takes effect only after invalidation.
	src.version = 2
	impl, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Same(t, v1, impl)

	r.Invalidate()
	impl, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Same(t, v2, impl)
	assert.Equal(t, int64(2), src.reads.Load())
}

func TestResolve_FailureNotCached(t *testing.T) {
	src := &staticSource{version: 1, err: errors.ErrStorageUnavailable}

	r, err := NewResolver(src,
		Registration[*fakeStore]{Version: 1, Impl: &fakeStore{"v1"}},
	)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background())
	require.Error(t, err)

	src.err = nil
	impl, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", impl.name)
}

func TestResolve_ConcurrentSharesOneResolution(t *testing.T) {
	src := &staticSource{version: 1}
	v1 := &fakeStore{"v1"}

	r, err := NewResolver(src, Registration[*fakeStore]{Version: 1, Impl: v1})
	require.NoError(t, err)

	const callers = 20
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			impl, err := r.Resolve(context.Background())
			assert.NoError(t, err)
			assert.Same(t, v1, impl)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), src.reads.Load())
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("3")
	require.NoError(t, err)
	assert.Equal(t, Version(3), v)

	v, err = ParseVersion(" 7\n")
	require.NoError(t, err)
	assert.Equal(t, Version(7), v)

	_, err = ParseVersion("abc")
	require.Error(t, err)

	_, err = ParseVersion("-1")
	require.Error(t, err)
}
