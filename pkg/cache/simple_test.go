package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleCache_SetAndGet(t *testing.T) {
	c, err := NewSimple[string]()
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	created, err := c.Set("key1", "value1")
	require.NoError(t, err)
	assert.True(t, created)

	value, found := c.Get("key1")
	assert.True(t, found)
	assert.Equal(t, "value1", value)

	// Overwriting reports an update, not a create.
	created, err = c.Set("key1", "value2")
	require.NoError(t, err)
	assert.False(t, created)

	value, _ = c.Get("key1")
	assert.Equal(t, "value2", value)
}

func TestSimpleCache_GetMissing(t *testing.T) {
	c, err := NewSimple[int]()
	require.NoError(t, err)

	value, found := c.Get("absent")
	assert.False(t, found)
	assert.Zero(t, value)
}

func TestSimpleCache_Delete(t *testing.T) {
	c, err := NewSimple[string]()
	require.NoError(t, err)

	_, err = c.Set("key", "value")
	require.NoError(t, err)

	existed, err := c.Delete("key")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = c.Delete("key")
	require.NoError(t, err)
	assert.False(t, existed)

	_, found := c.Get("key")
	assert.False(t, found)
}

func TestSimpleCache_Clear(t *testing.T) {
	c, err := NewSimple[int]()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = c.Set(fmt.Sprintf("key%d", i), i)
		require.NoError(t, err)
	}
	assert.Equal(t, 5, c.Size())

	require.NoError(t, c.Clear())
	assert.Equal(t, 0, c.Size())
}

func TestSimpleCache_EmptyKeyRejected(t *testing.T) {
	c, err := NewSimple[string]()
	require.NoError(t, err)

	_, err = c.Set("", "value")
	require.Error(t, err)

	_, err = c.Delete("")
	require.Error(t, err)
}

func TestSimpleCache_Stats(t *testing.T) {
	c, err := NewSimple[string]()
	require.NoError(t, err)

	_, err = c.Set("key", "value")
	require.NoError(t, err)

	c.Get("key")    // hit
	c.Get("absent") // miss

	stats := c.Stats()
	require.NotNil(t, stats)
	assert.Equal(t, int64(1), stats.Hits())
	assert.Equal(t, int64(1), stats.Misses())
	assert.Equal(t, int64(1), stats.Sets())
	assert.Equal(t, int64(1), stats.CurrentSize())
	assert.InDelta(t, 0.5, stats.HitRatio(), 0.001)
}

func TestSimpleCache_ConcurrentAccess(t *testing.T) {
	c, err := NewSimple[int]()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key%d", i%10)
			_, _ = c.Set(key, i)
			c.Get(key)
			if i%3 == 0 {
				_, _ = c.Delete(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 10)
}

func TestNoopCache(t *testing.T) {
	c := NewNoop[string]()

	created, err := c.Set("key", "value")
	require.NoError(t, err)
	assert.False(t, created)

	_, found := c.Get("key")
	assert.False(t, found)

	assert.Equal(t, 0, c.Size())
	assert.Nil(t, c.Stats())
	assert.NoError(t, c.Close())
}

func TestNewFromConfig(t *testing.T) {
	disabled, err := NewFromConfig[string](Config{Enabled: false})
	require.NoError(t, err)

	_, err = disabled.Set("key", "value")
	require.NoError(t, err)
	_, found := disabled.Get("key")
	assert.False(t, found)

	enabled, err := NewFromConfig[string](Config{Enabled: true})
	require.NoError(t, err)

	_, err = enabled.Set("key", "value")
	require.NoError(t, err)
	value, found := enabled.Get("key")
	assert.True(t, found)
	assert.Equal(t, "value", value)
}
