package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUGetSet(t *testing.T) {
	c := NewLRU[string, int](2)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	c.Set("a", 2)
	v, _ = c.Get("a")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestLRUEviction(t *testing.T) {
	c := NewLRU[string, int](2)
	c.Set("a", 1)
	c.Set("b", 2)

	// Touch a so b becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", 3)
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRUDefaultCapacity(t *testing.T) {
	c := NewLRU[int, int](0)
	for i := 0; i < 200; i++ {
		c.Set(i, i)
	}
	assert.Equal(t, 128, c.Len())
}

func TestLRUClear(t *testing.T) {
	c := NewLRU[string, int](4)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRUStats(t *testing.T) {
	c := NewLRU[string, int](1)
	c.Set("a", 1)

	c.Get("a")
	c.Get("a")
	c.Get("missing")
	c.Set("b", 2)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 1, stats.Capacity)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, uint64(1), stats.Evicts)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestExpressionsParse(t *testing.T) {
	c := NewExpressions(4)

	first, err := c.Parse("name.given")
	require.NoError(t, err)
	second, err := c.Parse("name.given")
	require.NoError(t, err)
	assert.Equal(t, first.String(), second.String())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestExpressionsParseFailureNotCached(t *testing.T) {
	c := NewExpressions(4)

	_, err := c.Parse("1 +")
	require.Error(t, err)
	_, err = c.Parse("1 +")
	require.Error(t, err)

	stats := c.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, uint64(0), stats.Hits)
}
