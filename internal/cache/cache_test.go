package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidCapacity(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)

	_, err = New(-3)
	require.Error(t, err)
}

func TestCache_PutGet(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	_, evicted := c.Put("a", []byte("1"))
	assert.False(t, evicted)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	assert.True(t, c.Has("a"))
	assert.False(t, c.Has("b"))

	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCache_EvictsEarliestInserted(t *testing.T) {
	c, err := New(3)
	require.NoError(t, err)

	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	c.Put("c", []byte("3"))

	// reads must not promote
	c.Get("a")
	c.Get("a")

	e, evicted := c.Put("d", []byte("4"))
	require.True(t, evicted)
	assert.Equal(t, Entry{Key: "a", Value: []byte("1")}, e)
	assert.Equal(t, []string{"b", "c", "d"}, c.Keys())

	e, evicted = c.Put("e", []byte("5"))
	require.True(t, evicted)
	assert.Equal(t, "b", e.Key)
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))

	_, evicted := c.Put("a", []byte("1-new"))
	assert.False(t, evicted)
	assert.Equal(t, 2, c.Len())

	v, _ := c.Get("a")
	assert.Equal(t, []byte("1-new"), v)

	// the overwrite re-inserted "a", so "b" is now the oldest
	e, evicted := c.Put("c", []byte("3"))
	require.True(t, evicted)
	assert.Equal(t, "b", e.Key)
}

func TestCache_EvictOne(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)

	_, ok := c.EvictOne()
	assert.False(t, ok, "empty cache has nothing to evict")

	c.Put("x", []byte("1"))
	c.Put("y", []byte("2"))

	e, ok := c.EvictOne()
	require.True(t, ok)
	assert.Equal(t, Entry{Key: "x", Value: []byte("1")}, e)
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Has("x"))

	// a later Put must not report the forced eviction again
	_, evicted := c.Put("z", []byte("3"))
	assert.False(t, evicted)
}

func TestCache_SizeNeverExceedsCapacity(t *testing.T) {
	const capacity = 7
	c, err := New(capacity)
	require.NoError(t, err)

	var evictions []string
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%d", i)
		if e, ok := c.Put(key, []byte(key)); ok {
			evictions = append(evictions, e.Key)
		}
		require.LessOrEqual(t, c.Len(), capacity)
	}

	require.Len(t, evictions, 50-capacity)
	for i, key := range evictions {
		assert.Equal(t, fmt.Sprintf("k%d", i), key, "eviction %d out of FIFO order", i)
	}
	assert.True(t, c.Full())
	assert.Equal(t, capacity, c.Capacity())
}
