package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoizerGetPut(t *testing.T) {
	memo := NewMemoizer(10, 0)

	_, ok := memo.Get(1)
	assert.False(t, ok)

	memo.Put(1, "compiled")
	got, ok := memo.Get(1)
	require.True(t, ok)
	assert.Equal(t, "compiled", got)
	assert.Equal(t, 1, memo.Len())

	// Updating an existing key replaces the value without growing.
	memo.Put(1, "recompiled")
	got, ok = memo.Get(1)
	require.True(t, ok)
	assert.Equal(t, "recompiled", got)
	assert.Equal(t, 1, memo.Len())
}

func TestMemoizerLRUEviction(t *testing.T) {
	memo := NewMemoizer(3, 0)
	memo.Put(1, "a")
	memo.Put(2, "b")
	memo.Put(3, "c")

	// Touch 1 so 2 becomes the oldest.
	_, ok := memo.Get(1)
	require.True(t, ok)

	memo.Put(4, "d")
	assert.Equal(t, 3, memo.Len())

	_, ok = memo.Get(2)
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = memo.Get(1)
	assert.True(t, ok)
	_, ok = memo.Get(4)
	assert.True(t, ok)
}

func TestMemoizerTTL(t *testing.T) {
	memo := NewMemoizer(10, 10*time.Millisecond)
	memo.Put(1, "a")

	_, ok := memo.Get(1)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = memo.Get(1)
	assert.False(t, ok, "entry should expire after the TTL")
	assert.Equal(t, 0, memo.Len())
}

func TestMemoizerKeyStability(t *testing.T) {
	memo := NewMemoizer(10, 0)

	params := map[string]any{"min": 21, "max": 65}
	args := map[string]string{"tenant": "acme"}

	k1 := memo.Key("social", 3, "MATCH (a:User) RETURN a.name", params, args)
	k2 := memo.Key("social", 3, "MATCH (a:User) RETURN a.name", map[string]any{"max": 65, "min": 21}, args)
	assert.Equal(t, k1, k2, "key must not depend on map iteration order")

	// Every input dimension changes the key.
	assert.NotEqual(t, k1, memo.Key("other", 3, "MATCH (a:User) RETURN a.name", params, args))
	assert.NotEqual(t, k1, memo.Key("social", 4, "MATCH (a:User) RETURN a.name", params, args))
	assert.NotEqual(t, k1, memo.Key("social", 3, "MATCH (a:User) RETURN a.age", params, args))
	assert.NotEqual(t, k1, memo.Key("social", 3, "MATCH (a:User) RETURN a.name", map[string]any{"min": 22, "max": 65}, args))
	assert.NotEqual(t, k1, memo.Key("social", 3, "MATCH (a:User) RETURN a.name", params, map[string]string{"tenant": "umbrella"}))
}

func TestMemoizerStats(t *testing.T) {
	memo := NewMemoizer(10, 0)
	memo.Put(1, "a")

	memo.Get(1)
	memo.Get(1)
	memo.Get(2)

	stats := memo.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 10, stats.MaxSize)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 66.6, stats.HitRate, 0.1)
}

func TestMemoizerSetEnabled(t *testing.T) {
	memo := NewMemoizer(10, 0)
	memo.Put(1, "a")

	memo.SetEnabled(false)
	assert.Equal(t, 0, memo.Len(), "disabling drops all entries")

	memo.Put(2, "b")
	_, ok := memo.Get(2)
	assert.False(t, ok)

	memo.SetEnabled(true)
	memo.Put(3, "c")
	_, ok = memo.Get(3)
	assert.True(t, ok)
}

func TestMemoizerRemoveAndClear(t *testing.T) {
	memo := NewMemoizer(10, 0)
	memo.Put(1, "a")
	memo.Put(2, "b")

	memo.Remove(1)
	_, ok := memo.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 1, memo.Len())

	memo.Clear()
	assert.Equal(t, 0, memo.Len())
}
