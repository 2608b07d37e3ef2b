package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Size())
}

func TestLRUTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string, int](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	now = now.Add(30 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	assert.Equal(t, 1, c.CleanExpired())
	assert.Equal(t, 0, c.Size())
}

func TestLRUNoExpiryWhenTTLDisabled(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[int, string](10, 0)
	c.now = func() time.Time { return now }
	c.Set(1, "x")
	now = now.Add(24 * 365 * time.Hour)
	_, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, 0, c.CleanExpired())
}

func TestLRUUpdate(t *testing.T) {
	c := NewLRUCache[string, int](10, 0)
	c.Update("a", func(cur int, ok bool) (int, bool) {
		assert.False(t, ok)
		return 5, true
	})
	c.Update("a", func(cur int, ok bool) (int, bool) {
		assert.True(t, ok)
		return cur + 1, true
	})
	v, _ := c.Get("a")
	assert.Equal(t, 6, v)

	c.Update("a", func(int, bool) (int, bool) { return 0, false })
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestManagerSweep(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string, int](10, time.Second)
	c.now = func() time.Time { return now }
	c.Set("a", 1)
	c.Set("b", 2)
	now = now.Add(time.Hour)

	m := NewManager()
	m.Register(c)
	assert.Equal(t, 2, m.Sweep())

	m.StartCleanup(time.Hour)
	m.Stop()
	m.Stop()
}

func TestManagerStopWithoutStart(t *testing.T) {
	m := NewManager()
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without a running sweep")
	}
	m.StartCleanup(time.Millisecond)
	m.Stop()
}
