package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestInMemoryCache_TTL(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewInMemoryCache[string, int](time.Minute, 0)
	c.now = clk.Now
	defer c.Close()

	c.Set("a", 1, 0)
	c.Set("b", 2, 10*time.Second)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clk.Advance(10 * time.Second)
	_, ok = c.Get("b")
	assert.False(t, ok, "expiry is inclusive")
	assert.Equal(t, 1, c.Size(), "expired entry dropped on read")

	clk.Advance(time.Minute)
	c.cleanup()
	assert.Zero(t, c.Size())
}

func TestInMemoryCache_DeleteClear(t *testing.T) {
	c := NewInMemoryCache[string, string](time.Minute, time.Millisecond)
	c.Set("x", "1", 0)
	c.Set("y", "2", 0)
	c.Delete("x")
	_, ok := c.Get("x")
	assert.False(t, ok)
	c.Clear()
	assert.Zero(t, c.Size())
	c.Close()
	c.Close()
}
