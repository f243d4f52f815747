package credential

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache() (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	return NewCache(DefaultTTL, clock.Now), clock
}

func TestCache_EmptyIsAbsent(t *testing.T) {
	c, _ := newTestCache()
	_, ok := c.Get()
	assert.False(t, ok)
}

func TestCache_ValidBeforeTTL(t *testing.T) {
	c, clock := newTestCache()
	set := c.Set("abc")
	assert.Equal(t, clock.Now().Add(10*time.Second), set.ExpiresAt)

	clock.Advance(10*time.Second - time.Nanosecond)
	cred, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, "abc", cred.Token)
}

func TestCache_ExpiresAtTTL(t *testing.T) {
	c, clock := newTestCache()
	c.Set("abc")

	clock.Advance(10 * time.Second)
	_, ok := c.Get()
	assert.False(t, ok, "credential must be absent exactly at T+TTL")

	clock.Advance(time.Hour)
	_, ok = c.Get()
	assert.False(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := newTestCache()
	c.Set("abc")
	c.Invalidate()

	_, ok := c.Get()
	assert.False(t, ok)

	// Invalidating an empty cache is fine.
	c.Invalidate()
}

func TestCache_SetReplaces(t *testing.T) {
	c, clock := newTestCache()
	c.Set("old")
	clock.Advance(5 * time.Second)
	c.Set("new")
	clock.Advance(9 * time.Second)

	cred, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, "new", cred.Token)
}

func TestNewCache_Defaults(t *testing.T) {
	c := NewCache(0, nil)
	assert.Equal(t, DefaultTTL, c.TTL())
	c.Set("abc")
	_, ok := c.Get()
	assert.True(t, ok)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := NewCache(time.Minute, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); c.Set("tok") }()
		go func() { defer wg.Done(); c.Get() }()
		go func() { defer wg.Done(); c.Invalidate() }()
	}
	wg.Wait()
}
