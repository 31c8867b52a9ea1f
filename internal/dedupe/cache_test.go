// ABOUTME: Tests for the TTL dedupe cache.

package dedupe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_CheckAndMark(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	assert.False(t, c.CheckAndMark("http://x/a.png"), "first sight is not a duplicate")
	assert.True(t, c.CheckAndMark("http://x/a.png"), "second sight is a duplicate")
	assert.False(t, c.CheckAndMark("http://x/b.png"))
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(20*time.Millisecond, 100)
	defer c.Close()

	c.CheckAndMark("k")
	time.Sleep(40 * time.Millisecond)
	assert.False(t, c.CheckAndMark("k"), "expired entry is not a duplicate")
}

func TestCache_Forget(t *testing.T) {
	c := New(5*time.Minute, 100)
	defer c.Close()

	c.CheckAndMark("k")
	c.Forget("k")
	assert.False(t, c.CheckAndMark("k"))
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New(5*time.Minute, 3)
	defer c.Close()

	for i := 0; i < 3; i++ {
		c.CheckAndMark(fmt.Sprintf("k%d", i))
		time.Sleep(time.Millisecond)
	}
	c.CheckAndMark("k3")

	assert.False(t, c.CheckAndMark("k0"), "oldest entry should have been evicted")
	assert.True(t, c.CheckAndMark("k3"))
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
