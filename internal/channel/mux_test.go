// ABOUTME: Tests for the channel multiplexer.
// ABOUTME: Validates singleton resolution per key, announce-once, and concurrency.

package channel

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gadu-bridge/internal/handle"
)

type recordingAnnouncer struct {
	mu       sync.Mutex
	channels []*Channel
}

func (r *recordingAnnouncer) ChannelCreated(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, ch)
}

func (r *recordingAnnouncer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

func TestMultiplexer_ResolveOrCreate_Singleton(t *testing.T) {
	reg := handle.NewRegistry(nil)
	target := reg.ResolveOrCreate(handle.TypeContact, "100")
	mux := NewMultiplexer(nil, nil)

	a, created := mux.ResolveOrCreate(TextProps(target), target, nil, false)
	require.True(t, created)

	b, created := mux.ResolveOrCreate(TextProps(target), target, nil, false)
	assert.False(t, created)
	assert.Same(t, a, b, "same key must resolve to the identical channel")
	assert.Equal(t, 1, mux.Len())
}

func TestMultiplexer_KeyIncludesRequestedFlag(t *testing.T) {
	reg := handle.NewRegistry(nil)
	target := reg.ResolveOrCreate(handle.TypeContact, "100")
	mux := NewMultiplexer(nil, nil)

	plain := TextProps(target)
	requested := plain
	requested.Requested = true

	a, _ := mux.ResolveOrCreate(plain, target, nil, false)
	b, _ := mux.ResolveOrCreate(requested, target, nil, false)
	assert.NotSame(t, a, b)
}

func TestMultiplexer_AnnounceFiresOncePerKey(t *testing.T) {
	reg := handle.NewRegistry(nil)
	target := reg.ResolveOrCreate(handle.TypeRoom, "100, 200")
	ann := &recordingAnnouncer{}
	mux := NewMultiplexer(ann, nil)

	mux.ResolveOrCreate(TextProps(target), target, nil, true)
	mux.ResolveOrCreate(TextProps(target), target, nil, true)
	mux.ResolveOrCreate(TextProps(target), target, nil, true)

	assert.Equal(t, 1, ann.count())
}

func TestMultiplexer_AnnounceSuppressed(t *testing.T) {
	reg := handle.NewRegistry(nil)
	target := reg.ResolveOrCreate(handle.TypeList, "subscribe")
	ann := &recordingAnnouncer{}
	mux := NewMultiplexer(ann, nil)

	mux.ResolveOrCreate(ListProps(target), target, nil, false)
	assert.Equal(t, 0, ann.count())
}

func TestMultiplexer_ConcurrentResolution(t *testing.T) {
	reg := handle.NewRegistry(nil)
	target := reg.ResolveOrCreate(handle.TypeContact, "100")
	ann := &recordingAnnouncer{}
	mux := NewMultiplexer(ann, nil)

	const n = 32
	results := make([]*Channel, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], _ = mux.ResolveOrCreate(TextProps(target), target, nil, true)
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, 1, ann.count(), "concurrent creators must announce exactly once")
}

func TestMultiplexer_Remove(t *testing.T) {
	reg := handle.NewRegistry(nil)
	target := reg.ResolveOrCreate(handle.TypeContact, "100")
	mux := NewMultiplexer(nil, nil)

	a, _ := mux.ResolveOrCreate(TextProps(target), target, nil, false)
	mux.Remove(TextProps(target))

	b, created := mux.ResolveOrCreate(TextProps(target), target, nil, false)
	assert.True(t, created)
	assert.NotSame(t, a, b)
}

func TestChannel_Members(t *testing.T) {
	reg := handle.NewRegistry(nil)
	room := reg.ResolveOrCreate(handle.TypeRoom, "100, 200, 300")
	ch := &Channel{Props: TextProps(room), Target: room}

	a := reg.ResolveOrCreate(handle.TypeContact, "100")
	b := reg.ResolveOrCreate(handle.TypeContact, "200")
	ch.AddMembers(a, b)
	ch.AddMembers(b) // re-adding is a no-op

	assert.Len(t, ch.Members(), 2)
}
