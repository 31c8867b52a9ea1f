// ABOUTME: Multiplexer resolving property keys to singleton channel instances.
// ABOUTME: Creates a channel on first reference and announces it at most once.

package channel

import (
	"log/slog"
	"sync"

	"github.com/2389/gadu-bridge/internal/handle"
)

// Announcer is notified when the multiplexer materializes a new channel.
// The presentation layer's new-channel signal hangs off this.
type Announcer interface {
	ChannelCreated(*Channel)
}

// Multiplexer maps normalized property keys to live channels. Concurrent
// resolutions of the same key observe exactly one created instance.
type Multiplexer struct {
	mu        sync.Mutex
	channels  map[Props]*Channel
	announcer Announcer
	logger    *slog.Logger
}

// NewMultiplexer creates an empty multiplexer. The announcer may be nil.
func NewMultiplexer(announcer Announcer, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		channels:  make(map[Props]*Channel),
		announcer: announcer,
		logger:    logger.With("component", "channels"),
	}
}

// ResolveOrCreate returns the channel for the given key, constructing it on
// first reference. The returned bool reports whether the channel was created
// by this call. The announcement, if requested, fires only on creation, so
// it happens at most once per key for the channel's lifetime.
func (m *Multiplexer) ResolveOrCreate(props Props, target, initiator *handle.Handle, announce bool) (*Channel, bool) {
	m.mu.Lock()
	if ch, ok := m.channels[props]; ok {
		m.mu.Unlock()
		return ch, false
	}

	ch := &Channel{
		Props:     props,
		Target:    target,
		Initiator: initiator,
	}
	m.channels[props] = ch
	m.mu.Unlock()

	m.logger.Debug("channel created",
		"kind", props.Kind.String(),
		"target_id", props.TargetID,
		"target_type", props.TargetType.String(),
		"requested", props.Requested,
	)

	if announce && m.announcer != nil {
		m.announcer.ChannelCreated(ch)
	}
	return ch, true
}

// Lookup returns the channel for the given key without creating one.
func (m *Multiplexer) Lookup(props Props) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[props]
	return ch, ok
}

// Remove drops the channel for the given key. Called when the presentation
// layer closes a channel; resolving the key again creates a fresh instance.
func (m *Multiplexer) Remove(props Props) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, props)
}

// Len reports the number of live channels.
func (m *Multiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}
