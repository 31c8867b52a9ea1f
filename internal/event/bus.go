// ABOUTME: In-memory fan-out bus carrying session events to frontends.
// ABOUTME: Subscribers get buffered channels; slow subscribers drop events.

package event

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Bus is the in-memory pub/sub boundary between the session core and the
// presentation frontends. Publishing never blocks: events are dropped for
// subscribers whose channels are full.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	logger      *slog.Logger
}

// NewBus creates a bus. Pass nil logger for the default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]chan Event),
		logger:      logger.With("component", "bus"),
	}
}

// Subscribe registers a subscriber and returns its event channel plus a
// subscription id for Unsubscribe. The subscription is cleaned up
// automatically when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscriber and closes its channel. Unsubscribing an
// unknown id is a no-op.
func (b *Bus) Unsubscribe(subID string) {
	b.mu.Lock()
	ch, ok := b.subscribers[subID]
	if ok {
		delete(b.subscribers, subID)
	}
	b.mu.Unlock()

	if ok {
		close(ch)
		b.logger.Debug("subscriber removed", "sub_id", subID)
	}
}

// Publish fans the event out to all subscribers. Sends happen under the
// read lock so a subscriber channel cannot be closed mid-send; the sends are
// non-blocking, so the lock is never held for long.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.logger.Debug("dropped event for slow subscriber", "sub_id", subID)
		}
	}
}

// Close removes all subscribers and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]chan Event)
	b.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}
