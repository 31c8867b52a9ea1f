// ABOUTME: Routes inbound protocol messages into channels and delivers them.
// ABOUTME: Detects group conversations and keeps the receive sequence honest.

package dispatch

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/2389/gadu-bridge/internal/channel"
	"github.com/2389/gadu-bridge/internal/event"
	"github.com/2389/gadu-bridge/internal/gadu"
	"github.com/2389/gadu-bridge/internal/handle"
)

// Dispatcher turns wire messages into delivered notifications. It owns the
// per-session receive sequence: the sequence advances only when a message is
// actually delivered, so a payload that fails normalization leaves it
// untouched.
type Dispatcher struct {
	registry *handle.Registry
	channels *channel.Multiplexer
	bus      *event.Bus
	logger   *slog.Logger

	// now is the arrival clock, injectable for tests.
	now func() time.Time

	mu  sync.Mutex
	seq uint64
}

// New creates a dispatcher delivering onto the given bus.
func New(registry *handle.Registry, channels *channel.Multiplexer, bus *event.Bus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		channels: channels,
		bus:      bus,
		logger:   logger.With("component", "dispatch"),
		now:      time.Now,
	}
}

// Dispatch normalizes and delivers an inbound message. On any error nothing
// is delivered and the receive sequence does not move.
func (d *Dispatcher) Dispatch(msg *gadu.Message) error {
	text, err := Normalize(msg)
	if err != nil {
		d.logger.Warn("dropping message", "sender", msg.Sender, "error", err)
		return err
	}

	sender := d.registry.ResolveOrCreate(handle.TypeContact, formatUIN(msg.Sender))

	var ch *channel.Channel
	if msg.Conference != nil && len(msg.Conference.Recipients) > 0 {
		ch = d.resolveGroupChannel(msg, sender)
	} else {
		ch, _ = d.channels.ResolveOrCreate(channel.TextProps(sender), sender, sender, true)
	}

	d.mu.Lock()
	seq := d.seq
	d.seq++
	d.mu.Unlock()

	d.bus.Publish(event.MessageReceived{
		Channel:   ch,
		Sender:    sender,
		Seq:       seq,
		Timestamp: d.messageTime(msg),
		Text:      text,
	})
	return nil
}

// resolveGroupChannel maps a conference message onto a room channel. The
// room identity is the sorted member list joined with ", ", so any member's
// view of the same conversation lands in the same channel no matter the
// recipient ordering on the wire.
func (d *Dispatcher) resolveGroupChannel(msg *gadu.Message, sender *handle.Handle) *channel.Channel {
	names := make(map[string]struct{}, len(msg.Conference.Recipients)+1)
	names[sender.Name] = struct{}{}
	for _, uin := range msg.Conference.Recipients {
		names[formatUIN(uin)] = struct{}{}
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	room := d.registry.ResolveOrCreate(handle.TypeRoom, strings.Join(sorted, ", "))
	ch, created := d.channels.ResolveOrCreate(channel.TextProps(room), room, sender, true)
	if created {
		members := make([]*handle.Handle, 0, len(sorted))
		for _, name := range sorted {
			members = append(members, d.registry.ResolveOrCreate(handle.TypeContact, name))
		}
		ch.AddMembers(members...)
		d.bus.Publish(event.MembersChanged{
			Channel: ch,
			Added:   members,
			Reason:  event.ChangeReasonNone,
		})
	}
	return ch
}

// messageTime picks the delivery timestamp. Offline-queued messages keep
// the send time the server embedded; everything else uses arrival time.
func (d *Dispatcher) messageTime(msg *gadu.Message) time.Time {
	if msg.Class == gadu.ClassOffline && !msg.Time.IsZero() {
		return msg.Time
	}
	return d.now()
}

func formatUIN(uin uint32) string {
	return strconv.FormatUint(uint64(uin), 10)
}
