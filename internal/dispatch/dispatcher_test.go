// ABOUTME: Tests for message routing, group detection and sequencing.

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gadu-bridge/internal/channel"
	"github.com/2389/gadu-bridge/internal/event"
	"github.com/2389/gadu-bridge/internal/gadu"
	"github.com/2389/gadu-bridge/internal/handle"
)

type fixture struct {
	registry   *handle.Registry
	channels   *channel.Multiplexer
	bus        *event.Bus
	dispatcher *Dispatcher
	events     <-chan event.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := event.NewBus(nil)
	t.Cleanup(bus.Close)

	registry := handle.NewRegistry(nil)
	channels := channel.NewMultiplexer(nil, nil)
	ch, _ := bus.Subscribe(context.Background())

	return &fixture{
		registry:   registry,
		channels:   channels,
		bus:        bus,
		dispatcher: New(registry, channels, bus, nil),
		events:     ch,
	}
}

func (f *fixture) nextMessage(t *testing.T) event.MessageReceived {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-f.events:
			if msg, ok := evt.(event.MessageReceived); ok {
				return msg
			}
		case <-deadline:
			t.Fatal("no message delivered")
		}
	}
}

func TestDispatch_DirectMessage(t *testing.T) {
	f := newFixture(t)

	err := f.dispatcher.Dispatch(&gadu.Message{Sender: 4634020, Plain: []byte("czesc")})
	require.NoError(t, err)

	msg := f.nextMessage(t)
	assert.Equal(t, "czesc", msg.Text)
	assert.Equal(t, uint64(0), msg.Seq)
	assert.Equal(t, "4634020", msg.Sender.Name)
	assert.Equal(t, handle.TypeContact, msg.Channel.Target.Type)
	assert.Same(t, msg.Sender, msg.Channel.Target)
}

func TestDispatch_SequenceAdvancesPerDelivery(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.dispatcher.Dispatch(&gadu.Message{Sender: 100, Plain: []byte("x")}))
	}

	assert.Equal(t, uint64(0), f.nextMessage(t).Seq)
	assert.Equal(t, uint64(1), f.nextMessage(t).Seq)
	assert.Equal(t, uint64(2), f.nextMessage(t).Seq)
}

func TestDispatch_FailureDoesNotAdvanceSequence(t *testing.T) {
	f := newFixture(t)

	err := f.dispatcher.Dispatch(&gadu.Message{Sender: 100})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	require.NoError(t, f.dispatcher.Dispatch(&gadu.Message{Sender: 100, Plain: []byte("ok")}))
	assert.Equal(t, uint64(0), f.nextMessage(t).Seq)
}

func TestDispatch_StripsControlCharacters(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.dispatcher.Dispatch(&gadu.Message{
		Sender: 100,
		Plain:  []byte("hi\x00\r\nthere"),
	}))
	assert.Equal(t, "hi\nthere", f.nextMessage(t).Text)
}

func TestDispatch_DecodesLegacyCodepage(t *testing.T) {
	f := newFixture(t)

	// 0xB9 is 'a-ogonek' in windows-1250.
	require.NoError(t, f.dispatcher.Dispatch(&gadu.Message{
		Sender: 100,
		Plain:  []byte("gor\xb9co"),
	}))
	assert.Equal(t, "gorąco", f.nextMessage(t).Text)
}

func TestDispatch_DecodesEntitiesInPlainText(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.dispatcher.Dispatch(&gadu.Message{
		Sender: 100,
		Plain:  []byte("fish &amp; chips &lt;3"),
	}))
	assert.Equal(t, "fish & chips <3", f.nextMessage(t).Text)
}

func TestDispatch_MarkupVariantTakesPrecedence(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.dispatcher.Dispatch(&gadu.Message{
		Sender: 100,
		Plain:  []byte("ignored"),
		HTML:   "czesc",
	}))
	assert.Equal(t, "czesc", f.nextMessage(t).Text)
}

func TestDispatch_OfflineMessageKeepsEmbeddedTime(t *testing.T) {
	f := newFixture(t)
	arrival := time.Date(2011, 6, 1, 12, 0, 0, 0, time.UTC)
	f.dispatcher.now = func() time.Time { return arrival }

	sent := time.Date(2011, 5, 30, 8, 15, 0, 0, time.UTC)
	require.NoError(t, f.dispatcher.Dispatch(&gadu.Message{
		Sender: 100,
		Class:  gadu.ClassOffline,
		Time:   sent,
		Plain:  []byte("late"),
	}))
	assert.Equal(t, sent, f.nextMessage(t).Timestamp)

	require.NoError(t, f.dispatcher.Dispatch(&gadu.Message{
		Sender: 100,
		Plain:  []byte("fresh"),
	}))
	assert.Equal(t, arrival, f.nextMessage(t).Timestamp)
}

func TestDispatch_GroupIdentityIgnoresRecipientOrder(t *testing.T) {
	f := newFixture(t)

	first := &gadu.Message{
		Sender:     300,
		Plain:      []byte("hello"),
		Conference: &gadu.Conference{Recipients: []uint32{100, 200}},
	}
	require.NoError(t, f.dispatcher.Dispatch(first))
	a := f.nextMessage(t)

	// Same conversation seen through a different recipient ordering, with
	// another member speaking.
	second := &gadu.Message{
		Sender:     200,
		Plain:      []byte("hi back"),
		Conference: &gadu.Conference{Recipients: []uint32{300, 100}},
	}
	require.NoError(t, f.dispatcher.Dispatch(second))
	b := f.nextMessage(t)

	assert.Same(t, a.Channel, b.Channel)
	assert.Equal(t, handle.TypeRoom, a.Channel.Target.Type)
	assert.Equal(t, "100, 200, 300", a.Channel.Target.Name)
}

func TestDispatch_GroupMembershipAnnouncedOnce(t *testing.T) {
	f := newFixture(t)

	msg := &gadu.Message{
		Sender:     300,
		Plain:      []byte("hello"),
		Conference: &gadu.Conference{Recipients: []uint32{100, 200}},
	}
	require.NoError(t, f.dispatcher.Dispatch(msg))
	require.NoError(t, f.dispatcher.Dispatch(msg))

	var memberEvents []event.MembersChanged
	deadline := time.After(time.Second)
	delivered := 0
	for delivered < 2 {
		select {
		case evt := <-f.events:
			switch e := evt.(type) {
			case event.MembersChanged:
				memberEvents = append(memberEvents, e)
			case event.MessageReceived:
				delivered++
			}
		case <-deadline:
			t.Fatal("messages not delivered")
		}
	}

	require.Len(t, memberEvents, 1)
	assert.Equal(t, event.ChangeReasonNone, memberEvents[0].Reason)
	require.Len(t, memberEvents[0].Added, 3)
	names := make([]string, len(memberEvents[0].Added))
	for i, h := range memberEvents[0].Added {
		names[i] = h.Name
	}
	assert.Equal(t, []string{"100", "200", "300"}, names)
	assert.Len(t, memberEvents[0].Channel.Members(), 3)
}
