// ABOUTME: Matrix relay frontend: mirrors bridge notifications into a room
// ABOUTME: and turns prefixed room commands into outbound protocol messages.

package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	mxevent "maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/gadu-bridge/internal/channel"
	"github.com/2389/gadu-bridge/internal/config"
	"github.com/2389/gadu-bridge/internal/event"
	"github.com/2389/gadu-bridge/internal/handle"
)

// typingTimeout is how long a relayed typing indicator stays visible.
const typingTimeout = 5 * time.Second

// Sender is the slice of session behavior the relay drives for outbound
// traffic.
type Sender interface {
	RequestHandles(t handle.Type, names []string) ([]*handle.Handle, error)
	RequestChannel(t handle.Type, id uint32) (*channel.Channel, error)
	SendText(ctx context.Context, ch *channel.Channel, text string) error
}

// Relay connects the bridge's notification stream to a Matrix room.
type Relay struct {
	cfg    config.MatrixConfig
	client *mautrix.Client
	bus    *event.Bus
	sender Sender
	logger *slog.Logger

	roomID id.RoomID
}

// New creates a relay for the configured room.
func New(cfg config.MatrixConfig, bus *event.Bus, sender Sender, logger *slog.Logger) (*Relay, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		cfg:    cfg,
		client: client,
		bus:    bus,
		sender: sender,
		logger: logger.With("component", "matrix"),
		roomID: id.RoomID(cfg.RoomID),
	}, nil
}

// Run starts the relay and blocks until the context is cancelled or the
// sync loop fails.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("starting matrix relay",
		"homeserver", r.cfg.Homeserver,
		"user_id", r.cfg.UserID,
		"room", r.cfg.RoomID,
	)

	syncer, ok := r.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", r.client.Syncer)
	}
	syncer.OnEventType(mxevent.EventMessage, r.handleRoomMessage)

	events, subID := r.bus.Subscribe(ctx)
	defer r.bus.Unsubscribe(subID)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- r.client.SyncWithContext(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("shutting down matrix relay")
			return nil
		case err := <-syncErr:
			return fmt.Errorf("matrix sync failed: %w", err)
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			r.relay(ctx, evt)
		}
	}
}

// relay mirrors one bridge notification into the room.
func (r *Relay) relay(ctx context.Context, evt event.Event) {
	switch e := evt.(type) {
	case event.MessageReceived:
		text := fmt.Sprintf("%s: %s", e.Sender.Name, e.Text)
		if e.Channel.Target.Type == handle.TypeRoom {
			text = fmt.Sprintf("[%s] %s", e.Channel.Target.Name, text)
		}
		if _, err := r.client.SendText(ctx, r.roomID, text); err != nil {
			r.logger.Warn("relaying message failed", "error", err)
		}

	case event.ChatStateChanged:
		typing := e.State == event.ChatStateComposing
		if _, err := r.client.UserTyping(ctx, r.roomID, typing, typingTimeout); err != nil {
			r.logger.Debug("relaying typing state failed", "error", err)
		}

	case event.StatusChanged:
		notice := fmt.Sprintf("bridge %s", e.Status)
		if e.Reason != event.ReasonNone {
			notice = fmt.Sprintf("%s (%s)", notice, e.Reason)
		}
		if _, err := r.client.SendNotice(ctx, r.roomID, notice); err != nil {
			r.logger.Debug("relaying status failed", "error", err)
		}

	case event.PresenceChanged:
		r.logger.Debug("presence changed",
			"contact", e.Contact.Name, "status", e.Status, "description", e.Description)

	case event.AvatarRetrieved:
		r.logger.Debug("avatar retrieved", "contact", e.Contact.Name, "token", e.Token)
	}
}

// handleRoomMessage turns a prefixed room command into an outbound message.
// The command shape is "<prefix> <account-number> <text>".
func (r *Relay) handleRoomMessage(ctx context.Context, evt *mxevent.Event) {
	if evt.Sender == id.UserID(r.cfg.UserID) {
		return
	}
	if evt.RoomID != r.roomID {
		return
	}

	content, ok := evt.Content.Parsed.(*mxevent.MessageEventContent)
	if !ok || content.MsgType != mxevent.MsgText {
		return
	}

	body := content.Body
	if !strings.HasPrefix(body, r.cfg.CommandPrefix) {
		return
	}
	body = strings.TrimSpace(strings.TrimPrefix(body, r.cfg.CommandPrefix))

	recipient, text, err := splitCommand(body)
	if err != nil {
		r.logger.Debug("ignoring malformed command", "body", body, "error", err)
		return
	}

	go func() {
		if err := r.deliver(ctx, recipient, text); err != nil {
			r.logger.Warn("outbound delivery failed", "recipient", recipient, "error", err)
			_, _ = r.client.SendNotice(ctx, r.roomID, fmt.Sprintf("delivery to %s failed: %v", recipient, err))
		}
	}()
}

func (r *Relay) deliver(ctx context.Context, recipient, text string) error {
	handles, err := r.sender.RequestHandles(handle.TypeContact, []string{recipient})
	if err != nil {
		return err
	}
	ch, err := r.sender.RequestChannel(handle.TypeContact, handles[0].ID)
	if err != nil {
		return err
	}
	return r.sender.SendText(ctx, ch, text)
}

// splitCommand parses "<account-number> <text>".
func splitCommand(body string) (recipient, text string, err error) {
	parts := strings.SplitN(body, " ", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return "", "", fmt.Errorf("expected \"<account-number> <text>\"")
	}
	if _, err := strconv.ParseUint(parts[0], 10, 32); err != nil {
		return "", "", fmt.Errorf("%q is not an account number", parts[0])
	}
	return parts[0], strings.TrimSpace(parts[1]), nil
}
