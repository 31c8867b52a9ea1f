// ABOUTME: Session lifecycle: endpoint discovery, login, roster loops, typing.
// ABOUTME: Owns the wire client and turns its callbacks into bus notifications.

package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/2389/gadu-bridge/internal/avatar"
	"github.com/2389/gadu-bridge/internal/channel"
	"github.com/2389/gadu-bridge/internal/discovery"
	"github.com/2389/gadu-bridge/internal/dispatch"
	"github.com/2389/gadu-bridge/internal/event"
	"github.com/2389/gadu-bridge/internal/gadu"
	"github.com/2389/gadu-bridge/internal/handle"
	"github.com/2389/gadu-bridge/internal/roster"
)

const (
	plainPort = "8074"
	tlsPort   = "443"

	rosterSyncInterval   = 5 * time.Second
	rosterExportInterval = 30 * time.Second
	defaultTypingReset   = 3 * time.Second

	// subscribeListName is the well-known contact list every roster entry
	// belongs to.
	subscribeListName = "subscribe"
)

// Settings carries the per-account connection parameters.
type Settings struct {
	UIN            uint32
	Password       string
	ExportContacts bool

	// ServerAddr, when UseSpecifiedServer is set, bypasses endpoint
	// discovery entirely.
	ServerAddr         string
	UseTLS             bool
	UseSpecifiedServer bool
}

// Session drives one account's connection. It moves through disconnected,
// connecting and connected, and every transition is published with the
// reason that caused it.
type Session struct {
	settings Settings
	resolver *discovery.Resolver
	dialer   gadu.Dialer

	registry   *handle.Registry
	channels   *channel.Multiplexer
	dispatcher *dispatch.Dispatcher
	avatars    *avatar.Pipeline
	store      *roster.Store
	bus        *event.Bus
	logger     *slog.Logger

	// onLost reports a fatal transport loss upward. Set by the manager.
	onLost func(error)
	// onGone reports that this session left the connected set.
	onGone func(*Session)

	typingResetDelay time.Duration

	mu        sync.Mutex
	status    event.Status
	client    gadu.Client
	self      *handle.Handle
	snapshot  *roster.Snapshot
	stopLoops context.CancelFunc
	knownUINs map[uint32]struct{}
}

// New creates a disconnected session. The self handle is registered
// immediately so the account is addressable before login.
func New(settings Settings, resolver *discovery.Resolver, dialer gadu.Dialer,
	registry *handle.Registry, channels *channel.Multiplexer, dispatcher *dispatch.Dispatcher,
	avatars *avatar.Pipeline, store *roster.Store, bus *event.Bus, logger *slog.Logger) *Session {

	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		settings:         settings,
		resolver:         resolver,
		dialer:           dialer,
		registry:         registry,
		channels:         channels,
		dispatcher:       dispatcher,
		avatars:          avatars,
		store:            store,
		bus:              bus,
		logger:           logger.With("component", "session", "uin", settings.UIN),
		typingResetDelay: defaultTypingReset,
		status:           event.StatusDisconnected,
		knownUINs:        make(map[uint32]struct{}),
	}
	s.self = registry.ResolveOrCreate(handle.TypeSelf, formatUIN(settings.UIN))
	return s
}

// Self returns the handle representing the logged-in account.
func (s *Session) Self() *handle.Handle { return s.self }

// Status returns the current lifecycle state.
func (s *Session) Status() event.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Connect starts the login flow. Calling it in any state other than
// disconnected does nothing.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.status != event.StatusDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.status = event.StatusConnecting
	s.mu.Unlock()

	s.bus.Publish(event.StatusChanged{Status: event.StatusConnecting, Reason: event.ReasonRequested})

	addr, err := s.endpoint(ctx)
	if err != nil {
		s.logger.Error("endpoint discovery failed", "error", err)
		s.disconnect(event.ReasonNetworkError)
		return err
	}

	profile := &gadu.Profile{
		UIN:      s.settings.UIN,
		Password: s.settings.Password,
		Status:   gadu.StatusInvisible,

		OnLoginSuccess:        func() { s.onLoginSuccess(ctx) },
		OnLoginFailure:        s.onLoginFailure,
		OnContactStatusChange: s.onContactStatus,
		OnMessageReceived:     s.onMessage,
		OnTypingNotification:  s.onTyping,
		OnXMLAction:           s.onXMLAction,
		OnUserData:            s.onUserData,
		OnConnectionLost:      s.onConnectionLost,
	}

	client, err := s.dialer.Dial(ctx, addr, s.settings.UseTLS, profile)
	if err != nil {
		s.logger.Error("connect failed", "addr", addr, "error", err)
		s.disconnect(event.ReasonNetworkError)
		return err
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	return nil
}

// Disconnect tears the session down at the user's request. Idempotent.
func (s *Session) Disconnect() {
	s.disconnect(event.ReasonRequested)
}

// endpoint picks the server address, either the configured one or the one
// the discovery service assigns.
func (s *Session) endpoint(ctx context.Context) (string, error) {
	if s.settings.UseSpecifiedServer {
		return s.settings.ServerAddr, nil
	}
	host, err := s.resolver.Resolve(ctx, s.settings.UIN)
	if err != nil {
		return "", err
	}
	port := plainPort
	if s.settings.UseTLS {
		port = tlsPort
	}
	return net.JoinHostPort(host, port), nil
}

// onLoginSuccess finishes the connect flow. The connected transition is
// announced last, after the roster is seeded and the periodic loops are
// running, so subscribers observing Connected see a fully populated session.
func (s *Session) onLoginSuccess(ctx context.Context) {
	s.logger.Info("logged in")

	loopCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.status != event.StatusConnecting {
		s.mu.Unlock()
		cancel()
		return
	}
	s.stopLoops = cancel
	s.mu.Unlock()

	if err := s.seedRoster(ctx); err != nil {
		s.logger.Warn("roster seed failed", "error", err)
	}

	go s.syncLoop(loopCtx)
	if s.settings.ExportContacts {
		go s.exportLoop(loopCtx)
	}

	s.mu.Lock()
	if s.status != event.StatusConnecting {
		// Torn down while seeding; the disconnect already announced itself.
		s.mu.Unlock()
		return
	}
	s.status = event.StatusConnected
	s.mu.Unlock()

	s.bus.Publish(event.StatusChanged{Status: event.StatusConnected, Reason: event.ReasonRequested})
}

func (s *Session) onLoginFailure(reason string) {
	s.logger.Error("login rejected", "reason", reason)
	s.disconnect(event.ReasonAuthenticationFailed)
}

func (s *Session) onConnectionLost(err error) {
	s.logger.Error("transport lost", "error", err)
	s.disconnect(event.ReasonNetworkError)
	if s.onLost != nil {
		s.onLost(fmt.Errorf("session %d: transport lost: %w", s.settings.UIN, err))
	}
}

func (s *Session) onContactStatus(change gadu.StatusChange) {
	contact := s.registry.ResolveOrCreate(handle.TypeContact, formatUIN(change.UIN))
	s.bus.Publish(event.PresenceChanged{
		Contact:     contact,
		Status:      change.Status,
		Description: change.Description,
	})
}

func (s *Session) onMessage(msg *gadu.Message) {
	// Dispatch errors are already logged and must not tear the session down.
	_ = s.dispatcher.Dispatch(msg)
}

// onTyping maps keyboard activity onto chat states. Unknown contacts are
// ignored outright; typing packets must not mint handles. An activity burst
// also arms a one-shot fallback to paused, so a contact who silently stops
// composing does not look active forever. The fallback deliberately fires
// even if more activity arrived in between; the next burst re-announces
// composing anyway.
func (s *Session) onTyping(n gadu.TypingNotification) {
	contact, ok := s.registry.Lookup(handle.TypeContact, formatUIN(n.UIN))
	if !ok {
		return
	}
	ch, _ := s.channels.ResolveOrCreate(channel.TextProps(contact), contact, contact, true)

	if n.Type == 0 {
		s.bus.Publish(event.ChatStateChanged{Channel: ch, Contact: contact, State: event.ChatStatePaused})
		return
	}

	s.bus.Publish(event.ChatStateChanged{Channel: ch, Contact: contact, State: event.ChatStateComposing})
	time.AfterFunc(s.typingResetDelay, func() {
		s.bus.Publish(event.ChatStateChanged{Channel: ch, Contact: contact, State: event.ChatStatePaused})
	})
}

// onXMLAction watches server events for avatar change notices and triggers
// a fetch for contacts we actually know.
func (s *Session) onXMLAction(action gadu.XMLAction) {
	update, err := gadu.ParseAvatarUpdate(action.Data)
	if err != nil {
		s.logger.Debug("ignoring malformed server event", "error", err)
		return
	}
	if update == nil {
		return
	}

	contact, ok := s.registry.Lookup(handle.TypeContact, formatUIN(update.Sender))
	if !ok {
		return
	}
	s.avatars.FetchImage(context.Background(), contact, update.URL)
}

// onUserData reacts to pushed contact attributes. An avatar attribute means
// the contact has one worth fetching.
func (s *Session) onUserData(data gadu.UserData) {
	if data.Attributes["avatar"] == "" {
		return
	}
	contact, ok := s.registry.Lookup(handle.TypeContact, formatUIN(data.UIN))
	if !ok {
		return
	}
	s.avatars.Request(context.Background(), contact)
}

// seedRoster loads the persisted roster, imports from the server when the
// local copy is empty, and materializes the contact-list channels.
func (s *Session) seedRoster(ctx context.Context) error {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return err
	}

	if len(snap.Contacts) == 0 {
		client := s.currentClient()
		if client == nil {
			return nil
		}
		contacts, groups, err := client.ImportContacts(ctx)
		if err != nil {
			return fmt.Errorf("importing contacts: %w", err)
		}
		snap = &roster.Snapshot{}
		for _, c := range contacts {
			snap.Contacts = append(snap.Contacts, roster.Contact{UIN: c.UIN, Name: c.Name, Group: c.Group})
		}
		for _, g := range groups {
			snap.Groups = append(snap.Groups, roster.Group{Name: g.Name})
		}
		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			s.logger.Warn("persisting imported roster failed", "error", err)
		}
	}

	s.applySnapshot(snap)
	return nil
}

// applySnapshot reconciles the live channel membership with a roster
// snapshot, announcing list channels and membership additions.
func (s *Session) applySnapshot(snap *roster.Snapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()

	listHandle := s.registry.ResolveOrCreate(handle.TypeList, subscribeListName)
	listChannel, _ := s.channels.ResolveOrCreate(channel.ListProps(listHandle), listHandle, s.self, true)

	groupChannels := make(map[string]*channel.Channel, len(snap.Groups))
	for _, g := range snap.Groups {
		gh := s.registry.ResolveOrCreate(handle.TypeGroup, g.Name)
		gc, _ := s.channels.ResolveOrCreate(channel.ListProps(gh), gh, s.self, true)
		groupChannels[g.Name] = gc
	}

	var added []*handle.Handle
	s.mu.Lock()
	known := s.knownUINs
	s.mu.Unlock()

	for _, c := range snap.Contacts {
		contact := s.registry.ResolveOrCreate(handle.TypeContact, formatUIN(c.UIN))
		if _, seen := known[c.UIN]; !seen {
			added = append(added, contact)
		}
		listChannel.AddMembers(contact)
		if gc, ok := groupChannels[c.Group]; ok {
			gc.AddMembers(contact)
		}
	}

	if len(added) > 0 {
		s.mu.Lock()
		for _, h := range added {
			uin, _ := strconv.ParseUint(h.Name, 10, 32)
			s.knownUINs[uint32(uin)] = struct{}{}
		}
		s.mu.Unlock()
		s.bus.Publish(event.MembersChanged{
			Channel: listChannel,
			Added:   added,
			Reason:  event.ChangeReasonNone,
		})
	}
}

// syncLoop periodically re-imports the server-side roster and reconciles it
// with local state.
func (s *Session) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(rosterSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

func (s *Session) syncOnce(ctx context.Context) {
	client := s.currentClient()
	if client == nil {
		return
	}
	contacts, groups, err := client.ImportContacts(ctx)
	if err != nil {
		s.logger.Warn("roster sync failed", "error", err)
		return
	}

	snap := &roster.Snapshot{}
	for _, c := range contacts {
		snap.Contacts = append(snap.Contacts, roster.Contact{UIN: c.UIN, Name: c.Name, Group: c.Group})
	}
	for _, g := range groups {
		snap.Groups = append(snap.Groups, roster.Group{Name: g.Name})
	}

	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		s.logger.Warn("persisting roster failed", "error", err)
	}
	s.applySnapshot(snap)
}

// exportLoop periodically uploads the roster back to the server so other
// clients of the same account stay in sync.
func (s *Session) exportLoop(ctx context.Context) {
	ticker := time.NewTicker(rosterExportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.exportOnce(ctx)
		}
	}
}

func (s *Session) exportOnce(ctx context.Context) {
	client := s.currentClient()
	if client == nil {
		return
	}

	s.mu.Lock()
	snap := s.snapshot
	s.mu.Unlock()
	if snap == nil {
		return
	}

	payload, err := roster.EncodeXML(snap)
	if err != nil {
		s.logger.Warn("encoding roster failed", "error", err)
		return
	}
	if err := client.ExportContacts(ctx, payload); err != nil {
		s.logger.Warn("contact export failed", "error", err)
	}
}

func (s *Session) currentClient() gadu.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// disconnect performs the shared teardown. Safe to call repeatedly and from
// any state; only the first call in a connected or connecting state does
// work.
func (s *Session) disconnect(reason event.Reason) {
	s.mu.Lock()
	if s.status == event.StatusDisconnected {
		s.mu.Unlock()
		return
	}
	s.status = event.StatusDisconnected
	client := s.client
	s.client = nil
	cancel := s.stopLoops
	s.stopLoops = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		if err := client.Close(); err != nil {
			s.logger.Warn("closing client", "error", err)
		}
	}

	s.logger.Info("disconnected", "reason", reason.String())
	s.bus.Publish(event.StatusChanged{Status: event.StatusDisconnected, Reason: reason})

	if s.onGone != nil {
		s.onGone(s)
	}
}

func formatUIN(uin uint32) string {
	return strconv.FormatUint(uint64(uin), 10)
}
