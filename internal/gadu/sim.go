// ABOUTME: In-process protocol client stand-in for development and E2E runs.
// ABOUTME: Confirms login immediately and echoes outbound messages inbound.

package gadu

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SimDialer yields SimClient instances without touching the network. It lets
// the whole bridge run end to end (frontends included) against a scripted
// peer, the same role the fake agent plays in gateway testing.
type SimDialer struct {
	logger *slog.Logger

	// Contacts seeds the simulated server-side roster returned by
	// ImportContacts.
	Contacts []Contact
	Groups   []Group
}

// NewSimDialer creates a simulator dialer with a small default roster.
func NewSimDialer(logger *slog.Logger) *SimDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimDialer{
		logger: logger.With("component", "sim"),
		Contacts: []Contact{
			{UIN: 1001, Name: "Echo", Group: "Dev"},
		},
		Groups: []Group{{Name: "Dev"}},
	}
}

// Dial ignores the address and returns a connected simulator client. Login
// success is reported asynchronously, as a real client would.
func (d *SimDialer) Dial(_ context.Context, addr string, _ bool, profile *Profile) (Client, error) {
	d.logger.Info("simulated connect", "addr", addr)

	c := &SimClient{
		dialer:  d,
		profile: profile,
		logger:  d.logger,
	}
	go func() {
		if profile.OnLoginSuccess != nil {
			profile.OnLoginSuccess()
		}
	}()
	return c, nil
}

// SimClient implements Client against an in-memory peer.
type SimClient struct {
	dialer  *SimDialer
	profile *Profile
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Close marks the client closed. Idempotent.
func (c *SimClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// ImportContacts returns the dialer's seeded roster.
func (c *SimClient) ImportContacts(_ context.Context) ([]Contact, []Group, error) {
	return c.dialer.Contacts, c.dialer.Groups, nil
}

// ExportContacts accepts and discards the payload.
func (c *SimClient) ExportContacts(_ context.Context, payload []byte) error {
	c.logger.Debug("simulated contact export", "bytes", len(payload))
	return nil
}

// SendMessage echoes the text back from the recipient after a short delay,
// so conversations round-trip through the dispatcher.
func (c *SimClient) SendMessage(_ context.Context, recipient uint32, text string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}

	go func() {
		time.Sleep(200 * time.Millisecond)
		if c.profile.OnMessageReceived != nil {
			c.profile.OnMessageReceived(&Message{
				Sender: recipient,
				Time:   time.Now(),
				Plain:  []byte(text),
			})
		}
	}()
	return nil
}

// UploadAvatar accepts and discards the avatar bytes.
func (c *SimClient) UploadAvatar(_ context.Context, data []byte, ext string) error {
	c.logger.Debug("simulated avatar upload", "bytes", len(data), "ext", ext)
	return nil
}
