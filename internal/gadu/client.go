// ABOUTME: Client and Dialer interfaces plus the connect-by-address transport.
// ABOUTME: Protocol drivers register their constructor database/sql style.

package gadu

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ErrNoClientDriver indicates no protocol driver registered a constructor.
var ErrNoClientDriver = errors.New("no protocol client driver registered")

// Client is the operational surface of a connected wire-protocol client.
// All methods may be called from any goroutine.
type Client interface {
	// Close asks the client to log out and tear the connection down
	// gracefully. Closing a closed client is a no-op.
	Close() error

	// ImportContacts fetches the server-side contact list.
	ImportContacts(ctx context.Context) ([]Contact, []Group, error)

	// ExportContacts uploads a serialized contact list to the server.
	ExportContacts(ctx context.Context, payload []byte) error

	// SendMessage sends a plain-text message to a contact.
	SendMessage(ctx context.Context, recipient uint32, text string) error

	// UploadAvatar publishes avatar bytes for the logged-in account.
	UploadAvatar(ctx context.Context, data []byte, ext string) error
}

// Dialer connects to a protocol endpoint and yields a client bound to the
// given profile. The client starts driving the profile callbacks as soon as
// the dial returns.
type Dialer interface {
	Dial(ctx context.Context, addr string, useTLS bool, profile *Profile) (Client, error)
}

// BuildFunc constructs a protocol client on an established connection.
// Implemented by the protocol driver library.
type BuildFunc func(conn net.Conn, profile *Profile) (Client, error)

var (
	driverMu sync.RWMutex
	driver   BuildFunc
)

// RegisterClient makes a protocol driver available to TransportDialer.
// It panics if called twice, matching database/sql driver registration.
func RegisterClient(fn BuildFunc) {
	driverMu.Lock()
	defer driverMu.Unlock()
	if driver != nil {
		panic("gadu: RegisterClient called twice")
	}
	driver = fn
}

func registeredDriver() BuildFunc {
	driverMu.RLock()
	defer driverMu.RUnlock()
	return driver
}

// TransportDialer implements connect-by-address, plain or TLS-encrypted,
// and hands the socket to the registered protocol driver.
type TransportDialer struct {
	Timeout time.Duration
	logger  *slog.Logger
}

// NewTransportDialer creates a dialer with a 30 second connect timeout.
func NewTransportDialer(logger *slog.Logger) *TransportDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransportDialer{
		Timeout: 30 * time.Second,
		logger:  logger.With("component", "transport"),
	}
}

// Dial opens the connection and builds the protocol client on it.
func (d *TransportDialer) Dial(ctx context.Context, addr string, useTLS bool, profile *Profile) (Client, error) {
	build := registeredDriver()
	if build == nil {
		return nil, ErrNoClientDriver
	}

	d.logger.Info("connecting", "addr", addr, "tls", useTLS)

	netDialer := &net.Dialer{Timeout: d.Timeout}
	var conn net.Conn
	var err error
	if useTLS {
		conn, err = (&tls.Dialer{NetDialer: netDialer}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	client, err := build(conn, profile)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("starting protocol client: %w", err)
	}
	return client, nil
}
