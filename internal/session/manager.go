// ABOUTME: Tracks live sessions and decides when the process should stop.
// ABOUTME: Transport loss is fatal; an empty session set ends the run.

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNoActiveSessions signals that every session disconnected and the
// process has nothing left to do.
var ErrNoActiveSessions = errors.New("no active sessions")

const livenessInterval = 5 * time.Second

// Manager owns the session set. Run blocks until the run should end, either
// because the context was cancelled, a session hit a fatal transport error,
// or no session remains connected.
type Manager struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[uint32]*Session

	fatal chan error
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger.With("component", "sessions"),
		sessions: make(map[uint32]*Session),
		fatal:    make(chan error, 1),
	}
}

// Add registers a session and wires its lifecycle callbacks.
func (m *Manager) Add(s *Session) {
	s.onLost = m.Fatal
	s.onGone = m.sessionGone

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.settings.UIN] = s
}

// ActiveCount reports how many sessions are still tracked.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Fatal records an unrecoverable error. The first one wins; Run returns it.
func (m *Manager) Fatal(err error) {
	select {
	case m.fatal <- err:
	default:
	}
}

func (m *Manager) sessionGone(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.settings.UIN)
	m.logger.Info("session removed", "uin", s.settings.UIN, "remaining", len(m.sessions))
}

// Run blocks until the process should stop. A nil return means the context
// ended; any error return should translate to a non-zero exit.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.disconnectAll()
			return nil
		case err := <-m.fatal:
			m.disconnectAll()
			return err
		case <-ticker.C:
			if m.ActiveCount() == 0 {
				m.logger.Info("all sessions gone, stopping")
				return ErrNoActiveSessions
			}
		}
	}
}

func (m *Manager) disconnectAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Disconnect()
	}
}
