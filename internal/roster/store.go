// ABOUTME: SQLite-backed persistence for the local contact list.
// ABOUTME: Stores roster snapshots; schema is created automatically.

package roster

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Contact is a persisted roster entry.
type Contact struct {
	UIN   uint32
	Name  string
	Group string
}

// Group is a persisted roster group.
type Group struct {
	Name string
}

// Snapshot is an immutable copy of the roster, safe to hand to a worker
// goroutine while the session keeps mutating its live state.
type Snapshot struct {
	Contacts []Contact
	Groups   []Group
}

// Store persists roster snapshots in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
	uin INTEGER PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	grp TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS groups (
	name TEXT PRIMARY KEY
);
`

// Open creates or opens a roster database at the given path. Parent
// directories are created if needed. ":memory:" opens an in-memory store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "roster")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating roster directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening roster database: %w", err)
	}
	// Single-writer database; one connection also keeps ":memory:" coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating roster schema: %w", err)
	}

	logger.Debug("roster store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Count returns the number of stored contacts. A zero count on login
// triggers a one-time import from the server.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting contacts: %w", err)
	}
	return n, nil
}

// Load reads the full roster.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	rows, err := s.db.QueryContext(ctx, `SELECT uin, name, grp FROM contacts ORDER BY uin`)
	if err != nil {
		return nil, fmt.Errorf("loading contacts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.UIN, &c.Name, &c.Group); err != nil {
			return nil, fmt.Errorf("scanning contact: %w", err)
		}
		snap.Contacts = append(snap.Contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating contacts: %w", err)
	}

	groupRows, err := s.db.QueryContext(ctx, `SELECT name FROM groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("loading groups: %w", err)
	}
	defer groupRows.Close()
	for groupRows.Next() {
		var g Group
		if err := groupRows.Scan(&g.Name); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		snap.Groups = append(snap.Groups, g)
	}
	if err := groupRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating groups: %w", err)
	}

	return snap, nil
}

// SaveSnapshot transactionally replaces the stored roster with the snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning roster transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM contacts`); err != nil {
		return fmt.Errorf("clearing contacts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM groups`); err != nil {
		return fmt.Errorf("clearing groups: %w", err)
	}

	for _, c := range snap.Contacts {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO contacts (uin, name, grp) VALUES (?, ?, ?)`,
			c.UIN, c.Name, c.Group,
		); err != nil {
			return fmt.Errorf("inserting contact %d: %w", c.UIN, err)
		}
	}
	for _, g := range snap.Groups {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO groups (name) VALUES (?)`,
			g.Name,
		); err != nil {
			return fmt.Errorf("inserting group %q: %w", g.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing roster: %w", err)
	}

	s.logger.Debug("roster saved", "contacts", len(snap.Contacts), "groups", len(snap.Groups))
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
