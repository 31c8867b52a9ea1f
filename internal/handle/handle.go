// ABOUTME: Registry of addressable identities (contacts, rooms, lists, groups).
// ABOUTME: Deduplicates handles per (type, name) and assigns session-unique ids.

package handle

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrUnknownHandle indicates a lookup by id found no matching handle.
var ErrUnknownHandle = errors.New("unknown handle")

// Type classifies what a handle addresses.
type Type int

const (
	TypeContact Type = iota + 1
	TypeRoom
	TypeList
	TypeGroup
	TypeSelf
)

// String returns a human-readable name for the handle type.
func (t Type) String() string {
	switch t {
	case TypeContact:
		return "contact"
	case TypeRoom:
		return "room"
	case TypeList:
		return "list"
	case TypeGroup:
		return "group"
	case TypeSelf:
		return "self"
	default:
		return "unknown"
	}
}

// Handle is the identity record for an addressable entity. For contacts the
// name is the account number as text. Handles live for the duration of the
// owning session and are never destroyed individually.
type Handle struct {
	Type Type
	ID   uint32
	Name string
}

// Registry maps external identity strings to handles. At most one live
// handle exists per (type, name) pair; ids come from a single monotonically
// increasing counter shared across all types and are never reused.
type Registry struct {
	mu      sync.RWMutex
	handles []*Handle
	nextID  uint32
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		nextID: 1,
		logger: logger.With("component", "handles"),
	}
}

// ResolveOrCreate returns the existing handle for (t, name) or registers a
// new one. The found path has no side effects.
func (r *Registry) ResolveOrCreate(t Type, name string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h := r.findLocked(t, name); h != nil {
		return h
	}

	h := &Handle{Type: t, ID: r.nextID, Name: name}
	r.nextID++
	r.handles = append(r.handles, h)

	r.logger.Debug("handle created", "type", t.String(), "id", h.ID, "name", name)
	return h
}

// Lookup returns the handle for (t, name) if one exists.
func (r *Registry) Lookup(t Type, name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h := r.findLocked(t, name)
	return h, h != nil
}

// ByID returns the handle with the given type and id, or ErrUnknownHandle.
// Used for presentation-layer capability checks.
func (r *Registry) ByID(t Type, id uint32) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.handles {
		if h.Type == t && h.ID == id {
			return h, nil
		}
	}
	return nil, ErrUnknownHandle
}

// Len reports the number of registered handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// findLocked is the linear scan shared by resolution and lookup.
// Must be called with mu held.
func (r *Registry) findLocked(t Type, name string) *Handle {
	for _, h := range r.handles {
		if h.Type == t && h.Name == name {
			return h
		}
	}
	return nil
}
