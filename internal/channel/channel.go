// ABOUTME: Conversation channel model resolved from a normalized property key.
// ABOUTME: Text channels carry a target handle and, for groups, a member set.

package channel

import (
	"sync"

	"github.com/2389/gadu-bridge/internal/handle"
)

// Kind identifies the channel flavor.
type Kind int

const (
	KindText Kind = iota + 1
	KindContactList
)

// String returns a human-readable name for the channel kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindContactList:
		return "contact-list"
	default:
		return "unknown"
	}
}

// Props is the normalized property key a channel is resolved from.
// Member handles are deliberately not part of the key: two resolutions with
// the same target must yield the same channel regardless of membership.
type Props struct {
	Kind        Kind
	TargetID    uint32
	TargetType  handle.Type
	Requested   bool
	InitiatorID uint32
}

// TextProps builds the property key for a text conversation with the given
// target handle.
func TextProps(target *handle.Handle) Props {
	return Props{
		Kind:       KindText,
		TargetID:   target.ID,
		TargetType: target.Type,
	}
}

// ListProps builds the property key for a contact-list channel owned by the
// given list or group handle.
func ListProps(target *handle.Handle) Props {
	return Props{
		Kind:       KindContactList,
		TargetID:   target.ID,
		TargetType: target.Type,
	}
}

// Channel is a live conversation context. It weakly references its target
// and member handles: the registry owns them, the channel only looks them up.
type Channel struct {
	Props     Props
	Target    *handle.Handle
	Initiator *handle.Handle

	mu      sync.RWMutex
	members map[uint32]*handle.Handle
}

// AddMembers records handles as members of a group text channel.
func (c *Channel) AddMembers(hs ...*handle.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.members == nil {
		c.members = make(map[uint32]*handle.Handle, len(hs))
	}
	for _, h := range hs {
		c.members[h.ID] = h
	}
}

// Members returns the current member handles. Order is unspecified.
func (c *Channel) Members() []*handle.Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*handle.Handle, 0, len(c.members))
	for _, h := range c.members {
		out = append(out, h)
	}
	return out
}
