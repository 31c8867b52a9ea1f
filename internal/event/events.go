// ABOUTME: Presentation-layer notification contract: event types and codes.
// ABOUTME: Everything the bridge tells the presentation layer flows through these.

package event

import (
	"time"

	"github.com/2389/gadu-bridge/internal/channel"
	"github.com/2389/gadu-bridge/internal/handle"
)

// Status is the connection lifecycle state of a session.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Reason explains why a session reached its current status.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonRequested
	ReasonNetworkError
	ReasonAuthenticationFailed
)

// String returns a human-readable name for the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonRequested:
		return "requested"
	case ReasonNetworkError:
		return "network-error"
	case ReasonAuthenticationFailed:
		return "authentication-failed"
	default:
		return "unknown"
	}
}

// ChatState reports a contact's typing activity in a channel.
type ChatState int

const (
	ChatStatePaused ChatState = iota
	ChatStateComposing
)

// ChangeReason qualifies a membership change. Only ChangeReasonNone is
// produced today; the type exists so the contract can grow.
type ChangeReason int

const (
	ChangeReasonNone ChangeReason = iota
)

// Event is a notification delivered to presentation-layer subscribers.
type Event interface {
	event()
}

// StatusChanged reports a session lifecycle transition.
type StatusChanged struct {
	Status Status
	Reason Reason
}

// PresenceChanged reports a contact's protocol status change.
type PresenceChanged struct {
	Contact     *handle.Handle
	Status      int
	Description string
}

// NewChannel announces a channel materialized by the multiplexer.
type NewChannel struct {
	Channel *channel.Channel
}

// MembersChanged reports handles added to or removed from a group channel.
type MembersChanged struct {
	Channel *channel.Channel
	Added   []*handle.Handle
	Removed []*handle.Handle
	Reason  ChangeReason
}

// MessageReceived delivers a normalized inbound message. Seq is the
// per-session receive sequence, strictly increasing by one per delivery.
type MessageReceived struct {
	Channel   *channel.Channel
	Sender    *handle.Handle
	Seq       uint64
	Timestamp time.Time
	Text      string
}

// ChatStateChanged reports typing activity for a contact in a channel.
type ChatStateChanged struct {
	Channel *channel.Channel
	Contact *handle.Handle
	State   ChatState
}

// AvatarRetrieved delivers a fetched avatar. Token is the content token the
// presentation layer uses to cache the image.
type AvatarRetrieved struct {
	Contact  *handle.Handle
	Token    string
	Data     []byte
	MIMEType string
}

func (StatusChanged) event()    {}
func (PresenceChanged) event()  {}
func (NewChannel) event()       {}
func (MembersChanged) event()   {}
func (MessageReceived) event()  {}
func (ChatStateChanged) event() {}
func (AvatarRetrieved) event()  {}
