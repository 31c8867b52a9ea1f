// ABOUTME: Protocol-facing data types: contacts, messages, typing, status.
// ABOUTME: These mirror what the wire client delivers, before normalization.

package gadu

import "time"

// ClassOffline marks a message delivered from the server's offline queue.
// Such messages carry their original send time instead of arrival time.
const ClassOffline = 9

// StatusInvisible is the presence a session logs in with before the user's
// chosen presence is applied.
const StatusInvisible = 0x014

// Contact is a roster entry as the protocol reports it.
type Contact struct {
	UIN         uint32
	Name        string
	Group       string
	Status      int
	Description string
}

// Group is a roster group.
type Group struct {
	Name string
}

// Conference carries group-conversation metadata on a message.
type Conference struct {
	Recipients []uint32
}

// Message is an inbound protocol message. Plain holds the legacy
// single-byte-codepage payload; HTML, when present, holds the marked-up
// variant and takes precedence during normalization.
type Message struct {
	Sender     uint32
	Class      int
	Time       time.Time
	Plain      []byte
	HTML       string
	Conference *Conference
}

// TypingNotification reports a contact's keyboard activity. Type 0 means
// the contact paused; anything greater means they are composing.
type TypingNotification struct {
	UIN  uint32
	Type int
}

// StatusChange reports a contact's presence change.
type StatusChange struct {
	UIN         uint32
	Status      int
	Description string
}

// XMLAction is a structured server event delivered as a raw XML payload.
type XMLAction struct {
	Data string
}

// UserData is an attribute bundle the server pushes for a set of contacts.
type UserData struct {
	UIN        uint32
	Attributes map[string]string
}

// Profile holds the account credentials and the callback set the wire client
// drives. Callbacks are invoked from the client's read loop in the order the
// transport produced them. Nil callbacks are skipped by conforming clients.
type Profile struct {
	UIN      uint32
	Password string
	Status   int

	OnLoginSuccess        func()
	OnLoginFailure        func(reason string)
	OnContactStatusChange func(StatusChange)
	OnMessageReceived     func(*Message)
	OnTypingNotification  func(TypingNotification)
	OnXMLAction           func(XMLAction)
	OnUserData            func(UserData)

	// OnConnectionLost fires when the transport drops after a successful
	// dial. The session treats this as fatal.
	OnConnectionLost func(err error)
}
