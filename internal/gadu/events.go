// ABOUTME: Parsing of structured (XML) server action events.
// ABOUTME: Exposes typed results and explicit parse-error kinds, no catch-alls.

package gadu

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// actionAvatarChanged is the event type code a contact's avatar change
// arrives under.
const actionAvatarChanged = 28

// ParseError reports which stage of structured-event parsing failed. The
// dispatcher drops the event either way; the kind exists so failures are
// observable instead of swallowed.
type ParseError struct {
	Stage string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing event %s: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// AvatarUpdate is the decoded form of an avatar-changed action event.
type AvatarUpdate struct {
	Sender uint32
	URL    string
}

// xmlEvents mirrors the wire shape:
//
//	<events>
//	  <event id="...">
//	    <type>28</type>
//	    <sender>4634020</sender>
//	    <time>1270577383</time>
//	    <body></body>
//	    <bodyXML><smallAvatar>http://...</smallAvatar></bodyXML>
//	  </event>
//	</events>
type xmlEvents struct {
	Event xmlEvent `xml:"event"`
}

type xmlEvent struct {
	Type    string `xml:"type"`
	Sender  string `xml:"sender"`
	BodyXML struct {
		SmallAvatar string `xml:"smallAvatar"`
	} `xml:"bodyXML"`
}

// ParseAvatarUpdate decodes an action payload. It returns (nil, nil) for
// well-formed events of other types, and a *ParseError for malformed input.
func ParseAvatarUpdate(data string) (*AvatarUpdate, error) {
	var doc xmlEvents
	if err := xml.Unmarshal([]byte(data), &doc); err != nil {
		return nil, &ParseError{Stage: "document", Err: err}
	}

	if strings.TrimSpace(doc.Event.Type) != strconv.Itoa(actionAvatarChanged) {
		return nil, nil
	}

	sender, err := strconv.ParseUint(strings.TrimSpace(doc.Event.Sender), 10, 32)
	if err != nil {
		return nil, &ParseError{Stage: "sender", Err: err}
	}

	url := strings.TrimSpace(doc.Event.BodyXML.SmallAvatar)
	if url == "" {
		return nil, &ParseError{Stage: "avatar-url", Err: fmt.Errorf("empty smallAvatar element")}
	}

	return &AvatarUpdate{Sender: uint32(sender), URL: url}, nil
}
