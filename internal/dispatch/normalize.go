// ABOUTME: Inbound message payload normalization to clean UTF-8 text.
// ABOUTME: Prefers the marked-up variant, falls back to the legacy codepage.

package dispatch

import (
	"errors"
	"html"
	"strings"

	"maunium.net/go/mautrix/format"

	"github.com/2389/gadu-bridge/internal/gadu"
)

// ErrEmptyMessage indicates a message carried no usable payload.
var ErrEmptyMessage = errors.New("message has no payload")

// stripControl removes the NUL padding and carriage returns the wire
// payloads carry.
var stripControl = strings.NewReplacer("\x00", "", "\r", "")

// Normalize produces the delivery text for an inbound message. The marked-up
// variant, when present, is flattened to plain text; otherwise the legacy
// payload is decoded from windows-1250. Entity references are decoded on
// both paths, and NUL bytes and carriage returns are dropped either way.
func Normalize(msg *gadu.Message) (string, error) {
	var text string
	switch {
	case msg.HTML != "":
		text = format.HTMLToText(msg.HTML)
	case len(msg.Plain) > 0:
		decoded, err := gadu.DecodeLegacyText(msg.Plain)
		if err != nil {
			return "", err
		}
		text = html.UnescapeString(decoded)
	default:
		return "", ErrEmptyMessage
	}
	return stripControl.Replace(text), nil
}
