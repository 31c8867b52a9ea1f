// ABOUTME: Legacy codepage handling for plain-text message payloads.

package gadu

import (
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

// DecodeLegacyText converts a windows-1250 payload to UTF-8. The protocol's
// plain-text bodies still use the legacy single-byte codepage.
func DecodeLegacyText(b []byte) (string, error) {
	out, err := charmap.Windows1250.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decoding windows-1250 payload: %w", err)
	}
	return string(out), nil
}
