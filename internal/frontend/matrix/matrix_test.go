// ABOUTME: Tests for room command parsing.

package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommand(t *testing.T) {
	recipient, text, err := splitCommand("4634020 hello there")
	require.NoError(t, err)
	assert.Equal(t, "4634020", recipient)
	assert.Equal(t, "hello there", text)
}

func TestSplitCommand_Errors(t *testing.T) {
	for _, body := range []string{"", "4634020", "4634020   ", "bob hi"} {
		_, _, err := splitCommand(body)
		assert.Error(t, err, "body %q", body)
	}
}
