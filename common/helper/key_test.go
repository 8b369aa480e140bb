package helper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactKey(t *testing.T) {
	t.Parallel()

	require.Empty(t, RedactKey(""))
	require.Equal(t, "a...a", RedactKey("abcda"))
	require.Equal(t, "abc...xyz", RedactKey("abcdefxyz"))
	require.Equal(t, "AIzaSy...klmnop", RedactKey("AIzaSyabcdefghijklmnop"))

	// The middle of a long key never appears in the output.
	redacted := RedactKey("AIzaSy-SECRET-MIDDLE-klmnop")
	require.NotContains(t, redacted, "SECRET")
	require.Contains(t, redacted, "...")
}
