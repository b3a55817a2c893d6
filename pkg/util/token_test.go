package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(16)
	require.NoError(t, err)
	require.Len(t, a, 32)

	b, err := RandomHex(16)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
