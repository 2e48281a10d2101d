package chart

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustOpen(t *testing.T, path string) *bytes.Reader {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return bytes.NewReader(b)
}
