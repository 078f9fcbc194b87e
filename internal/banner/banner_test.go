package banner

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShow_Embedded(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Show(&buf, t.TempDir()))
	assert.Contains(t, buf.String(), "service base")
}

func TestShow_LocalOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LocalFile), []byte("my banner"), 0o600))
	var buf bytes.Buffer
	require.NoError(t, Show(&buf, dir))
	assert.Equal(t, "my banner\n", buf.String())
}
