package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcTable_LivePIDs(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"1", "100", "4821", "self", "sys", "net"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, name), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "uptime"), []byte("1.0 1.0\n"), 0o644))

	pt, err := NewProcTable(root)
	require.NoError(t, err)

	pids, err := pt.LivePIDs()
	require.NoError(t, err)
	assert.Equal(t, 3, pids.Len())
	assert.True(t, pids.HasAll(1, 100, 4821))
	assert.False(t, pids.Has(4822))
}

func TestNewProcTable_MissingRoot(t *testing.T) {
	_, err := NewProcTable(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
