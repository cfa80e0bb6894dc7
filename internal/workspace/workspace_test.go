package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_CreatesAllDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, Initialize(tmpDir))

	for _, dir := range []string{"data", "events", "schemas"} {
		info, err := os.Stat(filepath.Join(tmpDir, dir))
		require.NoError(t, err, "Directory %s should exist", dir)
		assert.True(t, info.IsDir(), "%s should be a directory", dir)
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm(), "Directory %s should have 0700 permissions", dir)
	}
}

func TestInitialize_IdempotentCalls(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, Initialize(tmpDir))
	assert.NoError(t, Initialize(tmpDir), "Second initialize should be idempotent")
}

func TestInitialize_InvalidPath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	assert.Error(t, Initialize(filepath.Join(blocker, "ws")))
}

func TestIsInitialized(t *testing.T) {
	tmpDir := t.TempDir()

	ok, err := IsInitialized(tmpDir)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "events"), 0700))
	ok, err = IsInitialized(tmpDir)
	require.NoError(t, err)
	assert.False(t, ok, "partially initialized workspace")

	require.NoError(t, Initialize(tmpDir))
	ok, err = IsInitialized(tmpDir)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLayout(t *testing.T) {
	l := Layout{Root: "/srv/autopilot"}

	assert.Equal(t, "/srv/autopilot/data/autopilot.db", l.DatabasePath())
	assert.Equal(t, "/srv/autopilot/events", l.EventsPath())
	assert.Equal(t, "/srv/autopilot/schemas", l.SchemasPath())
	assert.Equal(t, "/srv/autopilot/db/custom.db", l.Resolve("db/custom.db"))
	assert.Equal(t, "/var/lib/a.db", l.Resolve("/var/lib/a.db"))
	assert.Equal(t, "", l.Resolve(""))
}
