package utils

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppDataDirUsesXDGOnLinux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux-specific path layout")
	}
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-test")

	dir, err := AppDataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/xdg-test", AppID), dir)
}

func TestStopFileLifecycle(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("uses XDG_DATA_HOME override")
	}
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	assert.False(t, StopFileExists())

	require.NoError(t, CreateStopFile())
	assert.True(t, StopFileExists())

	path, err := StopFilePath()
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, RemoveStopFile())
	assert.False(t, StopFileExists())

	// Removing twice must not error.
	require.NoError(t, RemoveStopFile())
}
