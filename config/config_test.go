package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultsName)
	require.NoError(t, os.WriteFile(path, []byte(
		"runner: windows-amd64\ncompression: 19\ncleanup: true\nversioning: replace\n"), 0o644))

	defaults, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "windows-amd64", defaults.Runner)
	require.NotNil(t, defaults.Compression)
	assert.Equal(t, 19, *defaults.Compression)
	require.NotNil(t, defaults.Cleanup)
	assert.True(t, *defaults.Cleanup)
	assert.Equal(t, "replace", defaults.Versioning)
	assert.Nil(t, defaults.Once)
	assert.Empty(t, defaults.UnpackTarget)
}

func TestReadFileUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultsName)
	require.NoError(t, os.WriteFile(path, []byte("comperssion: 19\n"), 0o644))
	_, err := ReadFile(path)
	assert.Error(t, err)
}

func TestReadFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultsName)
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	defaults, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, &Defaults{}, defaults)
}

func TestLoadMissing(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	defer os.Chdir(wd)

	defaults, err := Load()
	require.NoError(t, err)
	assert.Equal(t, &Defaults{}, defaults)
}
