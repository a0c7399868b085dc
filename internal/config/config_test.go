package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AbsentFileGivesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, cfg.Profile)
	assert.Zero(t, cfg.Threads)
	assert.False(t, cfg.FastMode)
}

func TestLoad_ParsesFields(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, Filename), []byte(`
db_path = "cache/index.db"
profile = "eco"
threads = 4
throttle_ms = 10
fast_mode = true
max_file_size_bytes = 1048576
languages = ["go", "python"]
`), 0o644))

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "cache/index.db", cfg.DBPath)
	assert.Equal(t, "eco", cfg.Profile)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, 10, cfg.ThrottleMS)
	assert.True(t, cfg.FastMode)
	assert.Equal(t, int64(1048576), cfg.MaxFileSizeBytes)
	assert.Equal(t, []string{"go", "python"}, cfg.Languages)
}

func TestLoad_RejectsBadProfile(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, Filename), []byte(`profile = "turbo"`), 0o644))
	_, err := Load(root)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_RejectsMalformedTOML(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, Filename), []byte("threads = = 2"), 0o644))
	_, err := Load(root)
	require.ErrorIs(t, err, ErrInvalid)
}
