package synctree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5657, cfg.Port)
	assert.Equal(t, 8, cfg.Backlog)
	assert.Equal(t, 48*1024, cfg.IOBufSize)
}

func TestLoadConfigFileTOMLPartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "synctree.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = 9000\n"), 0o644))

	cfg := DefaultConfig()
	require.NoError(t, LoadConfigFile(cfg, path))

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 8, cfg.Backlog) // untouched default
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "synctree.yaml")
	require.NoError(t, os.WriteFile(path, []byte("host: 0.0.0.0\nforward_io_buf_size: 0\n"), 0o644))

	cfg := DefaultConfig()
	require.NoError(t, LoadConfigFile(cfg, path))

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 0, cfg.ForwardIOBufSize)
}
