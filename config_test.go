package wren

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig("myapp")
	assert.Equal(t, "myapp", c.AppName)
	assert.Equal(t, "localhost:8080", c.Address)
	assert.NotZero(t, c.ResponseCacheMaxBytes)
}

func TestLoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wren.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Address":"0.0.0.0:3000","BasePath":"/app","DebugMode":true}`), 0o644))

	c, err := LoadConfig("myapp", path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:3000", c.Address)
	assert.Equal(t, "/app", c.BasePath)
	assert.True(t, c.DebugMode)
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wren.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Address: 0.0.0.0:4000\nMinimalMode: true\n"), 0o644))

	c, err := LoadConfig("myapp", path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:4000", c.Address)
	assert.True(t, c.MinimalMode)
}

func TestLoadConfigTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wren.toml")
	require.NoError(t, os.WriteFile(path, []byte("Address = \"0.0.0.0:5000\"\n"), 0o644))

	c, err := LoadConfig("myapp", path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:5000", c.Address)
}

func TestLoadConfigUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wren.ini")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o644))

	_, err := LoadConfig("myapp", path)
	assert.Error(t, err)
}
