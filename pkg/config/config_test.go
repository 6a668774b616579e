package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.InputPath = "in.tiff"
	cfg.OutputPath = "out.ome.tiff"
	cfg.PyramidResolutions = 4
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 2048, cfg.TileWidth)
	assert.Equal(t, 2048, cfg.TileHeight)
	assert.Equal(t, "jpeg-2000", cfg.Compression)
	assert.False(t, cfg.LegacyMode)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"MissingInput", func(c *Config) { c.InputPath = "" }, "input file is required"},
		{"MissingOutput", func(c *Config) { c.OutputPath = "" }, "output file is required"},
		{"NegativeResolutions", func(c *Config) { c.PyramidResolutions = -1 }, "resolutions must be >= 0"},
		{"ZeroTile", func(c *Config) { c.TileWidth = 0 }, "tile size must be positive"},
		{"TileSwallowedByPyramid", func(c *Config) { c.TileWidth, c.PyramidResolutions = 16, 5 }, "no pixels per tile"},
		{"MissingCompression", func(c *Config) { c.Compression = "" }, "compression type is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"tileWidth: 512\ncompression: deflate\nlegacy: true\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.TileWidth)
	assert.Equal(t, 2048, cfg.TileHeight, "unset keys keep their defaults")
	assert.Equal(t, "deflate", cfg.Compression)
	assert.True(t, cfg.LegacyMode)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tileWidth: [oops"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
