// Package config holds the immutable settings for one conversion run.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTileWidth   = 2048
	DefaultTileHeight  = 2048
	DefaultCompression = "jpeg-2000"
)

// Config describes one conversion run. Values are fixed before the run
// starts and never mutated afterwards.
type Config struct {
	InputPath          string `yaml:"input"`
	OutputPath         string `yaml:"output"`
	PyramidResolutions int    `yaml:"resolutions"`
	TileWidth          int    `yaml:"tileWidth"`
	TileHeight         int    `yaml:"tileHeight"`
	Compression        string `yaml:"compression"`
	LegacyMode         bool   `yaml:"legacy"`
	Debug              bool   `yaml:"debug"`
}

// Default returns a Config with the documented flag defaults filled in.
func Default() Config {
	return Config{
		TileWidth:   DefaultTileWidth,
		TileHeight:  DefaultTileHeight,
		Compression: DefaultCompression,
	}
}

// Load reads a YAML config file over the defaults. A missing file is
// not an error; flags are expected to override afterwards.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings that can be checked without opening the
// source. Limits that depend on the source's dimensions (resolution
// counts that would shrink a level to nothing) are enforced by the
// resolution planner once the base size is known.
func (c Config) Validate() error {
	if c.InputPath == "" {
		return errors.New("input file is required")
	}
	if c.OutputPath == "" {
		return errors.New("output file is required")
	}
	if c.PyramidResolutions < 0 {
		return fmt.Errorf("resolutions must be >= 0, got %d", c.PyramidResolutions)
	}
	if c.TileWidth <= 0 || c.TileHeight <= 0 {
		return fmt.Errorf("tile size must be positive, got %dx%d", c.TileWidth, c.TileHeight)
	}
	// every resolution must keep a usable tile step (see the tile
	// scheduler: step = tile size >> resolution)
	if c.TileWidth>>c.PyramidResolutions < 1 || c.TileHeight>>c.PyramidResolutions < 1 {
		return fmt.Errorf("tile size %dx%d leaves no pixels per tile at resolution %d",
			c.TileWidth, c.TileHeight, c.PyramidResolutions)
	}
	if c.Compression == "" {
		return errors.New("compression type is required")
	}
	return nil
}
