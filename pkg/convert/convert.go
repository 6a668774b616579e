// Package convert turns a flat multi-series source image into a
// pyramidal tiled container: it plans the synthetic resolutions,
// box-filters tiles down from the base on demand and streams them to
// the container writer in raster order.
package convert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IDR/mrxs2ometiff/pkg/config"
	"github.com/IDR/mrxs2ometiff/pkg/ometiff"
	"github.com/IDR/mrxs2ometiff/pkg/slide"
)

// Convert runs one complete conversion from cfg.InputPath to
// cfg.OutputPath.
func Convert(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	// fail on a bad codec name before any decoding work
	if _, err := ometiff.LookupCodec(cfg.Compression); err != nil {
		return err
	}

	reader, err := slide.Open(cfg.InputPath)
	if err != nil {
		return err
	}
	defer reader.Close()

	meta, err := buildMetadata(reader, cfg)
	if err != nil {
		return err
	}

	var pw PyramidWriter
	if cfg.LegacyMode {
		pw = &LegacyPyramidWriter{Reader: reader, Meta: meta, Config: cfg, Log: log}
	} else {
		pw = &MultiSeriesPyramidWriter{Reader: reader, Meta: meta, Config: cfg, Log: log}
	}

	base, err := reader.Pixels(0)
	if err != nil {
		return err
	}
	log.Info("converting",
		"input", cfg.InputPath,
		"output", cfg.OutputPath,
		"size", fmt.Sprintf("%dx%d", base.SizeX, base.SizeY),
		"resolutions", cfg.PyramidResolutions+1,
		"compression", cfg.Compression,
		"legacy", cfg.LegacyMode,
	)
	return pw.Write(ctx)
}

// buildMetadata populates the schema store for the run. The legacy
// convention describes only the first source series (its extra images
// leave the container); the modern convention describes all of them.
func buildMetadata(reader slide.Reader, cfg config.Config) (*ometiff.Metadata, error) {
	meta := ometiff.NewMetadata()
	base, err := reader.Pixels(0)
	if err != nil {
		return nil, err
	}
	if err := meta.PopulateSeries(0, "", DimensionOrder, base); err != nil {
		return nil, err
	}
	if err := PlanResolutions(meta, base, cfg.PyramidResolutions, cfg.LegacyMode); err != nil {
		return nil, err
	}
	if !cfg.LegacyMode {
		for s := 1; s < reader.SeriesCount(); s++ {
			px, err := reader.Pixels(s)
			if err != nil {
				return nil, err
			}
			if err := meta.PopulateSeries(s, "", DimensionOrder, px); err != nil {
				return nil, err
			}
		}
	}
	return meta, nil
}
