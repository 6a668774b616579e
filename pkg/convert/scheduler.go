package convert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IDR/mrxs2ometiff/pkg/ometiff"
)

// TileSink receives the scheduled tiles. Satisfied by ometiff.Writer.
type TileSink interface {
	WriteTile(plane int, buf []byte, tile ometiff.TileGeometry, x, y, wd, ht int) error
}

// TileScheduler partitions one resolution of a plane into a
// raster-ordered grid of tiles and drives the writer. The grid step is
// the configured tile size divided by the resolution's scale factor;
// tiles on the right and bottom edges are clipped to the remaining
// pixels, never padded and never zero-sized.
type TileScheduler struct {
	TileWidth  int
	TileHeight int
	Log        *slog.Logger
}

// WriteResolution writes every plane of one resolution. Tiles go to the
// writer in strict raster order within a plane and planes in increasing
// order; the writer's sequential contract depends on it.
func (s *TileScheduler) WriteResolution(ctx context.Context, resolution, planes int, down *Downsampler, w TileSink) error {
	scale := scaleFactor(resolution)
	xStep := s.TileWidth / scale
	yStep := s.TileHeight / scale
	if xStep < 1 || yStep < 1 {
		return fmt.Errorf("tile size %dx%d leaves no pixels per tile at resolution %d",
			s.TileWidth, s.TileHeight, resolution)
	}
	sizeX, sizeY := down.LevelSize(resolution)
	grid := ometiff.TileGeometry{Width: xStep, Height: yStep}

	for plane := 0; plane < planes; plane++ {
		s.Log.Info("writing plane", "plane", plane, "of", planes)
		for yy := 0; yy < sizeY; yy += yStep {
			if err := ctx.Err(); err != nil {
				return err
			}
			height := min(yStep, sizeY-yy)
			for xx := 0; xx < sizeX; xx += xStep {
				width := min(xStep, sizeX-xx)
				tile, err := down.GetRegion(resolution, plane, xx, yy, width, height)
				if err != nil {
					return fmt.Errorf("read tile %d,%d of resolution %d: %w", xx, yy, resolution, err)
				}
				if err := w.WriteTile(plane, tile, grid, xx, yy, width, height); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
