package convert

import (
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/IDR/mrxs2ometiff/pkg/config"
	"github.com/IDR/mrxs2ometiff/pkg/ometiff"
	"github.com/IDR/mrxs2ometiff/pkg/slide"
)

// legacyComment is patched into the finished container so downstream
// consumers can recognize the flat layout.
const legacyComment = "Faas-mrxs2ometiff"

// PyramidWriter drives one complete conversion run against an already
// populated metadata store.
type PyramidWriter interface {
	Write(ctx context.Context) error
}

// LegacyPyramidWriter emits the flat convention: every pyramid level is
// its own series in a single directory chain, extra source images
// become separate JPEG files next to the container, and the container
// comment is patched after close.
type LegacyPyramidWriter struct {
	Reader slide.Reader
	Meta   *ometiff.Metadata
	Config config.Config
	Log    *slog.Logger
}

func (l *LegacyPyramidWriter) Write(ctx context.Context) error {
	down, err := NewDownsampler(l.Reader, 0)
	if err != nil {
		return err
	}
	w, err := setupWriter(l.Config, l.Meta, down.Pixels().Interleaved)
	if err != nil {
		return err
	}
	sched := &TileScheduler{TileWidth: l.Config.TileWidth, TileHeight: l.Config.TileHeight, Log: l.Log}

	planes := down.Pixels().Planes
	for r := 0; r <= l.Config.PyramidResolutions; r++ {
		l.Log.Info("writing resolution", "resolution", r)
		if err := w.SetSeries(r); err != nil {
			w.Close()
			return err
		}
		if err := sched.WriteResolution(ctx, r, planes, down, w); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := ometiff.OverwriteComment(l.Config.OutputPath, legacyComment); err != nil {
		return err
	}
	return l.writeExtraImages()
}

// writeExtraImages exports source series beyond the first as flat JPEG
// files named <output>-<series>.jpg.
func (l *LegacyPyramidWriter) writeExtraImages() error {
	for s := 1; s < l.Reader.SeriesCount(); s++ {
		px, err := l.Reader.Pixels(s)
		if err != nil {
			return err
		}
		raw, err := l.Reader.ReadRegion(s, 0, 0, 0, 0, px.SizeX, px.SizeY)
		if err != nil {
			return fmt.Errorf("read extra image %d: %w", s, err)
		}
		img, err := ometiff.ToImage(raw, ometiff.TileInfo{
			Width:        px.SizeX,
			Height:       px.SizeY,
			Channels:     px.Channels,
			Type:         px.Type,
			LittleEndian: px.LittleEndian,
		})
		if err != nil {
			return fmt.Errorf("extra image %d: %w", s, err)
		}
		path := extraImagePath(l.Config.OutputPath, s)
		l.Log.Info("writing extra image", "series", s, "path", path)
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := jpeg.Encode(f, img, nil); err != nil {
			f.Close()
			return fmt.Errorf("encode extra image %d: %w", s, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func extraImagePath(output string, series int) string {
	base := strings.TrimSuffix(output, filepath.Ext(output))
	return fmt.Sprintf("%s-%d.jpg", base, series)
}

// MultiSeriesPyramidWriter emits the modern convention: the first
// series carries its pyramid as sub-directories and every extra source
// image is an additional series in the same container.
type MultiSeriesPyramidWriter struct {
	Reader slide.Reader
	Meta   *ometiff.Metadata
	Config config.Config
	Log    *slog.Logger
}

func (m *MultiSeriesPyramidWriter) Write(ctx context.Context) error {
	base, err := m.Meta.Series(0)
	if err != nil {
		return err
	}
	w, err := setupWriter(m.Config, m.Meta, base.Pixels.Interleaved)
	if err != nil {
		return err
	}
	sched := &TileScheduler{TileWidth: m.Config.TileWidth, TileHeight: m.Config.TileHeight, Log: m.Log}

	for s := 0; s < m.Meta.SeriesCount(); s++ {
		down, err := NewDownsampler(m.Reader, s)
		if err != nil {
			w.Close()
			return err
		}
		if err := w.SetSeries(s); err != nil {
			w.Close()
			return err
		}
		resolutions := 1
		if s == 0 {
			resolutions = m.Config.PyramidResolutions + 1
		}
		planes := down.Pixels().Planes
		for r := 0; r < resolutions; r++ {
			m.Log.Info("writing resolution", "series", s, "resolution", r)
			if err := w.SetResolution(r); err != nil {
				w.Close()
				return err
			}
			if err := sched.WriteResolution(ctx, r, planes, down, w); err != nil {
				w.Close()
				return err
			}
		}
	}
	return w.Close()
}

// setupWriter applies the fixed writer configuration in the required
// order and opens the output.
func setupWriter(cfg config.Config, meta *ometiff.Metadata, interleaved bool) (*ometiff.Writer, error) {
	w := ometiff.NewWriter()
	if err := w.SetBigTiff(true); err != nil {
		return nil, err
	}
	if err := w.SetMetadata(meta); err != nil {
		return nil, err
	}
	if err := w.SetInterleaved(interleaved); err != nil {
		return nil, err
	}
	if err := w.SetCompression(cfg.Compression); err != nil {
		return nil, err
	}
	if err := w.SetWriteSequentially(true); err != nil {
		return nil, err
	}
	if err := w.SetPath(cfg.OutputPath); err != nil {
		return nil, err
	}
	return w, nil
}
