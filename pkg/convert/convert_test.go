package convert

import (
	"context"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IDR/mrxs2ometiff/pkg/config"
	"github.com/IDR/mrxs2ometiff/pkg/ometiff"
	"github.com/IDR/mrxs2ometiff/pkg/slide"
)

// writeSourceTIFF materializes an in-memory reader as an uncompressed
// tiled BigTIFF so conversions can run against a real file.
func writeSourceTIFF(t *testing.T, path string, reader *memReader) {
	t.Helper()
	meta := ometiff.NewMetadata()
	for i := range reader.series {
		require.NoError(t, meta.PopulateSeries(i, "", DimensionOrder, reader.series[i].px))
	}
	w := ometiff.NewWriter()
	require.NoError(t, w.SetBigTiff(true))
	require.NoError(t, w.SetMetadata(meta))
	require.NoError(t, w.SetInterleaved(true))
	require.NoError(t, w.SetCompression("none"))
	require.NoError(t, w.SetWriteSequentially(true))
	require.NoError(t, w.SetPath(path))
	for i, ms := range reader.series {
		require.NoError(t, w.SetSeries(i))
		tile := min(32, ms.px.SizeX)
		grid := ometiff.TileGeometry{Width: tile, Height: tile}
		for p := range ms.planes {
			for y := 0; y < ms.px.SizeY; y += tile {
				for x := 0; x < ms.px.SizeX; x += tile {
					wd := min(tile, ms.px.SizeX-x)
					ht := min(tile, ms.px.SizeY-y)
					buf, err := reader.ReadRegion(i, 0, p, x, y, wd, ht)
					require.NoError(t, err)
					require.NoError(t, w.WriteTile(p, buf, grid, x, y, wd, ht))
				}
			}
		}
	}
	require.NoError(t, w.Close())
}

// rgbSeries builds a 3-channel interleaved series of one solid color.
func rgbSeries(w, h int, r, g, b byte) memSeries {
	px := slide.Pixels{
		SizeX: w, SizeY: h, SizeZ: 1, SizeC: 3, SizeT: 1,
		Type: slide.Uint8, LittleEndian: true, Interleaved: true,
		Channels: 3, Planes: 1,
	}
	plane := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		plane[i*3], plane[i*3+1], plane[i*3+2] = r, g, b
	}
	return memSeries{px: px, planes: [][]byte{plane}}
}

type mainIFD struct {
	SubfileType      uint32   `tiff:"field,tag=254"`
	ImageWidth       uint64   `tiff:"field,tag=256"`
	ImageLength      uint64   `tiff:"field,tag=257"`
	ImageDescription string   `tiff:"field,tag=270"`
	TileWidth        uint64   `tiff:"field,tag=322"`
	TileLength       uint64   `tiff:"field,tag=323"`
	TileOffsets      []uint64 `tiff:"field,tag=324"`
}

func parseMainIFDs(t *testing.T, path string) []mainIFD {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	parsed, err := tiff.Parse(f, nil, nil)
	require.NoError(t, err)
	out := make([]mainIFD, 0, len(parsed.IFDs()))
	for _, ifd := range parsed.IFDs() {
		var d mainIFD
		require.NoError(t, tiff.UnmarshalIFD(ifd, &d))
		out = append(out, d)
	}
	return out
}

func TestConvertMultiSeries(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.tiff")
	out := filepath.Join(dir, "out.ome.tiff")

	src := gradientReader(64, 64)
	src.series = append(src.series, rgbSeries(16, 16, 200, 100, 50))
	writeSourceTIFF(t, in, src)

	cfg := config.Config{
		InputPath:          in,
		OutputPath:         out,
		PyramidResolutions: 2,
		TileWidth:          32,
		TileHeight:         32,
		Compression:        "none",
	}
	require.NoError(t, Convert(context.Background(), cfg, discard()))

	// main chain: one directory per series, pyramid levels tucked away
	// as sub-directories of the first
	ifds := parseMainIFDs(t, out)
	require.Len(t, ifds, 2)
	assert.Equal(t, uint64(64), ifds[0].ImageWidth)
	assert.Equal(t, uint64(32), ifds[0].TileWidth)
	assert.Contains(t, ifds[0].ImageDescription, "<OME")
	assert.Equal(t, uint64(16), ifds[1].ImageWidth)

	// the base pixels survive the trip byte for byte
	r, err := slide.OpenTIFF(out)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 2, r.SeriesCount())
	got, err := r.ReadRegion(0, 0, 0, 0, 0, 64, 64)
	require.NoError(t, err)
	want, err := src.ReadRegion(0, 0, 0, 0, 0, 64, 64)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// no extra flat files in the modern convention
	_, err = os.Stat(extraImagePath(out, 1))
	assert.True(t, os.IsNotExist(err))
}

func TestConvertLegacy(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.tiff")
	out := filepath.Join(dir, "out.ome.tiff")

	src := gradientReader(64, 64)
	src.series = append(src.series, rgbSeries(16, 16, 200, 100, 50))
	writeSourceTIFF(t, in, src)

	cfg := config.Config{
		InputPath:          in,
		OutputPath:         out,
		PyramidResolutions: 1,
		TileWidth:          32,
		TileHeight:         32,
		Compression:        "none",
		LegacyMode:         true,
	}
	require.NoError(t, Convert(context.Background(), cfg, discard()))

	// flat chain: base plus one level, each a full directory
	ifds := parseMainIFDs(t, out)
	require.Len(t, ifds, 2)
	assert.Equal(t, uint64(64), ifds[0].ImageWidth)
	assert.Equal(t, uint64(32), ifds[1].ImageWidth)
	assert.Equal(t, uint32(0), ifds[1].SubfileType)
	assert.Equal(t, "Faas-mrxs2ometiff", strings.TrimRight(ifds[0].ImageDescription, "\x00"))

	// the second source series leaves the container as a JPEG
	extra := extraImagePath(out, 1)
	f, err := os.Open(extra)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 16, img.Bounds().Dy())
}

func TestConvertDownsampledLevelContent(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.tiff")
	out := filepath.Join(dir, "out.ome.tiff")

	writeSourceTIFF(t, in, uniformReader(64, 64, 77))
	cfg := config.Config{
		InputPath:          in,
		OutputPath:         out,
		PyramidResolutions: 1,
		TileWidth:          32,
		TileHeight:         32,
		Compression:        "none",
		LegacyMode:         true,
	}
	require.NoError(t, Convert(context.Background(), cfg, discard()))

	// the downsampled level of a uniform image is the same value
	r, err := slide.OpenTIFF(out)
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, 2, r.SeriesCount(), "legacy levels read back as series")
	level, err := r.ReadRegion(1, 0, 0, 0, 0, 32, 32)
	require.NoError(t, err)
	for _, v := range level {
		require.Equal(t, byte(77), v)
	}
}

func TestConvertRejectsBadCompression(t *testing.T) {
	cfg := config.Config{
		InputPath:          "in.tiff",
		OutputPath:         "out.ome.tiff",
		PyramidResolutions: 1,
		TileWidth:          32,
		TileHeight:         32,
		Compression:        "lzw",
	}
	err := Convert(context.Background(), cfg, discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown compression")
}

func TestConvertRejectsUnknownSource(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.mrxs")
	require.NoError(t, os.WriteFile(in, []byte("x"), 0o644))
	cfg := config.Config{
		InputPath:          in,
		OutputPath:         filepath.Join(dir, "out.ome.tiff"),
		PyramidResolutions: 0,
		TileWidth:          32,
		TileHeight:         32,
		Compression:        "none",
	}
	err := Convert(context.Background(), cfg, discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no reader available")
}
