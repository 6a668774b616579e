package slide_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IDR/mrxs2ometiff/pkg/ometiff"
	"github.com/IDR/mrxs2ometiff/pkg/slide"
)

// writeTestTIFF produces a tiled BigTIFF with a deterministic gradient
// so regions can be checked pixel by pixel.
func writeTestTIFF(t *testing.T, path, compression string, sizeX, sizeY, tile int) []byte {
	t.Helper()
	plane := make([]byte, sizeX*sizeY)
	for i := range plane {
		plane[i] = byte(i * 7)
	}

	meta := ometiff.NewMetadata()
	require.NoError(t, meta.PopulateSeries(0, "", "XYCZT", slide.Pixels{
		SizeX: sizeX, SizeY: sizeY, SizeZ: 1, SizeC: 1, SizeT: 1,
		Type: slide.Uint8, LittleEndian: true, Interleaved: true,
		Channels: 1, Planes: 1,
	}))
	w := ometiff.NewWriter()
	require.NoError(t, w.SetBigTiff(true))
	require.NoError(t, w.SetMetadata(meta))
	require.NoError(t, w.SetInterleaved(true))
	require.NoError(t, w.SetCompression(compression))
	require.NoError(t, w.SetWriteSequentially(true))
	require.NoError(t, w.SetPath(path))
	require.NoError(t, w.SetSeries(0))
	grid := ometiff.TileGeometry{Width: tile, Height: tile}
	for y := 0; y < sizeY; y += tile {
		for x := 0; x < sizeX; x += tile {
			wd := min(tile, sizeX-x)
			ht := min(tile, sizeY-y)
			buf := make([]byte, wd*ht)
			for row := 0; row < ht; row++ {
				copy(buf[row*wd:], plane[(y+row)*sizeX+x:][:wd])
			}
			require.NoError(t, w.WriteTile(0, buf, grid, x, y, wd, ht))
		}
	}
	require.NoError(t, w.Close())
	return plane
}

func regionOf(plane []byte, stride, x, y, w, h int) []byte {
	out := make([]byte, 0, w*h)
	for row := 0; row < h; row++ {
		out = append(out, plane[(y+row)*stride+x:][:w]...)
	}
	return out
}

func TestOpenTIFFReadRegion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "src.tiff")
	plane := writeTestTIFF(t, path, "none", 64, 48, 16)

	r, err := slide.OpenTIFF(path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 1, r.SeriesCount())
	assert.Equal(t, 1, r.ResolutionCount(0))
	px, err := r.Pixels(0)
	require.NoError(t, err)
	assert.Equal(t, 64, px.SizeX)
	assert.Equal(t, 48, px.SizeY)
	assert.Equal(t, slide.Uint8, px.Type)
	assert.True(t, px.LittleEndian)
	assert.Equal(t, 1, px.Planes)

	// a region spanning several tiles
	got, err := r.ReadRegion(0, 0, 0, 10, 12, 30, 20)
	require.NoError(t, err)
	assert.Equal(t, regionOf(plane, 64, 10, 12, 30, 20), got)

	// the full plane
	got, err = r.ReadRegion(0, 0, 0, 0, 0, 64, 48)
	require.NoError(t, err)
	assert.Equal(t, plane, got)
}

func TestOpenTIFFDeflate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "src.tiff")
	plane := writeTestTIFF(t, path, "deflate", 48, 48, 32)

	r, err := slide.OpenTIFF(path)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.ReadRegion(0, 0, 0, 20, 20, 20, 20)
	require.NoError(t, err)
	assert.Equal(t, regionOf(plane, 48, 20, 20, 20, 20), got)
}

func TestReadRegionBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "src.tiff")
	writeTestTIFF(t, path, "none", 32, 32, 16)

	r, err := slide.OpenTIFF(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadRegion(0, 0, 0, 16, 16, 32, 32)
	require.Error(t, err, "region past the plane edge")
	_, err = r.ReadRegion(0, 0, 0, 0, 0, 0, 16)
	require.Error(t, err, "empty region")
	_, err = r.ReadRegion(0, 1, 0, 0, 0, 16, 16)
	require.Error(t, err, "no native pyramid")
	_, err = r.ReadRegion(0, 0, 1, 0, 0, 16, 16)
	require.Error(t, err, "plane out of range")
	_, err = r.ReadRegion(1, 0, 0, 0, 0, 16, 16)
	require.Error(t, err, "series out of range")
}

func TestOpenDispatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "src.tiff")
	writeTestTIFF(t, path, "none", 32, 32, 16)

	r, err := slide.Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = slide.Open("slide.mrxs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no reader available")

	_, err = slide.Open(filepath.Join(t.TempDir(), "missing.tiff"))
	require.Error(t, err)
}
