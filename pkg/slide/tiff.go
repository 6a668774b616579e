package slide

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	"github.com/klauspost/compress/zlib"
	xtiff "golang.org/x/image/tiff"
)

// TIFF compression schemes handled block-wise. Anything else goes
// through the whole-image fallback decoder.
const (
	compressionNone       = 1
	compressionJPEG       = 7
	compressionDeflate    = 8
	compressionDeflateOld = 32946
)

const subfileTypeReducedImage = 1

// tiffIFD is the subset of baseline TIFF fields the reader needs.
type tiffIFD struct {
	SubfileType         uint32   `tiff:"field,tag=254"`
	ImageWidth          uint64   `tiff:"field,tag=256"`
	ImageLength         uint64   `tiff:"field,tag=257"`
	BitsPerSample       []uint16 `tiff:"field,tag=258"`
	Compression         uint16   `tiff:"field,tag=259"`
	Photometric         uint16   `tiff:"field,tag=262"`
	StripOffsets        []uint64 `tiff:"field,tag=273"`
	SamplesPerPixel     uint16   `tiff:"field,tag=277"`
	RowsPerStrip        uint64   `tiff:"field,tag=278"`
	StripByteCounts     []uint64 `tiff:"field,tag=279"`
	PlanarConfiguration uint16   `tiff:"field,tag=284"`
	TileWidth           uint64   `tiff:"field,tag=322"`
	TileLength          uint64   `tiff:"field,tag=323"`
	TileOffsets         []uint64 `tiff:"field,tag=324"`
	TileByteCounts      []uint64 `tiff:"field,tag=325"`
	SampleFormat        []uint16 `tiff:"field,tag=339"`
}

func (d *tiffIFD) tiled() bool {
	return len(d.TileOffsets) > 0
}

func (d *tiffIFD) pixelType() (PixelType, error) {
	bits := uint16(8)
	if len(d.BitsPerSample) > 0 {
		bits = d.BitsPerSample[0]
	}
	format := uint16(1)
	if len(d.SampleFormat) > 0 {
		format = d.SampleFormat[0]
	}
	switch {
	case format == 3 && bits == 32:
		return Float32, nil
	case format == 3 && bits == 64:
		return Float64, nil
	case format == 2 && bits == 8:
		return Int8, nil
	case format == 2 && bits == 16:
		return Int16, nil
	case format == 2 && bits == 32:
		return Int32, nil
	case bits == 8:
		return Uint8, nil
	case bits == 16:
		return Uint16, nil
	case bits == 32:
		return Uint32, nil
	}
	return 0, fmt.Errorf("unsupported sample layout: %d bits, format %d", bits, format)
}

// TIFFReader decodes tiled or striped TIFF/BigTIFF sources. Each
// full-resolution IFD becomes one series; reduced-resolution IFDs in
// the source are ignored, the converter regenerates its own levels.
type TIFFReader struct {
	f      *os.File
	r      tiff.ReadAtReadSeeker
	little bool
	series []*tiffSeries

	// whole-image fallback for compressions without block decoders,
	// decoded lazily and kept for the life of the reader
	fallback image.Image
}

type tiffSeries struct {
	ifd    tiffIFD
	pixels Pixels
}

// OpenTIFF opens a TIFF or BigTIFF file as a slide source.
func OpenTIFF(path string) (*TIFFReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	t, err := tiff.Parse(f, nil, nil)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	r := &TIFFReader{f: f, r: t.R(), little: t.Order() == "II"}
	for _, ifd := range t.IFDs() {
		var d tiffIFD
		if err := tiff.UnmarshalIFD(ifd, &d); err != nil {
			f.Close()
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if d.SubfileType&subfileTypeReducedImage != 0 {
			continue
		}
		if d.ImageWidth == 0 || d.ImageLength == 0 {
			f.Close()
			return nil, fmt.Errorf("parse %s: IFD %d is missing pixel dimensions", path, len(r.series))
		}
		px, err := seriesPixels(&d, r.little)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		r.series = append(r.series, &tiffSeries{ifd: d, pixels: px})
	}
	if len(r.series) == 0 {
		f.Close()
		return nil, fmt.Errorf("parse %s: no full-resolution images", path)
	}
	return r, nil
}

func seriesPixels(d *tiffIFD, little bool) (Pixels, error) {
	pt, err := d.pixelType()
	if err != nil {
		return Pixels{}, err
	}
	spp := int(d.SamplesPerPixel)
	if spp == 0 {
		spp = 1
	}
	px := Pixels{
		SizeX:        int(d.ImageWidth),
		SizeY:        int(d.ImageLength),
		SizeZ:        1,
		SizeC:        spp,
		SizeT:        1,
		Type:         pt,
		LittleEndian: little,
		Interleaved:  d.PlanarConfiguration != 2,
		Channels:     spp,
		Planes:       1,
	}
	if d.PlanarConfiguration == 2 {
		// separate planes: one plane per sample, single channel each
		px.Channels = 1
		px.Planes = spp
	}
	return px, nil
}

func (r *TIFFReader) SeriesCount() int { return len(r.series) }

func (r *TIFFReader) ResolutionCount(series int) int { return 1 }

func (r *TIFFReader) Pixels(series int) (Pixels, error) {
	if series < 0 || series >= len(r.series) {
		return Pixels{}, fmt.Errorf("series %d out of range (have %d)", series, len(r.series))
	}
	return r.series[series].pixels, nil
}

func (r *TIFFReader) Close() error { return r.f.Close() }

func (r *TIFFReader) ReadRegion(series, resolution, plane, x, y, w, h int) ([]byte, error) {
	if resolution != 0 {
		return nil, fmt.Errorf("source has no native resolution %d", resolution)
	}
	px, err := r.Pixels(series)
	if err != nil {
		return nil, err
	}
	if plane < 0 || plane >= px.Planes {
		return nil, fmt.Errorf("plane %d out of range (have %d)", plane, px.Planes)
	}
	if err := CheckRegion(x, y, w, h, px.SizeX, px.SizeY); err != nil {
		return nil, err
	}
	s := r.series[series]
	switch s.ifd.Compression {
	case 0, compressionNone, compressionJPEG, compressionDeflate, compressionDeflateOld:
		return r.readBlocks(s, plane, x, y, w, h)
	}
	return r.readViaFallback(series, s, x, y, w, h)
}

// readBlocks assembles a region from the tiles or strips that
// intersect it.
func (r *TIFFReader) readBlocks(s *tiffSeries, plane, x, y, w, h int) ([]byte, error) {
	px := s.pixels
	pixelSize := px.Type.BytesPerPixel() * px.Channels

	blockW, blockH := px.SizeX, int(s.ifd.RowsPerStrip)
	offsets, counts := s.ifd.StripOffsets, s.ifd.StripByteCounts
	if s.ifd.tiled() {
		blockW, blockH = int(s.ifd.TileWidth), int(s.ifd.TileLength)
		offsets, counts = s.ifd.TileOffsets, s.ifd.TileByteCounts
	}
	if blockH <= 0 || blockH > px.SizeY {
		blockH = px.SizeY
	}
	blocksAcross := (px.SizeX + blockW - 1) / blockW
	blocksDown := (px.SizeY + blockH - 1) / blockH
	planeBase := plane * blocksAcross * blocksDown

	out := make([]byte, w*h*pixelSize)
	for by := y / blockH; by <= (y+h-1)/blockH; by++ {
		for bx := x / blockW; bx <= (x+w-1)/blockW; bx++ {
			idx := planeBase + by*blocksAcross + bx
			if idx >= len(offsets) || idx >= len(counts) {
				return nil, fmt.Errorf("block %d beyond offset table (%d entries)", idx, len(offsets))
			}
			block, err := r.decodeBlock(s, offsets[idx], counts[idx], blockW, blockH, pixelSize)
			if err != nil {
				return nil, err
			}
			// intersect block with the requested region
			bx0, by0 := bx*blockW, by*blockH
			copyX := max(x, bx0)
			copyY := max(y, by0)
			copyW := min(x+w, bx0+min(blockW, px.SizeX-bx0)) - copyX
			copyH := min(y+h, by0+min(blockH, px.SizeY-by0)) - copyY
			for row := 0; row < copyH; row++ {
				srcOff := ((copyY - by0 + row) * blockW * pixelSize) + (copyX-bx0)*pixelSize
				dstOff := ((copyY - y + row) * w * pixelSize) + (copyX-x)*pixelSize
				copy(out[dstOff:dstOff+copyW*pixelSize], block[srcOff:srcOff+copyW*pixelSize])
			}
		}
	}
	return out, nil
}

func (r *TIFFReader) decodeBlock(s *tiffSeries, offset, count uint64, blockW, blockH, pixelSize int) ([]byte, error) {
	raw := make([]byte, count)
	if _, err := r.r.ReadAt(raw, int64(offset)); err != nil {
		return nil, fmt.Errorf("read block at %d: %w", offset, err)
	}
	want := blockW * blockH * pixelSize
	switch s.ifd.Compression {
	case 0, compressionNone:
		if len(raw) < want {
			// striped files may truncate the last strip
			padded := make([]byte, want)
			copy(padded, raw)
			raw = padded
		}
		return raw, nil
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("deflate block at %d: %w", offset, err)
		}
		defer zr.Close()
		block := make([]byte, want)
		if _, err := io.ReadFull(zr, block); err != nil && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("deflate block at %d: %w", offset, err)
		}
		return block, nil
	case compressionJPEG:
		img, err := jpeg.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("jpeg block at %d: %w", offset, err)
		}
		block := make([]byte, want)
		rasterize(img, block, s.pixels.Channels, blockW, blockH)
		return block, nil
	}
	return nil, fmt.Errorf("no block decoder for compression %d", s.ifd.Compression)
}

// readViaFallback decodes the whole image once with the stdlib-style
// TIFF decoder and serves regions from it. Only the first IFD of the
// file is reachable that way, so this path is restricted to
// single-series, single-plane, 8-bit sources.
func (r *TIFFReader) readViaFallback(series int, s *tiffSeries, x, y, w, h int) ([]byte, error) {
	if series != 0 || len(r.series) != 1 || s.pixels.Planes != 1 || s.pixels.Type != Uint8 {
		return nil, fmt.Errorf("compression %d only supported for single-series 8-bit sources", s.ifd.Compression)
	}
	if r.fallback == nil {
		if _, err := r.r.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		img, err := xtiff.Decode(r.r)
		if err != nil {
			return nil, fmt.Errorf("decode %d-compressed image: %w", s.ifd.Compression, err)
		}
		r.fallback = img
	}
	out := make([]byte, w*h*s.pixels.Channels)
	rasterizeRegion(r.fallback, out, s.pixels.Channels, x, y, w, h)
	return out, nil
}

// rasterize flattens a decoded image into interleaved 8-bit samples.
func rasterize(img image.Image, dst []byte, channels, w, h int) {
	rasterizeRegion(img, dst, channels, 0, 0, w, h)
}

func rasterizeRegion(img image.Image, dst []byte, channels, x, y, w, h int) {
	b := img.Bounds()
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			sx, sy := b.Min.X+x+col, b.Min.Y+y+row
			var cr, cg, cb uint32
			if sx < b.Max.X && sy < b.Max.Y {
				cr, cg, cb, _ = img.At(sx, sy).RGBA()
			}
			off := (row*w + col) * channels
			switch channels {
			case 1:
				dst[off] = uint8(cr >> 8)
			default:
				dst[off] = uint8(cr >> 8)
				if channels > 1 {
					dst[off+1] = uint8(cg >> 8)
				}
				if channels > 2 {
					dst[off+2] = uint8(cb >> 8)
				}
			}
		}
	}
}
