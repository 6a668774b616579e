package convert

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/IDR/mrxs2ometiff/pkg/slide"
)

// Downsampler produces pixel bytes for any resolution of one source
// series. Regions above the base are always recomputed from resolution
// 0 and box-filtered down in a single step, never from an intermediate
// level, so repeated filtering cannot compound rounding error. The cost
// is a base read scale^2 times larger than the output region.
type Downsampler struct {
	reader slide.Reader
	series int
	px     slide.Pixels
}

func NewDownsampler(reader slide.Reader, series int) (*Downsampler, error) {
	px, err := reader.Pixels(series)
	if err != nil {
		return nil, err
	}
	return &Downsampler{reader: reader, series: series, px: px}, nil
}

// Pixels returns the base description of the bound series.
func (d *Downsampler) Pixels() slide.Pixels { return d.px }

// LevelSize returns the pixel dimensions of a resolution of the bound
// series.
func (d *Downsampler) LevelSize(resolution int) (int, int) {
	scale := scaleFactor(resolution)
	return d.px.SizeX / scale, d.px.SizeY / scale
}

// GetRegion returns the raw bytes of a rectangular region of one plane
// at the given resolution, in the source's native packing.
func (d *Downsampler) GetRegion(resolution, plane, x, y, w, h int) ([]byte, error) {
	if resolution == 0 {
		return d.reader.ReadRegion(d.series, 0, plane, x, y, w, h)
	}
	scale := scaleFactor(resolution)
	full, err := d.GetRegion(0, plane, x*scale, y*scale, w*scale, h*scale)
	if err != nil {
		return nil, err
	}
	return BoxFilter(full, w*scale, h*scale, scale, d.px.Type, d.px.LittleEndian, d.px.Channels, d.px.Interleaved)
}

// BoxFilter reduces a region by the given factor: every output sample
// is the average of the scale x scale block of source samples it
// covers, computed per channel. Integer types round half away from
// zero; the pixel type, endianness and interleaving of the output
// match the input.
func BoxFilter(src []byte, srcW, srcH, scale int, t slide.PixelType, littleEndian bool, channels int, interleaved bool) ([]byte, error) {
	if scale <= 0 || srcW%scale != 0 || srcH%scale != 0 {
		return nil, fmt.Errorf("cannot reduce %dx%d region by %d", srcW, srcH, scale)
	}
	bpp := t.BytesPerPixel()
	if channels < 1 {
		channels = 1
	}
	if len(src) < srcW*srcH*channels*bpp {
		return nil, fmt.Errorf("region of %d bytes too short for %dx%dx%d %s samples",
			len(src), srcW, srcH, channels, t)
	}
	outW, outH := srcW/scale, srcH/scale
	out := make([]byte, outW*outH*channels*bpp)

	var order binary.ByteOrder = binary.BigEndian
	if littleEndian {
		order = binary.LittleEndian
	}

	srcOffset := func(x, y, c int) int {
		if interleaved {
			return ((y*srcW+x)*channels + c) * bpp
		}
		return (c*srcW*srcH + y*srcW + x) * bpp
	}
	dstOffset := func(x, y, c int) int {
		if interleaved {
			return ((y*outW+x)*channels + c) * bpp
		}
		return (c*outW*outH + y*outW + x) * bpp
	}

	n := int64(scale * scale)
	for c := 0; c < channels; c++ {
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				if t.IsFloat() {
					var sum float64
					for sy := oy * scale; sy < (oy+1)*scale; sy++ {
						for sx := ox * scale; sx < (ox+1)*scale; sx++ {
							sum += readFloat(src[srcOffset(sx, sy, c):], t, order)
						}
					}
					writeFloat(out[dstOffset(ox, oy, c):], sum/float64(n), t, order)
				} else {
					var sum int64
					for sy := oy * scale; sy < (oy+1)*scale; sy++ {
						for sx := ox * scale; sx < (ox+1)*scale; sx++ {
							sum += readInt(src[srcOffset(sx, sy, c):], t, order)
						}
					}
					writeInt(out[dstOffset(ox, oy, c):], roundDiv(sum, n), t, order)
				}
			}
		}
	}
	return out, nil
}

// roundDiv divides rounding half away from zero.
func roundDiv(sum, n int64) int64 {
	if sum >= 0 {
		return (sum + n/2) / n
	}
	return (sum - n/2) / n
}

func readInt(b []byte, t slide.PixelType, order binary.ByteOrder) int64 {
	switch t {
	case slide.Uint8:
		return int64(b[0])
	case slide.Int8:
		return int64(int8(b[0]))
	case slide.Uint16:
		return int64(order.Uint16(b))
	case slide.Int16:
		return int64(int16(order.Uint16(b)))
	case slide.Uint32:
		return int64(order.Uint32(b))
	case slide.Int32:
		return int64(int32(order.Uint32(b)))
	}
	return 0
}

func writeInt(b []byte, v int64, t slide.PixelType, order binary.ByteOrder) {
	switch t {
	case slide.Uint8, slide.Int8:
		b[0] = byte(v)
	case slide.Uint16, slide.Int16:
		order.PutUint16(b, uint16(v))
	case slide.Uint32, slide.Int32:
		order.PutUint32(b, uint32(v))
	}
}

func readFloat(b []byte, t slide.PixelType, order binary.ByteOrder) float64 {
	if t == slide.Float32 {
		return float64(math.Float32frombits(order.Uint32(b)))
	}
	return math.Float64frombits(order.Uint64(b))
}

func writeFloat(b []byte, v float64, t slide.PixelType, order binary.ByteOrder) {
	if t == slide.Float32 {
		order.PutUint32(b, math.Float32bits(float32(v)))
		return
	}
	order.PutUint64(b, math.Float64bits(v))
}
