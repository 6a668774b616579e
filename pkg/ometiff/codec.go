package ometiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	"github.com/klauspost/compress/zlib"
	jpeg2000 "github.com/mrjoshuak/go-jpeg2000"

	"github.com/IDR/mrxs2ometiff/pkg/slide"
)

// TileInfo describes the pixel layout of one tile handed to a codec.
type TileInfo struct {
	Width        int
	Height       int
	Channels     int
	Type         slide.PixelType
	LittleEndian bool
}

// Codec compresses tile payloads for the container.
type Codec interface {
	// Name returns the codec identifier (e.g. "jpeg-2000")
	Name() string
	// Tag returns the TIFF Compression tag value written for this codec
	Tag() uint16
	// Encode compresses one tile of raw pixel bytes
	Encode(raw []byte, info TileInfo) ([]byte, error)
}

// LookupCodec resolves a codec by name, case-insensitively.
func LookupCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "none", "uncompressed":
		return noneCodec{}, nil
	case "deflate", "zlib":
		return deflateCodec{}, nil
	case "jpeg":
		return jpegCodec{}, nil
	case "jpeg-2000", "jpeg2000":
		return jpeg2000Codec{}, nil
	}
	return nil, fmt.Errorf("unknown compression type %q", name)
}

type noneCodec struct{}

func (noneCodec) Name() string { return "none" }
func (noneCodec) Tag() uint16  { return 1 }
func (noneCodec) Encode(raw []byte, info TileInfo) ([]byte, error) {
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

type deflateCodec struct{}

func (deflateCodec) Name() string { return "deflate" }
func (deflateCodec) Tag() uint16  { return 8 }
func (deflateCodec) Encode(raw []byte, info TileInfo) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type jpegCodec struct{}

func (jpegCodec) Name() string { return "jpeg" }
func (jpegCodec) Tag() uint16  { return 7 }
func (jpegCodec) Encode(raw []byte, info TileInfo) ([]byte, error) {
	img, err := ToImage(raw, info)
	if err != nil {
		return nil, fmt.Errorf("jpeg: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type jpeg2000Codec struct{}

func (jpeg2000Codec) Name() string { return "jpeg-2000" }
func (jpeg2000Codec) Tag() uint16  { return 33003 }
func (jpeg2000Codec) Encode(raw []byte, info TileInfo) ([]byte, error) {
	img, err := ToImage(raw, info)
	if err != nil {
		return nil, fmt.Errorf("jpeg-2000: %w", err)
	}
	opts := &jpeg2000.Options{
		Format:   jpeg2000.FormatJ2K, // raw codestream, no JP2 wrapper
		Lossless: true,
	}
	var buf bytes.Buffer
	if err := jpeg2000.Encode(&buf, img, opts); err != nil {
		return nil, fmt.Errorf("jpeg-2000: %w", err)
	}
	return buf.Bytes(), nil
}

// ToImage wraps raw interleaved pixel bytes as an image.Image for the
// image-based codecs and the flat-image exporter. Supported layouts:
// 8-bit 1- or 3-channel and 16-bit single channel.
func ToImage(raw []byte, info TileInfo) (image.Image, error) {
	rect := image.Rect(0, 0, info.Width, info.Height)
	n := info.Width * info.Height
	switch {
	case info.Type == slide.Uint8 && info.Channels == 1:
		img := image.NewGray(rect)
		copy(img.Pix, raw)
		return img, nil
	case info.Type == slide.Uint8 && info.Channels == 3:
		img := image.NewRGBA(rect)
		for i := 0; i < n; i++ {
			img.Pix[i*4] = raw[i*3]
			img.Pix[i*4+1] = raw[i*3+1]
			img.Pix[i*4+2] = raw[i*3+2]
			img.Pix[i*4+3] = 0xff
		}
		return img, nil
	case info.Type == slide.Uint16 && info.Channels == 1:
		img := image.NewGray16(rect)
		order := byteOrder(info.LittleEndian)
		for i := 0; i < n; i++ {
			// Gray16 stores big-endian
			binary.BigEndian.PutUint16(img.Pix[i*2:], order.Uint16(raw[i*2:]))
		}
		return img, nil
	}
	return nil, fmt.Errorf("no image mapping for %d-channel %s pixels", info.Channels, info.Type)
}

func byteOrder(little bool) binary.ByteOrder {
	if little {
		return binary.LittleEndian
	}
	return binary.BigEndian
}
