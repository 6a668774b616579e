package slide

import "fmt"

// Pixels describes one series of a multi-series source image.
type Pixels struct {
	SizeX        int
	SizeY        int
	SizeZ        int
	SizeC        int
	SizeT        int
	Type         PixelType
	LittleEndian bool
	Interleaved  bool
	// Channels is the number of samples stored per pixel within a
	// single plane (the RGB channel count). 1 for monochrome or for
	// sources that deliver each channel as its own plane.
	Channels int
	// Planes is the number of 2D planes addressable via ReadRegion.
	Planes int
}

// Reader is the source-format decoder capability. Series and resolution
// are explicit on every call; implementations hold no selection cursor,
// so call order never changes results.
type Reader interface {
	// SeriesCount returns the number of independent images in the source.
	SeriesCount() int

	// Pixels returns the base-resolution description of a series.
	Pixels(series int) (Pixels, error)

	// ResolutionCount returns the number of resolutions the source
	// itself stores for a series. Synthetic pyramid levels are not the
	// reader's concern; sources with no native pyramid report 1.
	ResolutionCount(series int) int

	// ReadRegion returns raw pixel bytes for a rectangular region of one
	// plane, in the source's native packing (endianness, interleaving).
	ReadRegion(series, resolution, plane, x, y, w, h int) ([]byte, error)

	Close() error
}

// CheckRegion validates region bounds against plane dimensions. Shared
// by Reader implementations.
func CheckRegion(x, y, w, h, sizeX, sizeY int) error {
	if w <= 0 || h <= 0 || x < 0 || y < 0 || x+w > sizeX || y+h > sizeY {
		return fmt.Errorf("region %dx%d+%d+%d outside %dx%d plane", w, h, x, y, sizeX, sizeY)
	}
	return nil
}
