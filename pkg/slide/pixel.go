package slide

import "fmt"

// PixelType identifies the storage type of a single sample.
type PixelType int

const (
	Uint8 PixelType = iota
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Float32
	Float64
)

// BytesPerPixel returns the storage size of one sample.
func (t PixelType) BytesPerPixel() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// IsFloat reports whether the type stores floating-point samples.
func (t PixelType) IsFloat() bool {
	return t == Float32 || t == Float64
}

// IsSigned reports whether integer samples are two's-complement signed.
func (t PixelType) IsSigned() bool {
	return t == Int8 || t == Int16 || t == Int32
}

func (t PixelType) String() string {
	switch t {
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Uint32:
		return "uint32"
	case Int32:
		return "int32"
	case Float32:
		return "float"
	case Float64:
		return "double"
	}
	return fmt.Sprintf("PixelType(%d)", int(t))
}

// ParsePixelType maps a type name to a PixelType. Names follow the
// OME schema ("uint16", "float", "double", ...).
func ParsePixelType(name string) (PixelType, error) {
	switch name {
	case "uint8":
		return Uint8, nil
	case "int8":
		return Int8, nil
	case "uint16":
		return Uint16, nil
	case "int16":
		return Int16, nil
	case "uint32":
		return Uint32, nil
	case "int32":
		return Int32, nil
	case "float":
		return Float32, nil
	case "double":
		return Float64, nil
	}
	return 0, fmt.Errorf("unknown pixel type %q", name)
}
