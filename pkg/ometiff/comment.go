package ometiff

import (
	"encoding/binary"
	"fmt"
	"os"
)

// OverwriteComment replaces the ImageDescription of the first directory
// of an existing TIFF or BigTIFF file in place. Pixel data and every
// other field are untouched. A shorter comment reuses the existing
// value slot; a longer one is appended at the end of the file and the
// directory entry is repointed at it.
func OverwriteComment(path, comment string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 16)
	if _, err := f.ReadAt(head[:8], 0); err != nil {
		return fmt.Errorf("read header of %s: %w", path, err)
	}
	var order binary.ByteOrder
	switch string(head[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return fmt.Errorf("%s is not a TIFF file", path)
	}

	var big bool
	switch order.Uint16(head[2:4]) {
	case 42:
	case 43:
		big = true
	default:
		return fmt.Errorf("%s is not a TIFF file", path)
	}

	var firstIFD uint64
	if big {
		if _, err := f.ReadAt(head[8:], 8); err != nil {
			return err
		}
		firstIFD = order.Uint64(head[8:16])
	} else {
		firstIFD = uint64(order.Uint32(head[4:8]))
	}

	entrySize, inline := 12, 4
	if big {
		entrySize, inline = 20, 8
	}

	var count uint64
	if big {
		buf := make([]byte, 8)
		if _, err := f.ReadAt(buf, int64(firstIFD)); err != nil {
			return err
		}
		count = order.Uint64(buf)
		firstIFD += 8
	} else {
		buf := make([]byte, 2)
		if _, err := f.ReadAt(buf, int64(firstIFD)); err != nil {
			return err
		}
		count = uint64(order.Uint16(buf))
		firstIFD += 2
	}

	entry := make([]byte, entrySize)
	for i := uint64(0); i < count; i++ {
		pos := int64(firstIFD + i*uint64(entrySize))
		if _, err := f.ReadAt(entry, pos); err != nil {
			return err
		}
		if order.Uint16(entry) != tagImageDesc {
			continue
		}
		var oldCount uint64
		if big {
			oldCount = order.Uint64(entry[4:12])
		} else {
			oldCount = uint64(order.Uint32(entry[4:8]))
		}
		value := append([]byte(comment), 0)

		var valueAt int64
		switch {
		case uint64(len(value)) <= oldCount && oldCount > uint64(inline):
			// shrink in place inside the existing out-of-line slot
			if big {
				valueAt = int64(order.Uint64(entry[12:20]))
			} else {
				valueAt = int64(order.Uint32(entry[8:12]))
			}
		case len(value) <= inline:
			// fits inline in the entry itself
			valueAt = pos + int64(entrySize-inline)
			for j := range entry[entrySize-inline:] {
				entry[entrySize-inline+j] = 0
			}
			copy(entry[entrySize-inline:], value)
		default:
			// longer than the old slot: append at end of file
			end, err := f.Seek(0, 2)
			if err != nil {
				return err
			}
			valueAt = end
		}

		if big {
			order.PutUint64(entry[4:12], uint64(len(value)))
			if valueAt != pos+int64(entrySize-inline) {
				order.PutUint64(entry[12:20], uint64(valueAt))
			}
		} else {
			order.PutUint32(entry[4:8], uint32(len(value)))
			if valueAt != pos+int64(entrySize-inline) {
				order.PutUint32(entry[8:12], uint32(valueAt))
			}
		}
		if _, err := f.WriteAt(entry, pos); err != nil {
			return err
		}
		if valueAt != pos+int64(entrySize-inline) {
			if _, err := f.WriteAt(value, valueAt); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%s has no image description to overwrite", path)
}
