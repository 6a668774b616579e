package ometiff

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// TIFF tag codes used by the writer.
const (
	tagNewSubfileType  = 254
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagImageDesc       = 270
	tagSamplesPerPixel = 277
	tagSoftware        = 305
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSubIFDs         = 330
	tagSampleFormat    = 339
)

// TIFF field types.
const (
	typeASCII = 2
	typeShort = 3
	typeLong  = 4
	typeLong8 = 16
	typeIFD8  = 18
)

func typeSize(typ uint16) int {
	switch typ {
	case typeASCII:
		return 1
	case typeShort:
		return 2
	case typeLong:
		return 4
	case typeLong8, typeIFD8:
		return 8
	}
	return 0
}

// ifdEntry is one directory entry plus its encoded value bytes.
type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint64
	data  []byte
}

func entryShort(tag uint16, order binary.ByteOrder, vals ...uint16) ifdEntry {
	data := make([]byte, 2*len(vals))
	for i, v := range vals {
		order.PutUint16(data[i*2:], v)
	}
	return ifdEntry{tag: tag, typ: typeShort, count: uint64(len(vals)), data: data}
}

func entryLong(tag uint16, order binary.ByteOrder, vals ...uint32) ifdEntry {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		order.PutUint32(data[i*4:], v)
	}
	return ifdEntry{tag: tag, typ: typeLong, count: uint64(len(vals)), data: data}
}

func entryLong8(tag, typ uint16, order binary.ByteOrder, vals ...uint64) ifdEntry {
	data := make([]byte, 8*len(vals))
	for i, v := range vals {
		order.PutUint64(data[i*8:], v)
	}
	return ifdEntry{tag: tag, typ: typ, count: uint64(len(vals)), data: data}
}

func entryASCII(tag uint16, s string) ifdEntry {
	data := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: typeASCII, count: uint64(len(data)), data: data}
}

// ifdEncoder renders directory blocks for classic TIFF or BigTIFF.
// Values longer than the inline slot go to a pointer area appended
// directly after the entry table, the same layout cogger emits.
type ifdEncoder struct {
	big   bool
	order binary.ByteOrder
}

func (e ifdEncoder) entrySize() int {
	if e.big {
		return 20
	}
	return 12
}

func (e ifdEncoder) inlineSize() int {
	if e.big {
		return 8
	}
	return 4
}

func (e ifdEncoder) headerSize() int {
	if e.big {
		return 8 // 8-byte entry count
	}
	return 2
}

func (e ifdEncoder) nextSize() int {
	if e.big {
		return 8
	}
	return 4
}

// size returns the encoded byte length of a directory with the given
// entries, overflow area included.
func (e ifdEncoder) size(entries []ifdEntry) int {
	n := e.headerSize() + len(entries)*e.entrySize() + e.nextSize()
	for _, ent := range entries {
		if len(ent.data) > e.inlineSize() {
			n += len(ent.data)
			if len(ent.data)%2 == 1 {
				n++ // keep overflow values word-aligned
			}
		}
	}
	return n
}

// encode renders the directory block. start is the absolute file offset
// the block will be written at (needed for overflow pointers), next is
// the absolute offset of the next directory in the chain, or 0.
func (e ifdEncoder) encode(entries []ifdEntry, start, next uint64) ([]byte, error) {
	sorted := make([]ifdEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].tag < sorted[j].tag })

	overflowStart := start + uint64(e.headerSize()+len(sorted)*e.entrySize()+e.nextSize())
	var overflow []byte

	var out []byte
	if e.big {
		out = make([]byte, 8)
		e.order.PutUint64(out, uint64(len(sorted)))
	} else {
		out = make([]byte, 2)
		e.order.PutUint16(out, uint16(len(sorted)))
	}

	for _, ent := range sorted {
		if int(ent.count)*typeSize(ent.typ) != len(ent.data) {
			return nil, fmt.Errorf("tag %d: count %d does not match %d value bytes", ent.tag, ent.count, len(ent.data))
		}
		field := make([]byte, e.entrySize())
		e.order.PutUint16(field[0:], ent.tag)
		e.order.PutUint16(field[2:], ent.typ)
		if e.big {
			e.order.PutUint64(field[4:], ent.count)
		} else {
			e.order.PutUint32(field[4:], uint32(ent.count))
		}
		valueOff := 4
		if e.big {
			valueOff = 12
		}
		if len(ent.data) <= e.inlineSize() {
			copy(field[valueOff:], ent.data)
		} else {
			ptr := overflowStart + uint64(len(overflow))
			if e.big {
				e.order.PutUint64(field[valueOff:], ptr)
			} else {
				if ptr > uint64(^uint32(0)) {
					return nil, fmt.Errorf("tag %d: value offset %d exceeds classic TIFF addressing", ent.tag, ptr)
				}
				e.order.PutUint32(field[valueOff:], uint32(ptr))
			}
			overflow = append(overflow, ent.data...)
			if len(ent.data)%2 == 1 {
				overflow = append(overflow, 0)
			}
		}
		out = append(out, field...)
	}

	tail := make([]byte, e.nextSize())
	if e.big {
		e.order.PutUint64(tail, next)
	} else {
		if next > uint64(^uint32(0)) {
			return nil, fmt.Errorf("next directory offset %d exceeds classic TIFF addressing", next)
		}
		e.order.PutUint32(tail, uint32(next))
	}
	out = append(out, tail...)
	return append(out, overflow...), nil
}

// header renders the file header. firstIFD may be 0 and patched later.
func (e ifdEncoder) header(firstIFD uint64) []byte {
	if e.big {
		buf := make([]byte, 16)
		e.putOrderMark(buf)
		e.order.PutUint16(buf[2:], 43)
		e.order.PutUint16(buf[4:], 8) // offset size
		e.order.PutUint16(buf[6:], 0)
		e.order.PutUint64(buf[8:], firstIFD)
		return buf
	}
	buf := make([]byte, 8)
	e.putOrderMark(buf)
	e.order.PutUint16(buf[2:], 42)
	e.order.PutUint32(buf[4:], uint32(firstIFD))
	return buf
}

func (e ifdEncoder) putOrderMark(buf []byte) {
	if e.order == binary.LittleEndian {
		copy(buf, "II")
	} else {
		copy(buf, "MM")
	}
}

// firstIFDFieldOffset is where the first-directory pointer lives in the
// header, for patching after the directory chain is placed.
func (e ifdEncoder) firstIFDFieldOffset() int64 {
	if e.big {
		return 8
	}
	return 4
}
