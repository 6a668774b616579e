package ometiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// Software tag value stamped on every directory.
const softwareName = "mrxs2ometiff"

// TileGeometry is the nominal tile grid of one resolution: the step
// size of the grid, not the clipped size of any particular tile.
type TileGeometry struct {
	Width  int
	Height int
}

// Writer persists tiles and metadata as a tiled TIFF container.
//
// Setup calls (SetBigTiff, SetMetadata, SetInterleaved, SetCompression,
// SetWriteSequentially) must all happen before SetPath opens the
// output; they are fixed for the run. Tile payloads are streamed to the
// file in call order; the directory tree is assembled in memory and
// emitted on Close, so pixel data is written strictly sequentially and
// never revisited.
//
// Directory layout: one main directory per (series, plane), chained in
// series-then-plane order. Resolutions beyond the base registered for a
// series become sub-directories referenced from the plane's main
// directory via SubIFDs. A run that never selects a resolution above 0
// therefore produces a flat directory chain, which is exactly the
// legacy pyramid convention.
type Writer struct {
	bigTiff     bool
	meta        *Metadata
	interleaved bool
	codec       Codec
	sequential  bool
	path        string

	f     *os.File
	off   uint64
	order binary.ByteOrder

	series     int
	resolution int
	levels     map[levelKey]*levelState
}

type levelKey struct {
	series     int
	resolution int
	plane      int
}

type levelState struct {
	sizeX, sizeY int
	tileW, tileH int
	offsets      []uint64
	counts       []uint64
	written      int // tiles recorded so far, for the sequential check
}

func NewWriter() *Writer {
	return &Writer{levels: make(map[levelKey]*levelState)}
}

func (w *Writer) setup(name string) error {
	if w.f != nil {
		return fmt.Errorf("%s must be called before the output path is set", name)
	}
	return nil
}

// SetBigTiff selects 8-byte (BigTIFF) addressing for the output.
func (w *Writer) SetBigTiff(big bool) error {
	if err := w.setup("SetBigTiff"); err != nil {
		return err
	}
	w.bigTiff = big
	return nil
}

// SetMetadata binds the schema store describing every series and
// resolution the run will write.
func (w *Writer) SetMetadata(meta *Metadata) error {
	if err := w.setup("SetMetadata"); err != nil {
		return err
	}
	if meta == nil || meta.SeriesCount() == 0 {
		return errors.New("metadata store has no series")
	}
	w.meta = meta
	return nil
}

// SetInterleaved declares whether incoming plane bytes interleave their
// channels; it must match the source.
func (w *Writer) SetInterleaved(interleaved bool) error {
	if err := w.setup("SetInterleaved"); err != nil {
		return err
	}
	w.interleaved = interleaved
	return nil
}

// SetCompression selects the tile codec by name.
func (w *Writer) SetCompression(name string) error {
	if err := w.setup("SetCompression"); err != nil {
		return err
	}
	codec, err := LookupCodec(name)
	if err != nil {
		return err
	}
	w.codec = codec
	return nil
}

// SetWriteSequentially declares that tiles arrive in strict raster
// order per plane. The writer enforces it; out-of-order tiles are a
// caller bug.
func (w *Writer) SetWriteSequentially(sequential bool) error {
	if err := w.setup("SetWriteSequentially"); err != nil {
		return err
	}
	w.sequential = sequential
	return nil
}

// SetPath binds the output file and writes the container header. All
// other setup must be complete.
func (w *Writer) SetPath(path string) error {
	if err := w.setup("SetPath"); err != nil {
		return err
	}
	if w.meta == nil {
		return errors.New("metadata store must be bound before the output path")
	}
	if w.codec == nil {
		return errors.New("compression must be set before the output path")
	}
	// match the container byte order to the source packing so sample
	// bytes pass through unchanged
	base, err := w.meta.Series(0)
	if err != nil {
		return err
	}
	w.order = byteOrder(base.Pixels.LittleEndian)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	enc := w.encoder()
	header := enc.header(0) // first-directory offset patched on Close
	if _, err := f.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	w.f = f
	w.off = uint64(len(header))
	w.path = path
	return nil
}

func (w *Writer) encoder() ifdEncoder {
	return ifdEncoder{big: w.bigTiff, order: w.order}
}

// SetSeries selects the series subsequent tiles belong to and resets
// the resolution to the base.
func (w *Writer) SetSeries(series int) error {
	if _, err := w.meta.Series(series); err != nil {
		return err
	}
	w.series = series
	w.resolution = 0
	return nil
}

// SetResolution selects the resolution of the current series that
// subsequent tiles belong to.
func (w *Writer) SetResolution(res int) error {
	if _, _, err := w.meta.ResolutionSize(w.series, res); err != nil {
		return err
	}
	w.resolution = res
	return nil
}

// WriteTile persists one tile of a plane at the current series and
// resolution. x/y/wd/ht locate the tile on the resolution's pixel grid;
// tile carries the nominal grid step, edge tiles may be clipped smaller
// and are padded to the grid step before encoding.
func (w *Writer) WriteTile(plane int, buf []byte, tile TileGeometry, x, y, wd, ht int) error {
	if w.f == nil {
		return errors.New("output path not set")
	}
	if tile.Width <= 0 || tile.Height <= 0 {
		return fmt.Errorf("invalid tile grid %dx%d", tile.Width, tile.Height)
	}
	sm, err := w.meta.Series(w.series)
	if err != nil {
		return err
	}
	key := levelKey{w.series, w.resolution, plane}
	state := w.levels[key]
	if state == nil {
		sizeX, sizeY, err := w.meta.ResolutionSize(w.series, w.resolution)
		if err != nil {
			return err
		}
		nx := (sizeX + tile.Width - 1) / tile.Width
		ny := (sizeY + tile.Height - 1) / tile.Height
		state = &levelState{
			sizeX: sizeX, sizeY: sizeY,
			tileW: tile.Width, tileH: tile.Height,
			offsets: make([]uint64, nx*ny),
			counts:  make([]uint64, nx*ny),
		}
		w.levels[key] = state
	}
	if state.tileW != tile.Width || state.tileH != tile.Height {
		return fmt.Errorf("tile grid changed from %dx%d to %dx%d mid-plane",
			state.tileW, state.tileH, tile.Width, tile.Height)
	}
	if x%tile.Width != 0 || y%tile.Height != 0 {
		return fmt.Errorf("tile origin %d,%d not on the %dx%d grid", x, y, tile.Width, tile.Height)
	}
	nx := (state.sizeX + tile.Width - 1) / tile.Width
	idx := (y/tile.Height)*nx + x/tile.Width
	if idx < 0 || idx >= len(state.offsets) {
		return fmt.Errorf("tile %d,%d outside the %dx%d plane", x, y, state.sizeX, state.sizeY)
	}
	if w.sequential && idx != state.written {
		return fmt.Errorf("tile %d written out of order (expected %d)", idx, state.written)
	}

	samples := w.samplesPerPixel(sm)
	pixelSize := sm.Pixels.Type.BytesPerPixel() * samples
	if len(buf) < wd*ht*pixelSize {
		return fmt.Errorf("tile payload %d bytes, need %d for %dx%d", len(buf), wd*ht*pixelSize, wd, ht)
	}
	if wd < tile.Width || ht < tile.Height {
		buf = padTile(buf, wd, ht, tile.Width, tile.Height, pixelSize)
	}

	encoded, err := w.codec.Encode(buf, TileInfo{
		Width:        tile.Width,
		Height:       tile.Height,
		Channels:     samples,
		Type:         sm.Pixels.Type,
		LittleEndian: sm.Pixels.LittleEndian,
	})
	if err != nil {
		return fmt.Errorf("encode tile %d of plane %d: %w", idx, plane, err)
	}
	if _, err := w.f.Write(encoded); err != nil {
		return fmt.Errorf("write tile %d of plane %d: %w", idx, plane, err)
	}
	state.offsets[idx] = w.off
	state.counts[idx] = uint64(len(encoded))
	state.written++
	w.off += uint64(len(encoded))
	return nil
}

func (w *Writer) samplesPerPixel(sm *SeriesMeta) int {
	if w.interleaved && sm.Pixels.Channels > 1 {
		return sm.Pixels.Channels
	}
	return 1
}

// padTile grows a clipped edge tile to the nominal grid size. Padding
// is zero-filled.
func padTile(buf []byte, wd, ht, tileW, tileH, pixelSize int) []byte {
	out := make([]byte, tileW*tileH*pixelSize)
	for row := 0; row < ht; row++ {
		copy(out[row*tileW*pixelSize:], buf[row*wd*pixelSize:(row+1)*wd*pixelSize])
	}
	return out
}

// Close assembles the directory tree, patches the header to point at
// it, and closes the file. The writer cannot be reused afterwards.
func (w *Writer) Close() error {
	if w.f == nil {
		return errors.New("writer is not open")
	}
	defer func() {
		if w.f != nil {
			w.f.Close()
			w.f = nil
		}
	}()
	if len(w.levels) == 0 {
		return errors.New("no tiles were written")
	}
	if err := w.writeDirectories(); err != nil {
		return fmt.Errorf("finalize %s: %w", w.path, err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	w.f = nil
	return nil
}

// directory assembly

type dirPlan struct {
	key     levelKey
	state   *levelState
	series  *SeriesMeta
	first   bool       // carries the ImageDescription
	subs    []levelKey // resolutions 1.. of the same plane, mains only
	reduced bool
	offset  uint64
	size    int
}

func (w *Writer) writeDirectories() error {
	plans, err := w.planDirectories()
	if err != nil {
		return err
	}
	desc, err := w.meta.OMEXML()
	if err != nil {
		return err
	}

	enc := w.encoder()
	planAt := make(map[levelKey]*dirPlan, len(plans))
	for _, p := range plans {
		planAt[p.key] = p
	}

	// pass 1: sizes and offsets
	off := w.off
	for _, p := range plans {
		entries, err := w.directoryEntries(p, desc, planAt)
		if err != nil {
			return err
		}
		p.offset = off
		p.size = enc.size(entries)
		off += uint64(p.size)
	}

	// pass 2: render with resolved offsets
	for i, p := range plans {
		var next uint64
		if !p.reduced {
			for _, q := range plans[i+1:] {
				if !q.reduced {
					next = q.offset
					break
				}
			}
		}
		entries, err := w.directoryEntries(p, desc, planAt)
		if err != nil {
			return err
		}
		block, err := enc.encode(entries, p.offset, next)
		if err != nil {
			return err
		}
		if len(block) != p.size {
			return fmt.Errorf("directory for series %d resolution %d plane %d sized %d, rendered %d",
				p.key.series, p.key.resolution, p.key.plane, p.size, len(block))
		}
		if _, err := w.f.Write(block); err != nil {
			return err
		}
	}

	// patch the header's first-directory pointer
	first := plans[0].offset
	ptr := make([]byte, 8)
	if w.bigTiff {
		w.order.PutUint64(ptr, first)
	} else {
		ptr = ptr[:4]
		w.order.PutUint32(ptr, uint32(first))
	}
	if _, err := w.f.WriteAt(ptr, enc.firstIFDFieldOffset()); err != nil {
		return err
	}
	return nil
}

// planDirectories orders directories physically: each main directory
// followed by its sub-resolutions, mains chained in series-then-plane
// order.
func (w *Writer) planDirectories() ([]*dirPlan, error) {
	var plans []*dirPlan
	for s := 0; s < w.meta.SeriesCount(); s++ {
		sm, _ := w.meta.Series(s)
		for p := 0; ; p++ {
			main, ok := w.levels[levelKey{s, 0, p}]
			if !ok {
				if p == 0 {
					return nil, fmt.Errorf("series %d has no base-resolution tiles", s)
				}
				break
			}
			mp := &dirPlan{
				key:    levelKey{s, 0, p},
				state:  main,
				series: sm,
				first:  len(plans) == 0,
			}
			plans = append(plans, mp)
			for r := 1; r < sm.ResolutionCount(); r++ {
				sub, ok := w.levels[levelKey{s, r, p}]
				if !ok {
					return nil, fmt.Errorf("series %d plane %d is missing resolution %d", s, p, r)
				}
				mp.subs = append(mp.subs, levelKey{s, r, p})
				plans = append(plans, &dirPlan{
					key:     levelKey{s, r, p},
					state:   sub,
					series:  sm,
					reduced: true,
				})
			}
		}
	}
	return plans, nil
}

func (w *Writer) directoryEntries(p *dirPlan, desc string, planAt map[levelKey]*dirPlan) ([]ifdEntry, error) {
	sm := p.series
	samples := w.samplesPerPixel(sm)
	bits := make([]uint16, samples)
	formats := make([]uint16, samples)
	var format uint16 = 1
	if sm.Pixels.Type.IsSigned() {
		format = 2
	} else if sm.Pixels.Type.IsFloat() {
		format = 3
	}
	for i := range bits {
		bits[i] = uint16(sm.Pixels.Type.BytesPerPixel() * 8)
		formats[i] = format
	}
	var photometric uint16 = 1
	if samples >= 3 && !sm.Pixels.Type.IsFloat() {
		photometric = 2
	}
	var subfile uint32
	if p.reduced {
		subfile = 1
	}

	entries := []ifdEntry{
		entryLong(tagNewSubfileType, w.order, subfile),
		entryLong(tagImageWidth, w.order, uint32(p.state.sizeX)),
		entryLong(tagImageLength, w.order, uint32(p.state.sizeY)),
		entryShort(tagBitsPerSample, w.order, bits...),
		entryShort(tagCompression, w.order, w.codec.Tag()),
		entryShort(tagPhotometric, w.order, photometric),
		entryShort(tagSamplesPerPixel, w.order, uint16(samples)),
		entryASCII(tagSoftware, softwareName),
		entryLong(tagTileWidth, w.order, uint32(p.state.tileW)),
		entryLong(tagTileLength, w.order, uint32(p.state.tileH)),
		entryShort(tagSampleFormat, w.order, formats...),
	}
	if p.first {
		entries = append(entries, entryASCII(tagImageDesc, desc))
	}
	if w.bigTiff {
		entries = append(entries,
			entryLong8(tagTileOffsets, typeLong8, w.order, p.state.offsets...),
			entryLong8(tagTileByteCounts, typeLong8, w.order, p.state.counts...))
	} else {
		offs := make([]uint32, len(p.state.offsets))
		counts := make([]uint32, len(p.state.counts))
		for i := range offs {
			if p.state.offsets[i] > uint64(^uint32(0)) {
				return nil, fmt.Errorf("tile offset %d exceeds classic TIFF addressing; enable BigTIFF", p.state.offsets[i])
			}
			offs[i] = uint32(p.state.offsets[i])
			counts[i] = uint32(p.state.counts[i])
		}
		entries = append(entries,
			entryLong(tagTileOffsets, w.order, offs...),
			entryLong(tagTileByteCounts, w.order, counts...))
	}
	if len(p.subs) > 0 {
		subOffsets := make([]uint64, len(p.subs))
		for i, k := range p.subs {
			subOffsets[i] = planAt[k].offset
		}
		if w.bigTiff {
			entries = append(entries, entryLong8(tagSubIFDs, typeIFD8, w.order, subOffsets...))
		} else {
			subs32 := make([]uint32, len(subOffsets))
			for i, o := range subOffsets {
				subs32[i] = uint32(o)
			}
			entries = append(entries, entryLong(tagSubIFDs, w.order, subs32...))
		}
	}
	return entries, nil
}
