// Copyright 2012 Lawrence Kesteloot

package floppy

import (
	"math/rand"
)

const (
	// Bytes that pass under the head in one revolution at 300 RPM in double
	// density. Single density bytes are stored twice, so a single density
	// track has the same length.
	DefaultTrackLength = 6250

	// Most ID address marks we remember per track.
	MaxSectors = 64

	// IDAM table entry layout. The offset points at the FE byte.
	idamDoubleDensity = 0x8000
	idamOffsetMask    = 0x3FFF

	// How far past the ID field the data address mark may be, in bytes.
	damWindowSingle = 30
	damWindowDouble = 43
)

// SectorDescriptor is the logical view of one physical sector.
type SectorDescriptor struct {
	Track         byte
	Side          byte
	Sector        byte
	SizeCode      byte
	DoubleDensity bool
	// FB for normal data, F8 to FA for deleted data.
	DAM      byte
	CRCError bool
	// False if the ID was found but not its data field.
	InUse bool
	Data  []byte
}

// Deleted reports whether the sector has a deleted data address mark.
func (sd *SectorDescriptor) Deleted() bool {
	return sd.InUse && sd.DAM != 0xFB
}

// Size of a sector with this size code.
func SectorSize(sizeCode byte) int {
	return 128 << (sizeCode & 0x03)
}

// Size code for a sector of at least this many bytes.
func sizeCodeFor(size int) byte {
	var code byte
	for code < 3 && SectorSize(code) < size {
		code++
	}
	return code
}

// Track is the raw byte stream of one side of one track, as the head sees it.
// Double density bytes take one slot; single density bytes are written twice
// in a row so that both densities rotate at the same rate.
type Track struct {
	data []byte

	// Density of every byte, unless densityMap is set.
	doubleDensity bool
	densityMap    []bool

	// Cached ID address marks and decoded sectors, rebuilt after writes.
	idams        []uint16
	idamsValid   bool
	sectors      []SectorDescriptor
	sectorsValid bool

	modified bool

	// What a head reading at the wrong density gets.
	garbage *rand.Rand
}

// NewTrack makes a track from raw bytes and its ID address mark table. The
// track takes ownership of data. Byte density is inferred from the table;
// with an empty table every byte is doubleDensity. A nil table is rebuilt by
// scanning the track.
func NewTrack(data []byte, idams []uint16, doubleDensity bool) *Track {
	if len(data) == 0 {
		data = make([]byte, DefaultTrackLength)
	}
	t := &Track{
		data:          data,
		doubleDensity: doubleDensity,
		idams:         append([]uint16(nil), idams...),
		idamsValid:    idams != nil,
		garbage:       newGarbage(len(data)),
	}
	t.inferDensity()
	return t
}

// Each track has its own deterministic noise source.
func newGarbage(seed int) *rand.Rand {
	return rand.New(rand.NewSource(int64(seed)))
}

// Work out byte density from the IDAM table. Each sector's density extends
// back over its sync preamble and forward to the next sector's preamble.
func (t *Track) inferDensity() {
	if len(t.idams) == 0 {
		return
	}

	first := t.idams[0]&idamDoubleDensity != 0
	mixed := false
	for _, idam := range t.idams {
		if (idam&idamDoubleDensity != 0) != first {
			mixed = true
		}
	}
	t.doubleDensity = first
	if !mixed {
		return
	}

	n := len(t.data)
	t.densityMap = make([]bool, n)
	for k, idam := range t.idams {
		dd := idam&idamDoubleDensity != 0
		start := regionStart(idam)
		end := regionStart(t.idams[(k+1)%len(t.idams)])
		if k == len(t.idams)-1 {
			end += n
		}
		for i := start; i < end; i++ {
			t.densityMap[((i%n)+n)%n] = dd
		}
	}
}

// Where a sector's sync preamble starts relative to its IDAM.
func regionStart(idam uint16) int {
	offset := int(idam & idamOffsetMask)
	if idam&idamDoubleDensity != 0 {
		return offset - 15
	}
	return offset - 12
}

// Len is the number of byte slots on the track.
func (t *Track) Len() int {
	return len(t.data)
}

func (t *Track) wrap(index int) int {
	n := len(t.data)
	return ((index % n) + n) % n
}

// DoubleDensityAt reports the density the byte at index was written in.
func (t *Track) DoubleDensityAt(index int) bool {
	if t.densityMap == nil {
		return t.doubleDensity
	}
	return t.densityMap[t.wrap(index)]
}

// Mixed reports whether the track has bytes of both densities.
func (t *Track) Mixed() bool {
	return t.densityMap != nil
}

// ByteAt returns the byte at index. Reading in the wrong density returns
// noise, just like a real drive reading across a density boundary.
func (t *Track) ByteAt(index int, doubleDensity bool) byte {
	index = t.wrap(index)
	if t.DoubleDensityAt(index) != doubleDensity {
		return byte(t.garbage.Intn(256))
	}
	return t.data[index]
}

// SetByte writes at index. Single density writes fill two slots.
func (t *Track) SetByte(index int, doubleDensity bool, value byte) {
	index = t.wrap(index)
	t.data[index] = value
	t.setDensity(index, doubleDensity)
	if !doubleDensity {
		next := t.wrap(index + 1)
		t.data[next] = value
		t.setDensity(next, false)
	}
	t.idamsValid = false
	t.sectorsValid = false
	t.modified = true
}

func (t *Track) setDensity(index int, doubleDensity bool) {
	if t.densityMap == nil {
		if doubleDensity == t.doubleDensity {
			return
		}
		t.densityMap = make([]bool, len(t.data))
		for i := range t.densityMap {
			t.densityMap[i] = t.doubleDensity
		}
	}
	t.densityMap[index] = doubleDensity
}

// Modified reports whether anything was written since the track was made or
// since ClearModified.
func (t *Track) Modified() bool {
	return t.modified
}

// ClearModified is called after the track has been saved.
func (t *Track) ClearModified() {
	t.modified = false
}

// Data returns a copy of the raw bytes.
func (t *Track) Data() []byte {
	return append([]byte(nil), t.data...)
}

// IDAMs returns a copy of the ID address mark table: offsets of the FE
// bytes, with idamDoubleDensity set for double density sectors.
func (t *Track) IDAMs() []uint16 {
	t.validateIDAMs()
	return append([]uint16(nil), t.idams...)
}

// HasIdamAt reports whether an ID address mark of the given density starts
// at index.
func (t *Track) HasIdamAt(index int, doubleDensity bool) bool {
	t.validateIDAMs()
	index = t.wrap(index)
	for _, idam := range t.idams {
		if int(idam&idamOffsetMask) == index && (idam&idamDoubleDensity != 0) == doubleDensity {
			return true
		}
	}
	return false
}

// NextIDAM returns the first ID address mark of the given density at or
// after from, not wrapping past the end of the track.
func (t *Track) NextIDAM(from int, doubleDensity bool) (int, bool) {
	t.validateIDAMs()
	best := -1
	for _, idam := range t.idams {
		offset := int(idam & idamOffsetMask)
		if offset >= from && (idam&idamDoubleDensity != 0) == doubleDensity {
			if best == -1 || offset < best {
				best = offset
			}
		}
	}
	return best, best != -1
}

func (t *Track) validateIDAMs() {
	if !t.idamsValid {
		t.scanIDAMs()
	}
}

// Rebuild the IDAM table by walking the track the way the controller would,
// skipping over data fields so sector contents can't look like marks.
func (t *Track) scanIDAMs() {
	t.idams = t.idams[:0]
	for i := 0; i < len(t.data) && len(t.idams) < MaxSectors; {
		dd, ok := t.idamAt(i)
		if !ok {
			i++
			continue
		}
		entry := uint16(i)
		if dd {
			entry |= idamDoubleDensity
		}
		t.idams = append(t.idams, entry)
		i = t.skipSector(i, dd)
	}
	t.idamsValid = true

	// Writes may have made the track uniform again.
	if t.densityMap != nil {
		uniform := true
		for _, dd := range t.densityMap {
			if dd != t.densityMap[0] {
				uniform = false
				break
			}
		}
		if uniform {
			t.doubleDensity = t.densityMap[0]
			t.densityMap = nil
		}
	}
}

// Whether an IDAM starts at i, and its density.
func (t *Track) idamAt(i int) (bool, bool) {
	if t.data[i] != 0xFE {
		return false, false
	}
	if t.DoubleDensityAt(i) {
		if i < 3 {
			return false, false
		}
		for k := 1; k <= 3; k++ {
			if t.data[i-k] != 0xA1 || !t.DoubleDensityAt(i-k) {
				return false, false
			}
		}
		return true, true
	}

	// Single density: a doubled FE after doubled zeros.
	if i < 2 || i+1 >= len(t.data) {
		return false, false
	}
	if t.data[i+1] != 0xFE || t.data[i-1] != 0x00 || t.data[i-2] != 0x00 ||
		t.DoubleDensityAt(i-1) || t.DoubleDensityAt(i+1) {

		return false, false
	}
	return false, true
}

// Returns the index just past the sector whose IDAM is at i.
func (t *Track) skipSector(i int, doubleDensity bool) int {
	step := densityStep(doubleDensity)
	sizeCode := t.data[t.wrap(i+4*step)]
	idEnd := i + 7*step
	dam, ok := t.findDAM(idEnd, doubleDensity)
	if !ok {
		return idEnd
	}
	return dam + (1+SectorSize(sizeCode)+2)*step
}

// Physical slots per logical byte.
func densityStep(doubleDensity bool) int {
	if doubleDensity {
		return 1
	}
	return 2
}

// DAM window in logical bytes.
func damWindow(doubleDensity bool) int {
	if doubleDensity {
		return damWindowDouble
	}
	return damWindowSingle
}

// Whether b can start a data field.
func isDAM(b byte) bool {
	return b >= 0xF8 && b <= 0xFB
}

// Look for a data address mark within the DAM window starting at start.
// Returns its index.
func (t *Track) findDAM(start int, doubleDensity bool) (int, bool) {
	step := densityStep(doubleDensity)
	for k := 0; k < damWindow(doubleDensity); k++ {
		p := start + k*step
		if !isDAM(t.data[t.wrap(p)]) || t.DoubleDensityAt(p) != doubleDensity {
			continue
		}
		if doubleDensity {
			if t.data[t.wrap(p-1)] != 0xA1 || t.data[t.wrap(p-2)] != 0xA1 || t.data[t.wrap(p-3)] != 0xA1 {
				continue
			}
		}
		return p, true
	}
	return 0, false
}

// Sectors decodes every sector on the track in rotational order. The result
// is cached until the next write and must not be modified.
func (t *Track) Sectors() []SectorDescriptor {
	if t.sectorsValid {
		return t.sectors
	}
	t.validateIDAMs()
	t.sectors = t.sectors[:0]
	for _, idam := range t.idams {
		t.sectors = append(t.sectors, t.decodeSector(int(idam&idamOffsetMask), idam&idamDoubleDensity != 0))
	}
	t.sectorsValid = true
	return t.sectors
}

// Sector finds the first sector with the given number.
func (t *Track) Sector(number byte) (SectorDescriptor, bool) {
	for _, sd := range t.Sectors() {
		if sd.Sector == number {
			return sd, true
		}
	}
	return SectorDescriptor{}, false
}

// Decode the sector whose IDAM is at offset. Never modifies the track.
func (t *Track) decodeSector(offset int, doubleDensity bool) SectorDescriptor {
	step := densityStep(doubleDensity)
	at := func(p int) byte {
		return t.data[t.wrap(p)]
	}

	var crc crcState
	crc.reset()
	crc.update(at(offset), doubleDensity, true)
	var id [6]byte
	for k := range id {
		id[k] = at(offset + (k+1)*step)
		crc.update(id[k], doubleDensity, false)
	}

	sd := SectorDescriptor{
		Track:         id[0],
		Side:          id[1],
		Sector:        id[2],
		SizeCode:      id[3] & 0x03,
		DoubleDensity: doubleDensity,
		CRCError:      crc.crc != 0,
	}

	dam, ok := t.findDAM(offset+7*step, doubleDensity)
	if !ok {
		return sd
	}
	sd.InUse = true
	sd.DAM = at(dam)

	crc.reset()
	crc.update(sd.DAM, doubleDensity, true)
	size := SectorSize(sd.SizeCode)
	sd.Data = make([]byte, size)
	for k := 0; k < size; k++ {
		sd.Data[k] = at(dam + (k+1)*step)
		crc.update(sd.Data[k], doubleDensity, false)
	}
	crc.update(at(dam+(size+1)*step), doubleDensity, false)
	crc.update(at(dam+(size+2)*step), doubleDensity, false)
	if crc.crc != 0 {
		sd.CRCError = true
	}

	return sd
}
