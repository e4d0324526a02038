// Copyright 2012 Lawrence Kesteloot

package diskimage

// JV3 is a Model III format that allows variable-sized sectors. There are two
// blocks that specify where each sector is and how large it is. The first
// block is at the beginning of the file. It describes at most 2901 sectors,
// which follow the block. The next block is after that, followed by more
// sectors described by the second block. Each block is 2901 3-byte sector info
// structures. The first byte is the track number, the second is the sector
// number within that track, and the third is some flags that specify the size
// of the sector. See the jv3Sector structure. The byte after the first block
// is FF if the disk is writable.

import (
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lkesteloot/trs80emu/floppy"
)

const (
	jv3MaxSides        = 2                  // Number of sides supported by this format.
	jv3SectorStart     = 34 * 256           // Start of sectors within block (end of IDs).
	jv3SectorsPerBlock = jv3SectorStart / 3 // Number of jv3Sector structs per info block.
	jv3WriteProtect    = 3 * jv3SectorsPerBlock
	jv3Writable        = 0xFF
)

// JV3 flags and constants.
const (
	jv3Density = 0x80 // 1=dden, 0=sden
	jv3Dam     = 0x60 // Data address mark; values follow.
	jv3DamSdFB = 0x00
	jv3DamSdFA = 0x20
	jv3DamSdF9 = 0x40
	jv3DamSdF8 = 0x60
	jv3DamDdFB = 0x00
	jv3DamDdF8 = 0x20
	jv3Side    = 0x10 // 0=side 0, 1=side 1
	jv3Error   = 0x08 // 0=ok, 1=CRC error
	jv3NonIbm  = 0x04 // 0=normal, 1=short (for VTOS 3.0, xtrs only)
	jv3Size    = 0x03 // See comment in sizeCode().

	jv3Free = 0xFF // In track/sector fields
)

// Each block of a JV3 file has jv3SectorsPerBlock of these.
type jv3Sector struct {
	track, sector, flags byte
}

// Whether the entry has no data at all.
func (id jv3Sector) unused() bool {
	return id.track == jv3Free && id.flags == jv3Free
}

func (id jv3Sector) free() bool {
	return id.track == jv3Free
}

func (id jv3Sector) side() int {
	if id.flags&jv3Side != 0 {
		return 1
	}
	return 0
}

func (id jv3Sector) doubleDensity() bool {
	return id.flags&jv3Density != 0
}

// Return the size code for this sector: 0-3 for 128, 256, 512, 1024.
func (id jv3Sector) sizeCode() byte {
	// In used sectors: 0=256,1=128,2=1024,3=512
	// In free sectors: 0=512,1=1024,2=128,3=256
	code := id.flags & jv3Size

	// Which bit to flip (invert) in the size code to get it in order.
	var flipMask byte
	if id.free() {
		flipMask = 2
	} else {
		flipMask = 1
	}

	return code ^ flipMask
}

func (id jv3Sector) size() int {
	return floppy.SectorSize(id.sizeCode())
}

func (id jv3Sector) dam() byte {
	dam := id.flags & jv3Dam
	if id.doubleDensity() {
		if dam == jv3DamDdF8 {
			return 0xF8
		}
		return 0xFB
	}
	switch dam {
	case jv3DamSdFA:
		return 0xFA
	case jv3DamSdF9:
		return 0xF9
	case jv3DamSdF8:
		return 0xF8
	}
	return 0xFB
}

// A used sector and where its data is.
type jv3Entry struct {
	id     jv3Sector
	index  int
	offset int
}

// Sort first by track, second by side, third by position in the file (i.e.,
// physical sector order on track).
type jv3Entries []jv3Entry

func (e jv3Entries) Len() int {
	return len(e)
}

func (e jv3Entries) Less(i, j int) bool {
	a, b := &e[i], &e[j]
	return a.id.track < b.id.track ||
		(a.id.track == b.id.track && (a.id.side() < b.id.side() ||
			(a.id.side() == b.id.side() && a.index < b.index)))
}

func (e jv3Entries) Swap(i, j int) {
	e[i], e[j] = e[j], e[i]
}

// DecodeJV3 decodes a JV3 image.
func DecodeJV3(data []byte) (*floppy.Floppy, error) {
	if len(data) < jv3SectorStart {
		return nil, errors.Errorf("JV3 image too short (%d bytes)", len(data))
	}

	var entries jv3Entries

	// First block, and a second one if there's room for it after the
	// first block's sectors.
	blockStart := 0
	for block := 0; block < 2; block++ {
		if blockStart+jv3SectorStart > len(data) {
			break
		}
		offset := blockStart + jv3SectorStart
		for i := 0; i < jv3SectorsPerBlock; i++ {
			p := blockStart + 3*i
			id := jv3Sector{data[p], data[p+1], data[p+2]}
			if id.unused() {
				continue
			}
			if !id.free() {
				if offset+id.size() > len(data) {
					return nil, errors.Errorf("JV3 sector %d (track %d sector %d) past end of file",
						block*jv3SectorsPerBlock+i, id.track, id.sector)
				}
				entries = append(entries, jv3Entry{
					id:     id,
					index:  block*jv3SectorsPerBlock + i,
					offset: offset,
				})
			}
			offset += id.size()
		}
		blockStart = offset
	}
	if len(entries) == 0 {
		return nil, errors.New("JV3 image has no sectors")
	}

	sort.Sort(entries)

	trackCount := int(entries[len(entries)-1].id.track) + 1
	sides := 1
	for _, e := range entries {
		if e.id.side() == 1 {
			sides = jv3MaxSides
		}
	}

	f := floppy.NewFloppy(trackCount, sides)
	f.WriteProtected = data[jv3WriteProtect] != jv3Writable

	for start := 0; start < len(entries); {
		end := start
		for end < len(entries) && entries[end].id.track == entries[start].id.track &&
			entries[end].id.side() == entries[start].id.side() {

			end++
		}

		sectors := make([]floppy.SectorDescriptor, 0, end-start)
		for _, e := range entries[start:end] {
			if e.id.flags&jv3NonIbm != 0 {
				log.WithFields(log.Fields{
					"track":  e.id.track,
					"sector": e.id.sector,
				}).Warn("JV3 non-IBM sector treated as normal")
			}
			sectors = append(sectors, floppy.SectorDescriptor{
				Track:         e.id.track,
				Side:          byte(e.id.side()),
				Sector:        e.id.sector,
				SizeCode:      e.id.sizeCode(),
				DoubleDensity: e.id.doubleDensity(),
				DAM:           e.id.dam(),
				CRCError:      e.id.flags&jv3Error != 0,
				InUse:         true,
				Data:          append([]byte(nil), data[e.offset:e.offset+e.id.size()]...),
			})
		}
		first := entries[start].id
		f.SetTrack(int(first.track), first.side(), floppy.NewTrackFromSectors(sectors, first.doubleDensity()))

		start = end
	}
	f.MarkSaved()

	return f, nil
}
