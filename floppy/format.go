// Copyright 2012 Lawrence Kesteloot

package floppy

// Laying out sectors on a track the way a formatter would: IBM System 34 for
// double density and IBM 3740 for single density.

// Gap sizes in logical bytes.
type gapLayout struct {
	fill   byte
	gap4a  int
	sync   int
	gap1   int
	gap2   int
	minGap int
}

var (
	doubleDensityGaps = gapLayout{fill: 0x4E, gap4a: 80, sync: 12, gap1: 50, gap2: 22, minGap: 8}
	singleDensityGaps = gapLayout{fill: 0xFF, gap4a: 40, sync: 6, gap1: 26, gap2: 11, minGap: 6}
)

func gapsFor(doubleDensity bool) gapLayout {
	if doubleDensity {
		return doubleDensityGaps
	}
	return singleDensityGaps
}

// Accumulates bytes with their density.
type trackBuilder struct {
	data    []byte
	density []bool
	idams   []uint16
	crc     crcState
}

func (b *trackBuilder) put(value byte, doubleDensity bool, count int) {
	for i := 0; i < count; i++ {
		b.data = append(b.data, value)
		b.density = append(b.density, doubleDensity)
		if !doubleDensity {
			b.data = append(b.data, value)
			b.density = append(b.density, false)
		}
	}
}

// Puts a byte and adds it to the running CRC.
func (b *trackBuilder) putChecked(value byte, doubleDensity, allowReset bool) {
	b.crc.update(value, doubleDensity, allowReset)
	b.put(value, doubleDensity, 1)
}

func (b *trackBuilder) putCRC(doubleDensity bool, corrupt bool) {
	crc := b.crc.crc
	if corrupt {
		crc ^= 0xFFFF
	}
	b.put(byte(crc>>8), doubleDensity, 1)
	b.put(byte(crc), doubleDensity, 1)
}

// Sync bytes, plus A1s in double density, then the address mark.
func (b *trackBuilder) putMark(mark byte, doubleDensity bool) {
	gaps := gapsFor(doubleDensity)
	b.put(0x00, doubleDensity, gaps.sync)
	b.crc.reset()
	if doubleDensity {
		for i := 0; i < 3; i++ {
			b.putChecked(0xA1, true, true)
		}
	}
	b.putChecked(mark, doubleDensity, true)
}

// Logical length of a sector's ID and data fields, not counting gap 3.
func sectorFieldLength(sd *SectorDescriptor) int {
	gaps := gapsFor(sd.DoubleDensity)
	marks := 1
	if sd.DoubleDensity {
		marks = 4
	}
	n := gaps.sync + marks + 6
	if sd.InUse {
		n += gaps.gap2 + gaps.sync + marks + SectorSize(sd.SizeCode) + 2
	}
	return n
}

// NewTrackFromSectors formats a track holding the given sectors in order.
// Each sector is written in its own density; the preamble and filler use
// doubleDensity. Gap 3 is stretched to fill a standard track, and the track
// grows if the sectors don't fit. A sector marked CRCError gets a bad data
// CRC.
func NewTrackFromSectors(sectors []SectorDescriptor, doubleDensity bool) *Track {
	gaps := gapsFor(doubleDensity)

	// Normalize sizes so the ID field agrees with the data.
	sectors = append([]SectorDescriptor(nil), sectors...)
	for i := range sectors {
		if sectors[i].Data != nil {
			sectors[i].SizeCode = sizeCodeFor(len(sectors[i].Data))
		}
	}

	// Size gap 3 to spread spare room between sectors.
	used := (gaps.gap4a + gaps.sync + 4 + gaps.gap1) * densityStep(doubleDensity)
	for i := range sectors {
		used += sectorFieldLength(&sectors[i]) * densityStep(sectors[i].DoubleDensity)
	}
	gap3 := make([]int, len(sectors))
	for i := range sectors {
		g := gapsFor(sectors[i].DoubleDensity)
		gap3[i] = g.minGap
		if used < DefaultTrackLength {
			spare := (DefaultTrackLength - used) / len(sectors) / densityStep(sectors[i].DoubleDensity)
			if spare > gap3[i] {
				gap3[i] = spare
			}
		}
	}

	b := &trackBuilder{}

	// Index address mark.
	b.put(gaps.fill, doubleDensity, gaps.gap4a)
	b.put(0x00, doubleDensity, gaps.sync)
	if doubleDensity {
		b.put(0xC2, true, 3)
	}
	b.put(0xFC, doubleDensity, 1)
	b.put(gaps.fill, doubleDensity, gaps.gap1)

	for i := range sectors {
		sd := &sectors[i]
		dd := sd.DoubleDensity
		g := gapsFor(dd)

		b.putMark(0xFE, dd)
		idam := uint16(len(b.data) - densityStep(dd))
		if dd {
			idam |= idamDoubleDensity
		}
		b.idams = append(b.idams, idam)
		for _, v := range []byte{sd.Track, sd.Side, sd.Sector, sd.SizeCode} {
			b.putChecked(v, dd, false)
		}
		b.putCRC(dd, false)

		if sd.InUse {
			b.put(g.fill, dd, g.gap2)
			dam := sd.DAM
			if !isDAM(dam) {
				dam = 0xFB
			}
			b.putMark(dam, dd)
			size := SectorSize(sd.SizeCode)
			for k := 0; k < size; k++ {
				var v byte
				if k < len(sd.Data) {
					v = sd.Data[k]
				}
				b.putChecked(v, dd, false)
			}
			b.putCRC(dd, sd.CRCError)
		}
		b.put(g.fill, dd, gap3[i])
	}

	for len(b.data) < DefaultTrackLength {
		b.put(gaps.fill, doubleDensity, 1)
	}

	t := &Track{
		data:          b.data,
		doubleDensity: doubleDensity,
		idams:         b.idams,
		idamsValid:    true,
		garbage:       newGarbage(len(b.data)),
	}
	for _, dd := range b.density {
		if dd != doubleDensity {
			t.densityMap = b.density
			break
		}
	}
	return t
}

// NewBlankTrack is an unformatted track of the standard length.
func NewBlankTrack(doubleDensity bool) *Track {
	return NewTrack(make([]byte, DefaultTrackLength), nil, doubleDensity)
}
