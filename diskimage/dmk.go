// Copyright 2012 Lawrence Kesteloot

package diskimage

// DMK images hold each track's raw bytes, so anything the controller writes
// survives. The file is a 16-byte header followed by every track, side by
// side. Each track starts with a table of 64 little-endian ID address mark
// pointers: the low 14 bits are the offset of the FE byte from the start of
// the track (table included) and bit 15 means double density. A zero entry
// ends the table. Single density bytes are normally stored twice.

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lkesteloot/trs80emu/floppy"
)

const (
	dmkHeaderSize = 16
	dmkIdamCount  = floppy.MaxSectors
	dmkIdamSize   = 2 * dmkIdamCount

	// Header fields.
	dmkWriteProtect = 0
	dmkTrackCount   = 1
	dmkTrackLength  = 2 // Two bytes, includes the IDAM table.
	dmkOptions      = 4
	dmkRealDisk     = 12 // Four bytes.

	// Option bits.
	dmkSingleSided   = 0x10
	dmkSingleDensity = 0x40 // Single density bytes stored once.
	dmkIgnoreDensity = 0x80

	dmkWriteProtected = 0xFF

	// IDAM pointer bits.
	dmkDoubleDensity = 0x8000
	dmkOffsetMask    = 0x3FFF
)

// Whether data starts with a plausible DMK header.
func isDMK(data []byte) bool {
	if len(data) < dmkHeaderSize {
		return false
	}
	if wp := data[dmkWriteProtect]; wp != 0 && wp != dmkWriteProtected {
		return false
	}
	for _, b := range data[dmkOptions+1 : dmkRealDisk] {
		if b != 0 {
			return false
		}
	}
	trackLength := int(binary.LittleEndian.Uint16(data[dmkTrackLength:]))
	if trackLength <= dmkIdamSize || trackLength > dmkOffsetMask+1 {
		return false
	}
	sides := 2
	if data[dmkOptions]&dmkSingleSided != 0 {
		sides = 1
	}
	trackCount := int(data[dmkTrackCount])
	return trackCount > 0 && len(data) >= dmkHeaderSize+trackCount*sides*trackLength
}

// DecodeDMK decodes a DMK image.
func DecodeDMK(data []byte) (*floppy.Floppy, error) {
	if !isDMK(data) {
		return nil, errors.New("not a DMK image")
	}

	options := data[dmkOptions]
	if options&dmkIgnoreDensity != 0 {
		return nil, errors.New("DMK ignore-density images are not supported")
	}
	singleDensity := options&dmkSingleDensity != 0
	sides := 2
	if options&dmkSingleSided != 0 {
		sides = 1
	}
	trackCount := int(data[dmkTrackCount])
	trackLength := int(binary.LittleEndian.Uint16(data[dmkTrackLength:]))

	f := floppy.NewFloppy(trackCount, sides)
	f.WriteProtected = data[dmkWriteProtect] == dmkWriteProtected

	offset := dmkHeaderSize
	for track := 0; track < trackCount; track++ {
		for side := 0; side < sides; side++ {
			t, err := decodeDMKTrack(data[offset:offset+trackLength], singleDensity)
			if err != nil {
				return nil, errors.Wrapf(err, "track %d side %d", track, side)
			}
			f.SetTrack(track, side, t)
			offset += trackLength
		}
	}
	f.MarkSaved()

	return f, nil
}

func decodeDMKTrack(raw []byte, singleDensity bool) (*floppy.Track, error) {
	body := raw[dmkIdamSize:]

	scale := 1
	if singleDensity {
		scale = 2
	}
	data := make([]byte, len(body)*scale)
	for i, b := range body {
		for k := 0; k < scale; k++ {
			data[i*scale+k] = b
		}
	}

	idams := []uint16{}
	doubleDensity := !singleDensity
	for i := 0; i < dmkIdamCount; i++ {
		entry := binary.LittleEndian.Uint16(raw[2*i:])
		if entry == 0 {
			break
		}
		pos := int(entry&dmkOffsetMask) - dmkIdamSize
		if pos < 0 || pos >= len(body) {
			return nil, errors.Errorf("IDAM pointer %04X out of range", entry)
		}
		dd := entry&dmkDoubleDensity != 0
		if singleDensity && dd {
			return nil, errors.Errorf("double density IDAM %04X on single density disk", entry)
		}
		if len(idams) == 0 {
			doubleDensity = dd
		}
		idam := uint16(pos * scale)
		if dd {
			idam |= dmkDoubleDensity
		}
		idams = append(idams, idam)
	}

	return floppy.NewTrack(data, idams, doubleDensity), nil
}

// EncodeDMK encodes the diskette as a DMK image with single density bytes
// stored twice.
func EncodeDMK(f *floppy.Floppy) ([]byte, error) {
	trackCount := f.TrackCount()
	sides := f.Sides()
	if trackCount == 0 {
		return nil, errors.New("diskette has no tracks")
	}

	trackLength := floppy.DefaultTrackLength
	for track := 0; track < trackCount; track++ {
		for side := 0; side < sides; side++ {
			if t := f.Track(track, side); t != nil && t.Len() > trackLength {
				trackLength = t.Len()
			}
		}
	}
	trackLength += dmkIdamSize
	if trackLength > dmkOffsetMask+1 {
		return nil, errors.Errorf("track too long for DMK: %d bytes", trackLength)
	}

	data := make([]byte, dmkHeaderSize, dmkHeaderSize+trackCount*sides*trackLength)
	if f.WriteProtected {
		data[dmkWriteProtect] = dmkWriteProtected
	}
	data[dmkTrackCount] = byte(trackCount)
	binary.LittleEndian.PutUint16(data[dmkTrackLength:], uint16(trackLength))
	if sides == 1 {
		data[dmkOptions] |= dmkSingleSided
	}

	for track := 0; track < trackCount; track++ {
		for side := 0; side < sides; side++ {
			raw := make([]byte, trackLength)
			if t := f.Track(track, side); t != nil {
				for i, idam := range t.IDAMs() {
					if i >= dmkIdamCount {
						break
					}
					pos := uint16(int(idam&dmkOffsetMask) + dmkIdamSize)
					binary.LittleEndian.PutUint16(raw[2*i:], pos|idam&dmkDoubleDensity)
				}
				copy(raw[dmkIdamSize:], t.Data())
			}
			data = append(data, raw...)
		}
	}

	return data, nil
}
