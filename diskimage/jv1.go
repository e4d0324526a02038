// Copyright 2012 Lawrence Kesteloot

package diskimage

// JV1 is a Model I format that's just the sectors laid out end to end:
// single sided, single density, 10 sectors per track, 256 bytes per sector.
// The directory track is written with a deleted data address mark, which is
// how TRSDOS protects it.

import (
	"github.com/pkg/errors"

	"github.com/lkesteloot/trs80emu/floppy"
)

const (
	jv1BytesPerSector  = 256
	jv1SectorsPerTrack = 10
	jv1BytesPerTrack   = jv1BytesPerSector * jv1SectorsPerTrack
	jv1DirectoryTrack  = 17
	jv1DirectoryDAM    = 0xFA
	jv1MaxTracks       = 80
)

// DecodeJV1 decodes a JV1 image. A short last track is padded with zeros.
func DecodeJV1(data []byte) (*floppy.Floppy, error) {
	if len(data) == 0 {
		return nil, errors.New("empty JV1 image")
	}
	trackCount := (len(data) + jv1BytesPerTrack - 1) / jv1BytesPerTrack
	if trackCount > floppy.MaxTracks {
		return nil, errors.Errorf("JV1 image has too many tracks (%d)", trackCount)
	}

	f := floppy.NewFloppy(trackCount, 1)
	for track := 0; track < trackCount; track++ {
		sectors := make([]floppy.SectorDescriptor, jv1SectorsPerTrack)
		for i := range sectors {
			sectorData := make([]byte, jv1BytesPerSector)
			start := track*jv1BytesPerTrack + i*jv1BytesPerSector
			if start < len(data) {
				copy(sectorData, data[start:])
			}

			var dam byte = 0xFB
			if track == jv1DirectoryTrack {
				dam = jv1DirectoryDAM
			}
			sectors[i] = floppy.SectorDescriptor{
				Track:  byte(track),
				Sector: byte(i),
				DAM:    dam,
				InUse:  true,
				Data:   sectorData,
			}
		}
		f.SetTrack(track, 0, floppy.NewTrackFromSectors(sectors, false))
	}
	f.MarkSaved()

	return f, nil
}
