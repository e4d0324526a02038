// Copyright 2012 Lawrence Kesteloot

package floppy

import (
	"github.com/pkg/errors"

	"github.com/lkesteloot/trs80emu/snapshot"
)

const (
	// Never have more than this many tracks.
	MaxTracks = 255

	// Physical limits of a drive's head travel.
	maxHeadTrack = 95

	// Filler for freshly formatted sectors.
	formatFill = 0xE5

	floppySnapshotVersion = 1
)

// Floppy is a diskette: a grid of tracks by side. Missing tracks read as
// unformatted.
type Floppy struct {
	// Where the image came from, for display.
	Name string

	WriteProtected bool

	tracks [][2]*Track
	sides  int
}

// NewFloppy makes an unformatted diskette.
func NewFloppy(trackCount, sides int) *Floppy {
	if trackCount > MaxTracks {
		trackCount = MaxTracks
	}
	if sides < 1 {
		sides = 1
	} else if sides > 2 {
		sides = 2
	}
	return &Floppy{
		tracks: make([][2]*Track, trackCount),
		sides:  sides,
	}
}

// NewFormatted makes a blank formatted diskette as a TRS-80 DOS would: 18
// sectors of 256 bytes per track in double density, 10 in single density,
// numbered from zero.
func NewFormatted(doubleDensity bool, trackCount, sides int) *Floppy {
	f := NewFloppy(trackCount, sides)
	sectorCount := 10
	if doubleDensity {
		sectorCount = 18
	}
	for track := range f.tracks {
		for side := 0; side < f.sides; side++ {
			sectors := make([]SectorDescriptor, sectorCount)
			for i := range sectors {
				data := make([]byte, 256)
				for k := range data {
					data[k] = formatFill
				}
				sectors[i] = SectorDescriptor{
					Track:         byte(track),
					Side:          byte(side),
					Sector:        byte(i),
					DoubleDensity: doubleDensity,
					DAM:           0xFB,
					InUse:         true,
					Data:          data,
				}
			}
			f.tracks[track][side] = NewTrackFromSectors(sectors, doubleDensity)
		}
	}
	return f
}

// TrackCount is the number of tracks on each side.
func (f *Floppy) TrackCount() int {
	return len(f.tracks)
}

// Sides is 1 or 2.
func (f *Floppy) Sides() int {
	return f.sides
}

// Track returns the track, or nil if it doesn't exist or was never
// formatted.
func (f *Floppy) Track(track, side int) *Track {
	if track < 0 || track >= len(f.tracks) || side < 0 || side >= f.sides {
		return nil
	}
	return f.tracks[track][side]
}

// SetTrack replaces a track, growing the diskette if needed.
func (f *Floppy) SetTrack(track, side int, t *Track) {
	if track < 0 || track >= MaxTracks || side < 0 || side > 1 {
		return
	}
	for len(f.tracks) <= track {
		f.tracks = append(f.tracks, [2]*Track{})
	}
	if side >= f.sides {
		f.sides = side + 1
	}
	f.tracks[track][side] = t
}

// Changed reports whether any track has been written to since it was
// loaded or saved.
func (f *Floppy) Changed() bool {
	for _, sides := range f.tracks {
		for _, t := range sides {
			if t != nil && t.Modified() {
				return true
			}
		}
	}
	return false
}

// MarkSaved clears Changed.
func (f *Floppy) MarkSaved() {
	for _, sides := range f.tracks {
		for _, t := range sides {
			if t != nil {
				t.ClearModified()
			}
		}
	}
}

// Save writes the whole diskette so that writes made by the emulated
// machine survive a save state.
func (f *Floppy) Save(w *snapshot.Writer) {
	w.Section("floppy", floppySnapshotVersion)
	w.String(f.Name)
	w.Bool(f.WriteProtected)
	w.Int(len(f.tracks))
	w.Int(f.sides)
	for _, sides := range f.tracks {
		for side := 0; side < f.sides; side++ {
			t := sides[side]
			w.Bool(t != nil)
			if t == nil {
				continue
			}
			w.Bytes(t.data)
			w.Bool(t.doubleDensity)
			w.Bools(t.densityMap)
			w.Uint16s(t.IDAMs())
			w.Bool(t.modified)
		}
	}
}

// LoadFloppy reads what Save wrote.
func LoadFloppy(r *snapshot.Reader) (*Floppy, error) {
	r.Section("floppy", floppySnapshotVersion)
	name := r.String()
	writeProtected := r.Bool()
	trackCount := r.Int()
	sides := r.Int()
	if r.Err() != nil {
		return nil, r.Err()
	}
	if trackCount < 0 || trackCount > MaxTracks || sides < 1 || sides > 2 {
		return nil, errors.Errorf("bad floppy geometry %d x %d", trackCount, sides)
	}

	f := NewFloppy(trackCount, sides)
	f.Name = name
	f.WriteProtected = writeProtected
	for track := 0; track < trackCount; track++ {
		for side := 0; side < sides; side++ {
			if !r.Bool() {
				continue
			}
			data := r.Bytes()
			doubleDensity := r.Bool()
			densityMap := r.Bools()
			idams := r.Uint16s()
			modified := r.Bool()
			if r.Err() != nil {
				return nil, r.Err()
			}
			if len(data) == 0 || (densityMap != nil && len(densityMap) != len(data)) {
				return nil, errors.Errorf("bad track %d side %d", track, side)
			}
			t := NewTrack(data, idams, doubleDensity)
			t.densityMap = densityMap
			t.doubleDensity = doubleDensity
			t.modified = modified
			f.tracks[track][side] = t
		}
	}
	return f, r.Err()
}
