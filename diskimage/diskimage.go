// Copyright 2012 Lawrence Kesteloot

// Package diskimage converts between disk image files and floppy.Floppy.
// We read DMK, JV1 and JV3 images and write DMK, the only one of the three
// that can hold everything the controller can put on a track.
package diskimage

import (
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lkesteloot/trs80emu/floppy"
)

// Format is a kind of disk image file.
type Format int

const (
	Unknown Format = iota
	DMK
	JV1
	JV3
)

func (f Format) String() string {
	switch f {
	case DMK:
		return "DMK"
	case JV1:
		return "JV1"
	case JV3:
		return "JV3"
	}
	return "unknown"
}

// Load reads and decodes the image file at path.
func Load(path string) (*floppy.Floppy, Format, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, Unknown, errors.Wrap(err, "reading disk image")
	}

	f, format, err := Decode(data, filepath.Base(path))
	if err != nil {
		return nil, Unknown, errors.Wrapf(err, "loading %s", path)
	}

	log.WithFields(log.Fields{
		"path":   path,
		"format": format,
		"bytes":  len(data),
		"tracks": f.TrackCount(),
		"sides":  f.Sides(),
	}).Info("Loaded disk image")
	return f, format, nil
}

// Decode recognizes the image format and decodes it. The name is used for
// display and as a hint to the format.
func Decode(data []byte, name string) (*floppy.Floppy, Format, error) {
	format := Recognize(data, name)

	var f *floppy.Floppy
	var err error
	switch format {
	case DMK:
		f, err = DecodeDMK(data)
	case JV1:
		f, err = DecodeJV1(data)
	case JV3:
		f, err = DecodeJV3(data)
	default:
		err = errors.Errorf("don't know format of %d-byte disk", len(data))
	}
	if err != nil {
		return nil, format, err
	}

	f.Name = name
	return f, format, nil
}

// Recognize guesses the format of an image. DMK has a recognizable header;
// JV1 and JV3 are told apart by extension and then by size.
func Recognize(data []byte, name string) Format {
	if isDMK(data) {
		return DMK
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".jv1":
		return JV1
	case ".jv3":
		return JV3
	}

	if len(data) > 0 && len(data)%jv1BytesPerTrack == 0 && len(data)/jv1BytesPerTrack <= jv1MaxTracks {
		return JV1
	}
	if len(data) >= jv3SectorStart {
		return JV3
	}
	return Unknown
}

// Save writes the diskette to path as a DMK image and marks it saved.
func Save(path string, f *floppy.Floppy) error {
	data, err := EncodeDMK(f)
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "writing disk image")
	}
	f.MarkSaved()

	log.WithFields(log.Fields{
		"path":  path,
		"bytes": len(data),
	}).Info("Saved disk image")
	return nil
}
