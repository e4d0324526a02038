// Copyright 2012 Lawrence Kesteloot

// Package snapshot reads and writes save states. A save state is an ordered
// stream of little-endian fields grouped into named, versioned sections.
// Errors are sticky: after the first failure every further call is a no-op
// and Err reports the failure.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

const (
	// Identifies the file.
	magic = "TRS80SNP"

	// Version of the overall framing.
	Version = 1

	// Largest byte slice we'll accept, to avoid allocating garbage sizes
	// from a corrupt file.
	maxSliceLen = 16 * 1024 * 1024
)

// ErrVersion is returned when a section was written by a newer version
// than the reader understands.
var ErrVersion = errors.New("snapshot: unsupported version")

// Writer writes fields in order.
type Writer struct {
	w   *bufio.Writer
	buf [8]byte
	err error
}

// NewWriter writes the file header to w and returns a Writer.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: bufio.NewWriter(w)}
	sw.raw([]byte(magic))
	sw.Uint16(Version)
	return sw
}

func (w *Writer) raw(b []byte) {
	if w.err != nil {
		return
	}
	_, err := w.w.Write(b)
	if err != nil {
		w.err = errors.Wrap(err, "snapshot write")
	}
}

// Section starts a named section at the given version.
func (w *Writer) Section(name string, version uint16) {
	w.String(name)
	w.Uint16(version)
}

// Uint8 writes a byte.
func (w *Writer) Uint8(v byte) {
	w.buf[0] = v
	w.raw(w.buf[:1])
}

// Bool writes a bool as one byte.
func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
	} else {
		w.Uint8(0)
	}
}

// Uint16 writes a 16-bit value.
func (w *Writer) Uint16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[:2], v)
	w.raw(w.buf[:2])
}

// Uint32 writes a 32-bit value.
func (w *Writer) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	w.raw(w.buf[:4])
}

// Uint64 writes a 64-bit value.
func (w *Writer) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:8], v)
	w.raw(w.buf[:8])
}

// Int writes a signed value as 64 bits.
func (w *Writer) Int(v int) {
	w.Uint64(uint64(int64(v)))
}

// Bytes writes a length-prefixed byte slice. A nil slice and an empty
// slice are distinguished.
func (w *Writer) Bytes(b []byte) {
	if b == nil {
		w.Uint32(math.MaxUint32)
		return
	}
	w.Uint32(uint32(len(b)))
	w.raw(b)
}

// String writes a length-prefixed string.
func (w *Writer) String(s string) {
	w.Bytes([]byte(s))
}

// Uint16s writes a length-prefixed slice of 16-bit values.
func (w *Writer) Uint16s(v []uint16) {
	w.Uint32(uint32(len(v)))
	for _, x := range v {
		w.Uint16(x)
	}
}

// Bools writes a length-prefixed slice of bools. Nil is written as length
// zero.
func (w *Writer) Bools(v []bool) {
	w.Uint32(uint32(len(v)))
	for _, x := range v {
		w.Bool(x)
	}
}

// Flush writes any buffered data and returns the first error seen.
func (w *Writer) Flush() error {
	if w.err == nil {
		if err := w.w.Flush(); err != nil {
			w.err = errors.Wrap(err, "snapshot flush")
		}
	}
	return w.err
}

// Err returns the first error seen.
func (w *Writer) Err() error {
	return w.err
}

// Reader reads fields in the order they were written.
type Reader struct {
	r   *bufio.Reader
	buf [8]byte
	err error
}

// NewReader checks the file header and returns a Reader. Use Err to find
// out whether the header was valid.
func NewReader(r io.Reader) *Reader {
	sr := &Reader{r: bufio.NewReader(r)}
	header := make([]byte, len(magic))
	sr.raw(header)
	if sr.err == nil && string(header) != magic {
		sr.err = errors.New("snapshot: not a save state file")
	}
	version := sr.Uint16()
	if sr.err == nil && version > Version {
		sr.err = errors.Wrapf(ErrVersion, "file version %d", version)
	}
	return sr
}

func (r *Reader) raw(b []byte) {
	if r.err != nil {
		return
	}
	_, err := io.ReadFull(r.r, b)
	if err != nil {
		r.err = errors.Wrap(err, "snapshot read")
	}
}

// Fail records an error found by the caller while validating what it read.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// Section checks that the next section has the given name and a version no
// newer than maxVersion. Returns the version found.
func (r *Reader) Section(name string, maxVersion uint16) uint16 {
	found := r.String()
	version := r.Uint16()
	if r.err != nil {
		return 0
	}
	if found != name {
		r.err = errors.Errorf("snapshot: expected section %q, found %q", name, found)
		return 0
	}
	if version > maxVersion {
		r.err = errors.Wrapf(ErrVersion, "section %q version %d (max %d)", name, version, maxVersion)
		return 0
	}
	return version
}

// Uint8 reads a byte.
func (r *Reader) Uint8() byte {
	r.raw(r.buf[:1])
	if r.err != nil {
		return 0
	}
	return r.buf[0]
}

// Bool reads a bool.
func (r *Reader) Bool() bool {
	return r.Uint8() != 0
}

// Uint16 reads a 16-bit value.
func (r *Reader) Uint16() uint16 {
	r.raw(r.buf[:2])
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint16(r.buf[:2])
}

// Uint32 reads a 32-bit value.
func (r *Reader) Uint32() uint32 {
	r.raw(r.buf[:4])
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(r.buf[:4])
}

// Uint64 reads a 64-bit value.
func (r *Reader) Uint64() uint64 {
	r.raw(r.buf[:8])
	if r.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(r.buf[:8])
}

// Int reads a signed value.
func (r *Reader) Int() int {
	return int(int64(r.Uint64()))
}

// Bytes reads a length-prefixed byte slice.
func (r *Reader) Bytes() []byte {
	n := r.Uint32()
	if r.err != nil || n == math.MaxUint32 {
		return nil
	}
	if n > maxSliceLen {
		r.err = errors.Errorf("snapshot: slice length %d too large", n)
		return nil
	}
	b := make([]byte, n)
	r.raw(b)
	if r.err != nil {
		return nil
	}
	return b
}

// String reads a length-prefixed string.
func (r *Reader) String() string {
	return string(r.Bytes())
}

// Uint16s reads a length-prefixed slice of 16-bit values.
func (r *Reader) Uint16s() []uint16 {
	n := r.Uint32()
	if r.err != nil {
		return nil
	}
	if n > maxSliceLen/2 {
		r.err = errors.Errorf("snapshot: slice length %d too large", n)
		return nil
	}
	v := make([]uint16, n)
	for i := range v {
		v[i] = r.Uint16()
	}
	if r.err != nil {
		return nil
	}
	return v
}

// Bools reads a length-prefixed slice of bools. Length zero reads as nil.
func (r *Reader) Bools() []bool {
	n := r.Uint32()
	if r.err != nil || n == 0 {
		return nil
	}
	if n > maxSliceLen {
		r.err = errors.Errorf("snapshot: slice length %d too large", n)
		return nil
	}
	v := make([]bool, n)
	for i := range v {
		v[i] = r.Bool()
	}
	if r.err != nil {
		return nil
	}
	return v
}

// Err returns the first error seen.
func (r *Reader) Err() error {
	return r.err
}
