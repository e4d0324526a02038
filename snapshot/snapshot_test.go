// Copyright 2012 Lawrence Kesteloot

package snapshot

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
)

func TestFieldsRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf)
	w.Section("test", 2)
	w.Uint8(0xAB)
	w.Bool(true)
	w.Uint16(0x1234)
	w.Uint32(0xDEADBEEF)
	w.Uint64(1 << 60)
	w.Int(-5)
	w.Bytes(nil)
	w.Bytes([]byte{1, 2, 3})
	w.Uint16s([]uint16{0x8010, 0x0020})
	w.Bools([]bool{true, false})
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)
	if v := r.Section("test", 2); v != 2 {
		t.Errorf("Section version %d, expected 2", v)
	}
	if r.Uint8() != 0xAB || !r.Bool() || r.Uint16() != 0x1234 ||
		r.Uint32() != 0xDEADBEEF || r.Uint64() != 1<<60 || r.Int() != -5 {

		t.Errorf("Scalar fields didn't round trip")
	}
	if r.Bytes() != nil {
		t.Errorf("Nil slice should read as nil")
	}
	if !bytes.Equal(r.Bytes(), []byte{1, 2, 3}) {
		t.Errorf("Byte slice didn't round trip")
	}
	h := r.Uint16s()
	if len(h) != 2 || h[0] != 0x8010 || h[1] != 0x0020 {
		t.Errorf("Uint16 slice didn't round trip: %v", h)
	}
	b := r.Bools()
	if len(b) != 2 || !b[0] || b[1] {
		t.Errorf("Bool slice didn't round trip: %v", b)
	}
	if r.Err() != nil {
		t.Errorf("Unexpected error %v", r.Err())
	}
}

func TestNewerSectionFails(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Section("fdc", 9)
	w.Flush()

	r := NewReader(&buf)
	r.Section("fdc", 1)
	if errors.Cause(r.Err()) != ErrVersion {
		t.Errorf("Expected version error, got %v", r.Err())
	}
}

func TestTruncatedIsSticky(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Uint32(7)
	w.Flush()

	r := NewReader(&buf)
	r.Uint32()
	r.Uint64()
	if r.Err() == nil {
		t.Fatalf("Expected error reading past end")
	}
	if r.Uint8() != 0 {
		t.Errorf("Reads after an error should return zero")
	}
}

func TestBadMagic(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("NOTASNAPSHOT")))
	if r.Err() == nil {
		t.Errorf("Expected error for bad magic")
	}
}
