// Copyright 2012 Lawrence Kesteloot

package diskimage

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/lkesteloot/trs80emu/floppy"
)

func sameSectors(t *testing.T, what string, got, want *floppy.Track) {
	g, w := got.Sectors(), want.Sectors()
	if len(g) != len(w) {
		t.Fatalf("%s: %d sectors, expected %d", what, len(g), len(w))
	}
	for i := range w {
		if g[i].Sector != w[i].Sector || g[i].DoubleDensity != w[i].DoubleDensity ||
			g[i].CRCError != w[i].CRCError || g[i].DAM != w[i].DAM ||
			!bytes.Equal(g[i].Data, w[i].Data) {

			t.Errorf("%s: sector %d differs", what, i)
		}
	}
}

func TestDMKRoundTrip(t *testing.T) {
	f := floppy.NewFormatted(true, 5, 2)
	f.WriteProtected = true
	mixed := []floppy.SectorDescriptor{
		{Sector: 1, DAM: 0xFB, InUse: true, Data: bytes.Repeat([]byte{0x11}, 256)},
		{Sector: 2, DAM: 0xF8, InUse: true, Data: bytes.Repeat([]byte{0x22}, 128), DoubleDensity: true},
		{Sector: 3, DAM: 0xFB, InUse: true, Data: bytes.Repeat([]byte{0x33}, 256), CRCError: true},
	}
	f.SetTrack(3, 1, floppy.NewTrackFromSectors(mixed, false))

	data, err := EncodeDMK(f)
	if err != nil {
		t.Fatal(err)
	}
	if Recognize(data, "x.dsk") != DMK {
		t.Fatalf("Encoded image not recognized as DMK")
	}

	g, err := DecodeDMK(data)
	if err != nil {
		t.Fatal(err)
	}
	if g.TrackCount() != 5 || g.Sides() != 2 || !g.WriteProtected {
		t.Errorf("Geometry %d x %d, write protect %v", g.TrackCount(), g.Sides(), g.WriteProtected)
	}
	if g.Changed() {
		t.Errorf("Freshly decoded image reports changes")
	}
	for track := 0; track < 5; track++ {
		for side := 0; side < 2; side++ {
			a, b := f.Track(track, side), g.Track(track, side)
			if !bytes.Equal(a.Data(), b.Data()) {
				t.Errorf("Track %d side %d data differs", track, side)
			}
			sameSectors(t, "DMK", b, a)
		}
	}
	if !g.Track(3, 1).Mixed() {
		t.Errorf("Mixed density track lost its density map")
	}

	again, err := EncodeDMK(g)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, data) {
		t.Errorf("Re-encoding isn't stable")
	}
}

// Builds a single density only DMK image by hand, with bytes stored once.
func TestDMKSingleDensityOnly(t *testing.T) {
	body := []byte{0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	id := []byte{0xFE, 0x00, 0x00, 0x01, 0x00}
	crc := floppy.CRC(0xFFFF, id)
	idamPos := len(body)
	body = append(body, id...)
	body = append(body, byte(crc>>8), byte(crc))
	body = append(body, bytes.Repeat([]byte{0xFF}, 11)...)
	body = append(body, 0, 0, 0, 0, 0, 0)
	field := append([]byte{0xFB}, bytes.Repeat([]byte{0x5A}, 128)...)
	crc = floppy.CRC(0xFFFF, field)
	body = append(body, field...)
	body = append(body, byte(crc>>8), byte(crc))
	for len(body) < 3125 {
		body = append(body, 0xFF)
	}

	trackLength := dmkIdamSize + len(body)
	image := make([]byte, dmkHeaderSize+trackLength)
	image[dmkTrackCount] = 1
	binary.LittleEndian.PutUint16(image[dmkTrackLength:], uint16(trackLength))
	image[dmkOptions] = dmkSingleSided | dmkSingleDensity
	track := image[dmkHeaderSize:]
	binary.LittleEndian.PutUint16(track, uint16(dmkIdamSize+idamPos))
	copy(track[dmkIdamSize:], body)

	f, format, err := Decode(image, "sd.dmk")
	if err != nil {
		t.Fatal(err)
	}
	if format != DMK || f.Name != "sd.dmk" {
		t.Errorf("Decoded as %s named %q", format, f.Name)
	}
	tr := f.Track(0, 0)
	if tr.Len() != 2*len(body) {
		t.Errorf("Track length %d, expected %d", tr.Len(), 2*len(body))
	}
	sectors := tr.Sectors()
	if len(sectors) != 1 {
		t.Fatalf("Found %d sectors", len(sectors))
	}
	sd := sectors[0]
	if sd.Sector != 1 || sd.DoubleDensity || sd.CRCError || !sd.InUse {
		t.Errorf("Bad sector %+v", sd)
	}
	if !bytes.Equal(sd.Data, bytes.Repeat([]byte{0x5A}, 128)) {
		t.Errorf("Sector data differs")
	}
}

func TestDMKBadPointer(t *testing.T) {
	f := floppy.NewFormatted(true, 1, 1)
	data, err := EncodeDMK(f)
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint16(data[dmkHeaderSize:], 0x3FF0|dmkDoubleDensity)
	if _, err := DecodeDMK(data); err == nil {
		t.Errorf("Out of range IDAM pointer accepted")
	}
}

func TestJV1(t *testing.T) {
	data := make([]byte, 35*jv1BytesPerTrack)
	for i := range data {
		data[i] = byte(i / jv1BytesPerSector)
	}
	if Recognize(data, "disk.dsk") != JV1 {
		t.Fatalf("Not recognized as JV1")
	}
	f, format, err := Decode(data, "disk.dsk")
	if err != nil {
		t.Fatal(err)
	}
	if format != JV1 || f.TrackCount() != 35 || f.Sides() != 1 {
		t.Fatalf("Decoded %s with %d x %d", format, f.TrackCount(), f.Sides())
	}

	sd, ok := f.Track(2, 0).Sector(4)
	if !ok {
		t.Fatalf("Sector 4 of track 2 missing")
	}
	if sd.DoubleDensity || sd.Deleted() || sd.Data[0] != byte(2*jv1SectorsPerTrack+4) {
		t.Errorf("Bad sector %+v", sd)
	}

	sd, _ = f.Track(jv1DirectoryTrack, 0).Sector(0)
	if sd.DAM != jv1DirectoryDAM {
		t.Errorf("Directory DAM %02X", sd.DAM)
	}
}

// A JV3 image with one track per side and a few odd sectors.
func makeJV3(t *testing.T) []byte {
	data := bytes.Repeat([]byte{jv3Free}, jv3SectorStart)
	data[jv3WriteProtect] = 0

	type sector struct {
		track, sector, flags byte
		fill                 byte
	}
	sectors := []sector{
		{0, 1, jv3Density | 0x00, 0x01},           // 256 bytes.
		{0, 2, jv3Density | 0x01, 0x02},           // 128 bytes.
		{0, 3, jv3Density | jv3DamDdF8, 0x03},     // Deleted.
		{0, 4, jv3Density | jv3Error, 0x04},       // CRC error.
		{1, 0, jv3DamSdFA, 0x05},                  // Single density.
		{0, 9, jv3Density | jv3Side | 0x03, 0x06}, // Side 1, 512 bytes.
		{0, 5, jv3Density | 0x00, 0x07},           // Later in file, same track.
		{jv3Free, jv3Free, jv3Free, 0x00},         // Unused.
		{1, 1, jv3DamSdF8 | 0x00, 0x08},           // Single density deleted.
	}
	for i, s := range sectors {
		data[3*i] = s.track
		data[3*i+1] = s.sector
		data[3*i+2] = s.flags
		id := jv3Sector{s.track, s.sector, s.flags}
		if !id.unused() {
			data = append(data, bytes.Repeat([]byte{s.fill}, id.size())...)
		}
	}
	return data
}

func TestJV3(t *testing.T) {
	data := makeJV3(t)
	if Recognize(data, "disk.dsk") != JV3 {
		t.Fatalf("Not recognized as JV3")
	}
	f, err := DecodeJV3(data)
	if err != nil {
		t.Fatal(err)
	}
	if f.TrackCount() != 2 || f.Sides() != 2 || !f.WriteProtected {
		t.Errorf("Geometry %d x %d, write protect %v", f.TrackCount(), f.Sides(), f.WriteProtected)
	}

	sectors := f.Track(0, 0).Sectors()
	want := []struct {
		sector  byte
		size    int
		fill    byte
		deleted bool
		crc     bool
	}{
		{1, 256, 0x01, false, false},
		{2, 128, 0x02, false, false},
		{3, 256, 0x03, true, false},
		{4, 256, 0x04, false, true},
		{5, 256, 0x07, false, false},
	}
	if len(sectors) != len(want) {
		t.Fatalf("Track 0 has %d sectors, expected %d", len(sectors), len(want))
	}
	for i, w := range want {
		sd := sectors[i]
		if sd.Sector != w.sector || len(sd.Data) != w.size || sd.Data[0] != w.fill ||
			sd.Deleted() != w.deleted || sd.CRCError != w.crc || !sd.DoubleDensity {

			t.Errorf("Sector %d: got %d size %d fill %02X deleted %v crc %v",
				i, sd.Sector, len(sd.Data), sd.Data[0], sd.Deleted(), sd.CRCError)
		}
	}

	back, ok := f.Track(0, 1).Sector(9)
	if !ok || len(back.Data) != 512 || back.Data[0] != 0x06 || back.Side != 1 {
		t.Errorf("Bad side 1 sector %+v", back)
	}

	sd := f.Track(1, 0).Sectors()
	if len(sd) != 2 || sd[0].DoubleDensity || sd[0].DAM != 0xFA || sd[1].DAM != 0xF8 || sd[1].Data[0] != 0x08 {
		t.Errorf("Bad single density track %+v", sd)
	}
}

func TestJV3Truncated(t *testing.T) {
	data := makeJV3(t)
	if _, err := DecodeJV3(data[:len(data)-10]); err == nil {
		t.Errorf("Truncated image accepted")
	}
}

func TestUnknownFormat(t *testing.T) {
	if _, _, err := Decode(make([]byte, 100), "x.bin"); err == nil {
		t.Errorf("Garbage accepted")
	}
}

func TestSaveAndLoad(t *testing.T) {
	f := floppy.NewFormatted(false, 3, 1)
	f.Track(1, 0).SetByte(200, false, 0x42)
	if !f.Changed() {
		t.Fatalf("Write didn't mark floppy changed")
	}

	path := filepath.Join(t.TempDir(), "saved.dmk")
	if err := Save(path, f); err != nil {
		t.Fatal(err)
	}
	if f.Changed() {
		t.Errorf("Still changed after save")
	}

	g, format, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if format != DMK || g.Name != "saved.dmk" {
		t.Errorf("Loaded %s named %q", format, g.Name)
	}
	for track := 0; track < 3; track++ {
		if !bytes.Equal(f.Track(track, 0).Data(), g.Track(track, 0).Data()) {
			t.Errorf("Track %d differs", track)
		}
		sameSectors(t, "saved", g.Track(track, 0), f.Track(track, 0))
	}

	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.dmk")); err == nil {
		t.Errorf("Loading missing file worked")
	}
}
