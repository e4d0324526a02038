// Copyright 2012 Lawrence Kesteloot

package floppy

// CRC-16 as computed by the WD179x: CCITT polynomial, MSB first, preset to
// all ones. In double density the three A1 sync bytes are part of the
// checked region, so a CRC that starts at the first A1 is 0xCDB4 by the time
// the address mark arrives.

const (
	crcPolynomial = 0x1021
	crcPreset     = 0xFFFF

	// CRC after A1 A1 A1.
	crcAfterSync = 0xCDB4
)

// Built once; never modified.
var crcTable = makeCRCTable()

func makeCRCTable() (table [256]uint16) {
	for i := range table {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return
}

// UpdateCRC adds one byte to a running CRC.
func UpdateCRC(crc uint16, b byte) uint16 {
	return crc<<8 ^ crcTable[byte(crc>>8)^b]
}

// CRC adds a sequence of bytes to a running CRC.
func CRC(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = UpdateCRC(crc, b)
	}
	return crc
}

// Whether b is one of the address marks (F8 to FE).
func isAddressMark(b byte) bool {
	return b >= 0xF8 && b <= 0xFE
}

// Running CRC with the chip's automatic presets. When allowReset is set the
// byte is a candidate mark: an A1 in double density that isn't preceded by
// another A1 presets the CRC, and a mark byte presets it to whatever the
// sync bytes would have produced.
type crcState struct {
	crc    uint16
	lastA1 bool
}

func (s *crcState) reset() {
	s.crc = crcPreset
	s.lastA1 = false
}

func (s *crcState) update(b byte, doubleDensity, allowReset bool) {
	if allowReset {
		switch {
		case doubleDensity && b == 0xA1:
			if !s.lastA1 {
				s.crc = crcPreset
			}
		case isAddressMark(b):
			if doubleDensity {
				s.crc = crcAfterSync
			} else {
				s.crc = crcPreset
			}
		}
	}
	s.crc = UpdateCRC(s.crc, b)
	s.lastA1 = b == 0xA1
}
