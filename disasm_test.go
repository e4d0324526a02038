// Copyright 2012 Lawrence Kesteloot

package main

import (
	"testing"
)

func TestInstructionLength(t *testing.T) {
	tests := []struct {
		code   []byte
		length int
	}{
		{[]byte{0x00}, 1},                   // NOP
		{[]byte{0x3E, 0x45}, 2},             // LD A,45
		{[]byte{0xFE, 0x0D}, 2},             // CP 0D
		{[]byte{0x20, 0xFE}, 2},             // JR NZ,$
		{[]byte{0xDB, 0xF0}, 2},             // IN A,(F0)
		{[]byte{0x21, 0x00, 0x3C}, 3},       // LD HL,3C00
		{[]byte{0xCD, 0x33, 0x00}, 3},       // CALL 0033
		{[]byte{0xCA, 0x34, 0x12}, 3},       // JP Z,1234
		{[]byte{0x32, 0x00, 0x40}, 3},       // LD (4000),A
		{[]byte{0xCB, 0x47}, 2},             // BIT 0,A
		{[]byte{0xED, 0xB0}, 2},             // LDIR
		{[]byte{0xED, 0x73, 0x00, 0x40}, 4}, // LD (4000),SP
		{[]byte{0xDD, 0x21, 0x00, 0x40}, 4}, // LD IX,4000
		{[]byte{0xDD, 0x7E, 0x05}, 3},       // LD A,(IX+5)
		{[]byte{0xFD, 0x77, 0x05}, 3},       // LD (IY+5),A
		{[]byte{0xFD, 0x36, 0x05, 0x01}, 4}, // LD (IY+5),1
		{[]byte{0xDD, 0xCB, 0x05, 0x46}, 4}, // BIT 0,(IX+5)
		{[]byte{0xDD, 0xE9}, 2},             // JP (IX)
	}
	for _, test := range tests {
		fetch := func(addr uint16) byte {
			if int(addr) < len(test.code) {
				return test.code[addr]
			}
			return 0
		}
		if got := instructionLength(fetch, 0); got != test.length {
			t.Errorf("% X: length %d, expected %d", test.code, got, test.length)
		}
	}
}

func TestDisasm(t *testing.T) {
	vm := newTestVm(t, []byte{0xC3, 0x1B, 0x02})
	line, next := vm.disasm(0)
	if line != "0000 C3 1B 02    $RESET: Reset computer (jump, don't call)" {
		t.Errorf("Got %q", line)
	}
	if next != 3 {
		t.Errorf("Next PC %04X", next)
	}
}
