// Copyright 2012 Lawrence Kesteloot

package main

import (
	"fmt"
	"strings"
)

// Longest Z80 instruction.
const maxInstructionLength = 4

// Length of the instruction at pc, from its opcode bytes.
func instructionLength(fetch func(uint16) byte, pc uint16) int {
	op := fetch(pc)
	switch op {
	case 0xCB:
		return 2
	case 0xED:
		switch fetch(pc+1) & 0xC7 {
		case 0x43:
			// LD (nn),rr and LD rr,(nn).
			return 4
		}
		return 2
	case 0xDD, 0xFD:
		op2 := fetch(pc + 1)
		switch {
		case op2 == 0xCB, op2 == 0x36:
			// Bit operations and LD (IX+d),n.
			return 4
		case op2 == 0x21, op2 == 0x22, op2 == 0x2A:
			return 4
		case op2 == 0x34, op2 == 0x35:
			// INC and DEC (IX+d).
			return 3
		case op2 >= 0x40 && op2 < 0xC0 && op2 != 0x76 &&
			(op2&0x07 == 0x06 || (op2 >= 0x70 && op2 < 0x78)):

			// Loads and arithmetic with (IX+d).
			return 3
		}
		return 2
	}

	switch {
	case op&0xC7 == 0x06, op&0xC7 == 0xC6:
		// LD r,n and arithmetic with n.
		return 2
	case op == 0x10, op == 0x18, op&0xE7 == 0x20:
		// DJNZ and JR.
		return 2
	case op == 0xD3, op == 0xDB:
		// OUT (n),A and IN A,(n).
		return 2
	case op&0xCF == 0x01:
		// LD rr,nn.
		return 3
	case op == 0x22, op == 0x2A, op == 0x32, op == 0x3A:
		return 3
	case op == 0xC3, op == 0xCD, op&0xC7 == 0xC2, op&0xC7 == 0xC4:
		// JP and CALL.
		return 3
	}
	return 1
}

// Show the address and machine language of the instruction at pc, plus the
// name of the ROM routine if it starts there. Returns the PC of the
// following instruction in nextPc.
func (vm *vm) disasm(pc uint16) (line string, nextPc uint16) {
	length := instructionLength(vm.readMem, pc)
	nextPc = pc + uint16(length)

	var b strings.Builder
	fmt.Fprintf(&b, "%04X ", pc)
	for i := 0; i < maxInstructionLength; i++ {
		if i < length {
			fmt.Fprintf(&b, "%02X ", vm.readMem(pc+uint16(i)))
		} else {
			b.WriteString("   ")
		}
	}
	if name, ok := romRoutines[pc]; ok {
		b.WriteString(name)
	}
	return strings.TrimRight(b.String(), " "), nextPc
}
