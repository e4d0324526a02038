// Copyright 2012 Lawrence Kesteloot

package main

// T-state counts for each opcode. The Z80 core doesn't count cycles, so we
// look them up before executing. Conditional instructions are fixed up
// afterwards by looking at where the PC went.

// Unprefixed opcodes. Conditional jumps, calls and returns have their
// not-taken count fixed up in conditionalCycles.
var baseCycles = [256]byte{
	4, 10, 7, 6, 4, 4, 7, 4, 4, 11, 7, 6, 4, 4, 7, 4, // 0x
	8, 10, 7, 6, 4, 4, 7, 4, 12, 11, 7, 6, 4, 4, 7, 4, // 1x
	7, 10, 16, 6, 4, 4, 7, 4, 7, 11, 16, 6, 4, 4, 7, 4, // 2x
	7, 10, 13, 6, 11, 11, 10, 4, 7, 11, 13, 6, 4, 4, 7, 4, // 3x
	4, 4, 4, 4, 4, 4, 7, 4, 4, 4, 4, 4, 4, 4, 7, 4, // 4x
	4, 4, 4, 4, 4, 4, 7, 4, 4, 4, 4, 4, 4, 4, 7, 4, // 5x
	4, 4, 4, 4, 4, 4, 7, 4, 4, 4, 4, 4, 4, 4, 7, 4, // 6x
	7, 7, 7, 7, 7, 7, 4, 7, 4, 4, 4, 4, 4, 4, 7, 4, // 7x
	4, 4, 4, 4, 4, 4, 7, 4, 4, 4, 4, 4, 4, 4, 7, 4, // 8x
	4, 4, 4, 4, 4, 4, 7, 4, 4, 4, 4, 4, 4, 4, 7, 4, // 9x
	4, 4, 4, 4, 4, 4, 7, 4, 4, 4, 4, 4, 4, 4, 7, 4, // Ax
	4, 4, 4, 4, 4, 4, 7, 4, 4, 4, 4, 4, 4, 4, 7, 4, // Bx
	5, 10, 10, 10, 10, 11, 7, 11, 5, 10, 10, 0, 10, 17, 7, 11, // Cx
	5, 10, 10, 11, 10, 11, 7, 11, 5, 4, 10, 11, 10, 0, 7, 11, // Dx
	5, 10, 10, 19, 10, 11, 7, 11, 5, 4, 10, 4, 10, 0, 7, 11, // Ex
	5, 10, 10, 4, 10, 11, 7, 11, 5, 6, 10, 4, 10, 0, 7, 11, // Fx
}

// CB prefix: rotates, shifts and bit operations. (HL) forms are slower.
func cbCycles(op byte) int {
	switch {
	case op&0x07 != 0x06:
		return 8
	case op >= 0x40 && op < 0x80:
		// BIT n,(HL).
		return 12
	}
	return 15
}

// DD and FD prefixes (IX and IY). The DDCB/FDCB forms are handled
// separately.
var indexCycles = [256]byte{
	4, 4, 4, 4, 4, 4, 4, 4, 4, 15, 4, 4, 4, 4, 4, 4, // 0x
	4, 4, 4, 4, 4, 4, 4, 4, 4, 15, 4, 4, 4, 4, 4, 4, // 1x
	4, 14, 20, 10, 8, 8, 11, 4, 4, 15, 20, 10, 8, 8, 11, 4, // 2x
	4, 4, 4, 4, 23, 23, 19, 4, 4, 15, 4, 4, 4, 4, 4, 4, // 3x
	4, 4, 4, 4, 8, 8, 19, 4, 4, 4, 4, 4, 8, 8, 19, 4, // 4x
	4, 4, 4, 4, 8, 8, 19, 4, 4, 4, 4, 4, 8, 8, 19, 4, // 5x
	8, 8, 8, 8, 8, 8, 19, 8, 8, 8, 8, 8, 8, 8, 19, 8, // 6x
	19, 19, 19, 19, 19, 19, 4, 19, 4, 4, 4, 4, 8, 8, 19, 4, // 7x
	4, 4, 4, 4, 8, 8, 19, 4, 4, 4, 4, 4, 8, 8, 19, 4, // 8x
	4, 4, 4, 4, 8, 8, 19, 4, 4, 4, 4, 4, 8, 8, 19, 4, // 9x
	4, 4, 4, 4, 8, 8, 19, 4, 4, 4, 4, 4, 8, 8, 19, 4, // Ax
	4, 4, 4, 4, 8, 8, 19, 4, 4, 4, 4, 4, 8, 8, 19, 4, // Bx
	4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 0, 4, 4, 4, 4, // Cx
	4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, // Dx
	4, 14, 4, 23, 4, 15, 4, 4, 4, 8, 4, 4, 4, 4, 4, 4, // Ex
	4, 4, 4, 4, 4, 4, 4, 4, 4, 10, 4, 4, 4, 4, 4, 4, // Fx
}

// ED prefix. Undefined opcodes act as two-byte NOPs.
func edCycles(op byte) int {
	switch {
	case op >= 0x40 && op < 0x80:
		switch op & 0x07 {
		case 0, 1:
			// IN r,(C) and OUT (C),r.
			return 12
		case 2:
			// SBC/ADC HL,rr.
			return 15
		case 3:
			// LD (nn),rr and LD rr,(nn).
			return 20
		case 4:
			// NEG.
			return 8
		case 5:
			// RETN and RETI.
			return 14
		case 6:
			// IM n.
			return 8
		}
		switch op {
		case 0x67, 0x6F:
			// RRD and RLD.
			return 18
		case 0x47, 0x4F, 0x57, 0x5F:
			// LD I,A and friends.
			return 9
		}
		return 8
	case op >= 0xA0 && op < 0xC0 && op&0x07 < 4:
		// Block instructions. Repeats are fixed up afterwards.
		if op >= 0xB0 {
			return 21
		}
		return 16
	}
	return 8
}

// Instruction T-states before execution, given the bytes at the PC.
func instructionCycles(fetch func(uint16) byte, pc uint16) int {
	op := fetch(pc)
	switch op {
	case 0xCB:
		return cbCycles(fetch(pc + 1))
	case 0xED:
		return edCycles(fetch(pc + 1))
	case 0xDD, 0xFD:
		op2 := fetch(pc + 1)
		if op2 == 0xCB {
			if op4 := fetch(pc + 3); op4 >= 0x40 && op4 < 0x80 {
				return 20
			}
			return 23
		}
		return int(indexCycles[op2])
	}
	return int(baseCycles[op])
}

// Fix up the T-states of conditional instructions now that we know whether
// they were taken.
func conditionalCycles(fetch func(uint16) byte, op byte, before, after uint16, cycles int) int {
	switch op {
	case 0x20, 0x28, 0x30, 0x38:
		// JR cc.
		if after == before+2 {
			return 7
		}
		return 12
	case 0x10:
		// DJNZ.
		if after == before+2 {
			return 8
		}
		return 13
	case 0xC0, 0xC8, 0xD0, 0xD8, 0xE0, 0xE8, 0xF0, 0xF8:
		// RET cc.
		if after == before+1 {
			return 5
		}
		return 11
	case 0xC4, 0xCC, 0xD4, 0xDC, 0xE4, 0xEC, 0xF4, 0xFC:
		// CALL cc.
		if after == before+3 {
			return 10
		}
		return 17
	case 0xED:
		switch fetch(before + 1) {
		case 0xB0, 0xB1, 0xB2, 0xB3, 0xB8, 0xB9, 0xBA, 0xBB:
			if after == before {
				return 21
			}
			return 16
		}
	}
	return cycles
}
