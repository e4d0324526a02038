// Copyright 2012 Lawrence Kesteloot

package main

// Memory simulator. This includes ROM, RAM, and memory-mapped I/O.

import (
	log "github.com/sirupsen/logrus"
)

const (
	memorySize = 64 * 1024

	// True RAM begins at this address.
	ramBegin = 0x4000

	// Printer status and data.
	printerAddr = 0x37E8
)

// Write a byte to an address in memory.
func (vm *vm) writeMem(addr uint16, b byte) {
	// xtrs:trs_memory.c
	switch {
	case addr < vm.romSize:
		// ROM. Harmless in real life, but may indicate a bug here.
		if vm.logRomWrites {
			log.Warnf("Tried to write %02X to ROM at %04X", b, addr)
		}
	case addr >= ramBegin:
		vm.memory[addr] = b
	case addr >= screenBegin && addr < screenEnd:
		vm.memory[addr] = b
		vm.send(vmUpdate{Cmd: "poke", Addr: int(addr), Msg: string(rune(b))})
	case addr == printerAddr:
		// Printer. Ignore, but could print ASCII byte to display.
	}
}

// Read a byte from memory.
func (vm *vm) readMem(addr uint16) byte {
	// Memory-mapped I/O.
	// http://www.trs-80.com/trs80-zaps-internals.htm#memmapio
	switch {
	case addr < vm.romSize, addr >= ramBegin:
		return vm.memory[addr]
	case addr == printerAddr:
		// Printer selected, ready, with paper, not busy.
		return 0x30
	case addr >= screenBegin && addr < screenEnd:
		return vm.memory[addr]
	case addr >= keyboardBegin && addr < keyboardEnd:
		return vm.keyboard.read(addr)
	}

	// Unmapped memory.
	return 0xFF
}

// Connects the Z80 to our memory and ports.
type bus struct {
	vm *vm
}

func (b bus) Get(addr uint16) uint8 {
	return b.vm.readMem(addr)
}

func (b bus) Set(addr uint16, value uint8) {
	b.vm.writeMem(addr, value)
}

func (b bus) In(port uint8) uint8 {
	return b.vm.readPort(port)
}

func (b bus) Out(port uint8, value uint8) {
	b.vm.writePort(port, value)
}
