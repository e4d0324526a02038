// Copyright 2012 Lawrence Kesteloot

package main

// Model III I/O ports.
// http://www.trs-80.com/trs80-zaps-internals.htm#portsm3

import (
	log "github.com/sirupsen/logrus"
)

// Mode image bit for 32-column characters.
const modeExpanded = 0x04

func (vm *vm) readPort(port byte) byte {
	switch port {
	case 0xE0, 0xE1, 0xE2, 0xE3:
		// Figure out which interrupts were requested.
		return ^vm.ints.irqLatch()
	case 0xE4, 0xE5, 0xE6, 0xE7:
		// NMI latch read.
		return ^vm.ints.nmiLatch()
	case 0xEC, 0xED, 0xEE, 0xEF:
		// Acknowledge timer.
		vm.timerInterrupt(false)
		return 0xFF
	case 0xF0:
		return vm.fdc.ReadStatus()
	case 0xF1:
		return vm.fdc.ReadTrack()
	case 0xF2:
		return vm.fdc.ReadSector()
	case 0xF3:
		return vm.fdc.ReadData()
	case 0xFF:
		// Cassette and various flags. No cassette, so the input bit is zero.
		return vm.modeImage & 0x7E
	}

	log.Debugf("Reading unknown port %02X", port)
	return 0xFF
}

func (vm *vm) writePort(port byte, value byte) {
	switch port {
	case 0xE0, 0xE1, 0xE2, 0xE3:
		// Set interrupt mask.
		vm.ints.setIrqMask(value)
	case 0xE4, 0xE5, 0xE6, 0xE7:
		// NMI state.
		vm.ints.setNmiMask(value)
	case 0xEC, 0xED, 0xEE, 0xEF:
		// Various controls.
		if (vm.modeImage^value)&modeExpanded != 0 {
			vm.send(vmUpdate{Cmd: "expanded", Data: int(value&modeExpanded) >> 2})
		}
		vm.modeImage = value
	case 0xF0:
		vm.fdc.WriteCommand(value)
	case 0xF1:
		vm.fdc.WriteTrack(value)
	case 0xF2:
		vm.fdc.WriteSector(value)
	case 0xF3:
		vm.fdc.WriteData(value)
	case 0xF4, 0xF5, 0xF6, 0xF7:
		vm.fdc.WriteSelect(value)
	case 0xFF:
		// Cassette output. Nothing to write to.
	default:
		log.Debugf("Writing %02X to unknown port %02X", value, port)
	}
}
