// Copyright 2012 Lawrence Kesteloot

package main

// Handle interrupts. Each source is an interrupt.Trigger; the masks written
// to ports E0 and E4 enable them.

import (
	"github.com/lkesteloot/trs80emu/interrupt"
	"github.com/lkesteloot/trs80emu/snapshot"
)

// IRQs
const (
	cassetteRiseIrqMask = 1 << iota
	cassetteFallIrqMask
	timerIrqMask
	ioBusIrqMask
	uartSendIrqMask
	uartReceiveIrqMask
	uartErrorIrqMask

	irqCount = iota
)

// NMIs
const (
	resetNmiMask = 0x20 << iota
	diskMotorOffNmiMask
	diskIntrqNmiMask

	nmiCount = iota
)

const interruptsSnapshotVersion = 1

var irqNames = [irqCount]string{
	"cassette rise", "cassette fall", "timer", "I/O bus",
	"UART send", "UART receive", "UART error",
}

// All the interrupt lines of the machine.
type interrupts struct {
	// Indexed by IRQ bit number.
	irq [irqCount]*interrupt.Trigger

	reset    *interrupt.Trigger
	motorOff *interrupt.Trigger
	intrq    *interrupt.Trigger
}

func newInterrupts() *interrupts {
	ints := &interrupts{
		// Reset is always allowed.
		reset:    interrupt.New("reset", true),
		motorOff: interrupt.New("disk motor off", false),
		intrq:    interrupt.New("disk intrq", false),
	}
	for i := range ints.irq {
		ints.irq[i] = interrupt.New(irqNames[i], false)
	}
	return ints
}

// The NMI lines in bit order.
func (ints *interrupts) nmi() [nmiCount]*interrupt.Trigger {
	return [nmiCount]*interrupt.Trigger{ints.reset, ints.motorOff, ints.intrq}
}

func (ints *interrupts) timer() *interrupt.Trigger {
	return ints.irq[2]
}

// Set the mask for IRQ (regular) interrupts.
func (ints *interrupts) setIrqMask(irqMask byte) {
	for i, t := range ints.irq {
		t.Enable(irqMask&(1<<uint(i)) != 0)
	}
}

// Set the mask for non-maskable interrupts. (Yes.)
func (ints *interrupts) setNmiMask(nmiMask byte) {
	ints.motorOff.Enable(nmiMask&diskMotorOffNmiMask != 0)
	ints.intrq.Enable(nmiMask&diskIntrqNmiMask != 0)
}

// Which IRQs the hardware has requested, whether enabled or not.
func (ints *interrupts) irqLatch() byte {
	var latch byte
	for i, t := range ints.irq {
		if t.Latched() {
			latch |= 1 << uint(i)
		}
	}
	return latch
}

// Which NMIs the hardware has requested.
func (ints *interrupts) nmiLatch() byte {
	var latch byte
	for i, t := range ints.nmi() {
		if t.Latched() {
			latch |= resetNmiMask << uint(i)
		}
	}
	return latch
}

// Power-on: everything lowered and masked except reset.
func (ints *interrupts) powerOn() {
	ints.setIrqMask(0)
	ints.setNmiMask(0)
	for _, t := range ints.irq {
		t.Reset()
	}
	for _, t := range ints.nmi() {
		t.Reset()
	}
}

// NMIPending reports an NMI the CPU hasn't been given yet.
func (ints *interrupts) NMIPending() bool {
	for _, t := range ints.nmi() {
		if t.Pending() {
			return true
		}
	}
	return false
}

// AcknowledgeNMI marks every triggered NMI line as seen. The line has to
// drop before it can interrupt again.
func (ints *interrupts) AcknowledgeNMI() {
	for _, t := range ints.nmi() {
		t.Acknowledge()
	}
}

// IRQPending reports whether any enabled IRQ is latched. IRQs are level
// triggered.
func (ints *interrupts) IRQPending() bool {
	for _, t := range ints.irq {
		if t.Triggered() {
			return true
		}
	}
	return false
}

func (ints *interrupts) all() []*interrupt.Trigger {
	nmi := ints.nmi()
	return append(ints.irq[:len(ints.irq):len(ints.irq)], nmi[:]...)
}

func (ints *interrupts) save(w *snapshot.Writer) {
	w.Section("interrupts", interruptsSnapshotVersion)
	for _, t := range ints.all() {
		enabled, latched, seen := t.State()
		w.Bool(enabled)
		w.Bool(latched)
		w.Bool(seen)
	}
}

// Saved line flags in the order of all().
type interruptsState [irqCount + nmiCount][3]bool

func readInterruptsState(r *snapshot.Reader) (interruptsState, error) {
	var st interruptsState
	r.Section("interrupts", interruptsSnapshotVersion)
	for i := range st {
		for k := range st[i] {
			st[i][k] = r.Bool()
		}
	}
	return st, r.Err()
}

func (ints *interrupts) restore(st interruptsState) {
	for i, t := range ints.all() {
		t.SetState(st[i][0], st[i][1], st[i][2])
	}
}
