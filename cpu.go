// Copyright 2012 Lawrence Kesteloot

package main

// The Z80 itself comes from the koron-go/z80 package. This adapter counts
// T-states, delivers interrupts the way the Model III wires them, and lets
// the clock drive it one instruction at a time.

import (
	"bytes"
	"encoding/gob"

	"github.com/koron-go/z80"
	"github.com/pkg/errors"

	"github.com/lkesteloot/trs80emu/snapshot"
)

const (
	// T-states to take an IM 1 interrupt and an NMI.
	interruptCycles = 13
	nmiCycles       = 11

	// Where the NMI handler lives.
	nmiVector = 0x0066

	// T-states of each NOP while halted.
	haltCycles = 4

	cpuSnapshotVersion = 1
)

// The CPU and what we need to count its time.
type cpu struct {
	z80 z80.CPU
	mem z80.Memory

	// Just executed EI. Interrupts aren't accepted until after the next
	// instruction.
	afterEI bool

	// The Model III only uses interrupt mode 1.
	im1 *z80.Interrupt
}

// Make a CPU that reads and writes through mem and io.
func newCPU(mem z80.Memory, io z80.IO) *cpu {
	c := &cpu{
		mem: mem,
		im1: z80.IM1Interrupt(),
	}
	c.z80.Memory = mem
	c.z80.IO = io
	return c
}

// Power-on state: PC at zero, interrupts off.
func (c *cpu) reset() {
	c.z80.States = z80.States{}
	c.z80.Interrupt = nil
	c.afterEI = false
}

// Current program counter.
func (c *cpu) pc() uint16 {
	return c.z80.PC
}

func (c *cpu) fetch(addr uint16) byte {
	return c.mem.Get(addr)
}

// Whether a maskable interrupt would be taken now.
func (c *cpu) CanInterrupt() bool {
	return c.z80.IFF1 && !c.afterEI
}

// NMIs are always accepted.
func (c *cpu) CanNMI() bool {
	return true
}

// Get out of a HALT. The core leaves the PC on the HALT instruction.
func (c *cpu) leaveHalt() {
	if c.z80.HALT {
		c.z80.HALT = false
		c.z80.PC++
	}
}

// Execute one instruction and return its T-states.
func (c *cpu) Exec() int {
	c.afterEI = false
	if c.z80.HALT {
		return haltCycles
	}

	pc := c.z80.PC
	op := c.fetch(pc)
	cycles := instructionCycles(c.fetch, pc)

	c.z80.Step()

	if op == 0xFB {
		c.afterEI = true
	}
	return conditionalCycles(c.fetch, op, pc, c.z80.PC, cycles)
}

// Take a mode 1 interrupt: push the PC and jump to 0x0038.
func (c *cpu) Interrupt() int {
	c.leaveHalt()
	c.z80.Interrupt = c.im1
	c.z80.Step()
	c.z80.Interrupt = nil
	return interruptCycles
}

// Take a non-maskable interrupt: push the PC and jump to 0x0066. IFF2
// remembers whether interrupts were enabled, for RETN.
func (c *cpu) NMI() int {
	c.leaveHalt()
	c.z80.IFF2 = c.z80.IFF1
	c.z80.IFF1 = false
	c.z80.SP--
	c.mem.Set(c.z80.SP, uint8(c.z80.PC>>8))
	c.z80.SP--
	c.mem.Set(c.z80.SP, uint8(c.z80.PC))
	c.z80.PC = nmiVector
	return nmiCycles
}

// Write the registers.
func (c *cpu) save(w *snapshot.Writer) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&c.z80.States); err != nil {
		return errors.Wrap(err, "encoding registers")
	}
	w.Section("cpu", cpuSnapshotVersion)
	w.Bytes(buf.Bytes())
	w.Bool(c.afterEI)
	return nil
}

// Registers read from a save state, not yet applied.
type cpuState struct {
	states  z80.States
	afterEI bool
}

func readCPUState(r *snapshot.Reader) (cpuState, error) {
	var st cpuState
	r.Section("cpu", cpuSnapshotVersion)
	data := r.Bytes()
	st.afterEI = r.Bool()
	if r.Err() != nil {
		return st, r.Err()
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st.states); err != nil {
		return st, errors.Wrap(err, "decoding registers")
	}
	return st, nil
}

func (c *cpu) restore(st cpuState) {
	c.z80.States = st.states
	c.z80.Interrupt = nil
	c.afterEI = st.afterEI
}
