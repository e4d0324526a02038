// Copyright 2012 Lawrence Kesteloot

package main

// The VM (Virtual Machine) represents the entire machine.

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lkesteloot/trs80emu/clock"
	"github.com/lkesteloot/trs80emu/diskimage"
	"github.com/lkesteloot/trs80emu/floppy"
	"github.com/lkesteloot/trs80emu/snapshot"
)

const (
	// How many instructions to keep around in a queue so that we can display
	// the last historicalPcCount instructions when a problem happens.
	historicalPcCount = 20

	// Mode image at power-on.
	initialModeImage = 0x80

	vmSnapshotVersion = 1
)

// Where the machine gets its ROM and disks.
type vmConfig struct {
	romPath  string
	diskDir  string
	stateDir string

	// Images to put in drives 0, 1, ...
	disks []string

	unthrottled bool
}

// The vm structure (Virtual Machine) represents the entire emulated machine.
// That includes the CPU, memory, disk, keyboard, display, and other parts
// like the clock interrupt hardware. While the clock is running only its
// goroutine touches the machine; the command goroutine stops it first.
type vm struct {
	cfg vmConfig

	// Virtual time and the instruction loop.
	clock *clock.Clock

	// The CPU state.
	cpu *cpu

	// Interrupt lines and masks.
	ints *interrupts

	// Floppy disk controller.
	fdc *floppy.Controller

	// All of addressable memory, including ROM, RAM, and memory-mapped I/O
	// such as the display.
	memory []byte

	// Size of ROM, starting at memory location zero.
	romSize uint16

	// Simulated keyboard.
	keyboard keyboard

	// Various I/O settings.
	modeImage byte

	// Breakpoints.
	breakpoints breakpoints

	// Don't stop at a breakpoint on the next instruction, so that we can
	// continue from one.
	skipBreakpoint bool

	// Set by the break hook when it stopped the clock.
	hitBreakpoint bool

	// Closed when the running clock stops. Nil while stopped.
	done <-chan struct{}

	// Log every instruction.
	tracing bool

	// Warn about writes to ROM, usually a sign of a bug here.
	logRomWrites bool

	// Channel to send updates to. The VM will send updates (screen writes,
	// diagnostic messages, etc.) to this channel. Nil if nobody's listening.
	vmUpdateCh chan<- vmUpdate

	// Keep last "historicalPcCount" PCs for debugging.
	historicalPc [historicalPcCount]uint16
	// Points to the most recent instruction added.
	historicalPcPtr int
}

// Creates a new virtual machine from the configuration: reads the ROM and
// puts disks in the drives. Updates will be sent to vmUpdateCh.
func createVm(cfg vmConfig, vmUpdateCh chan<- vmUpdate) (*vm, error) {
	rom, err := ioutil.ReadFile(cfg.romPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading ROM")
	}

	vm, err := newVm(rom, vmUpdateCh)
	if err != nil {
		return nil, err
	}
	vm.cfg = cfg
	vm.clock.SetSpeed(!cfg.unthrottled)

	// Specify the disks in the drive.
	for drive, filename := range cfg.disks {
		if err := vm.loadDisk(drive, filename); err != nil {
			return nil, err
		}
	}

	return vm, nil
}

// Makes a machine with the given ROM and empty drives.
func newVm(rom []byte, vmUpdateCh chan<- vmUpdate) (*vm, error) {
	if len(rom) > ramBegin {
		return nil, errors.Errorf("ROM is too large (%d bytes)", len(rom))
	}

	vm := &vm{
		memory:       make([]byte, memorySize),
		romSize:      uint16(len(rom)),
		modeImage:    initialModeImage,
		vmUpdateCh:   vmUpdateCh,
		ints:         newInterrupts(),
		logRomWrites: log.IsLevelEnabled(log.DebugLevel),
	}
	copy(vm.memory, rom)
	log.WithFields(log.Fields{
		"memory": len(vm.memory),
		"rom":    len(rom),
	}).Info("Created machine")

	vm.cpu = newCPU(bus{vm}, bus{vm})
	vm.clock = clock.New(vm.cpu, vm.ints)
	vm.clock.SetRTC(vm.handleTimer)
	vm.clock.SetBreakHook(vm.beforeInstruction)

	vm.fdc = floppy.New(vm.clock, vm.ints.intrq, vm.ints.motorOff)
	vm.fdc.OnMotor = func(drive int, on bool) {
		data := 0
		if on {
			data = 1
		}
		vm.send(vmUpdate{Cmd: "motor", Addr: drive, Data: data})
	}
	vm.fdc.OnStep = func(drive int, track byte) {
		vm.send(vmUpdate{Cmd: "fdc", Addr: drive, Data: int(track), Msg: vm.fdc.StatusString()})
	}

	vm.reset(true)
	return vm, nil
}

// Send an update to the UI, if there is one.
func (vm *vm) send(update vmUpdate) {
	if vm.vmUpdateCh != nil {
		vm.vmUpdateCh <- update
	}
}

// Tell the UI something in plain text, and log it.
func (vm *vm) message(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Info(msg)
	vm.send(vmUpdate{Cmd: "message", Msg: msg})
}

// Called by the clock before each instruction. Returns true to stop.
func (vm *vm) beforeInstruction() bool {
	pc := vm.cpu.pc()
	if vm.skipBreakpoint {
		vm.skipBreakpoint = false
	} else if vm.breakpoints.find(pc) != nil {
		vm.hitBreakpoint = true
		return true
	}

	// Don't fill the history with a stalled or halted CPU.
	if vm.historicalPc[vm.historicalPcPtr] != pc {
		vm.historicalPcPtr = (vm.historicalPcPtr + 1) % historicalPcCount
		vm.historicalPc[vm.historicalPcPtr] = pc
		if vm.tracing {
			vm.trace(pc)
		}
	}
	return false
}

// Starts the instruction loop.
func (vm *vm) start() {
	if vm.clock.Running() {
		return
	}
	vm.skipBreakpoint = true
	vm.hitBreakpoint = false
	vm.clock.Start()
	vm.done = vm.clock.Done()
}

// Stops the instruction loop and waits for it.
func (vm *vm) stop() {
	if vm.done == nil {
		return
	}
	vm.clock.Stop()
	vm.stopped()
}

// The loop has ended, by request or at a breakpoint.
func (vm *vm) stopped() {
	vm.done = nil
	if vm.hitBreakpoint {
		vm.hitBreakpoint = false
		pc := vm.cpu.pc()
		vm.send(vmUpdate{Cmd: "breakpoint", Addr: int(pc)})
		log.Infof("Breakpoint at %04X", pc)
		vm.logHistoricalPc()
	}
}

// Run f with the machine stopped, then restart it if it was running.
func (vm *vm) paused(f func()) {
	wasRunning := vm.done != nil
	vm.stop()
	f()
	if wasRunning && vm.done == nil {
		vm.start()
	}
}

// Runs the machine under control of commands from the UI until the
// commands stop, a shutdown command arrives, or ctx is done. The machine
// isn't booted until the boot command arrives.
func (vm *vm) run(ctx context.Context, vmCommandCh <-chan vmCommand) error {
	defer func() {
		vm.stop()
		log.Info("VM shut down")

		if vm.vmUpdateCh != nil {
			vm.vmUpdateCh <- vmUpdate{Cmd: "shutdown"}

			// No more updates.
			close(vm.vmUpdateCh)
			vm.vmUpdateCh = nil
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-vm.done:
			vm.stopped()
		case msg, ok := <-vmCommandCh:
			if !ok || msg.Cmd == "shutdown" {
				return nil
			}
			vm.handleCmd(msg)
		}
	}
}

// Handle a command from the UI.
func (vm *vm) handleCmd(msg vmCommand) {
	switch msg.Cmd {
	case "boot":
		vm.stop()
		vm.reset(true)
		vm.start()
	case "reset":
		vm.paused(func() { vm.reset(false) })
	case "stop":
		vm.stop()
	case "start":
		vm.start()
	case "step":
		if vm.done == nil {
			vm.skipBreakpoint = true
			vm.beforeInstruction()
			vm.clock.Step()
			line, _ := vm.disasm(vm.cpu.pc())
			vm.message("%s", line)
		}
	case "speed":
		vm.clock.SetSpeed(msg.Data != "fast")
	case "press", "release":
		vm.keyboard.keyEvent(msg.Addr, msg.Cmd == "press")
	case "add_breakpoint":
		vm.paused(func() {
			vm.breakpoints.add(breakpoint{pc: uint16(msg.Addr), active: true})
		})
		log.Infof("Breakpoint added at %04X", msg.Addr)
	case "remove_breakpoint":
		vm.paused(func() {
			vm.breakpoints.remove(uint16(msg.Addr))
		})
	case "tron":
		vm.paused(func() {
			vm.tracing = !vm.tracing
		})
		if vm.tracing {
			vm.message("Trace is on")
		} else {
			vm.message("Trace is off")
		}
	case "set_disk":
		vm.paused(func() {
			path := ""
			if msg.Data != "" {
				path = filepath.Join(vm.cfg.diskDir, filepath.Base(msg.Data))
			}
			if err := vm.loadDisk(msg.Addr, path); err != nil {
				vm.message("Can't load disk: %v", err)
			}
		})
	case "save_disk":
		vm.paused(func() {
			if err := vm.saveDisk(msg.Addr); err != nil {
				vm.message("Can't save disk: %v", err)
			}
		})
	case "save_state":
		vm.paused(func() {
			path := filepath.Join(vm.cfg.stateDir, filepath.Base(msg.Data))
			if err := vm.saveState(path); err != nil {
				vm.message("Can't save state: %v", err)
			} else {
				vm.message("Saved state to %s", path)
			}
		})
	case "load_state":
		vm.paused(func() {
			path := filepath.Join(vm.cfg.stateDir, filepath.Base(msg.Data))
			if err := vm.loadState(path); err != nil {
				vm.message("Can't load state: %v", err)
			} else {
				vm.message("Loaded state from %s", path)
			}
		})
	default:
		log.Warnf("Unknown VM command %q", msg.Cmd)
	}
}

// Log the last historicalPcCount assembly instructions that we executed.
func (vm *vm) logHistoricalPc() {
	for i := 0; i < historicalPcCount; i++ {
		pc := vm.historicalPc[(vm.historicalPcPtr+i+1)%historicalPcCount]
		line, _ := vm.disasm(pc)
		log.Info(line)
	}
}

// Reset the virtual machine, optionally to power-on state. The machine must
// be stopped.
func (vm *vm) reset(powerOn bool) {
	vm.fdc.Reset()
	vm.ints.setIrqMask(0)
	vm.ints.setNmiMask(0)
	vm.keyboard.clear()
	vm.timerInterrupt(false)
	vm.modeImage = initialModeImage

	if powerOn {
		vm.ints.powerOn()
		vm.cpu.reset()
		vm.clock.Reset()
		for i := int(vm.romSize); i < len(vm.memory); i++ {
			vm.memory[i] = 0
		}
	} else {
		// Pressing the button again has to make a new edge.
		vm.ints.reset.Unlatch()
		vm.ints.reset.Latch()
	}
}

// Put the image at path in the drive, or empty the drive if path is empty.
// On failure the drive is left empty.
func (vm *vm) loadDisk(drive int, path string) error {
	if drive < 0 || drive >= floppy.DriveCount {
		return errors.Errorf("no drive %d", drive)
	}
	if old := vm.fdc.EjectFloppy(drive); old != nil && old.Changed() {
		log.WithFields(log.Fields{
			"drive": drive,
			"name":  old.Name,
		}).Warn("Discarding unsaved changes")
	}
	if path == "" {
		vm.message("Drive %d is empty", drive)
		return nil
	}

	f, _, err := diskimage.Load(path)
	if err != nil {
		return err
	}
	vm.fdc.LoadFloppy(drive, f)
	vm.message("Loaded %s into drive %d", f.Name, drive)
	return nil
}

// Write the disk in the drive back out as a DMK image next to the original.
func (vm *vm) saveDisk(drive int) error {
	f := vm.fdc.Floppy(drive)
	if f == nil {
		return errors.Errorf("drive %d is empty", drive)
	}
	name := f.Name
	if ext := filepath.Ext(name); ext != "" {
		name = name[:len(name)-len(ext)]
	}
	path := filepath.Join(vm.cfg.diskDir, name+".dmk")
	if err := diskimage.Save(path, f); err != nil {
		return err
	}
	vm.message("Saved drive %d to %s", drive, path)
	return nil
}

// Write the whole machine to a save state file.
func (vm *vm) saveState(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating save state")
	}
	defer file.Close()

	w := snapshot.NewWriter(file)
	if err := vm.save(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return file.Close()
}

func (vm *vm) save(w *snapshot.Writer) error {
	w.Section("vm", vmSnapshotVersion)
	w.Bytes(vm.memory)
	w.Uint8(vm.modeImage)

	vm.clock.Save(w)
	if err := vm.cpu.save(w); err != nil {
		return err
	}
	vm.ints.save(w)
	vm.fdc.Save(w)
	for drive := 0; drive < floppy.DriveCount; drive++ {
		f := vm.fdc.Floppy(drive)
		w.Bool(f != nil)
		if f != nil {
			f.Save(w)
		}
	}
	return w.Err()
}

// Everything read from a save state, applied only once it has all loaded.
type machineState struct {
	memory    []byte
	modeImage byte
	clock     clock.ClockState
	cpu       cpuState
	ints      interruptsState
	fdc       floppy.ControllerState
	floppies  [floppy.DriveCount]*floppy.Floppy
}

// Replace the machine's state with a save state file. On error the machine
// is untouched.
func (vm *vm) loadState(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening save state")
	}
	defer file.Close()

	ms, err := vm.readState(snapshot.NewReader(file))
	if err != nil {
		return errors.Wrapf(err, "loading %s", path)
	}
	vm.restore(ms)
	return nil
}

func (vm *vm) readState(r *snapshot.Reader) (*machineState, error) {
	ms := &machineState{}

	r.Section("vm", vmSnapshotVersion)
	ms.memory = r.Bytes()
	ms.modeImage = r.Uint8()
	if r.Err() != nil {
		return nil, r.Err()
	}
	if len(ms.memory) != memorySize {
		return nil, errors.Errorf("memory is %d bytes", len(ms.memory))
	}

	ms.clock = clock.ReadState(r)
	if r.Err() != nil {
		return nil, r.Err()
	}

	var err error
	if ms.cpu, err = readCPUState(r); err != nil {
		return nil, err
	}
	if ms.ints, err = readInterruptsState(r); err != nil {
		return nil, err
	}
	if ms.fdc, err = floppy.ReadState(r); err != nil {
		return nil, err
	}
	for drive := range ms.floppies {
		if !r.Bool() {
			continue
		}
		if ms.floppies[drive], err = floppy.LoadFloppy(r); err != nil {
			return nil, errors.Wrapf(err, "drive %d", drive)
		}
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return ms, nil
}

// Apply a fully-read save state. The clock goes first since the other
// components reschedule their pulses on it.
func (vm *vm) restore(ms *machineState) {
	copy(vm.memory, ms.memory)
	vm.modeImage = ms.modeImage
	vm.clock.Restore(ms.clock)
	vm.cpu.restore(ms.cpu)
	vm.ints.restore(ms.ints)
	vm.fdc.Restore(ms.fdc)
	for drive, f := range ms.floppies {
		vm.fdc.EjectFloppy(drive)
		if f != nil {
			vm.fdc.LoadFloppy(drive, f)
		}
	}
	vm.keyboard.clear()
}
