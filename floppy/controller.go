// Copyright 2012 Lawrence Kesteloot

// Package floppy emulates the Model III's WD1793 floppy disk controller and
// the diskettes it reads and writes. The controller is timed by the virtual
// clock: the disk rotates at exactly 300 RPM of emulated time and commands
// wait for the right byte to come under the head.
package floppy

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/lkesteloot/trs80emu/clock"
	"github.com/lkesteloot/trs80emu/interrupt"
	"github.com/lkesteloot/trs80emu/snapshot"
)

const (
	// How many physical drives in the machine.
	DriveCount = 4

	// Speed of disk.
	diskRPM            = 300
	ticksPerRevolution = clock.TicksPerSecond * 60 / diskRPM

	// Disk angle is measured in millionths of a revolution.
	angleUnits = 1000000

	// Width of the index hole, in angle units.
	indexPulseWidth = angleUnits / 100

	// The Model III clocks the FDC at 1 MHz, half its nominal rate, so
	// every chip timing is doubled.
	fdcClockDivisor = 2

	// Head settling time for the E and V flags.
	headSettleMicroseconds = 15000 * fdcClockDivisor

	// Between the end of a command and its interrupt.
	nmiDelayMicroseconds = 16

	// Index pulses we wait through while looking for an ID field.
	idSearchIndexPulses = 5

	// Motor timing.
	motorOnDelayMicroseconds  = 10
	motorOffDelayMicroseconds = 2000000

	fdcSnapshotVersion = 1
)

// Type I status bits.
const (
	statusBusy         = 1 << iota // Whether the disk is actively doing work.
	statusIndex                    // The head is currently over the index hole.
	statusTrackZero                // Head is on track 0.
	statusCRCError                 // CRC error.
	statusSeekError                // Seek error.
	statusHeadLoaded               // Head engaged.
	statusWriteProtect             // Write-protected.
	statusNotReady                 // Disk not ready (motor not running).
)

// Type II and III status bits.
const (
	statusDRQ      = 0x02
	statusLostData = 0x04
	statusNotFound = 0x10
	statusDeleted  = 0x20
)

// Select register bits for WriteSelect().
const (
	selectDrive0 = 1 << iota
	selectDrive1
	selectDrive2
	selectDrive3
	selectSide // 0 = front, 1 = back.
	selectPrecomp
	selectWait // Controller should block OUT until operation is done.
	selectMFM  // Double density.

	selectDriveMask = selectDrive0 | selectDrive1 | selectDrive2 | selectDrive3
)

// Drive is one physical drive.
type Drive struct {
	// Nil if no disk is inserted.
	Floppy *Floppy

	// Which physical track the head is on.
	PhysicalTrack byte
}

// Everything a save state needs to bring a command back mid-flight.
type state struct {
	// Registers.
	command byte
	track   byte
	sector  byte
	data    byte

	// Status flags.
	busy        bool
	drq         bool
	crcError    bool
	lostData    bool
	seekError   bool
	deleted     bool
	statusTypeI bool

	// Drive select.
	doubleDensity bool
	sideOne       bool
	currentDrive  int
	driveSelected bool
	motorOn       bool

	// Command in progress.
	kind          Command
	opStatus      OpStatus
	polling       bool
	targetIndex   int
	stepDirection int
	stepCount     int
	indexCount    int
	idBytes       [6]byte
	idIndex       int
	crc           crcState
	sectorLength  int
	byteCount     int
	damCount      int
	a1Count       int
}

// Controller is the WD1793 and its drive select latch.
type Controller struct {
	state

	clock       *clock.Clock
	intrq       *interrupt.Trigger
	motorOffNMI *interrupt.Trigger

	drives [DriveCount]Drive

	// Drives the phase machine.
	commandPulse  *clock.PulseRequest
	motorOnPulse  *clock.PulseRequest
	motorOffPulse *clock.PulseRequest

	// Read when the selected track doesn't exist.
	unformatted *Track

	// Called when a head steps, for drive noise.
	OnStep func(drive int, track byte)

	// Called when the motor turns on or off.
	OnMotor func(drive int, on bool)
}

// New makes a controller with empty drives. intrq is latched at the end of
// each command and motorOffNMI when the motor times out.
func New(clk *clock.Clock, intrq, motorOffNMI *interrupt.Trigger) *Controller {
	c := &Controller{
		clock:       clk,
		intrq:       intrq,
		motorOffNMI: motorOffNMI,
		unformatted: NewBlankTrack(true),
	}
	c.commandPulse = clock.NewPulseRequest("fdc command", clock.Microseconds, 0, c.update)
	c.motorOnPulse = clock.NewPulseRequest("fdc motor on", clock.Microseconds, motorOnDelayMicroseconds, c.motorStarted)
	c.motorOffPulse = clock.NewPulseRequest("fdc motor off", clock.Microseconds, motorOffDelayMicroseconds, c.motorStopped)
	c.Reset()
	return c
}

// Reset puts the controller in its power-on state. Disks stay in their
// drives and heads stay where they are.
func (c *Controller) Reset() {
	c.clock.Expire(c.commandPulse)
	c.clock.Expire(c.motorOnPulse)
	c.clock.Expire(c.motorOffPulse)

	c.state = state{
		kind:          NoCommand,
		statusTypeI:   true,
		stepDirection: 1,
	}
	c.intrq.Unlatch()
	c.motorOffNMI.Unlatch()
	c.notifyMotor()
}

// LoadFloppy inserts a diskette. A nil floppy empties the drive.
func (c *Controller) LoadFloppy(drive int, f *Floppy) {
	if drive < 0 || drive >= DriveCount {
		return
	}
	c.drives[drive].Floppy = f
	if f != nil {
		log.WithFields(log.Fields{
			"drive":  drive,
			"name":   f.Name,
			"tracks": f.TrackCount(),
			"sides":  f.Sides(),
		}).Info("Loaded floppy")
	}
}

// EjectFloppy empties the drive and returns what was in it.
func (c *Controller) EjectFloppy(drive int) *Floppy {
	if drive < 0 || drive >= DriveCount {
		return nil
	}
	f := c.drives[drive].Floppy
	c.drives[drive].Floppy = nil
	return f
}

// Floppy returns the diskette in the drive, or nil.
func (c *Controller) Floppy(drive int) *Floppy {
	if drive < 0 || drive >= DriveCount {
		return nil
	}
	return c.drives[drive].Floppy
}

// Whether the selected drive has a disk and its motor is running.
func (c *Controller) ready() bool {
	return c.driveSelected && c.motorOn && c.drives[c.currentDrive].Floppy != nil
}

func (c *Controller) writeProtected() bool {
	f := c.drives[c.currentDrive].Floppy
	return f != nil && f.WriteProtected
}

// The track under the head, or an unformatted one.
func (c *Controller) currentTrack() *Track {
	drive := &c.drives[c.currentDrive]
	if drive.Floppy != nil {
		if t := drive.Floppy.Track(int(drive.PhysicalTrack), c.side()); t != nil {
			return t
		}
	}
	return c.unformatted
}

// The track under the head, made if it doesn't exist yet.
func (c *Controller) writableTrack() *Track {
	drive := &c.drives[c.currentDrive]
	if drive.Floppy == nil {
		return c.unformatted
	}
	t := drive.Floppy.Track(int(drive.PhysicalTrack), c.side())
	if t == nil {
		t = NewBlankTrack(c.doubleDensity)
		drive.Floppy.SetTrack(int(drive.PhysicalTrack), c.side(), t)
	}
	return t
}

func (c *Controller) side() int {
	if c.sideOne {
		return 1
	}
	return 0
}

func (c *Controller) trackLength() int {
	return c.currentTrack().Len()
}

// DiskAngle is how far the disk has turned past the leading edge of the
// index hole, in millionths of a revolution.
func (c *Controller) DiskAngle() uint64 {
	return angleUnits * (c.clock.TickCount() % ticksPerRevolution) / ticksPerRevolution
}

// DiskAngleDegrees is for display.
func (c *Controller) DiskAngleDegrees() float64 {
	return float64(c.DiskAngle()) * 360 / angleUnits
}

// The byte under the head right now.
func (c *Controller) trackDataIndex() int {
	return int(c.DiskAngle() * uint64(c.trackLength()) / angleUnits)
}

// Whether the index hole is passing the sensor.
func (c *Controller) indexPulse() bool {
	return c.ready() && c.DiskAngle() < indexPulseWidth
}

// Ticks from now until the given byte starts to pass under the head.
func (c *Controller) ticksUntilIndex(index int) uint64 {
	length := uint64(c.trackLength())
	now := c.clock.TickCount() % ticksPerRevolution
	angle := (uint64(index)*angleUnits + length - 1) / length
	target := (angle*ticksPerRevolution + angleUnits - 1) / angleUnits
	if target <= now {
		target += ticksPerRevolution
	}
	return target - now
}

// Start counting bytes from wherever the head is. Single density bytes
// are two slots wide, so start on a pair.
func (c *Controller) syncPosition() {
	c.targetIndex = c.trackDataIndex()
	if !c.doubleDensity {
		c.targetIndex &^= 1
	}
}

// Continue with next after a flat delay.
func (c *Controller) waitTime(next OpStatus, usec uint64) {
	c.opStatus = next
	c.polling = false
	c.commandPulse.SetDelay(clock.Microseconds, usec)
	c.clock.Activate(c.commandPulse, true)
}

// Continue with next when the head reaches the given byte.
func (c *Controller) waitIndex(next OpStatus, index int) {
	c.opStatus = next
	c.polling = true
	c.targetIndex = index
	c.commandPulse.SetDelay(clock.Ticks, c.ticksUntilIndex(index))
	c.clock.Activate(c.commandPulse, true)
}

// Continue with next count bytes further along. Single density bytes are
// two slots wide and keep the alignment of the field they're in, which is
// odd when the field follows double density data.
func (c *Controller) waitBytes(next OpStatus, count int) {
	target := c.targetIndex + count*densityStep(c.doubleDensity)
	target %= c.trackLength()
	c.waitIndex(next, target)
}

// The polled byte wasn't under the head when the pulse fired. This happens
// legitimately when a disk is swapped mid-command.
func missedTarget(format string, args ...interface{}) {
	if debugAsserts {
		panic(fmt.Sprintf(format, args...))
	}
	log.Warnf(format, args...)
}

func (c *Controller) readByte() byte {
	return c.currentTrack().ByteAt(c.targetIndex, c.doubleDensity)
}

func (c *Controller) writeByte(b byte) {
	c.writeByteAt(c.targetIndex, b)
}

func (c *Controller) writeByteAt(index int, b byte) {
	c.writableTrack().SetByte(index, c.doubleDensity, b)
}

// Write count copies of b starting under the head.
func (c *Controller) writeRun(b byte, count int) {
	step := densityStep(c.doubleDensity)
	for i := 0; i < count; i++ {
		c.writeByteAt(c.targetIndex+i*step, b)
	}
}

func (c *Controller) setDRQ() {
	c.drq = true
	c.clock.ReleaseWait()
}

// Status computes the status register without side effects.
func (c *Controller) Status() byte {
	var status byte

	if !c.ready() {
		status |= statusNotReady
	}

	if c.statusTypeI {
		if c.writeProtected() {
			status |= statusWriteProtect
		}
		// RDY and HLT inputs are wired together on the TRS-80.
		if c.ready() {
			status |= statusHeadLoaded
		}
		if c.seekError {
			status |= statusSeekError
		}
		if c.crcError {
			status |= statusCRCError
		}
		if c.drives[c.currentDrive].PhysicalTrack == 0 {
			status |= statusTrackZero
		}
		if c.indexPulse() {
			status |= statusIndex
		}
	} else {
		if (c.kind == WriteSector || c.kind == WriteTrack) && c.writeProtected() {
			status |= statusWriteProtect
		}
		if c.deleted {
			status |= statusDeleted
		}
		if c.seekError {
			status |= statusNotFound
		}
		if c.crcError {
			status |= statusCRCError
		}
		if c.lostData {
			status |= statusLostData
		}
		if c.drq {
			status |= statusDRQ
		}
	}

	if c.busy {
		status |= statusBusy
	}

	return status
}

// ReadStatus is a read of port F0.
func (c *Controller) ReadStatus() byte {
	// Clear interrupt. Drives 1-3 can raise it even with drive 0 empty.
	c.intrq.Unlatch()

	// If no disk was loaded into drive 0, just pretend that we don't
	// have a disk system. Otherwise we have to hold down Break while
	// booting (to get to cassette BASIC) and that's annoying.
	if c.drives[0].Floppy == nil {
		return 0xFF
	}

	status := c.Status()

	log.Debugf("fdc: read status %02X", status)
	return status
}

// WriteCommand is a write to port F0.
func (c *Controller) WriteCommand(cmd byte) {
	log.Debugf("fdc: command %02X (%s)", cmd, commandFor(cmd))

	c.intrq.Unlatch()
	if cmd&commandMask == cmdForceInterrupt {
		c.forceInterrupt(cmd)
		return
	}
	if c.busy {
		log.Debugf("fdc: ignoring command %02X while busy with %s", cmd, c.kind)
		return
	}
	c.startCommand(cmd)
}

// ReadTrack is a read of port F1.
func (c *Controller) ReadTrack() byte {
	return c.track
}

// WriteTrack is a write to port F1.
func (c *Controller) WriteTrack(value byte) {
	c.track = value
}

// ReadSector is a read of port F2.
func (c *Controller) ReadSector() byte {
	return c.sector
}

// WriteSector is a write to port F2.
func (c *Controller) WriteSector(value byte) {
	c.sector = value
}

// ReadData is a read of port F3. It services a pending DRQ.
func (c *Controller) ReadData() byte {
	c.drq = false
	return c.data
}

// WriteData is a write to port F3. It services a pending DRQ.
func (c *Controller) WriteData(value byte) {
	c.data = value
	c.drq = false
}

// WriteSelect is a write to port F4: drive, side, density and wait.
func (c *Controller) WriteSelect(value byte) {
	log.Debugf("fdc: select %02X", value)

	c.sideOne = value&selectSide != 0
	c.doubleDensity = value&selectMFM != 0

	// Which drive is being enabled? If more than one, the lowest.
	mask := value & selectDriveMask
	c.driveSelected = mask != 0
	for drive := 0; drive < DriveCount; drive++ {
		if mask&(1<<uint(drive)) != 0 {
			if drive != c.currentDrive {
				c.currentDrive = drive
				c.notifyMotor()
			}
			break
		}
	}

	// Selecting a drive starts its motor and restarts the timeout.
	if c.driveSelected {
		if !c.motorOn && !c.motorOnPulse.Active() {
			c.clock.Activate(c.motorOnPulse, true)
		}
		c.clock.Activate(c.motorOffPulse, true)
		c.motorOffNMI.Unlatch()
	}

	if value&selectWait != 0 && c.busy {
		c.clock.Wait()
	}
}

func (c *Controller) motorStarted() {
	c.motorOn = true
	c.notifyMotor()
}

// The motor timed out. Anything in progress dies with lost data.
func (c *Controller) motorStopped() {
	c.motorOn = false
	c.clock.Expire(c.motorOnPulse)
	c.notifyMotor()
	c.motorOffNMI.Latch()

	if c.busy {
		c.clock.Expire(c.commandPulse)
		c.polling = false
		c.busy = false
		c.drq = false
		c.lostData = true
		c.opStatus = OpDone
	}
}

// Update the motor lights.
func (c *Controller) notifyMotor() {
	if c.OnMotor != nil {
		for drive := 0; drive < DriveCount; drive++ {
			c.OnMotor(drive, c.motorOn && c.currentDrive == drive)
		}
	}
}

// Diagnostics.

// OperationName is the phase of the current command.
func (c *Controller) OperationName() string {
	return c.opStatus.String()
}

// CommandName is the last command started.
func (c *Controller) CommandName() string {
	return c.kind.String()
}

// PhysicalTrack is where the selected drive's head is.
func (c *Controller) PhysicalTrack() byte {
	return c.drives[c.currentDrive].PhysicalTrack
}

// Busy reports whether a command is running.
func (c *Controller) Busy() bool {
	return c.busy
}

// DRQ reports whether the data register needs servicing.
func (c *Controller) DRQ() bool {
	return c.drq
}

// CRCError reports the CRC status flag.
func (c *Controller) CRCError() bool {
	return c.crcError
}

// LostData reports the lost data status flag.
func (c *Controller) LostData() bool {
	return c.lostData
}

// CurrentDrive is the selected drive.
func (c *Controller) CurrentDrive() int {
	return c.currentDrive
}

// MotorOn reports whether the selected drive's motor is running.
func (c *Controller) MotorOn() bool {
	return c.motorOn
}

// StatusString spells out the status register.
func (c *Controller) StatusString() string {
	status := c.Status()
	var names []string
	var bits [8]string
	if c.statusTypeI {
		bits = [8]string{"Busy", "Index", "Track0", "CRC", "Seek", "Head", "WP", "NotReady"}
	} else {
		bits = [8]string{"Busy", "DRQ", "LostData", "CRC", "NotFound", "Deleted", "WP", "NotReady"}
	}
	for i, name := range bits {
		if status&(1<<uint(i)) != 0 {
			names = append(names, name)
		}
	}
	return fmt.Sprintf("%02X %s", status, strings.Join(names, " "))
}

// Save writes the controller's state. Diskettes are saved separately.
func (c *Controller) Save(w *snapshot.Writer) {
	w.Section("fdc", fdcSnapshotVersion)

	w.Uint8(c.command)
	w.Uint8(c.track)
	w.Uint8(c.sector)
	w.Uint8(c.data)

	w.Bool(c.busy)
	w.Bool(c.drq)
	w.Bool(c.crcError)
	w.Bool(c.lostData)
	w.Bool(c.seekError)
	w.Bool(c.deleted)
	w.Bool(c.statusTypeI)

	w.Bool(c.doubleDensity)
	w.Bool(c.sideOne)
	w.Int(c.currentDrive)
	w.Bool(c.driveSelected)
	w.Bool(c.motorOn)

	w.Uint8(byte(c.kind))
	w.Uint8(byte(c.opStatus))
	w.Bool(c.polling)
	w.Int(c.targetIndex)
	w.Int(c.stepDirection)
	w.Int(c.stepCount)
	w.Int(c.indexCount)
	w.Bytes(c.idBytes[:])
	w.Int(c.idIndex)
	w.Uint16(c.crc.crc)
	w.Bool(c.crc.lastA1)
	w.Int(c.sectorLength)
	w.Int(c.byteCount)
	w.Int(c.damCount)
	w.Int(c.a1Count)

	for i := range c.drives {
		w.Uint8(c.drives[i].PhysicalTrack)
	}

	c.commandPulse.Save(w)
	c.motorOnPulse.Save(w)
	c.motorOffPulse.Save(w)
}

// ControllerState is a staged save state, applied with Restore.
type ControllerState struct {
	st             state
	physicalTracks [DriveCount]byte
	commandPulse   clock.PulseState
	motorOnPulse   clock.PulseState
	motorOffPulse  clock.PulseState
}

// ReadState reads what Save wrote without applying it.
func ReadState(r *snapshot.Reader) (ControllerState, error) {
	var cs ControllerState
	st := &cs.st

	r.Section("fdc", fdcSnapshotVersion)

	st.command = r.Uint8()
	st.track = r.Uint8()
	st.sector = r.Uint8()
	st.data = r.Uint8()

	st.busy = r.Bool()
	st.drq = r.Bool()
	st.crcError = r.Bool()
	st.lostData = r.Bool()
	st.seekError = r.Bool()
	st.deleted = r.Bool()
	st.statusTypeI = r.Bool()

	st.doubleDensity = r.Bool()
	st.sideOne = r.Bool()
	st.currentDrive = r.Int()
	st.driveSelected = r.Bool()
	st.motorOn = r.Bool()

	st.kind = Command(r.Uint8())
	st.opStatus = OpStatus(r.Uint8())
	st.polling = r.Bool()
	st.targetIndex = r.Int()
	st.stepDirection = r.Int()
	st.stepCount = r.Int()
	st.indexCount = r.Int()
	copy(st.idBytes[:], r.Bytes())
	st.idIndex = r.Int()
	st.crc.crc = r.Uint16()
	st.crc.lastA1 = r.Bool()
	st.sectorLength = r.Int()
	st.byteCount = r.Int()
	st.damCount = r.Int()
	st.a1Count = r.Int()

	for i := range cs.physicalTracks {
		cs.physicalTracks[i] = r.Uint8()
	}

	cs.commandPulse = clock.ReadPulseState(r)
	cs.motorOnPulse = clock.ReadPulseState(r)
	cs.motorOffPulse = clock.ReadPulseState(r)

	if r.Err() != nil {
		return ControllerState{}, r.Err()
	}
	if st.currentDrive < 0 || st.currentDrive >= DriveCount ||
		st.opStatus > NMI || (st.kind > ForceInterrupt && st.kind != NoCommand) ||
		st.idIndex < 0 || st.idIndex > len(st.idBytes) {

		return ControllerState{}, errors.New("fdc: corrupt state")
	}
	return cs, nil
}

// Restore applies a staged state. The clock must already be restored.
func (c *Controller) Restore(cs ControllerState) {
	c.state = cs.st
	for i := range c.drives {
		c.drives[i].PhysicalTrack = cs.physicalTracks[i]
	}
	c.clock.RestorePulse(c.commandPulse, cs.commandPulse)
	c.clock.RestorePulse(c.motorOnPulse, cs.motorOnPulse)
	c.clock.RestorePulse(c.motorOffPulse, cs.motorOffPulse)
	c.notifyMotor()
}
