// Copyright 2012 Lawrence Kesteloot

package floppy

import (
	"bytes"
	"testing"

	"github.com/lkesteloot/trs80emu/clock"
	"github.com/lkesteloot/trs80emu/interrupt"
	"github.com/lkesteloot/trs80emu/snapshot"
)

// A CPU that does nothing, four T-states at a time.
type idleCPU struct{}

func (idleCPU) CanInterrupt() bool { return false }
func (idleCPU) CanNMI() bool       { return false }
func (idleCPU) Exec() int          { return 4 }
func (idleCPU) Interrupt() int     { return 13 }
func (idleCPU) NMI() int           { return 11 }

// Six revolutions.
const maxCommandSteps = 6 * ticksPerRevolution / (4 * clock.TicksPerTState)

type testRig struct {
	t        *testing.T
	clk      *clock.Clock
	intrq    *interrupt.Trigger
	motorOff *interrupt.Trigger
	fdc      *Controller
	floppy   *Floppy
}

// Drive 0 holds a double density diskette whose track 0 has sectors 0 to 17,
// each with its own pattern. The motor is running.
func newTestRig(t *testing.T) *testRig {
	f := NewFloppy(40, 1)
	f.SetTrack(0, 0, NewTrackFromSectors(makeSectors(18, 0, true), true))
	return newTestRigWith(t, f)
}

func newTestRigWith(t *testing.T, f *Floppy) *testRig {
	r := &testRig{
		t:        t,
		clk:      clock.New(idleCPU{}, nil),
		intrq:    interrupt.New("fdc", true),
		motorOff: interrupt.New("motor off", true),
		floppy:   f,
	}
	r.fdc = New(r.clk, r.intrq, r.motorOff)
	r.fdc.LoadFloppy(0, f)
	r.fdc.WriteSelect(selectDrive0 | selectMFM)
	for !r.fdc.MotorOn() {
		r.clk.Step()
	}
	return r
}

// Runs until the command finishes, calling service whenever DRQ is set.
func (r *testRig) run(service func()) {
	for i := 0; i < maxCommandSteps; i++ {
		r.clk.Step()
		if r.fdc.DRQ() {
			service()
		}
		if !r.fdc.Busy() {
			return
		}
	}
	r.t.Fatalf("Command %s still busy in phase %s", r.fdc.CommandName(), r.fdc.OperationName())
}

// Reads a sector through the controller.
func (r *testRig) readSector(sector byte) ([]byte, byte) {
	var data []byte
	r.fdc.WriteSector(sector)
	r.fdc.WriteCommand(cmdReadSector)
	r.run(func() {
		data = append(data, r.fdc.ReadData())
	})
	return data, r.fdc.ReadStatus()
}

func noDRQ(t *testing.T) func() {
	return func() {
		t.Fatalf("Unexpected DRQ")
	}
}

func TestReadSector(t *testing.T) {
	r := newTestRig(t)
	want, _ := r.floppy.Track(0, 0).Sector(3)

	data, status := r.readSector(3)
	if status&(statusBusy|statusLostData|statusCRCError|statusNotFound) != 0 {
		t.Errorf("Bad status %02X", status)
	}
	if len(data) != 256 {
		t.Fatalf("Got %d bytes, expected 256", len(data))
	}
	if !bytes.Equal(data, want.Data) {
		t.Errorf("Sector data doesn't match")
	}
}

func TestReadSectorLatchesInterrupt(t *testing.T) {
	r := newTestRig(t)
	r.fdc.WriteSector(0)
	r.fdc.WriteCommand(cmdReadSector)
	if r.intrq.Latched() {
		t.Fatalf("Interrupt latched at start of command")
	}
	r.run(func() { r.fdc.ReadData() })
	if !r.intrq.Latched() {
		t.Errorf("Interrupt not latched at end of command")
	}
	r.fdc.ReadStatus()
	if r.intrq.Latched() {
		t.Errorf("Reading status didn't clear interrupt")
	}
}

func TestReadSectorCRCError(t *testing.T) {
	sectors := makeSectors(18, 0, true)
	sectors[3].CRCError = true
	f := NewFloppy(40, 1)
	f.SetTrack(0, 0, NewTrackFromSectors(sectors, true))
	r := newTestRigWith(t, f)

	data, status := r.readSector(3)
	if status&statusCRCError == 0 {
		t.Errorf("CRC error not reported, status %02X", status)
	}
	if status&statusBusy != 0 {
		t.Errorf("Still busy after CRC error")
	}
	if len(data) != 256 {
		t.Errorf("Got %d bytes, expected 256", len(data))
	}
}

func TestReadSectorNotFound(t *testing.T) {
	r := newTestRig(t)
	start := r.clk.TickCount()
	data, status := r.readSector(99)
	if len(data) != 0 {
		t.Errorf("Got %d bytes from missing sector", len(data))
	}
	if status&statusNotFound == 0 {
		t.Errorf("Record not found not reported, status %02X", status)
	}

	// It takes several revolutions to give up.
	if elapsed := r.clk.TickCount() - start; elapsed < (idSearchIndexPulses-1)*ticksPerRevolution {
		t.Errorf("Gave up after only %d ticks", elapsed)
	}
}

func TestReadSectorWrongDensity(t *testing.T) {
	r := newTestRig(t)
	r.fdc.WriteSelect(selectDrive0)
	_, status := r.readSector(3)
	if status&statusNotFound == 0 {
		t.Errorf("Single density read of double density sector worked, status %02X", status)
	}
}

// A double density sector followed by single density ones, which then start
// on odd slots.
func newMixedDensityRig(t *testing.T) *testRig {
	sectors := append(makeSectors(1, 0, true), makeSectors(3, 1, false)...)
	track := NewTrackFromSectors(sectors, true)
	odd := false
	for _, idam := range track.IDAMs() {
		if idam&idamDoubleDensity == 0 && idam&idamOffsetMask%2 == 1 {
			odd = true
		}
	}
	if !odd {
		t.Fatalf("No single density sector at an odd offset")
	}

	f := NewFloppy(40, 1)
	f.SetTrack(0, 0, track)
	return newTestRigWith(t, f)
}

func TestReadSectorAfterDoubleDensity(t *testing.T) {
	r := newMixedDensityRig(t)
	r.fdc.WriteSelect(selectDrive0)

	for sector := byte(1); sector <= 3; sector++ {
		want, _ := r.floppy.Track(0, 0).Sector(sector)
		data, status := r.readSector(sector)
		if status&(statusLostData|statusCRCError|statusNotFound) != 0 {
			t.Errorf("Sector %d: bad status %02X", sector, status)
		}
		if !bytes.Equal(data, want.Data) {
			t.Errorf("Sector %d: got %d bytes, data doesn't match", sector, len(data))
		}
	}

	// And back to double density for the first one.
	r.fdc.WriteSelect(selectDrive0 | selectMFM)
	if _, status := r.readSector(0); status&(statusCRCError|statusNotFound) != 0 {
		t.Errorf("Sector 0: bad status %02X", status)
	}
}

func TestWriteSectorAfterDoubleDensity(t *testing.T) {
	r := newMixedDensityRig(t)
	r.fdc.WriteSelect(selectDrive0)

	r.fdc.WriteSector(2)
	r.fdc.WriteCommand(cmdWriteSector)
	count := 0
	r.run(func() {
		r.fdc.WriteData(byte(count ^ 0x55))
		count++
	})
	if status := r.fdc.ReadStatus(); status&(statusLostData|statusNotFound) != 0 {
		t.Errorf("Bad status %02X", status)
	}

	sd, ok := r.floppy.Track(0, 0).Sector(2)
	if !ok || sd.CRCError {
		t.Fatalf("Sector 2 found %v, CRC error %v", ok, sd.CRCError)
	}
	for i, b := range sd.Data {
		if b != byte(i^0x55) {
			t.Fatalf("Byte %d is %02X", i, b)
		}
	}
	if _, ok := r.floppy.Track(0, 0).Sector(3); !ok {
		t.Errorf("Sector 3 lost")
	}
}

func TestWriteSector(t *testing.T) {
	r := newTestRig(t)
	pattern := make([]byte, 256)
	for i := range pattern {
		pattern[i] = byte(255 - i)
	}

	r.fdc.WriteSector(5)
	r.fdc.WriteCommand(cmdWriteSector)
	count := 0
	r.run(func() {
		if count < len(pattern) {
			r.fdc.WriteData(pattern[count])
		}
		count++
	})
	status := r.fdc.ReadStatus()
	if status&(statusLostData|statusNotFound|statusWriteProtect) != 0 {
		t.Errorf("Bad status %02X", status)
	}
	if count != 256 {
		t.Errorf("Got %d DRQs, expected 256", count)
	}
	if !r.floppy.Changed() {
		t.Errorf("Floppy not marked as changed")
	}

	sd, ok := r.floppy.Track(0, 0).Sector(5)
	if !ok {
		t.Fatalf("Sector 5 lost")
	}
	if sd.CRCError || sd.Deleted() {
		t.Errorf("Written sector has CRC error %v, DAM %02X", sd.CRCError, sd.DAM)
	}
	if !bytes.Equal(sd.Data, pattern) {
		t.Errorf("Written data doesn't match")
	}

	// Neighbors untouched.
	for _, n := range []byte{4, 6} {
		sd, _ := r.floppy.Track(0, 0).Sector(n)
		if sd.CRCError {
			t.Errorf("Sector %d damaged", n)
		}
	}

	data, status := r.readSector(5)
	if status&statusCRCError != 0 || !bytes.Equal(data, pattern) {
		t.Errorf("Read back failed, status %02X", status)
	}
}

func TestWriteSectorSingleDensity(t *testing.T) {
	f := NewFloppy(40, 1)
	f.SetTrack(0, 0, NewTrackFromSectors(makeSectors(10, 0, false), false))
	r := newTestRigWith(t, f)
	r.fdc.WriteSelect(selectDrive0)

	r.fdc.WriteSector(2)
	r.fdc.WriteCommand(cmdWriteSector | cmdDeletedDAM)
	count := 0
	r.run(func() {
		r.fdc.WriteData(byte(count))
		count++
	})
	if status := r.fdc.ReadStatus(); status&(statusLostData|statusNotFound) != 0 {
		t.Errorf("Bad status %02X", status)
	}

	sd, ok := f.Track(0, 0).Sector(2)
	if !ok {
		t.Fatalf("Sector 2 lost")
	}
	if sd.CRCError || !sd.Deleted() || sd.DAM != 0xF8 {
		t.Errorf("Written sector has CRC error %v, DAM %02X", sd.CRCError, sd.DAM)
	}
	for i, b := range sd.Data {
		if b != byte(i) {
			t.Fatalf("Byte %d is %02X", i, b)
		}
	}

	_, status := r.readSector(2)
	if status&statusDeleted == 0 {
		t.Errorf("Deleted DAM not reported, status %02X", status)
	}
}

func TestWriteProtect(t *testing.T) {
	r := newTestRig(t)
	r.floppy.WriteProtected = true
	before, _ := r.floppy.Track(0, 0).Sector(3)

	r.fdc.WriteSector(3)
	r.fdc.WriteCommand(cmdWriteSector)
	r.run(noDRQ(t))

	status := r.fdc.ReadStatus()
	if status&statusWriteProtect == 0 {
		t.Errorf("Write protect not reported, status %02X", status)
	}
	if status&statusBusy != 0 {
		t.Errorf("Still busy")
	}
	after, _ := r.floppy.Track(0, 0).Sector(3)
	if !bytes.Equal(before.Data, after.Data) || r.floppy.Changed() {
		t.Errorf("Write-protected disk was modified")
	}
}

func TestLostData(t *testing.T) {
	r := newTestRig(t)
	r.fdc.WriteSector(1)
	r.fdc.WriteCommand(cmdReadSector)
	// Never service DRQ.
	r.run(func() {})
	if status := r.fdc.ReadStatus(); status&statusLostData == 0 {
		t.Errorf("Lost data not reported, status %02X", status)
	}
}

func TestStepTiming(t *testing.T) {
	r := newTestRig(t)
	start := r.clk.TickCount()
	r.fdc.WriteCommand(cmdStepIn | cmdUpdate | 0x02)
	for r.fdc.PhysicalTrack() == 0 {
		r.clk.Step()
	}
	elapsed := r.clk.TickCount() - start
	min := clock.MicrosecondsToTicks(20000)
	if elapsed <= min || elapsed > min+4*clock.TicksPerTState {
		t.Errorf("Step took %d ticks, expected just over %d", elapsed, min)
	}
	r.run(noDRQ(t))
	if r.fdc.ReadTrack() != 1 {
		t.Errorf("Track register %d, expected 1", r.fdc.ReadTrack())
	}
}

func TestStepWithoutUpdate(t *testing.T) {
	r := newTestRig(t)
	r.fdc.WriteCommand(cmdStepIn)
	r.run(noDRQ(t))
	if r.fdc.PhysicalTrack() != 1 || r.fdc.ReadTrack() != 0 {
		t.Errorf("Head at %d, track register %d", r.fdc.PhysicalTrack(), r.fdc.ReadTrack())
	}

	// Step repeats the last direction.
	r.fdc.WriteCommand(cmdStep | cmdUpdate)
	r.run(noDRQ(t))
	if r.fdc.PhysicalTrack() != 2 || r.fdc.ReadTrack() != 1 {
		t.Errorf("Head at %d, track register %d", r.fdc.PhysicalTrack(), r.fdc.ReadTrack())
	}
}

func TestSeekAndRestore(t *testing.T) {
	r := newTestRig(t)
	var steps []byte
	r.fdc.OnStep = func(drive int, track byte) {
		steps = append(steps, track)
	}

	r.fdc.WriteData(10)
	r.fdc.WriteCommand(cmdSeek)
	r.run(noDRQ(t))
	if r.fdc.PhysicalTrack() != 10 || r.fdc.ReadTrack() != 10 {
		t.Errorf("Seek ended at head %d, track register %d", r.fdc.PhysicalTrack(), r.fdc.ReadTrack())
	}
	if len(steps) != 10 {
		t.Errorf("Saw %d steps, expected 10", len(steps))
	}
	if status := r.fdc.ReadStatus(); status&statusTrackZero != 0 {
		t.Errorf("Track zero set at track 10")
	}

	r.fdc.WriteCommand(cmdRestore)
	r.run(noDRQ(t))
	if r.fdc.PhysicalTrack() != 0 || r.fdc.ReadTrack() != 0 {
		t.Errorf("Restore ended at head %d, track register %d", r.fdc.PhysicalTrack(), r.fdc.ReadTrack())
	}
	status := r.fdc.ReadStatus()
	if status&statusTrackZero == 0 || status&statusHeadLoaded == 0 {
		t.Errorf("Bad status after restore %02X", status)
	}
}

func TestRestoreVerify(t *testing.T) {
	r := newTestRig(t)
	r.fdc.WriteCommand(cmdRestore | cmdVerify)
	r.run(noDRQ(t))
	if status := r.fdc.ReadStatus(); status&(statusSeekError|statusCRCError) != 0 {
		t.Errorf("Verify failed on track 0, status %02X", status)
	}

	// Track 1 isn't formatted.
	r.fdc.WriteCommand(cmdStepIn | cmdUpdate | cmdVerify)
	r.run(noDRQ(t))
	if status := r.fdc.ReadStatus(); status&statusSeekError == 0 {
		t.Errorf("Verify passed on unformatted track, status %02X", status)
	}
}

func TestReadAddress(t *testing.T) {
	r := newTestRig(t)
	var id []byte
	r.fdc.WriteCommand(cmdReadAddress)
	r.run(func() {
		id = append(id, r.fdc.ReadData())
	})
	status := r.fdc.ReadStatus()
	if status&(statusCRCError|statusNotFound|statusLostData) != 0 {
		t.Errorf("Bad status %02X", status)
	}
	if len(id) != 6 {
		t.Fatalf("Got %d ID bytes, expected 6", len(id))
	}
	if id[0] != 0 || id[2] >= 18 || id[3] != 1 {
		t.Errorf("Bad ID % X", id)
	}
	if r.fdc.ReadSector() != id[0] {
		t.Errorf("Sector register %d, expected track %d", r.fdc.ReadSector(), id[0])
	}
	crc := CRC(crcAfterSync, append([]byte{0xFE}, id...))
	if crc != 0 {
		t.Errorf("ID CRC residue %04X", crc)
	}
}

func TestReadTrack(t *testing.T) {
	r := newTestRig(t)
	var data []byte
	r.fdc.WriteCommand(cmdReadTrack)
	r.run(func() {
		data = append(data, r.fdc.ReadData())
	})
	if len(data) != DefaultTrackLength {
		t.Errorf("Read %d bytes, expected %d", len(data), DefaultTrackLength)
	}
	if !bytes.Equal(data, r.floppy.Track(0, 0).Data()) {
		t.Errorf("Track data doesn't match")
	}
}

// The byte stream a formatter writes for one double density track.
func formatStream(track byte, sectors int) []byte {
	var s []byte
	run := func(b byte, n int) {
		for i := 0; i < n; i++ {
			s = append(s, b)
		}
	}
	run(0x4E, 80)
	run(0x00, 12)
	run(0xF6, 3)
	run(0xFC, 1)
	run(0x4E, 50)
	for i := 0; i < sectors; i++ {
		run(0x00, 12)
		run(0xF5, 3)
		s = append(s, 0xFE, track, 0, byte(i), 1, 0xF7)
		run(0x4E, 22)
		run(0x00, 12)
		run(0xF5, 3)
		run(0xFB, 1)
		run(0xE5, 256)
		s = append(s, 0xF7)
		run(0x4E, 16)
	}
	return s
}

func TestWriteTrack(t *testing.T) {
	r := newTestRig(t)
	r.fdc.WriteData(1)
	r.fdc.WriteCommand(cmdSeek)
	r.run(noDRQ(t))

	stream := formatStream(1, 18)
	count := 0
	r.fdc.WriteCommand(cmdWriteTrack)
	r.run(func() {
		b := byte(0x4E)
		if count < len(stream) {
			b = stream[count]
		}
		r.fdc.WriteData(b)
		count++
	})
	if status := r.fdc.ReadStatus(); status&statusLostData != 0 {
		t.Errorf("Lost data while formatting, status %02X", status)
	}

	track := r.floppy.Track(1, 0)
	if track == nil {
		t.Fatalf("Track 1 not created")
	}
	sectors := track.Sectors()
	if len(sectors) != 18 {
		t.Fatalf("Formatted %d sectors, expected 18", len(sectors))
	}
	for i, sd := range sectors {
		if sd.Sector != byte(i) || sd.Track != 1 || sd.CRCError || !sd.InUse {
			t.Errorf("Sector %d: %+v", i, sd)
		}
	}

	data, status := r.readSector(7)
	if status&(statusCRCError|statusNotFound) != 0 || len(data) != 256 || data[0] != 0xE5 {
		t.Errorf("Can't read formatted sector, status %02X", status)
	}
}

func TestForceInterrupt(t *testing.T) {
	r := newTestRig(t)
	r.fdc.WriteSector(99)
	r.fdc.WriteCommand(cmdReadSector)
	for i := 0; i < 1000; i++ {
		r.clk.Step()
	}
	if !r.fdc.Busy() {
		t.Fatalf("Command finished early")
	}

	r.fdc.WriteCommand(cmdForceInterrupt | cmdImmediateIntr)
	if r.fdc.Busy() {
		t.Errorf("Still busy after force interrupt")
	}
	if !r.intrq.Latched() {
		t.Errorf("Immediate interrupt not latched")
	}

	// The abandoned command never comes back.
	for i := 0; i < 100000; i++ {
		r.clk.Step()
		if r.fdc.DRQ() || r.fdc.Busy() {
			t.Fatalf("Controller woke up after force interrupt")
		}
	}

	// Without the immediate bit there's no interrupt, and status is Type I.
	r.fdc.WriteCommand(cmdForceInterrupt)
	if r.intrq.Latched() {
		t.Errorf("Interrupt latched without immediate bit")
	}
	if status := r.fdc.ReadStatus(); status&statusTrackZero == 0 {
		t.Errorf("Status not Type I after force interrupt: %02X", status)
	}
}

func TestBusyIgnoresCommands(t *testing.T) {
	r := newTestRig(t)
	r.fdc.WriteSector(99)
	r.fdc.WriteCommand(cmdReadSector)
	r.fdc.WriteCommand(cmdStepIn)
	if r.fdc.CommandName() != ReadSector.String() {
		t.Errorf("Command replaced by %s", r.fdc.CommandName())
	}
	r.run(noDRQ(t))
	if r.fdc.PhysicalTrack() != 0 {
		t.Errorf("Ignored step moved the head")
	}
}

func TestNoDiskReadsFF(t *testing.T) {
	clk := clock.New(idleCPU{}, nil)
	fdc := New(clk, interrupt.New("fdc", true), interrupt.New("motor off", true))
	if status := fdc.ReadStatus(); status != 0xFF {
		t.Errorf("Status with no disk %02X, expected FF", status)
	}
}

func TestStatusClearsInterruptWithoutDrive0(t *testing.T) {
	f := NewFloppy(40, 1)
	f.SetTrack(0, 0, NewTrackFromSectors(makeSectors(18, 0, true), true))
	r := newTestRigWith(t, f)
	r.fdc.EjectFloppy(0)
	r.fdc.LoadFloppy(1, f)
	r.fdc.WriteSelect(selectDrive1 | selectMFM)
	for !r.fdc.MotorOn() {
		r.clk.Step()
	}

	r.fdc.WriteSector(4)
	r.fdc.WriteCommand(cmdReadSector)
	r.run(func() { r.fdc.ReadData() })
	if !r.intrq.Latched() {
		t.Fatalf("Interrupt not latched at end of command")
	}
	if status := r.fdc.ReadStatus(); status != 0xFF {
		t.Errorf("Status %02X, expected FF", status)
	}
	if r.intrq.Latched() {
		t.Errorf("Reading status didn't clear interrupt")
	}
}

func TestNotReady(t *testing.T) {
	r := newTestRig(t)
	r.fdc.WriteSelect(selectDrive1 | selectMFM)
	for i := 0; i < 100; i++ {
		r.clk.Step()
	}
	if status := r.fdc.Status(); status&statusNotReady == 0 {
		t.Errorf("Empty drive 1 is ready, status %02X", status)
	}
	if r.fdc.CurrentDrive() != 1 {
		t.Errorf("Selected drive %d", r.fdc.CurrentDrive())
	}

	r.fdc.WriteSector(0)
	r.fdc.WriteCommand(cmdReadSector)
	r.run(noDRQ(t))
}

func TestMotorOff(t *testing.T) {
	r := newTestRig(t)
	var motor []bool
	r.fdc.OnMotor = func(drive int, on bool) {
		if drive == 0 {
			motor = append(motor, on)
		}
	}
	timeout := clock.MicrosecondsToTicks(motorOffDelayMicroseconds)
	start := r.clk.TickCount()
	for r.fdc.MotorOn() {
		r.clk.Step()
	}
	if elapsed := r.clk.TickCount() - start; elapsed > timeout {
		t.Errorf("Motor ran for %d ticks, expected at most %d", elapsed, timeout)
	}
	if !r.motorOff.Latched() {
		t.Errorf("Motor off interrupt not latched")
	}
	if len(motor) == 0 || motor[len(motor)-1] {
		t.Errorf("Motor light not turned off: %v", motor)
	}

	// Selecting again restarts it.
	r.fdc.WriteSelect(selectDrive0 | selectMFM)
	if r.motorOff.Latched() {
		t.Errorf("Selecting didn't clear motor off interrupt")
	}
	for i := 0; i < 100 && !r.fdc.MotorOn(); i++ {
		r.clk.Step()
	}
	if !r.fdc.MotorOn() {
		t.Errorf("Motor didn't restart")
	}
}

func TestWaitReleasedByDRQ(t *testing.T) {
	r := newTestRig(t)
	r.fdc.WriteSector(0)
	r.fdc.WriteCommand(cmdReadSector)
	for !r.fdc.DRQ() {
		r.clk.Step()
	}
	r.fdc.ReadData()

	// The next byte is a few microseconds away, well inside the wait limit.
	r.fdc.WriteSelect(selectDrive0 | selectMFM | selectWait)
	if !r.clk.Waiting() {
		t.Fatalf("Wait bit didn't stall the CPU")
	}
	for r.clk.Waiting() {
		r.clk.Step()
	}
	if !r.fdc.DRQ() {
		t.Errorf("CPU released without DRQ")
	}
}

func TestWaitIgnoredWhenIdle(t *testing.T) {
	r := newTestRig(t)
	r.fdc.WriteSelect(selectDrive0 | selectMFM | selectWait)
	if r.clk.Waiting() {
		t.Errorf("Wait bit stalled the CPU with no command running")
	}
}

func TestSnapshotMidCommand(t *testing.T) {
	r := newTestRig(t)
	r.fdc.WriteSector(3)
	r.fdc.WriteCommand(cmdReadSector)

	var first []byte
	for len(first) < 100 {
		r.clk.Step()
		if r.fdc.DRQ() {
			first = append(first, r.fdc.ReadData())
		}
	}

	var buf bytes.Buffer
	w := snapshot.NewWriter(&buf)
	r.clk.Save(w)
	r.fdc.Save(w)
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	// Finish the original.
	var rest []byte
	r.run(func() {
		rest = append(rest, r.fdc.ReadData())
	})
	endTick := r.clk.TickCount()

	// Finish a copy.
	s := newTestRigWith(t, r.floppy)
	rd := snapshot.NewReader(&buf)
	clockState := clock.ReadState(rd)
	fdcState, err := ReadState(rd)
	if err != nil {
		t.Fatal(err)
	}
	s.clk.Restore(clockState)
	s.fdc.Restore(fdcState)
	if !s.fdc.Busy() {
		t.Fatalf("Restored controller not busy")
	}
	var restored []byte
	s.run(func() {
		restored = append(restored, s.fdc.ReadData())
	})

	if !bytes.Equal(rest, restored) {
		t.Errorf("Restored command read %d bytes, original %d", len(restored), len(rest))
	}
	if s.clk.TickCount() != endTick {
		t.Errorf("Restored command ended at %d, original at %d", s.clk.TickCount(), endTick)
	}
	if len(first)+len(rest) != 256 {
		t.Errorf("Read %d bytes in total", len(first)+len(rest))
	}
}

func TestStatusString(t *testing.T) {
	r := newTestRig(t)
	if s := r.fdc.StatusString(); s == "" {
		t.Errorf("Empty status string")
	}
	if r.fdc.CommandName() != "None" {
		t.Errorf("Command name %q before any command", r.fdc.CommandName())
	}
}
