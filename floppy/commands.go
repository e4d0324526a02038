// Copyright 2012 Lawrence Kesteloot

package floppy

// The command state machine. Every command runs as a chain of phases. Each
// phase either moves straight on to the next one or arms the controller's
// command pulse request and returns; the pulse brings us back to update()
// when the disk has rotated far enough or a timed wait is over.

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

const (
	// for WriteCommand().
	commandMask = 0xF0

	// Type I commands: cccchvrr, where
	//     cccc = command number
	//     h = head load
	//     v = verify (i.e., read next address to check we're on the right track)
	//     rr = step rate: 00=6ms, 01=12ms, 10=20ms, 11=30ms
	cmdRestore  = 0x00
	cmdSeek     = 0x10
	cmdStep     = 0x20 // 0x30 with the update flag.
	cmdStepIn   = 0x40 // 0x50 with the update flag.
	cmdStepOut  = 0x60 // 0x70 with the update flag.
	cmdUpdate   = 0x10
	cmdHeadLoad = 0x08
	cmdVerify   = 0x04
	cmdStepRate = 0x03

	// Type II commands: ccccbecd, where
	//     cccc = command number
	//     b = side expected
	//     e = delay for head engage
	//     c = side compare (0=disable, 1=enable)
	//     d = select data address mark (writes only, 0 for reads):
	//         0=FB (normal), 1=F8 (deleted)
	cmdReadSector  = 0x80 // 0x90 for multiple sectors.
	cmdWriteSector = 0xA0 // 0xB0 for multiple sectors.
	cmdMultiple    = 0x10
	cmdSideExpect  = 0x08
	cmdDelay       = 0x04
	cmdSideCompare = 0x02
	cmdDeletedDAM  = 0x01

	// Type III commands.
	cmdReadAddress = 0xC0
	cmdReadTrack   = 0xE0
	cmdWriteTrack  = 0xF0

	// Type IV command: cccciiii, where
	//     iiii = bitmask of events to terminate and interrupt on.
	//            0000 for immediate terminate with no interrupt.
	cmdForceInterrupt = 0xD0
	cmdImmediateIntr  = 0x08
	cmdConditionMask  = 0x07
)

// Command is the kind of command, from the top nibble of the command byte.
type Command byte

const (
	Restore Command = iota
	Seek
	Step
	StepIn
	StepOut
	ReadSector
	WriteSector
	ReadAddress
	ReadTrack
	WriteTrack
	ForceInterrupt

	// Before the first command.
	NoCommand Command = 0xFF
)

var commandNames = [...]string{
	Restore:        "Restore",
	Seek:           "Seek",
	Step:           "Step",
	StepIn:         "Step In",
	StepOut:        "Step Out",
	ReadSector:     "Read Sector",
	WriteSector:    "Write Sector",
	ReadAddress:    "Read Address",
	ReadTrack:      "Read Track",
	WriteTrack:     "Write Track",
	ForceInterrupt: "Force Interrupt",
}

func (c Command) String() string {
	if c == NoCommand {
		return "None"
	}
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return fmt.Sprintf("Command(%d)", byte(c))
}

// Type is the WD179x command category, 1 to 4.
func (c Command) Type() int {
	switch c {
	case Restore, Seek, Step, StepIn, StepOut:
		return 1
	case ReadSector, WriteSector:
		return 2
	case ReadAddress, ReadTrack, WriteTrack:
		return 3
	}
	return 4
}

// Decode the command byte.
func commandFor(cmd byte) Command {
	switch cmd & commandMask {
	case cmdRestore:
		return Restore
	case cmdSeek:
		return Seek
	case cmdStep, cmdStep | cmdUpdate:
		return Step
	case cmdStepIn, cmdStepIn | cmdUpdate:
		return StepIn
	case cmdStepOut, cmdStepOut | cmdUpdate:
		return StepOut
	case cmdReadSector, cmdReadSector | cmdMultiple:
		return ReadSector
	case cmdWriteSector, cmdWriteSector | cmdMultiple:
		return WriteSector
	case cmdReadAddress:
		return ReadAddress
	case cmdReadTrack:
		return ReadTrack
	case cmdWriteTrack:
		return WriteTrack
	}
	return ForceInterrupt
}

// OpStatus is the phase of the command in progress.
type OpStatus byte

const (
	OpDone OpStatus = iota
	Prepare
	Delay
	StepPhase
	CheckVerify
	VerifyTrack
	CheckingWriteProtectStatus
	SetDrq
	DrqCheck
	SeekingIndexHole
	SeekingIDAM
	ReadingAddressData
	CheckingAddressData
	SeekingDAM
	ReadingData
	ReadCRCHigh
	ReadCRCLow
	WriteFiller
	WriteFilter2
	WriteDAM
	WritingData
	WriteCRCHigh
	WriteCRCLow
	WriteFilter3
	ReadingTrack
	WritingTrack
	NMI
)

var opStatusNames = [...]string{
	OpDone:                     "Done",
	Prepare:                    "Prepare",
	Delay:                      "Delay",
	StepPhase:                  "Step",
	CheckVerify:                "Check Verify",
	VerifyTrack:                "Verify Track",
	CheckingWriteProtectStatus: "Checking Write Protect",
	SetDrq:                     "Set DRQ",
	DrqCheck:                   "DRQ Check",
	SeekingIndexHole:           "Seeking Index Hole",
	SeekingIDAM:                "Seeking IDAM",
	ReadingAddressData:         "Reading Address Data",
	CheckingAddressData:        "Checking Address Data",
	SeekingDAM:                 "Seeking DAM",
	ReadingData:                "Reading Data",
	ReadCRCHigh:                "Read CRC High",
	ReadCRCLow:                 "Read CRC Low",
	WriteFiller:                "Write Filler",
	WriteFilter2:               "Write Sync",
	WriteDAM:                   "Write DAM",
	WritingData:                "Writing Data",
	WriteCRCHigh:               "Write CRC High",
	WriteCRCLow:                "Write CRC Low",
	WriteFilter3:               "Write Trailer",
	ReadingTrack:               "Reading Track",
	WritingTrack:               "Writing Track",
	NMI:                        "NMI",
}

func (op OpStatus) String() string {
	if int(op) < len(opStatusNames) {
		return opStatusNames[op]
	}
	return fmt.Sprintf("OpStatus(%d)", byte(op))
}

// Start a command. Called on a write to the command register.
func (c *Controller) startCommand(cmd byte) {
	c.command = cmd
	c.kind = commandFor(cmd)
	c.statusTypeI = c.kind.Type() == 1
	c.busy = true
	c.drq = false
	c.crcError = false
	c.lostData = false
	c.seekError = false
	c.deleted = false
	c.opStatus = Prepare
	c.update()
}

// Phase transition function, run when the command pulse fires.
func (c *Controller) update() {
	if c.polling {
		c.polling = false
		if index := c.trackDataIndex(); index != c.targetIndex {
			missedTarget("fdc: %s missed byte %d, head at %d", c.opStatus, c.targetIndex, index)
		}
	}

	for {
		switch c.opStatus {
		case OpDone:
			return

		case Prepare:
			if c.kind.Type() == 1 {
				c.prepareTypeI()
				if c.scheduleStep() {
					return
				}
				c.opStatus = CheckVerify
				continue
			}
			if !c.ready() {
				c.finish()
				return
			}
			c.opStatus = Delay
			if c.command&cmdDelay != 0 {
				c.waitTime(Delay, headSettleMicroseconds)
				return
			}

		case Delay:
			switch c.kind {
			case WriteSector, WriteTrack:
				c.opStatus = CheckingWriteProtectStatus
			case ReadTrack:
				c.syncPosition()
				c.waitIndex(SeekingIndexHole, 0)
				return
			default:
				c.startIDSearch()
				return
			}

		case StepPhase:
			if c.stepHead() {
				c.seekError = true
				c.finish()
				return
			}
			if c.kind == Restore || c.kind == Seek {
				if c.scheduleStep() {
					return
				}
			}
			c.opStatus = CheckVerify

		case CheckVerify:
			if c.command&cmdVerify == 0 {
				c.finish()
				return
			}
			c.waitTime(VerifyTrack, headSettleMicroseconds)
			return

		case VerifyTrack:
			if !c.ready() {
				c.seekError = true
				c.finish()
				return
			}
			c.startIDSearch()
			return

		case CheckingWriteProtectStatus:
			if c.writeProtected() {
				c.finish()
				return
			}
			if c.kind == WriteTrack {
				c.syncPosition()
				c.opStatus = SetDrq
				continue
			}
			c.startIDSearch()
			return

		case SetDrq:
			c.setDRQ()
			if c.kind == WriteTrack {
				c.waitBytes(DrqCheck, 3)
			} else if c.doubleDensity {
				c.waitBytes(DrqCheck, 20)
			} else {
				c.waitBytes(DrqCheck, 9)
			}
			return

		case DrqCheck:
			if c.drq {
				c.lostData = true
				c.finish()
				return
			}
			if c.kind == WriteTrack {
				c.waitIndex(SeekingIndexHole, 0)
			} else {
				c.waitBytes(WriteFiller, 1)
			}
			return

		case SeekingIndexHole:
			c.crc.reset()
			c.byteCount = 0
			if c.kind == ReadTrack {
				c.opStatus = ReadingTrack
			} else {
				c.opStatus = WritingTrack
			}

		case SeekingIDAM:
			if c.targetIndex == 0 {
				c.indexCount++
				if c.indexCount >= idSearchIndexPulses {
					c.notFound()
					return
				}
			}
			if !c.currentTrack().HasIdamAt(c.targetIndex, c.doubleDensity) {
				c.seekNextIDAM()
				return
			}
			c.crc.reset()
			c.crc.update(c.readByte(), c.doubleDensity, true)
			c.idIndex = 0
			c.waitBytes(ReadingAddressData, 1)
			return

		case ReadingAddressData:
			b := c.readByte()
			c.idBytes[c.idIndex] = b
			c.crc.update(b, c.doubleDensity, false)
			c.idIndex++
			if c.kind == ReadAddress {
				c.deliver(b)
			}
			if c.idIndex < len(c.idBytes) {
				c.waitBytes(ReadingAddressData, 1)
				return
			}
			c.opStatus = CheckingAddressData

		case CheckingAddressData:
			crcOK := c.crc.crc == 0
			switch c.kind {
			case ReadAddress:
				// The chip copies the track address into the sector register.
				c.sector = c.idBytes[0]
				c.crcError = !crcOK
				c.finish()
				return
			case ReadSector, WriteSector:
				if !c.idMatches() {
					c.seekNextIDAM()
					return
				}
				if !crcOK {
					c.crcError = true
					c.seekNextIDAM()
					return
				}
				c.crcError = false
				c.sectorLength = SectorSize(c.idBytes[3])
				if c.kind == ReadSector {
					c.damCount = 0
					c.a1Count = 0
					c.waitBytes(SeekingDAM, 1)
				} else {
					c.waitBytes(SetDrq, 2)
				}
				return
			default:
				// Verify.
				if c.idBytes[0] == c.track {
					if crcOK {
						c.crcError = false
						c.finish()
						return
					}
					c.crcError = true
				}
				c.seekNextIDAM()
				return
			}

		case SeekingDAM:
			b := c.readByte()
			c.crc.update(b, c.doubleDensity, true)
			if isDAM(b) && (!c.doubleDensity || c.a1Count >= 3) {
				c.deleted = b != 0xFB
				c.byteCount = 0
				c.waitBytes(ReadingData, 1)
				return
			}
			if b == 0xA1 {
				c.a1Count++
			} else {
				c.a1Count = 0
			}
			c.damCount++
			if c.damCount >= damWindow(c.doubleDensity) {
				c.notFound()
				return
			}
			c.waitBytes(SeekingDAM, 1)
			return

		case ReadingData:
			b := c.readByte()
			c.crc.update(b, c.doubleDensity, false)
			c.deliver(b)
			c.byteCount++
			if c.byteCount < c.sectorLength {
				c.waitBytes(ReadingData, 1)
			} else {
				c.waitBytes(ReadCRCHigh, 1)
			}
			return

		case ReadCRCHigh:
			c.crc.update(c.readByte(), c.doubleDensity, false)
			c.waitBytes(ReadCRCLow, 1)
			return

		case ReadCRCLow:
			c.crc.update(c.readByte(), c.doubleDensity, false)
			if c.crc.crc != 0 {
				c.crcError = true
				c.finish()
				return
			}
			if c.command&cmdMultiple != 0 {
				c.sector++
				c.startIDSearch()
				return
			}
			c.finish()
			return

		case WriteFiller:
			c.writeRun(0x00, gapsFor(c.doubleDensity).sync)
			c.crc.reset()
			if c.doubleDensity {
				c.opStatus = WriteFilter2
			} else {
				c.opStatus = WriteDAM
			}
			c.waitBytes(c.opStatus, gapsFor(c.doubleDensity).sync)
			return

		case WriteFilter2:
			for i := 0; i < 3; i++ {
				c.crc.update(0xA1, true, true)
			}
			c.writeRun(0xA1, 3)
			c.waitBytes(WriteDAM, 3)
			return

		case WriteDAM:
			var dam byte = 0xFB
			if c.command&cmdDeletedDAM != 0 {
				dam = 0xF8
			}
			c.crc.update(dam, c.doubleDensity, true)
			c.writeByte(dam)
			c.byteCount = 0
			c.waitBytes(WritingData, 1)
			return

		case WritingData:
			b := c.data
			if c.drq {
				c.lostData = true
				b = 0
			}
			c.crc.update(b, c.doubleDensity, false)
			c.writeByte(b)
			c.byteCount++
			if c.byteCount < c.sectorLength {
				c.setDRQ()
				c.waitBytes(WritingData, 1)
			} else {
				c.waitBytes(WriteCRCHigh, 1)
			}
			return

		case WriteCRCHigh:
			c.writeByte(byte(c.crc.crc >> 8))
			c.waitBytes(WriteCRCLow, 1)
			return

		case WriteCRCLow:
			c.writeByte(byte(c.crc.crc))
			c.waitBytes(WriteFilter3, 1)
			return

		case WriteFilter3:
			c.writeByte(gapsFor(c.doubleDensity).fill)
			if c.command&cmdMultiple != 0 {
				c.sector++
				c.startIDSearch()
				return
			}
			c.finish()
			return

		case ReadingTrack:
			c.deliver(c.readByte())
			c.byteCount++
			c.advanceInTrack(ReadingTrack, 1)
			return

		case WritingTrack:
			n := c.writeTrackByte()
			c.byteCount += n
			c.setDRQ()
			c.advanceInTrack(WritingTrack, n)
			return

		case NMI:
			c.busy = false
			c.drq = false
			c.intrq.Latch()
			c.clock.ReleaseWait()
			c.opStatus = OpDone
			return

		default:
			missedTarget("fdc: unknown phase %d", c.opStatus)
			c.opStatus = OpDone
			return
		}
	}
}

// Set up a Type I command.
func (c *Controller) prepareTypeI() {
	c.stepCount = 0
	switch c.kind {
	case Restore:
		c.track = 0xFF
		c.data = 0
	case StepIn:
		c.stepDirection = 1
	case StepOut:
		c.stepDirection = -1
	}
}

// Arm the next head step if one is needed. Returns whether one was.
func (c *Controller) scheduleStep() bool {
	drive := &c.drives[c.currentDrive]
	switch c.kind {
	case Restore, Seek:
		if c.track == c.data {
			return false
		}
		if c.data > c.track {
			c.stepDirection = 1
		} else {
			c.stepDirection = -1
		}
		if c.stepDirection < 0 && drive.PhysicalTrack == 0 {
			c.track = 0
			return false
		}
	default:
		if c.stepCount > 0 {
			return false
		}
	}
	c.waitTime(StepPhase, c.stepRateMicroseconds())
	return true
}

// Step rates at the chip's nominal clock, in milliseconds. The Model III
// runs the FDC at half speed.
var stepRates = [4]uint64{3, 6, 10, 15}

func (c *Controller) stepRateMicroseconds() uint64 {
	return stepRates[c.command&cmdStepRate] * fdcClockDivisor * 1000
}

// Move the head one track in stepDirection after the step-rate delay.
// Returns true if a restore gave up.
func (c *Controller) stepHead() bool {
	drive := &c.drives[c.currentDrive]

	if c.kind == Restore || c.kind == Seek || c.command&cmdUpdate != 0 {
		c.track += byte(c.stepDirection)
	}

	if c.stepDirection < 0 && drive.PhysicalTrack == 0 {
		c.track = 0
	} else {
		next := int(drive.PhysicalTrack) + c.stepDirection
		if next >= 0 && next <= maxHeadTrack {
			drive.PhysicalTrack = byte(next)
		}
		if c.OnStep != nil {
			c.OnStep(c.currentDrive, drive.PhysicalTrack)
		}
	}
	c.stepCount++

	return c.kind == Restore && c.stepCount >= 255
}

// Whether the ID just read is the one the command wants.
func (c *Controller) idMatches() bool {
	if c.idBytes[0] != c.track || c.idBytes[2] != c.sector {
		return false
	}
	if c.command&cmdSideCompare != 0 {
		wantSide := c.command&cmdSideExpect != 0
		if (c.idBytes[1]&0x01 != 0) != wantSide {
			return false
		}
	}
	return true
}

// Begin looking for an ID field from wherever the head is.
func (c *Controller) startIDSearch() {
	c.indexCount = 0
	c.syncPosition()
	c.seekNextIDAM()
}

// Poll for the next IDAM after the current byte, or the index hole if
// there isn't one before it.
func (c *Controller) seekNextIDAM() {
	next, ok := c.currentTrack().NextIDAM(c.targetIndex+1, c.doubleDensity)
	if !ok {
		next = 0
	}
	c.waitIndex(SeekingIDAM, next)
}

// Ran out of index pulses or DAM window.
func (c *Controller) notFound() {
	c.seekError = true
	c.finish()
}

// Put a byte in the data register for the CPU.
func (c *Controller) deliver(b byte) {
	if c.drq {
		c.lostData = true
	}
	c.data = b
	c.setDRQ()
}

// Write the data register to the track, expanding Write Track control
// bytes. Returns the number of byte times used.
func (c *Controller) writeTrackByte() int {
	b := c.data
	if c.drq {
		c.lostData = true
		b = 0
	}
	dd := c.doubleDensity
	switch {
	case dd && b == 0xF5:
		c.crc.update(0xA1, true, true)
		c.writeByte(0xA1)
	case dd && b == 0xF6:
		c.writeByte(0xC2)
	case b == 0xF7:
		crc := c.crc.crc
		c.writeByte(byte(crc >> 8))
		c.writeByteAt(c.targetIndex+densityStep(dd), byte(crc))
		return 2
	case isAddressMark(b):
		c.crc.update(b, dd, true)
		c.writeByte(b)
	default:
		c.crc.update(b, dd, false)
		c.writeByte(b)
	}
	return 1
}

// Move n bytes along during Read or Write Track, ending the command at the
// next index hole.
func (c *Controller) advanceInTrack(next OpStatus, n int) {
	if c.targetIndex+n*densityStep(c.doubleDensity) >= c.trackLength() {
		c.waitIndex(NMI, 0)
		return
	}
	c.waitBytes(next, n)
}

// End the command and interrupt.
func (c *Controller) finish() {
	c.waitTime(NMI, nmiDelayMicroseconds)
}

// Terminate whatever's running. Bits 0-2 of a Force Interrupt (interrupt on
// ready transitions or the next index pulse) aren't supported.
func (c *Controller) forceInterrupt(cmd byte) {
	c.clock.Expire(c.commandPulse)
	c.polling = false
	c.opStatus = OpDone
	if c.busy {
		c.busy = false
	} else {
		c.statusTypeI = true
		c.kind = ForceInterrupt
	}
	c.drq = false

	if cmd&cmdConditionMask != 0 {
		log.Debugf("fdc: force interrupt conditions %02X not supported", cmd&cmdConditionMask)
	}
	if cmd&cmdImmediateIntr != 0 {
		c.intrq.Latch()
	} else {
		c.intrq.Unlatch()
	}
}
