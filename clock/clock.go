// Copyright 2012 Lawrence Kesteloot

// Package clock is the virtual time base of the emulator. Time is counted in
// ticks, a thousandth of a Z80 T-state, so that sub-instruction events like
// disk bytes passing under the head can be placed precisely. The clock runs
// the CPU one instruction at a time, fires deferred callbacks, and keeps the
// emulated machine in step with the host's wall clock.
package clock

import (
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lkesteloot/trs80emu/snapshot"
)

const (
	// CPU clock on the Model III: 2.02752 MHz.
	TStatesPerSecond = 2027520

	// Virtual time resolution.
	TicksPerTState = 1000
	TicksPerSecond = TicksPerTState * TStatesPerSecond

	ticksPerMillisecond = TicksPerSecond / 1000

	// The Model III has a 30 Hz timer that interrupts the CPU. We make it a
	// T-state longer than a thirtieth of a second so that it never locks to
	// the 5 Hz disk rotation.
	rtcHz         = 30
	rtcPeriodTick = TicksPerSecond/rtcHz + TicksPerTState

	// Longest CPU stall the FDC can ask for.
	MaxWaitMicroseconds = 1024

	// How often, in emulated time, we compare against the host clock.
	throttleCheckTicks = TicksPerSecond / 10000

	// Longest we ever sleep at once.
	maxSleep = time.Millisecond

	// How often we re-anchor emulated time to host time.
	resyncInterval = 500 * time.Millisecond

	// How often speed statistics are logged, in emulated time.
	statsPeriodTicks = TicksPerSecond

	clockSnapshotVersion = 1
)

// Ticks per nanosecond of host time.
const ticksPerNanosecond = float64(TicksPerSecond) / float64(time.Second)

// CPU is the instruction core driven by the clock. All methods return the
// number of T-states consumed.
type CPU interface {
	// Whether a maskable interrupt would be accepted now.
	CanInterrupt() bool
	// Whether a non-maskable interrupt would be accepted now.
	CanNMI() bool
	// Execute one instruction.
	Exec() int
	// Deliver a maskable interrupt.
	Interrupt() int
	// Deliver a non-maskable interrupt.
	NMI() int
}

// Signals reports pending interrupts to the clock.
type Signals interface {
	// An NMI edge that hasn't been delivered yet.
	NMIPending() bool
	// Called when the NMI has been delivered.
	AcknowledgeNMI()
	// Any enabled maskable interrupt is latched.
	IRQPending() bool
}

// MicrosecondsToTicks converts, rounding toward zero.
func MicrosecondsToTicks(usec uint64) uint64 {
	return usec * TicksPerSecond / 1000000
}

// TicksToMicroseconds converts, rounding toward zero.
func TicksToMicroseconds(ticks uint64) uint64 {
	return ticks/TicksPerSecond*1000000 + ticks%TicksPerSecond*1000000/TicksPerSecond
}

// Clock owns the tick count and the execution loop. Only the goroutine
// running the loop (or the caller of Step while stopped) may touch machine
// state; Start, Stop and SetSpeed are safe from other goroutines.
type Clock struct {
	tickCount uint64

	cpu       CPU
	signals   Signals
	scheduler *Scheduler

	// Real-time clock interrupt.
	nextRTCTick uint64
	rtc         func()

	// Sound sampling.
	soundSampler  func()
	soundPeriod   uint64
	nextSoundTick uint64

	// CPU stalled by the FDC.
	waiting   bool
	waitPulse *PulseRequest

	// Throttling. Now and Sleep may be replaced by tests.
	Now              func() time.Time
	Sleep            func(time.Duration)
	normalSpeed      bool
	speedRequest     atomic.Int32
	baselineTime     time.Time
	baselineTick     uint64
	nextThrottleTick uint64

	// Control plane.
	running     atomic.Bool
	stopRequest atomic.Bool
	done        chan struct{}
	breakHook   func() bool

	// Statistics.
	statsTick uint64
	statsTime time.Time
	slept     time.Duration
}

// Values for speedRequest.
const (
	speedNoRequest = iota
	speedNormal
	speedFast
)

// New makes a clock at tick zero running at normal speed.
func New(cpu CPU, signals Signals) *Clock {
	c := &Clock{
		cpu:           cpu,
		signals:       signals,
		scheduler:     NewScheduler(),
		nextRTCTick:   rtcPeriodTick,
		nextSoundTick: Never,
		Now:           time.Now,
		Sleep:         time.Sleep,
		normalSpeed:   true,
	}
	c.waitPulse = NewPulseRequest("wait", Microseconds, MaxWaitMicroseconds, func() {
		c.waiting = false
	})
	c.resync()
	return c
}

// TickCount is the current virtual time.
func (c *Clock) TickCount() uint64 {
	return c.tickCount
}

// Scheduler gives access to the pulse scheduler, mostly for diagnostics.
func (c *Clock) Scheduler() *Scheduler {
	return c.scheduler
}

// SetRTC sets the function called at each real-time clock tick.
func (c *Clock) SetRTC(f func()) {
	c.rtc = f
}

// SetSoundSampler has f called hz times per emulated second. A nil f turns
// sampling off.
func (c *Clock) SetSoundSampler(hz int, f func()) {
	c.soundSampler = f
	if f == nil || hz <= 0 {
		c.soundSampler = nil
		c.nextSoundTick = Never
		return
	}
	c.soundPeriod = TicksPerSecond / uint64(hz)
	c.nextSoundTick = c.tickCount + c.soundPeriod
}

// Activate puts the request in the scheduler. If setTrigger is true the
// request is armed relative to now.
func (c *Clock) Activate(p *PulseRequest, setTrigger bool) {
	if setTrigger {
		p.SetTrigger(c.tickCount)
	}
	c.scheduler.Add(p)
}

// Expire cancels the request.
func (c *Clock) Expire(p *PulseRequest) {
	p.Expire()
}

// RestorePulse loads a saved state into p and reschedules it if it was
// active.
func (c *Clock) RestorePulse(p *PulseRequest, st PulseState) {
	p.Expire()
	p.basis = st.Basis
	p.delay = st.Delay
	if st.Active {
		p.trigger = st.Trigger
		p.active = true
		c.scheduler.Add(p)
	}
}

// Step runs one instruction's worth of time: a stalled T-state, an NMI, an
// interrupt, or an instruction. Then periodic events and expired pulse
// requests fire.
func (c *Clock) Step() {
	c.applySpeedRequest()

	if c.waiting && c.signals != nil && c.signals.NMIPending() {
		c.ReleaseWait()
	}

	var tStates int
	switch {
	case c.waiting:
		// The CPU is held but time goes on.
		tStates = 1
	case c.signals != nil && c.signals.NMIPending() && c.cpu.CanNMI():
		c.signals.AcknowledgeNMI()
		tStates = c.cpu.NMI()
	case c.signals != nil && c.signals.IRQPending() && c.cpu.CanInterrupt():
		tStates = c.cpu.Interrupt()
	default:
		tStates = c.cpu.Exec()
	}
	c.tickCount += uint64(tStates) * TicksPerTState

	// Fixed periodic events.
	if c.tickCount > c.nextRTCTick {
		c.nextRTCTick += rtcPeriodTick
		if c.rtc != nil {
			c.rtc()
		}
	}
	if c.tickCount > c.nextSoundTick {
		c.nextSoundTick += c.soundPeriod
		c.soundSampler()
	}

	c.scheduler.Advance(c.tickCount)
}

// Wait stalls the CPU for at most MaxWaitMicroseconds. It's released early
// by ReleaseWait or an NMI.
func (c *Clock) Wait() {
	if c.waiting {
		return
	}
	c.waiting = true
	c.waitPulse.SetDelay(Microseconds, MaxWaitMicroseconds)
	c.Activate(c.waitPulse, true)
}

// ReleaseWait lets the CPU run again.
func (c *Clock) ReleaseWait() {
	if !c.waiting {
		return
	}
	c.waiting = false
	c.waitPulse.Expire()
}

// Waiting reports whether the CPU is stalled.
func (c *Clock) Waiting() bool {
	return c.waiting
}

// Reset is called on a machine reset. Time doesn't go back.
func (c *Clock) Reset() {
	c.ReleaseWait()
	c.nextRTCTick = c.tickCount + rtcPeriodTick
	c.resync()
}

// Save writes the clock's state.
func (c *Clock) Save(w *snapshot.Writer) {
	w.Section("clock", clockSnapshotVersion)
	w.Uint64(c.tickCount)
	w.Uint64(c.nextRTCTick)
	w.Uint64(c.nextSoundTick)
	w.Bool(c.normalSpeed)
	w.Bool(c.waiting)
	c.waitPulse.Save(w)
}

// ClockState is a staged save state. Apply it with Restore once everything
// else has also loaded.
type ClockState struct {
	tickCount     uint64
	nextRTCTick   uint64
	nextSoundTick uint64
	normalSpeed   bool
	waiting       bool
	waitPulse     PulseState
}

// ReadState reads what Save wrote without applying it.
func ReadState(r *snapshot.Reader) ClockState {
	r.Section("clock", clockSnapshotVersion)
	return ClockState{
		tickCount:     r.Uint64(),
		nextRTCTick:   r.Uint64(),
		nextSoundTick: r.Uint64(),
		normalSpeed:   r.Bool(),
		waiting:       r.Bool(),
		waitPulse:     ReadPulseState(r),
	}
}

// TickCount is the saved virtual time.
func (st ClockState) TickCount() uint64 {
	return st.tickCount
}

// Restore applies a staged state. Pulse requests owned by other components
// are restored by them afterwards.
func (c *Clock) Restore(st ClockState) {
	c.scheduler.Clear()
	c.tickCount = st.tickCount
	c.nextRTCTick = st.nextRTCTick
	if c.soundSampler != nil {
		c.nextSoundTick = st.nextSoundTick
	} else {
		c.nextSoundTick = Never
	}
	c.normalSpeed = st.normalSpeed
	c.waiting = st.waiting
	c.RestorePulse(c.waitPulse, st.waitPulse)
	c.resync()
}

// Logs the ratio of emulated to host time once per emulated second.
func (c *Clock) logStats(now time.Time) {
	if c.tickCount < c.statsTick+statsPeriodTicks {
		return
	}
	if !c.statsTime.IsZero() {
		elapsed := now.Sub(c.statsTime)
		computerTime := float64(c.tickCount-c.statsTick) / float64(TicksPerSecond)
		log.WithFields(log.Fields{
			"computer": computerTime,
			"elapsed":  elapsed.Seconds(),
			"mult":     computerTime / elapsed.Seconds(),
			"sleptMs":  c.slept / time.Millisecond,
		}).Debug("Emulation speed")
		c.slept = 0
	}
	c.statsTime = now
	c.statsTick = c.tickCount
}
