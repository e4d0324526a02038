// Copyright 2012 Lawrence Kesteloot

package clock

// Deferred callbacks ("pulse requests"). Components that need something to
// happen later arm a request with a delay and hand it to the clock. The
// scheduler fires it once the tick count passes the trigger.

import (
	"math"

	"github.com/lkesteloot/trs80emu/snapshot"
)

// Never is the trigger of an inactive request.
const Never = math.MaxUint64

// DelayBasis is the unit of a pulse request's delay.
type DelayBasis byte

const (
	Ticks DelayBasis = iota
	Microseconds
)

func (b DelayBasis) String() string {
	if b == Microseconds {
		return "usec"
	}
	return "ticks"
}

// PulseRequest is a one-shot, cancellable callback. Most are long-lived and
// re-armed many times.
type PulseRequest struct {
	name     string
	basis    DelayBasis
	delay    uint64
	trigger  uint64
	active   bool
	callback func()

	// Scheduler this request is in, if any.
	owner *Scheduler
}

// NewPulseRequest makes an inactive request.
func NewPulseRequest(name string, basis DelayBasis, delay uint64, callback func()) *PulseRequest {
	return &PulseRequest{
		name:     name,
		basis:    basis,
		delay:    delay,
		trigger:  Never,
		callback: callback,
	}
}

// Name is for diagnostics.
func (p *PulseRequest) Name() string {
	return p.name
}

// SetDelay changes the delay used by the next SetTrigger.
func (p *PulseRequest) SetDelay(basis DelayBasis, delay uint64) {
	p.basis = basis
	p.delay = delay
}

// Delay returns the delay and its unit.
func (p *PulseRequest) Delay() (DelayBasis, uint64) {
	return p.basis, p.delay
}

// DelayTicks converts the delay to ticks.
func (p *PulseRequest) DelayTicks() uint64 {
	if p.basis == Microseconds {
		return MicrosecondsToTicks(p.delay)
	}
	return p.delay
}

// SetTrigger activates the request to fire once the tick count passes
// baseline plus the delay.
func (p *PulseRequest) SetTrigger(baseline uint64) {
	p.trigger = baseline + p.DelayTicks()
	p.active = true
	if p.owner != nil {
		p.owner.noteTrigger(p)
	}
}

// Trigger returns the tick after which the request fires, or Never.
func (p *PulseRequest) Trigger() uint64 {
	return p.trigger
}

// Active reports whether the request is armed.
func (p *PulseRequest) Active() bool {
	return p.active
}

// Execute fires the request if it's active. The request is deactivated
// before the callback runs, so the callback may re-arm it.
func (p *PulseRequest) Execute() {
	if !p.active {
		return
	}
	p.active = false
	p.trigger = Never
	p.callback()
}

// Expire cancels the request. Safe to call on a request that isn't armed or
// isn't in a scheduler.
func (p *PulseRequest) Expire() {
	p.active = false
	p.trigger = Never
	if p.owner != nil {
		p.owner.dirty = true
	}
}

// PulseState is the serializable part of a request. The callback isn't
// saved; the owner re-creates the request and restores this into it.
type PulseState struct {
	Basis   DelayBasis
	Delay   uint64
	Trigger uint64
	Active  bool
}

// State captures the request for a save state.
func (p *PulseRequest) State() PulseState {
	return PulseState{
		Basis:   p.basis,
		Delay:   p.delay,
		Trigger: p.trigger,
		Active:  p.active,
	}
}

// Save writes the request's state.
func (p *PulseRequest) Save(w *snapshot.Writer) {
	w.Uint8(byte(p.basis))
	w.Uint64(p.delay)
	w.Uint64(p.trigger)
	w.Bool(p.active)
}

// ReadPulseState reads what Save wrote. Nothing is applied.
func ReadPulseState(r *snapshot.Reader) PulseState {
	return PulseState{
		Basis:   DelayBasis(r.Uint8()),
		Delay:   r.Uint64(),
		Trigger: r.Uint64(),
		Active:  r.Bool(),
	}
}
