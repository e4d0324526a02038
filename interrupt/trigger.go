// Copyright 2012 Lawrence Kesteloot

// Package interrupt models the interrupt lines of the machine. A line is
// latched by the hardware that raises it and enabled by the software mask.
// It only reaches the CPU when it's both latched and enabled.
package interrupt

// Trigger is one interrupt line. Transitions never call back into other
// components; they return whether the line just started firing and the
// caller decides what to do about it.
type Trigger struct {
	name    string
	enabled bool
	latched bool

	// Set when the CPU has been told about the current assertion. Cleared
	// whenever the line stops being triggered.
	seen bool
}

// New returns a line with the given diagnostic name.
func New(name string, enabled bool) *Trigger {
	return &Trigger{
		name:    name,
		enabled: enabled,
	}
}

// Name is used in logs and diagnostics.
func (t *Trigger) Name() string {
	return t.name
}

// Latch raises the line. Returns true if this made the line trigger.
func (t *Trigger) Latch() bool {
	was := t.Triggered()
	t.latched = true
	return !was && t.Triggered()
}

// Unlatch lowers the line.
func (t *Trigger) Unlatch() {
	t.latched = false
	t.seen = false
}

// Set latches or unlatches depending on state. Returns true if the line
// started triggering.
func (t *Trigger) Set(state bool) bool {
	if state {
		return t.Latch()
	}
	t.Unlatch()
	return false
}

// Enable sets the mask bit for the line. Returns true if enabling made an
// already-latched line trigger.
func (t *Trigger) Enable(enabled bool) bool {
	was := t.Triggered()
	t.enabled = enabled
	if !t.Triggered() {
		t.seen = false
	}
	return !was && t.Triggered()
}

// Enabled reports the mask bit.
func (t *Trigger) Enabled() bool {
	return t.enabled
}

// Latched reports whether the hardware is holding the line, regardless of
// the mask.
func (t *Trigger) Latched() bool {
	return t.latched
}

// Triggered reports whether the line is both latched and enabled.
func (t *Trigger) Triggered() bool {
	return t.latched && t.enabled
}

// Pending reports whether the line is triggered and the CPU hasn't been
// told about it yet. Used for edge-triggered lines like NMI.
func (t *Trigger) Pending() bool {
	return t.Triggered() && !t.seen
}

// Acknowledge records that the CPU took the current assertion.
func (t *Trigger) Acknowledge() {
	if t.Triggered() {
		t.seen = true
	}
}

// Reset lowers the line and forgets any acknowledgement. The mask is kept.
func (t *Trigger) Reset() {
	t.latched = false
	t.seen = false
}

// State returns the raw flags, for save states.
func (t *Trigger) State() (enabled, latched, seen bool) {
	return t.enabled, t.latched, t.seen
}

// SetState restores the raw flags from a save state.
func (t *Trigger) SetState(enabled, latched, seen bool) {
	t.enabled = enabled
	t.latched = latched
	t.seen = seen
}
