// Copyright 2012 Lawrence Kesteloot

package interrupt

import (
	"testing"
)

func TestLatchFiresOnlyWhenEnabled(t *testing.T) {
	tr := New("test", false)

	if tr.Latch() {
		t.Errorf("Latch on a disabled line reported a fire")
	}
	if !tr.Latched() || tr.Triggered() {
		t.Errorf("Expected latched but not triggered")
	}
	if !tr.Enable(true) {
		t.Errorf("Enabling a latched line should fire")
	}
	if tr.Latch() {
		t.Errorf("Latching an already-triggered line should not fire again")
	}
}

func TestPendingIsEdgeTriggered(t *testing.T) {
	tr := New("nmi", true)
	tr.Latch()

	if !tr.Pending() {
		t.Fatalf("Expected pending after latch")
	}
	tr.Acknowledge()
	if tr.Pending() {
		t.Errorf("Expected not pending after acknowledge")
	}

	// A new edge must be visible again.
	tr.Unlatch()
	tr.Latch()
	if !tr.Pending() {
		t.Errorf("Expected pending after a new edge")
	}

	// Masking and unmasking is also a new edge.
	tr.Acknowledge()
	tr.Enable(false)
	tr.Enable(true)
	if !tr.Pending() {
		t.Errorf("Expected pending after re-enable")
	}
}

func TestSetState(t *testing.T) {
	tr := New("x", false)
	tr.SetState(true, true, true)
	enabled, latched, seen := tr.State()
	if !enabled || !latched || !seen {
		t.Errorf("State round trip failed: %v %v %v", enabled, latched, seen)
	}
	tr.Reset()
	if tr.Latched() || !tr.Enabled() {
		t.Errorf("Reset should clear latch and keep mask")
	}
}
