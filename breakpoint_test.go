// Copyright 2012 Lawrence Kesteloot

package main

import (
	"testing"
)

func TestBreakpoints(t *testing.T) {
	var bps breakpoints

	bps.add(breakpoint{pc: 0x1234, active: true})
	bps.add(breakpoint{pc: 0x2000, active: false})
	if bps.find(0x1234) == nil {
		t.Errorf("Didn't find active breakpoint")
	}
	if bps.find(0x2000) != nil {
		t.Errorf("Found inactive breakpoint")
	}

	// Adding again re-activates rather than duplicating.
	bps.add(breakpoint{pc: 0x2000, active: true})
	if len(bps) != 2 || bps.find(0x2000) == nil {
		t.Errorf("Got %v", bps)
	}

	if !bps.remove(0x1234) {
		t.Errorf("Remove failed")
	}
	if bps.remove(0x1234) {
		t.Errorf("Removed twice")
	}
	if bps.find(0x1234) != nil || len(bps) != 1 {
		t.Errorf("Got %v", bps)
	}
}
