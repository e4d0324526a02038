// Copyright 2012 Lawrence Kesteloot

package main

// Record a breakpoint at a memory location. If the PC hits this location,
// the machine will stop.
type breakpoint struct {
	pc     uint16
	active bool
}

// Unordered set of breakpoints.
type breakpoints []breakpoint

// Add a breakpoint, or re-activate the one already at that PC.
func (bps *breakpoints) add(bp breakpoint) {
	for i := range *bps {
		if (*bps)[i].pc == bp.pc {
			(*bps)[i].active = bp.active
			return
		}
	}
	*bps = append(*bps, bp)
}

// Remove the breakpoint at pc. Returns whether there was one.
func (bps *breakpoints) remove(pc uint16) bool {
	for i := range *bps {
		if (*bps)[i].pc == pc {
			*bps = append((*bps)[:i], (*bps)[i+1:]...)
			return true
		}
	}
	return false
}

// Returns the active breakpoint at pc or nil if not found.
func (bps breakpoints) find(pc uint16) *breakpoint {
	// Linear is fine, we're not going to have too many of these.
	for i := 0; i < len(bps); i++ {
		if bps[i].pc == pc && bps[i].active {
			return &bps[i]
		}
	}

	return nil
}
