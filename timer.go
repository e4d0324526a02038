// Copyright 2012 Lawrence Kesteloot

package main

// The TRS-80 Model III has a 30 Hz timer that interrupts the CPU. This is used
// for things like blinking the cursor. The clock calls handleTimer at that
// rate; reading port EC acknowledges it.

// Set or reset the timer interrupt.
func (vm *vm) timerInterrupt(state bool) {
	vm.ints.timer().Set(state)
}

// What to do when the hardware timer goes off.
func (vm *vm) handleTimer() {
	vm.timerInterrupt(true)
}
