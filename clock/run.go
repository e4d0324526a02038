// Copyright 2012 Lawrence Kesteloot

package clock

// The execution loop and keeping emulated time in step with real time.

import (
	"runtime"
	"time"
)

// SetSpeed asks for normal (real-time) or unthrottled speed. It can be
// called from any goroutine; the change is applied by the execution loop
// before its next instruction, together with a resync so that switching
// never causes a burst of catch-up sleeping or spinning.
func (c *Clock) SetSpeed(normal bool) {
	if normal {
		c.speedRequest.Store(speedNormal)
	} else {
		c.speedRequest.Store(speedFast)
	}
}

// NormalSpeed reports whether the clock is throttled to real time.
func (c *Clock) NormalSpeed() bool {
	return c.normalSpeed
}

func (c *Clock) applySpeedRequest() {
	request := c.speedRequest.Swap(speedNoRequest)
	if request == speedNoRequest {
		return
	}
	c.normalSpeed = request == speedNormal
	c.resync()
}

// Anchor emulated time to host time right now.
func (c *Clock) resync() {
	c.baselineTime = c.Now()
	c.baselineTick = c.tickCount
	c.nextThrottleTick = c.tickCount + throttleCheckTicks
}

// Where the tick count should be if we were exactly in step with the host.
func (c *Clock) realTimeTicks(now time.Time) uint64 {
	elapsed := now.Sub(c.baselineTime)
	if elapsed < 0 {
		elapsed = 0
	}
	return c.baselineTick + uint64(float64(elapsed)*ticksPerNanosecond)
}

// Slow down if we're going too fast. If we're more than a millisecond
// ahead, sleep for a millisecond; if we're ahead by less, just yield so
// that other goroutines get a chance. Being behind is never an error, we
// just run as fast as we can. Every resyncInterval the anchor is moved up
// so that lag doesn't build into a long burst of catch-up.
func (c *Clock) throttle() {
	if !c.normalSpeed {
		return
	}

	now := c.Now()
	realTicks := c.realTimeTicks(now)

	if c.tickCount > realTicks+ticksPerMillisecond {
		c.Sleep(maxSleep)
		c.slept += maxSleep
	} else if c.tickCount > realTicks {
		runtime.Gosched()
	}

	if now.Sub(c.baselineTime) >= resyncInterval {
		// Keep any lead (we'll sleep it off) but forget any lag.
		c.baselineTime = now
		if c.tickCount < realTicks {
			c.baselineTick = c.tickCount
		} else {
			c.baselineTick = realTicks
		}
	}
}

// SetBreakHook has f called before each instruction while running. If it
// returns true the loop stops. It runs on the execution goroutine and must
// not call Stop.
func (c *Clock) SetBreakHook(f func() bool) {
	c.breakHook = f
}

// Running reports whether the execution loop is active.
func (c *Clock) Running() bool {
	return c.running.Load()
}

// Start launches the execution loop on its own goroutine. Does nothing if
// it's already running.
func (c *Clock) Start() {
	if c.running.Load() {
		return
	}
	c.stopRequest.Store(false)
	c.done = make(chan struct{})
	c.running.Store(true)
	go c.run(c.done)
}

// Stop asks the execution loop to stop and waits until it has. The loop
// finishes the instruction and callbacks in flight first.
func (c *Clock) Stop() {
	if c.done == nil {
		return
	}
	c.stopRequest.Store(true)
	<-c.done
}

// Done is closed when the current run of the loop ends, whether from Stop
// or the break hook. Nil if the loop has never been started.
func (c *Clock) Done() <-chan struct{} {
	return c.done
}

func (c *Clock) run(done chan struct{}) {
	defer func() {
		c.running.Store(false)
		close(done)
	}()

	c.resync()
	for !c.stopRequest.Load() {
		if c.breakHook != nil && c.breakHook() {
			break
		}

		c.Step()

		if c.tickCount >= c.nextThrottleTick {
			c.throttle()
			c.logStats(c.Now())
			c.nextThrottleTick = c.tickCount + throttleCheckTicks
		}
	}
}
