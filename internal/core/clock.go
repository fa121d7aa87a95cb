package core

import "time"

// Clock is a small monotonic stopwatch used by the renderer facade to time
// the CPU side of each frame without pulling in a GPU timestamp.
type Clock struct {
	startTime float64
	elapsed   float64
}

func NewClock() *Clock {
	return &Clock{}
}

// Update refreshes elapsed time. Has no effect on a non-started clock.
func (c *Clock) Update() {
	if c.startTime != 0 {
		c.elapsed = float64(time.Now().UnixNano()) - c.startTime
	}
}

// Start resets and starts the clock.
func (c *Clock) Start() {
	c.startTime = float64(time.Now().UnixNano())
	c.elapsed = 0
}

// Stop freezes the clock. Elapsed time is left at its last value.
func (c *Clock) Stop() {
	c.startTime = 0
}

func (c *Clock) Elapsed() float64 {
	return c.elapsed
}
