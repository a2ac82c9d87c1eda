// Package clock provides the single simulated time source every other
// component in the engine reads from. No component may read the wall
// clock while a simulation is running; the orchestrator is the only
// caller permitted to advance it.
package clock

import "fmt"

// SimClock is a monotonic, nanosecond-resolution simulated clock.
type SimClock struct {
	nowNS int64
}

// New returns a clock starting at startNS.
func New(startNS int64) *SimClock {
	return &SimClock{nowNS: startNS}
}

// Now returns the current simulated time in nanoseconds since epoch.
func (c *SimClock) Now() int64 { return c.nowNS }

// AdvanceTo moves the clock forward to t. Moving backward is always a
// bug — the orchestrator treats the returned error as an Internal fatal
// error per the engine's error taxonomy, never a panic, since the
// collaborator discovering it (the orchestrator) is in a position to
// assemble a diagnostic report first.
func (c *SimClock) AdvanceTo(t int64) error {
	if t < c.nowNS {
		return fmt.Errorf("clock: backward advance to %d from %d", t, c.nowNS)
	}
	c.nowNS = t
	return nil
}

// AdvanceBy moves the clock forward by dt nanoseconds. dt must be >= 0.
func (c *SimClock) AdvanceBy(dt int64) error {
	if dt < 0 {
		return fmt.Errorf("clock: negative advance %d", dt)
	}
	c.nowNS = c.nowNS + dt
	return nil
}
