// Package visibility enforces the look-ahead contract: a strategy may
// only observe events whose arrival_time is at or before the current
// decision time. The read surfaces handed to strategies never expose a
// raw upstream timestamp — only the decision-time watermark tracked
// here.
package visibility

import "fmt"

// Watermark tracks the most recent decision time the enforcer has seen,
// i.e. the visible_ts of the event currently being dispatched.
type Watermark struct {
	decisionTimeNS int64
}

// Advance records a new decision time. The orchestrator calls this once
// per popped event, right after SimClock.AdvanceTo.
func (w *Watermark) Advance(decisionTimeNS int64) {
	w.decisionTimeNS = decisionTimeNS
}

// DecisionTime returns the current decision time.
func (w *Watermark) DecisionTime() int64 { return w.decisionTimeNS }

// Enforcer gates whether an event with a given arrival_time may be
// delivered to the strategy at the current decision time.
type Enforcer struct {
	watermark      Watermark
	strictMode     bool
	violationCount int
}

// New builds an enforcer. strictMode controls whether a look-ahead
// attempt panics (production) or is counted (research).
func New(strictMode bool) *Enforcer {
	return &Enforcer{strictMode: strictMode}
}

// Advance records the decision time for the event about to be
// dispatched.
func (e *Enforcer) Advance(decisionTimeNS int64) {
	e.watermark.Advance(decisionTimeNS)
}

// Check verifies arrivalTimeNS <= current decision time. In strict mode
// a violation panics, since by construction the orchestrator should
// never call Check with a future arrival time — reaching this path
// indicates a bug in queue ordering, not a data condition. In research
// mode it increments a counter and returns an error the caller may
// choose to ignore.
func (e *Enforcer) Check(arrivalTimeNS int64) error {
	if arrivalTimeNS <= e.watermark.decisionTimeNS {
		return nil
	}
	msg := fmt.Sprintf("visibility: attempted delivery of event with arrival_time %d after decision_time %d",
		arrivalTimeNS, e.watermark.decisionTimeNS)
	if e.strictMode {
		panic(msg)
	}
	e.violationCount++
	return fmt.Errorf("%s", msg)
}

// ViolationCount returns how many look-ahead attempts were counted in
// research mode.
func (e *Enforcer) ViolationCount() int { return e.violationCount }

// DecisionTime returns the current decision time, the only timestamp a
// strategy callback's Context may expose.
func (e *Enforcer) DecisionTime() int64 { return e.watermark.DecisionTime() }
