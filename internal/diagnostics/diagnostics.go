// Package diagnostics tracks typed violation counters across a run and
// assembles the diagnostic report emitted when a fatal error class
// unwinds the pump: last-N ledger trace entries, last-K popped events,
// and the queue head at the moment of failure.
//
// A backtest has no live positions to protect with a kill switch, only
// a pump to halt cleanly, so there is no goroutine, no channel, and no
// cooldown: Collector is called synchronously from the pump loop.
package diagnostics

import (
	"fmt"

	"polyreplay/internal/event"
	"polyreplay/internal/ledger"
)

// Kind identifies a violation class.
type Kind string

const (
	KindSequenceGap          Kind = "SEQUENCE_GAP"
	KindCrossedBook          Kind = "CROSSED_BOOK"
	KindDuplicateTradeID     Kind = "DUPLICATE_TRADE_ID"
	KindVisibilityRegression Kind = "VISIBILITY_REGRESSION"
	KindNegativeDelay        Kind = "NEGATIVE_DELAY"
	KindNegativeCash         Kind = "NEGATIVE_CASH"
	KindShortPosition        Kind = "SHORT_POSITION"
)

// Counts is a typed, JSON-stable tally of non-fatal violations observed
// during a run. The orchestrator records SequenceGap, CrossedBook and
// NegativeCash; nothing records the other kinds, so their counters stay
// zero (the feed queue and the visibility enforcer keep their own
// violation logs, which are not folded in here). In strict mode the
// first data-validity or ledger failure ends the run.
type Counts struct {
	SequenceGap          int `json:"sequence_gap"`
	CrossedBook          int `json:"crossed_book"`
	DuplicateTradeID     int `json:"duplicate_trade_id"`
	VisibilityRegression int `json:"visibility_regression"`
	NegativeDelay        int `json:"negative_delay"`
	NegativeCash         int `json:"negative_cash"`
	ShortPosition        int `json:"short_position"`
}

// Total sums every counter, used for a quick "any violations at all" check.
func (c Counts) Total() int {
	return c.SequenceGap + c.CrossedBook + c.DuplicateTradeID +
		c.VisibilityRegression + c.NegativeDelay + c.NegativeCash + c.ShortPosition
}

// Collector accumulates violation counts and a ring buffer of recently
// dispatched events, so a fatal unwind can assemble a useful report
// without the pump needing to pass its whole history around.
type Collector struct {
	counts     Counts
	traceDepth int
	recent     []event.TimestampedEvent
}

// NewCollector builds a collector that remembers the last traceDepth
// dispatched events for diagnostic reports.
func NewCollector(traceDepth int) *Collector {
	if traceDepth <= 0 {
		traceDepth = 32
	}
	return &Collector{traceDepth: traceDepth}
}

// Record increments the counter for kind.
func (c *Collector) Record(kind Kind) {
	switch kind {
	case KindSequenceGap:
		c.counts.SequenceGap++
	case KindCrossedBook:
		c.counts.CrossedBook++
	case KindDuplicateTradeID:
		c.counts.DuplicateTradeID++
	case KindVisibilityRegression:
		c.counts.VisibilityRegression++
	case KindNegativeDelay:
		c.counts.NegativeDelay++
	case KindNegativeCash:
		c.counts.NegativeCash++
	case KindShortPosition:
		c.counts.ShortPosition++
	}
}

// Observe appends a dispatched event to the recent-events ring buffer,
// called once per pump iteration right after a successful pop.
func (c *Collector) Observe(te event.TimestampedEvent) {
	c.recent = append(c.recent, te)
	if len(c.recent) > c.traceDepth {
		c.recent = c.recent[len(c.recent)-c.traceDepth:]
	}
}

// Counts returns a snapshot of the accumulated violation tallies.
func (c *Collector) Counts() Counts { return c.counts }

// Report is the diagnostic bundle assembled on a fatal error.
type Report struct {
	Reason          string              `json:"reason"`
	RecentEvents    []event.TimestampedEvent `json:"recent_events"`
	LedgerTrace     []ledger.TraceEntry `json:"ledger_trace"`
	QueueHead       *event.TimestampedEvent `json:"queue_head,omitempty"`
	ViolationCounts Counts              `json:"violation_counts"`
}

// Error implements the error interface so a Report can unwind the pump
// like any other typed failure.
func (r *Report) Error() string {
	return fmt.Sprintf("diagnostics: fatal: %s", r.Reason)
}

// BuildReport assembles a Report at the moment of a fatal failure.
func (c *Collector) BuildReport(reason string, l *ledger.Ledger, queueHead *event.TimestampedEvent) *Report {
	recent := make([]event.TimestampedEvent, len(c.recent))
	copy(recent, c.recent)
	var trace []ledger.TraceEntry
	if l != nil {
		trace = l.Trace()
	}
	return &Report{
		Reason:          reason,
		RecentEvents:    recent,
		LedgerTrace:     trace,
		QueueHead:       queueHead,
		ViolationCounts: c.counts,
	}
}
