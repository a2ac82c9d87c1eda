// Package equity records the equity curve over a run: an append-only
// timeline of (cash, position_value, drawdown) observations plus a
// rolling 64-bit fingerprint of the observed stream.
package equity

import (
	"fmt"
	"hash/fnv"

	"polyreplay/internal/ledger"
	"polyreplay/pkg/bttypes"
)

// Trigger identifies why an observation was recorded.
type Trigger string

const (
	TriggerInitialDeposit Trigger = "INITIAL_DEPOSIT"
	TriggerFill           Trigger = "FILL"
	TriggerFee            Trigger = "FEE"
	TriggerSettlement     Trigger = "SETTLEMENT"
	TriggerMarkToMarket   Trigger = "MARK_TO_MARKET"
	TriggerFinalization   Trigger = "FINALIZATION"
)

// Point is one observation on the equity curve, in fixed-point.
type Point struct {
	TimeNS         int64
	Trigger        Trigger
	Equity         bttypes.Amount
	Cash           bttypes.Amount
	PositionValue  bttypes.Amount
	Drawdown       bttypes.Amount
}

// Curve is the append-only equity timeline plus running statistics.
type Curve struct {
	points      []Point
	peak        bttypes.Amount
	havePeak    bool
	maxDrawdown bttypes.Amount
	hash        uint64
}

// Points returns the recorded observations in time order.
func (c *Curve) Points() []Point { return c.points }

// MaxDrawdown returns the running max of (peak - equity) observed so far.
func (c *Curve) MaxDrawdown() bttypes.Amount { return c.maxDrawdown }

// RollingHash returns the fnv1a64 fingerprint of the observed stream.
func (c *Curve) RollingHash() uint64 { return c.hash }

// Recorder drives Curve observations from ledger state.
type Recorder struct {
	curve Curve
}

// NewRecorder constructs an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Curve returns the underlying equity curve.
func (r *Recorder) Curve() *Curve { return &r.curve }

// Observe computes position_value = Σ shares_i * mid_price_i from the
// supplied mid-price map, derives equity = cash + position_value,
// updates peak/drawdown, folds the point into the rolling hash, and
// appends it to the curve.
func (r *Recorder) Observe(timeNS int64, l *ledger.Ledger, midPrices map[string]float64, trigger Trigger) Point {
	cash := l.Cash()
	posValue := l.PositionValue(midPrices)
	eq := cash.Add(posValue)

	if !r.curve.havePeak || eq.Cmp(r.curve.peak) > 0 {
		r.curve.peak = eq
		r.curve.havePeak = true
	}
	drawdown := r.curve.peak.Sub(eq)
	if drawdown.IsNegative() {
		drawdown = bttypes.Zero
	}
	if drawdown.Cmp(r.curve.maxDrawdown) > 0 {
		r.curve.maxDrawdown = drawdown
	}

	p := Point{
		TimeNS:        timeNS,
		Trigger:       trigger,
		Equity:        eq,
		Cash:          cash,
		PositionValue: posValue,
		Drawdown:      drawdown,
	}
	r.curve.points = append(r.curve.points, p)
	r.curve.hash = foldHash(r.curve.hash, p)
	return p
}

// Finalize records a terminal FINALIZATION observation. The orchestrator
// always calls this exactly once, even on an error unwind.
func (r *Recorder) Finalize(timeNS int64, l *ledger.Ledger, midPrices map[string]float64) Point {
	return r.Observe(timeNS, l, midPrices, TriggerFinalization)
}

// foldHash updates the rolling fingerprint as h <- fnv1a64(h, serialize(point)).
func foldHash(prev uint64, p Point) uint64 {
	h := fnv.New64a()
	// Seed with the previous hash so each point folds into the running
	// fingerprint rather than replacing it.
	fmt.Fprintf(h, "%d|%016x|%s|%s|%s|%s|%s",
		p.TimeNS, prev, p.Trigger, p.Equity, p.Cash, p.PositionValue, p.Drawdown)
	return h.Sum64()
}
