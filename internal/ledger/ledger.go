// Package ledger tracks fixed-point cash and position accounting,
// settlement, and a trace ring buffer for diagnostics. All monetary
// arithmetic runs on a decimal fixed-point scale of 1e-6 units —
// float64 accumulation is not associative across platforms and
// optimization levels, and the run fingerprint depends on every cash
// delta being exact.
package ledger

import (
	"fmt"
	"sort"

	"polyreplay/pkg/bttypes"
)

// PositionKey identifies one side of one market's outcome.
type PositionKey struct {
	Token   string
	Outcome string // e.g. "YES" / "NO"; caller-defined, opaque to the ledger
}

// position is the ledger's internal per-key bookkeeping.
type position struct {
	shares      float64 // signed: positive long, negative short
	avgEntry    bttypes.Amount
	realizedPnL bttypes.Amount
}

// Config controls starting cash and strictness policy.
type Config struct {
	InitialCash      bttypes.Amount
	AllowNegativeCash bool
	AllowShorting     bool
	StrictMode        bool
	TraceDepth        int
}

// TraceEntry records one posting for the last-N diagnostic ring buffer.
type TraceEntry struct {
	SimTimeNS int64
	Kind      string
	Detail    string
}

// Ledger is the fixed-point cash/position accounting engine for one run.
type Ledger struct {
	cfg            Config
	cash           bttypes.Amount
	positions      map[PositionKey]*position
	nextFillSeq    uint64
	trace          []TraceEntry
	negativeCashWarnings int
	shortWarnings        int
}

// New constructs a ledger with the given starting cash and policy.
func New(cfg Config) *Ledger {
	return &Ledger{
		cfg:       cfg,
		cash:      cfg.InitialCash,
		positions: make(map[PositionKey]*position),
	}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() bttypes.Amount { return l.cash }

// Position returns the signed share count held at key.
func (l *Ledger) Position(key PositionKey) float64 {
	p, ok := l.positions[key]
	if !ok {
		return 0
	}
	return p.shares
}

// RealizedPnL returns the realized PnL accumulated at key.
func (l *Ledger) RealizedPnL(key PositionKey) bttypes.Amount {
	p, ok := l.positions[key]
	if !ok {
		return bttypes.Zero
	}
	return p.realizedPnL
}

// PostFill applies a Fill's cash/position effect: cash -= side_sign*price*size + fee,
// position += side_sign*size. fillID is caller-assigned (from the
// event, if present) purely for trace/debugging; it does not feed into
// the monotonic ledger-internal fill counter.
func (l *Ledger) PostFill(fillID string, key PositionKey, side bttypes.Side, size, price float64, fee bttypes.Amount, simTimeNS int64) error {
	l.nextFillSeq++

	notional := bttypes.PriceNotional(price, size)
	signedNotional := notional
	if side == bttypes.Sell {
		signedNotional = signedNotional.Neg()
	}
	cashDelta := signedNotional.Neg().Sub(fee)
	newCash := l.cash.Add(cashDelta)

	if newCash.IsNegative() && !l.cfg.AllowNegativeCash {
		if l.cfg.StrictMode {
			return fmt.Errorf("ledger: negative cash %s after fill %s", newCash, fillID)
		}
		l.negativeCashWarnings++
		newCash = bttypes.Zero
	}
	l.cash = newCash

	p, ok := l.positions[key]
	if !ok {
		p = &position{}
		l.positions[key] = p
	}

	sizeSigned := size * side.Sign()
	newShares := p.shares + sizeSigned

	if side == bttypes.Buy {
		totalCost := p.avgEntry.MulFloat(p.shares).Add(bttypes.ToAmount(price).MulFloat(size))
		p.shares = newShares
		if p.shares > 0 {
			p.avgEntry = bttypes.ToAmount(totalCost.Float64() / p.shares)
		}
	} else {
		if p.shares > 0 {
			sellQty := minF(size, p.shares)
			pnl := bttypes.ToAmount(price).Sub(p.avgEntry).MulFloat(sellQty)
			p.realizedPnL = p.realizedPnL.Add(pnl)
		}
		p.shares = newShares
		if p.shares <= 0 && !l.cfg.AllowShorting {
			p.shares = 0
			p.avgEntry = bttypes.Zero
		}
	}

	if newShares < 0 && !l.cfg.AllowShorting {
		if l.cfg.StrictMode {
			return fmt.Errorf("ledger: short position %v at %+v after fill %s", newShares, key, fillID)
		}
		l.shortWarnings++
	}

	l.recordTrace(simTimeNS, "fill", fmt.Sprintf("%+v side=%s size=%v price=%v fee=%s", key, side, size, price, fee))
	return nil
}

// Settle closes the position at key at settlementPrice, crediting cash
// by shares*settlementPrice and zeroing the position.
func (l *Ledger) Settle(key PositionKey, settlementPrice float64, simTimeNS int64) {
	p, ok := l.positions[key]
	if !ok || p.shares == 0 {
		l.recordTrace(simTimeNS, "settle", fmt.Sprintf("%+v no position", key))
		return
	}
	proceeds := bttypes.ToAmount(settlementPrice).MulFloat(p.shares)
	l.cash = l.cash.Add(proceeds)
	l.recordTrace(simTimeNS, "settle", fmt.Sprintf("%+v shares=%v @ %v -> cash+=%s", key, p.shares, settlementPrice, proceeds))
	p.shares = 0
	p.avgEntry = bttypes.Zero
}

// PositionValue returns Σ shares_i * mid_price_i over the supplied mid
// price map, keyed by token (outcome is assumed single-sided per token
// for mark-to-market purposes). Keys are visited in sorted order: Go's
// map iteration order is randomized per process, and summing in an
// unordered sequence would make the fixed-point total (and therefore
// the equity-curve hash) depend on iteration order instead of only on
// the run's inputs.
func (l *Ledger) PositionValue(midPrices map[string]float64) bttypes.Amount {
	keys := make([]PositionKey, 0, len(l.positions))
	for key := range l.positions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Token != keys[j].Token {
			return keys[i].Token < keys[j].Token
		}
		return keys[i].Outcome < keys[j].Outcome
	})

	total := bttypes.Zero
	for _, key := range keys {
		p := l.positions[key]
		if p.shares == 0 {
			continue
		}
		mid, ok := midPrices[key.Token]
		if !ok {
			continue
		}
		total = total.Add(bttypes.ToAmount(mid).MulFloat(p.shares))
	}
	return total
}

func (l *Ledger) recordTrace(simTimeNS int64, kind, detail string) {
	if l.cfg.TraceDepth <= 0 {
		return
	}
	l.trace = append(l.trace, TraceEntry{SimTimeNS: simTimeNS, Kind: kind, Detail: detail})
	if len(l.trace) > l.cfg.TraceDepth {
		l.trace = l.trace[len(l.trace)-l.cfg.TraceDepth:]
	}
}

// Trace returns the last-N trace entries, most recent last.
func (l *Ledger) Trace() []TraceEntry { return l.trace }

// NegativeCashWarnings returns how many times a negative-cash clamp was
// applied in non-strict mode.
func (l *Ledger) NegativeCashWarnings() int { return l.negativeCashWarnings }

// ShortWarnings returns how many times a short-position clamp was
// applied in non-strict mode.
func (l *Ledger) ShortWarnings() int { return l.shortWarnings }

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
