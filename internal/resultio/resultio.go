// Package resultio writes a completed run's results to disk as a single
// JSON document. Writes are atomic (write to a .tmp file, then
// os.Rename over the target) so a crash or a killed process never
// leaves a half-written results file behind.
package resultio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"polyreplay/internal/diagnostics"
	"polyreplay/internal/equity"
	"polyreplay/pkg/bttypes"
)

// OrderStats is the per-order summary in the results file's
// per_order_stats array.
type OrderStats struct {
	OrderID     uint64         `json:"order_id"`
	Token       string         `json:"token"`
	Side        string         `json:"side"`
	FilledQty   float64        `json:"filled_qty"`
	CancelledQty float64       `json:"cancelled_qty"`
	AvgFillPx   float64        `json:"avg_fill_price"`
	Fees        bttypes.Amount `json:"fees"`
}

// EquityPoint is the JSON-stable projection of an equity.Point.
type EquityPoint struct {
	TimeNS        int64          `json:"time_ns"`
	Trigger       string         `json:"trigger"`
	Equity        bttypes.Amount `json:"equity"`
	Cash          bttypes.Amount `json:"cash"`
	PositionValue bttypes.Amount `json:"position_value"`
	Drawdown      bttypes.Amount `json:"drawdown"`
}

// Results is the complete output of one backtest run. Every field here
// except RunID must be a pure function of the run's inputs (dataset,
// config, strategy params, seed).
type Results struct {
	// RunID identifies this particular invocation. It is generated fresh
	// per run and is explicitly NOT part of RunFingerprint — two runs
	// with identical inputs must produce the same fingerprint despite
	// having different RunIDs.
	RunID string `json:"run_id"`

	FinalPnL          bttypes.Amount       `json:"final_pnl"`
	TotalFills        int                  `json:"total_fills"`
	PerOrderStats     []OrderStats         `json:"per_order_stats"`
	EquityCurvePoints []EquityPoint        `json:"equity_curve_points"`
	RollingHash       uint64               `json:"rolling_hash"`
	RunFingerprint    string               `json:"run_fingerprint"`
	ViolationCounts   diagnostics.Counts   `json:"violation_counts"`
	MaxDrawdown       bttypes.Amount       `json:"max_drawdown"`
}

// NewRunID returns a fresh, non-deterministic run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// FromEquityCurve projects an equity.Curve into the JSON-stable point
// slice Results embeds.
func FromEquityCurve(c *equity.Curve) []EquityPoint {
	pts := c.Points()
	out := make([]EquityPoint, len(pts))
	for i, p := range pts {
		out[i] = EquityPoint{
			TimeNS:        p.TimeNS,
			Trigger:       string(p.Trigger),
			Equity:        p.Equity,
			Cash:          p.Cash,
			PositionValue: p.PositionValue,
			Drawdown:      p.Drawdown,
		}
	}
	return out
}

// Fingerprint combines an inputs hash (dataset path + config + strategy
// params + seed, hashed by the caller before the run starts) with the
// run's output rolling hash into the single reproducibility unit. XOR
// keeps the combination order-independent and 64 bits wide.
func Fingerprint(inputsHash, outputsHash uint64) string {
	return fmt.Sprintf("%016x", inputsHash^outputsHash)
}

// Write serializes r as indented JSON and atomically replaces path.
// Go's encoding/json marshals struct fields in declaration order (not
// map order), so Results' JSON shape is itself deterministic field-for-
// field — no sorting pass needed here, unlike the map-keyed internals
// upstream in ledger and book.
func Write(path string, r *Results) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename results into place: %w", err)
	}
	return nil
}
