// Package bttypes defines the shared vocabulary used across every layer of
// the replay engine: order sides and types, price levels, and the
// fixed-point money representation the ledger relies on for determinism.
// It has no dependencies on internal packages, so it can be imported by
// any layer.
package bttypes

import (
	"github.com/shopspring/decimal"
)

// Side is the direction of an order or the aggressor of a trade print.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Sign returns +1 for Buy, -1 for Sell, for cash/position sign conventions.
func (s Side) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the supported order lifecycles.
type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
	IOC    OrderType = "IOC"
	FOK    OrderType = "FOK"
)

// IsMarketable reports whether the order type always attempts to cross
// the book immediately rather than potentially resting.
func (t OrderType) IsMarketable() bool {
	switch t {
	case Market, IOC, FOK:
		return true
	default:
		return false
	}
}

// TimeInForce controls how long an order may rest.
type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	TIF_IOC TimeInForce = "IOC"
	TIF_FOK TimeInForce = "FOK"
)

// OrderState is the order lifecycle state machine.
type OrderState string

const (
	StateNew             OrderState = "NEW"
	StatePendingAck       OrderState = "PENDING_ACK"
	StateLive             OrderState = "LIVE"
	StatePartiallyFilled  OrderState = "PARTIALLY_FILLED"
	StateFilled           OrderState = "FILLED"
	StatePendingCancel    OrderState = "PENDING_CANCEL"
	StateCancelled        OrderState = "CANCELLED"
	StateRejected         OrderState = "REJECTED"
)

// IsTerminal reports whether the state machine has no further transitions.
func (s OrderState) IsTerminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected:
		return true
	default:
		return false
	}
}

// Level is a single bid or ask level in an order book.
type Level struct {
	Price      float64
	Size       float64
	OrderCount uint32 // 0 means unknown/not reported
}

const amountScale = 6

// Amount is fixed-point money, internally an integer number of 10^-6 units
// carried in a decimal.Decimal so that accumulation is exact and
// associative regardless of platform or optimization level — float64
// cannot make that guarantee.
type Amount struct {
	d decimal.Decimal
}

// ToAmount rounds a float64 to the nearest 10^-6 unit.
func ToAmount(x float64) Amount {
	return Amount{d: decimal.NewFromFloat(x).Round(amountScale)}
}

// AmountFromDecimal wraps an already-scaled decimal value.
func AmountFromDecimal(d decimal.Decimal) Amount {
	return Amount{d: d.Round(amountScale)}
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// Float64 converts back to a float for display/mid-price math.
func (a Amount) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// Decimal exposes the underlying decimal.Decimal for arithmetic.
func (a Amount) Decimal() decimal.Decimal { return a.d }

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d).Round(amountScale)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d).Round(amountScale)} }
func (a Amount) Neg() Amount         { return Amount{d: a.d.Neg()} }
func (a Amount) IsNegative() bool    { return a.d.IsNegative() }
func (a Amount) IsZero() bool        { return a.d.IsZero() }
func (a Amount) Cmp(b Amount) int    { return a.d.Cmp(b.d) }

// MulFloat multiplies by a plain float64 (e.g. a share count), rounding to
// the fixed-point scale. Used for price*size and notional*feeRate.
func (a Amount) MulFloat(x float64) Amount {
	return Amount{d: a.d.Mul(decimal.NewFromFloat(x)).Round(amountScale)}
}

func (a Amount) String() string { return a.d.StringFixed(amountScale) }

// MarshalJSON renders the amount as a plain decimal literal for results
// output, e.g. 9949.000000.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.d.StringFixed(amountScale)), nil
}

// UnmarshalJSON parses a decimal literal as written by MarshalJSON.
func (a *Amount) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return err
	}
	a.d = d.Round(amountScale)
	return nil
}

// PriceNotional computes price*size as a fixed-point Amount directly from
// floats — the common case of converting a fill into a cash delta.
func PriceNotional(price, size float64) Amount {
	return decimalAmount(price).MulFloat(size)
}

func decimalAmount(x float64) Amount {
	return Amount{d: decimal.NewFromFloat(x)}
}
