// Package strategy defines the SPI a backtested algorithm implements:
// the Strategy callback interface, the Context handed to every callback,
// and a name -> constructor factory registry.
//
// The orchestrator drives a strategy via synchronous callbacks; a
// strategy never owns a goroutine or a ticker, because the pump is
// single-threaded and any concurrent mutation of engine state would
// break bit-identical replay.
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"polyreplay/internal/event"
	"polyreplay/internal/oms"
	"polyreplay/pkg/bttypes"
)

// BookView is the decision-time-visible order book snapshot handed to
// OnBookUpdate. It carries only token/levels/readiness — never a raw
// exchange timestamp or sequence number — so a strategy has no way to
// accidentally observe anything ahead of its decision time.
type BookView struct {
	Token string
	Bids  []bttypes.Level
	Asks  []bttypes.Level
	Ready bool
}

// BestBidAsk returns the best bid/ask. ok is false if either side is empty.
func (b BookView) BestBidAsk() (bid, ask float64, ok bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, 0, false
	}
	return b.Bids[0].Price, b.Asks[0].Price, true
}

// MidPrice returns (best_bid+best_ask)/2.
func (b BookView) MidPrice() (float64, bool) {
	bid, ask, ok := b.BestBidAsk()
	if !ok {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// OrderView is the strategy's read-only view of one of its own orders.
type OrderView struct {
	ID        uint64
	Token     string
	Side      bttypes.Side
	Type      bttypes.OrderType
	Price     float64
	SizeTotal float64
	LeavesQty float64
	State     bttypes.OrderState
}

// OrderEntry is the strategy's order-entry surface.
type OrderEntry interface {
	Send(req oms.Request) (uint64, error)
	Cancel(orderID uint64) error
	Order(orderID uint64) (OrderView, bool)
}

// Scheduler lets a strategy request a future Timer callback.
type Scheduler interface {
	SetTimer(dtNS int64, payload []byte) uint64
}

// Positions is the strategy's read-only view of the ledger.
type Positions interface {
	Position(token, outcome string) float64
	Cash() bttypes.Amount
}

// Context is passed to every Strategy callback. Timestamp is always the
// decision time — the popped event's visible_ts — never source_time or
// a wall-clock read.
type Context interface {
	Timestamp() int64
	Orders() OrderEntry
	Scheduler() Scheduler
	Positions() Positions
	Book(token string) (BookView, bool)
}

// Strategy is the callback interface every backtested algorithm
// implements.
type Strategy interface {
	OnStart(ctx Context)
	OnStop(ctx Context)
	OnBookUpdate(ctx Context, book BookView)
	OnTrade(ctx Context, trade event.TradePrint)
	OnOrderAck(ctx Context, ack event.OrderAck)
	OnOrderReject(ctx Context, rej event.OrderReject)
	OnFill(ctx Context, fill event.Fill)
	OnCancelAck(ctx Context, cancel event.CancelAck)
	OnTimer(ctx Context, timer event.Timer)
	OnSignal(ctx Context, sig event.Signal)
}

// Params is the free-form strategy parameter bag sourced from config or
// the CLI's --params k=v,... flag.
type Params map[string]string

// Factory constructs a Strategy instance from Params.
type Factory func(params Params) (Strategy, error)

var registry = map[string]Factory{}

// Register adds a named strategy constructor to the global factory
// registry. Reference strategies in this package call it from init().
func Register(name string, f Factory) { registry[name] = f }

// Make builds a strategy by name from the registry.
func Make(name string, params Params) (Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("Unknown strategy: %s, available: %s", name, strings.Join(Names(), ", "))
	}
	return f(params)
}

// Names returns the sorted list of registered strategy names.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
