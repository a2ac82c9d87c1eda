// Package oms is the order management system: the acceptance pipeline,
// taker matching, passive queue-position tracking, and the order
// lifecycle state machine. Orders live in an arena keyed by a uint64 id;
// the strategy holds only ids, never pointers, so there are no
// back-pointers or cycles to worry about.
//
// Passive fills are approximated by tracking the aggregate volume ahead
// of an order at its price level (queue_ahead), drained by trade prints
// and level reductions. Cancel-fill races resolve via the canonical
// event priority ordering (internal/event), never via a second
// tie-break rule.
package oms

import (
	"fmt"
	"sort"

	"polyreplay/internal/book"
	"polyreplay/internal/event"
	"polyreplay/pkg/bttypes"
)

// MakerFillModel selects how passive fills are approximated.
type MakerFillModel int

const (
	MakerDisabled MakerFillModel = iota
	MakerQueuePosition
)

// VenueConstraints bounds order acceptance and timing.
type VenueConstraints struct {
	TickSize           float64
	MinPrice, MaxPrice float64
	MinSize, MaxSize   float64
	MaxOrdersPerWindow int
	WindowNS           int64
	AckLatencyNS       int64
	FillLatencyNS      int64
	TakerFeeBps        float64
	MakerFeeBps        float64
}

// Order is the OMS's view of a single order. Exclusive ownership lives
// here; the strategy layer never mutates it directly.
type Order struct {
	ID            uint64
	ClientOrderID string
	Token         string
	Side          bttypes.Side
	Type          bttypes.OrderType
	TIF           bttypes.TimeInForce
	Price         float64
	SizeTotal     float64
	LeavesQty     float64
	PostOnly      bool
	State         bttypes.OrderState
	CreationNS    int64
	AckNS         int64
	HasAck        bool
	QueueAhead    float64
	FilledQty     float64
	CancelledQty  float64
	RejectedQty   float64
}

// Request is what a strategy submits via the Context's order-entry API.
type Request struct {
	ClientOrderID string
	Token         string
	Side          bttypes.Side
	Type          bttypes.OrderType
	TIF           bttypes.TimeInForce
	Price         float64
	Size          float64
	PostOnly      bool
}

// Outbound is an event the OMS wants delivered back through the unified
// queue — an ack, reject, fill, or cancel ack — scheduled at a future
// simulated time.
type Outbound struct {
	AtNS    int64
	Source  uint8
	Payload event.Payload
}

// OMS is the order management system for one simulation run.
type OMS struct {
	constraints   VenueConstraints
	makerModel    MakerFillModel
	books         *book.Registry
	orders        map[uint64]*Order
	nextID        uint64
	submitTimesNS []int64
	outbox        []Outbound
	seenClientIDs map[string]bool
	closedTokens  map[string]bool
}

// MarkClosed permanently closes a token to new order acceptance, per a
// ResolutionEvent settling that market. Existing resting orders are left
// untouched and stay live; the orchestrator's settlement closes ledger
// positions only and does not cancel them.
func (o *OMS) MarkClosed(token string) {
	if o.closedTokens == nil {
		o.closedTokens = make(map[string]bool)
	}
	o.closedTokens[token] = true
}

// New constructs an OMS bound to a book registry (so taker fills can
// mutate book state directly, the way a real matching engine's own
// book would react to its own executions).
func New(constraints VenueConstraints, makerModel MakerFillModel, books *book.Registry) *OMS {
	return &OMS{
		constraints:   constraints,
		makerModel:    makerModel,
		books:         books,
		orders:        make(map[uint64]*Order),
		seenClientIDs: make(map[string]bool),
	}
}

// Drain returns and clears the pending outbox of scheduled events, for
// the orchestrator to push onto the unified feed queue.
func (o *OMS) Drain() []Outbound {
	out := o.outbox
	o.outbox = nil
	return out
}

// Order returns the order for id, or nil if unknown.
func (o *OMS) Order(id uint64) *Order { return o.orders[id] }

// AllOrders returns every order in the arena sorted by id (i.e.
// submission order), for end-of-run reporting. Never used in the hot
// path, where orderedIDs is used directly to avoid the allocation.
func (o *OMS) AllOrders() []*Order {
	ids := o.orderedIDs()
	out := make([]*Order, len(ids))
	for i, id := range ids {
		out[i] = o.orders[id]
	}
	return out
}

// Submit runs the acceptance pipeline. It always assigns an id (the
// strategy needs one to later cancel even a doomed order) and schedules
// exactly one of OrderAck or OrderReject onto the outbox; it returns an
// error only for requests that cannot even enter the arena, such as a
// client order id reused within the same run.
func (o *OMS) Submit(req Request, nowNS int64) (uint64, error) {
	if req.ClientOrderID != "" && o.seenClientIDs[req.ClientOrderID] {
		return 0, fmt.Errorf("oms: duplicate client order id %q", req.ClientOrderID)
	}
	if req.ClientOrderID != "" {
		o.seenClientIDs[req.ClientOrderID] = true
	}

	o.nextID++
	id := o.nextID
	ord := &Order{
		ID:            id,
		ClientOrderID: req.ClientOrderID,
		Token:         req.Token,
		Side:          req.Side,
		Type:          req.Type,
		TIF:           req.TIF,
		Price:         req.Price,
		SizeTotal:     req.Size,
		LeavesQty:     req.Size,
		PostOnly:      req.PostOnly,
		State:         bttypes.StateNew,
		CreationNS:    nowNS,
	}
	o.orders[id] = ord

	reason, rejected := o.validate(ord, nowNS)
	if rejected {
		o.outbox = append(o.outbox, Outbound{
			AtNS:   nowNS + o.constraints.AckLatencyNS,
			Source: 0,
			Payload: event.OrderReject{
				OrderID:       id,
				ClientOrderID: req.ClientOrderID,
				Reason:        reason,
			},
		})
		return id, nil
	}

	ord.State = bttypes.StatePendingAck
	o.submitTimesNS = append(o.submitTimesNS, nowNS)
	o.outbox = append(o.outbox, Outbound{
		AtNS:   nowNS + o.constraints.AckLatencyNS,
		Source: 0,
		Payload: event.OrderAck{
			OrderID:       id,
			ClientOrderID: req.ClientOrderID,
			ExchangeTime:  nowNS,
		},
	})
	return id, nil
}

func (o *OMS) validate(ord *Order, nowNS int64) (event.RejectReason, bool) {
	c := o.constraints

	if ord.Type != bttypes.Market {
		if c.TickSize > 0 {
			ticks := ord.Price / c.TickSize
			if !nearlyInteger(ticks) {
				return event.RejectInvalidPrice, true
			}
		}
		if c.MinPrice > 0 && ord.Price < c.MinPrice {
			return event.RejectInvalidPrice, true
		}
		if c.MaxPrice > 0 && ord.Price > c.MaxPrice {
			return event.RejectInvalidPrice, true
		}
	}
	if c.MinSize > 0 && ord.SizeTotal < c.MinSize {
		return event.RejectInvalidSize, true
	}
	if c.MaxSize > 0 && ord.SizeTotal > c.MaxSize {
		return event.RejectInvalidSize, true
	}

	if c.MaxOrdersPerWindow > 0 && c.WindowNS > 0 {
		cutoff := nowNS - c.WindowNS
		kept := o.submitTimesNS[:0]
		for _, t := range o.submitTimesNS {
			if t > cutoff {
				kept = append(kept, t)
			}
		}
		o.submitTimesNS = kept
		if len(o.submitTimesNS) >= c.MaxOrdersPerWindow {
			return event.RejectRateLimited, true
		}
	}

	if o.closedTokens[ord.Token] {
		return event.RejectMarketClosed, true
	}

	bk := o.books.Get(ord.Token)
	if !bk.IsReady() {
		return event.RejectMarketHalted, true
	}

	if ord.PostOnly {
		bid, ask, ok := bk.BestBidAsk()
		if ok {
			if ord.Side == bttypes.Buy && ord.Price >= ask {
				return event.RejectPostOnlyCross, true
			}
			if ord.Side == bttypes.Sell && ord.Price <= bid {
				return event.RejectPostOnlyCross, true
			}
		}
	}

	return "", false
}

func nearlyInteger(x float64) bool {
	const eps = 1e-9
	r := x - float64(int64(x+0.5))
	if r < 0 {
		r = -r
	}
	return r < eps
}

// isTaker reports whether ord must attempt to cross immediately.
func (o *OMS) isTaker(ord *Order, bk *book.Book) bool {
	if ord.Type.IsMarketable() {
		return true
	}
	bid, ask, ok := bk.BestBidAsk()
	if !ok {
		return false
	}
	if ord.Side == bttypes.Buy {
		return ord.Price >= ask
	}
	return ord.Price <= bid
}

// OnOrderAck applies the order-ack side effect: the order becomes Live,
// and if it is a taker it walks the book immediately, scheduling Fill
// events (and a CancelAck for any IOC remainder, or leaving a Limit
// remainder resting). Passive orders record queue_ahead per the data
// contract's queue-modeling support.
func (o *OMS) OnOrderAck(ev event.OrderAck, nowNS int64) {
	ord := o.orders[ev.OrderID]
	if ord == nil || ord.State.IsTerminal() {
		return
	}
	ord.State = bttypes.StateLive
	ord.AckNS = nowNS
	ord.HasAck = true

	bk := o.books.Get(ord.Token)

	if o.isTaker(ord, bk) {
		o.walkTaker(ord, bk, nowNS)
		return
	}

	if o.makerModel == MakerQueuePosition {
		ord.QueueAhead = bk.SizeAt(ord.Side, ord.Price)
	}
}

// walkTaker crosses the book sequentially at ack time. FOK orders are
// simulated against a read-only view of available liquidity first: if
// the book cannot fully fill them, the whole order rejects with no
// book mutation and no fills.
func (o *OMS) walkTaker(ord *Order, bk *book.Book, nowNS int64) {
	levels := bk.Asks()
	if ord.Side == bttypes.Sell {
		levels = bk.Bids()
	}

	if ord.Type == bttypes.FOK {
		available := 0.0
		for _, lvl := range levels {
			if !crossable(ord, lvl.Price) {
				break
			}
			available += lvl.Size
			if available >= ord.LeavesQty {
				break
			}
		}
		if available < ord.LeavesQty {
			ord.State = bttypes.StateRejected
			ord.RejectedQty = ord.LeavesQty
			ord.LeavesQty = 0
			o.outbox = append(o.outbox, Outbound{
				AtNS:   nowNS,
				Source: 0,
				Payload: event.OrderReject{
					OrderID:       ord.ID,
					ClientOrderID: ord.ClientOrderID,
					Reason:        event.RejectInvalidSize,
				},
			})
			return
		}
	}

	for ord.LeavesQty > 0 {
		lvl, hasLevel := topOf(bk, ord.Side)
		if !hasLevel || !crossable(ord, lvl.Price) {
			break
		}
		fillSize := minF(ord.LeavesQty, lvl.Size)
		notional := bttypes.PriceNotional(lvl.Price, fillSize)
		fee := notional.MulFloat(o.constraints.TakerFeeBps / 10000.0)

		ord.LeavesQty -= fillSize
		ord.FilledQty += fillSize
		if ord.LeavesQty == 0 {
			ord.State = bttypes.StateFilled
		} else {
			ord.State = bttypes.StatePartiallyFilled
		}

		newSize := lvl.Size - fillSize
		bk.ApplySingleDelta(ord.Side.Opposite(), lvl.Price, newSize, nowNS)

		o.outbox = append(o.outbox, Outbound{
			AtNS:   nowNS + o.constraints.FillLatencyNS,
			Source: 0,
			Payload: event.Fill{
				OrderID:   ord.ID,
				Price:     lvl.Price,
				Size:      fillSize,
				IsMaker:   false,
				LeavesQty: ord.LeavesQty,
				Fee:       fee,
			},
		})
	}

	if ord.LeavesQty > 0 {
		switch ord.Type {
		case bttypes.Market, bttypes.IOC:
			cancelled := ord.LeavesQty
			ord.CancelledQty += cancelled
			ord.LeavesQty = 0
			if ord.State != bttypes.StateFilled {
				ord.State = bttypes.StateCancelled
			}
			o.outbox = append(o.outbox, Outbound{
				AtNS:    nowNS,
				Source:  0,
				Payload: event.CancelAck{OrderID: ord.ID, CancelledQty: cancelled},
			})
		default:
			// Limit taker with a partial fill rests the remainder
			// passively at its limit price.
			if o.makerModel == MakerQueuePosition {
				ord.QueueAhead = bk.SizeAt(ord.Side, ord.Price)
			}
		}
	}
}

func topOf(bk *book.Book, side bttypes.Side) (bttypes.Level, bool) {
	levels := bk.Asks()
	if side == bttypes.Sell {
		levels = bk.Bids()
	}
	if len(levels) == 0 {
		return bttypes.Level{}, false
	}
	return levels[0], true
}

func crossable(ord *Order, levelPrice float64) bool {
	if ord.Type == bttypes.Market {
		return true
	}
	if ord.Side == bttypes.Buy {
		return ord.Price >= levelPrice
	}
	return ord.Price <= levelPrice
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// OnOrderReject applies the terminal Rejected transition.
func (o *OMS) OnOrderReject(ev event.OrderReject) {
	ord := o.orders[ev.OrderID]
	if ord == nil || ord.State.IsTerminal() {
		return
	}
	ord.RejectedQty = ord.LeavesQty
	ord.LeavesQty = 0
	ord.State = bttypes.StateRejected
}

// OnFill applies a delivered fill's state transition. Quantities were
// already applied at generation time — the taker walk consumed book
// liquidity, the queue-ahead drain consumed trade volume — so a second
// print arriving before this event dispatches never sees stale leaves.
func (o *OMS) OnFill(ev event.Fill) {
	ord := o.orders[ev.OrderID]
	if ord == nil || ord.State.IsTerminal() {
		return
	}
	if ord.LeavesQty <= 0 {
		ord.State = bttypes.StateFilled
	} else if ord.State != bttypes.StatePendingCancel {
		ord.State = bttypes.StatePartiallyFilled
	}
}

// Cancel requests cancellation of a live or partially-filled order. It
// schedules a CancelAck; the cancel-fill race is resolved entirely by
// the canonical event priority ordering once both land in the queue at
// the same visible_ts — the OMS does nothing special here (Fill
// priority 5 beats CancelAck 7, so a simultaneous fill wins).
func (o *OMS) Cancel(orderID uint64, nowNS int64) error {
	ord := o.orders[orderID]
	if ord == nil {
		return fmt.Errorf("oms: unknown order %d", orderID)
	}
	if ord.State.IsTerminal() {
		return fmt.Errorf("oms: order %d already terminal (%s)", orderID, ord.State)
	}
	ord.State = bttypes.StatePendingCancel
	o.outbox = append(o.outbox, Outbound{
		AtNS:    nowNS + o.constraints.AckLatencyNS,
		Source:  0,
		Payload: event.CancelAck{OrderID: orderID, CancelledQty: ord.LeavesQty},
	})
	return nil
}

// OnCancelAck applies the terminal Cancelled transition. The cancelled
// quantity is whatever is left at delivery time, not the leaves at
// request time: a fill winning the cancel-fill tie has already reduced
// LeavesQty by the time the CancelAck dispatches.
func (o *OMS) OnCancelAck(ev event.CancelAck) {
	ord := o.orders[ev.OrderID]
	if ord == nil || ord.State.IsTerminal() {
		return
	}
	ord.CancelledQty += ord.LeavesQty
	ord.LeavesQty = 0
	ord.State = bttypes.StateCancelled
}

// orderedIDs returns the arena's order ids in ascending order. Orders
// are assigned ids sequentially at submission time, so sorted-id order
// is submission order: iterating o.orders directly would visit orders
// in Go's randomized map order, which would make which of several
// same-price resting orders drains first (and therefore each one's
// fill-vs-still-resting outcome) depend on process-level hash seeding
// instead of only on the run's inputs.
func (o *OMS) orderedIDs() []uint64 {
	ids := make([]uint64, 0, len(o.orders))
	for id := range o.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OnTradePrint drains queue_ahead for resting maker orders at the
// trade's price whose side is lifted by the trade's aggressor, filling
// any remainder as a maker fill.
func (o *OMS) OnTradePrint(ev event.TradePrint, nowNS int64) {
	if o.makerModel != MakerQueuePosition {
		return
	}
	for _, id := range o.orderedIDs() {
		ord := o.orders[id]
		if ord.Token != ev.Token || ord.Price != ev.Price {
			continue
		}
		if !restingState(ord.State) {
			continue
		}
		if ord.Side.Opposite() != ev.AggressorSide {
			continue
		}
		o.drainQueueAhead(ord, ev.Size, nowNS)
	}
}

// OnBookLevelReduced proportionally drains queue_ahead when an L2Delta
// shrinks the aggregate size at a resting order's level. Additions
// behind the order never restore queue_ahead, and an explicit cancel
// ahead cannot be distinguished from a fill ahead — both reduce
// queue_ahead identically, a documented modeling limit.
func (o *OMS) OnBookLevelReduced(token string, side bttypes.Side, price float64, reducedBy float64) {
	if o.makerModel != MakerQueuePosition || reducedBy <= 0 {
		return
	}
	// Called after the book applied the reduction, so the level's current
	// size is what remains of remaining+reducedBy.
	remaining := o.books.Get(token).SizeAt(side, price)
	keep := remaining / (remaining + reducedBy)
	for _, id := range o.orderedIDs() {
		ord := o.orders[id]
		if ord.Token != token || ord.Side != side || ord.Price != price {
			continue
		}
		if !restingState(ord.State) {
			continue
		}
		ord.QueueAhead *= keep
	}
}

// restingState reports whether an order still occupies its place in the
// book's queue. An order pending cancel is still resting until its
// CancelAck dispatches — which is exactly what makes the cancel-fill
// race a race.
func restingState(s bttypes.OrderState) bool {
	return s == bttypes.StateLive || s == bttypes.StatePartiallyFilled || s == bttypes.StatePendingCancel
}

func (o *OMS) drainQueueAhead(ord *Order, tradeSize float64, nowNS int64) {
	avail := tradeSize
	consume := minF(ord.QueueAhead, avail)
	ord.QueueAhead -= consume
	avail -= consume
	if avail <= 0 || ord.LeavesQty <= 0 {
		return
	}
	fillSize := minF(avail, ord.LeavesQty)
	notional := bttypes.PriceNotional(ord.Price, fillSize)
	fee := notional.MulFloat(o.constraints.MakerFeeBps / 10000.0)
	leaves := ord.LeavesQty - fillSize
	ord.LeavesQty = leaves
	ord.FilledQty += fillSize

	o.outbox = append(o.outbox, Outbound{
		AtNS:   nowNS + o.constraints.FillLatencyNS,
		Source: 0,
		Payload: event.Fill{
			OrderID:   ord.ID,
			Price:     ord.Price,
			Size:      fillSize,
			IsMaker:   true,
			LeavesQty: leaves,
			Fee:       fee,
		},
	})
}
