package strategy

import (
	"fmt"
	"math"
	"strconv"

	"polyreplay/internal/event"
	"polyreplay/internal/oms"
	"polyreplay/pkg/bttypes"
)

func init() { Register("quoter", newQuoter) }

// Quoter is a simplified Avellaneda-Stoikov market maker: a reservation
// price skewed by inventory, an optimal spread widened by risk
// aversion, volatility, and order-arrival intensity. It has no
// wall-clock ticker — it re-quotes synchronously on every book update
// for its token.
type Quoter struct {
	token        string
	gamma        float64
	sigma        float64
	k            float64
	t            float64
	orderSize    float64
	tickSize     float64
	minSpreadBps float64

	bidID, askID     uint64
	haveBid, haveAsk bool
}

func newQuoter(params Params) (Strategy, error) {
	q := &Quoter{
		token:        params["token"],
		gamma:        floatParam(params, "gamma", 0.1),
		sigma:        floatParam(params, "sigma", 0.02),
		k:            floatParam(params, "k", 1.5),
		t:            floatParam(params, "t", 1.0),
		orderSize:    floatParam(params, "order_size", 10),
		tickSize:     floatParam(params, "tick_size", 0.01),
		minSpreadBps: floatParam(params, "min_spread_bps", 20),
	}
	if q.token == "" {
		return nil, fmt.Errorf("quoter: params[\"token\"] is required")
	}
	if q.gamma <= 0 || q.k <= 0 {
		return nil, fmt.Errorf("quoter: gamma and k must be > 0")
	}
	return q, nil
}

func floatParam(p Params, key string, def float64) float64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func (q *Quoter) OnStart(Context) {}

func (q *Quoter) OnStop(ctx Context) {
	if q.haveBid {
		ctx.Orders().Cancel(q.bidID)
	}
	if q.haveAsk {
		ctx.Orders().Cancel(q.askID)
	}
}

func (q *Quoter) OnBookUpdate(ctx Context, book BookView) {
	if book.Token != q.token || !book.Ready {
		return
	}
	mid, ok := book.MidPrice()
	if !ok {
		return
	}
	q.requote(ctx, mid)
}

// requote computes reservation price r = mid - q*gamma*sigma^2*T and
// optimal spread delta = gamma*sigma^2*T + (2/gamma)*ln(1+gamma/k),
// then cancels and reposts both sides as post-only limit orders.
func (q *Quoter) requote(ctx Context, mid float64) {
	pos := ctx.Positions().Position(q.token, "YES")
	skew := 0.0
	if q.orderSize > 0 {
		skew = clamp(pos/(q.orderSize*10), -1, 1)
	}

	reservation := mid - skew*q.gamma*q.sigma*q.sigma*q.t
	spread := q.gamma*q.sigma*q.sigma*q.t + (2/q.gamma)*math.Log(1+q.gamma/q.k)
	if minSpread := q.minSpreadBps / 10000.0; spread < minSpread {
		spread = minSpread
	}

	bid := roundToTick(reservation-spread/2, q.tickSize)
	ask := roundToTick(reservation+spread/2, q.tickSize)
	if bid <= 0 {
		bid = q.tickSize
	}
	if ask >= 1 {
		ask = 1 - q.tickSize
	}
	if bid >= ask {
		return
	}

	if q.haveBid {
		ctx.Orders().Cancel(q.bidID)
		q.haveBid = false
	}
	if q.haveAsk {
		ctx.Orders().Cancel(q.askID)
		q.haveAsk = false
	}

	if id, err := ctx.Orders().Send(oms.Request{
		Token: q.token, Side: bttypes.Buy, Type: bttypes.Limit, TIF: bttypes.GTC,
		Price: bid, Size: q.orderSize, PostOnly: true,
	}); err == nil {
		q.bidID, q.haveBid = id, true
	}
	if id, err := ctx.Orders().Send(oms.Request{
		Token: q.token, Side: bttypes.Sell, Type: bttypes.Limit, TIF: bttypes.GTC,
		Price: ask, Size: q.orderSize, PostOnly: true,
	}); err == nil {
		q.askID, q.haveAsk = id, true
	}
}

func (q *Quoter) OnTrade(Context, event.TradePrint) {}
func (q *Quoter) OnOrderAck(Context, event.OrderAck) {}

func (q *Quoter) OnOrderReject(ctx Context, rej event.OrderReject) {
	if rej.OrderID == q.bidID {
		q.haveBid = false
	}
	if rej.OrderID == q.askID {
		q.haveAsk = false
	}
}

func (q *Quoter) OnFill(ctx Context, fill event.Fill) {
	if fill.LeavesQty != 0 {
		return
	}
	if fill.OrderID == q.bidID {
		q.haveBid = false
	}
	if fill.OrderID == q.askID {
		q.haveAsk = false
	}
}

func (q *Quoter) OnCancelAck(ctx Context, cancel event.CancelAck) {
	if cancel.OrderID == q.bidID {
		q.haveBid = false
	}
	if cancel.OrderID == q.askID {
		q.haveAsk = false
	}
}

func (q *Quoter) OnTimer(Context, event.Timer) {}

func (q *Quoter) OnSignal(Context, event.Signal) {}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func roundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}
