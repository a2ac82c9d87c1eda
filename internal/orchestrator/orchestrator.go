// Package orchestrator drives the deterministic pump loop: pull events
// from every feed adapter into the unified queue, pop the earliest by
// canonical order, advance the clock, mutate book/OMS/ledger state, and
// dispatch strategy callbacks — all on one goroutine. Bit-identical
// replay requires that nothing in this loop reads the wall clock,
// iterates a map in hash order, or yields to another goroutine.
package orchestrator

import (
	"fmt"
	"log/slog"
	"sort"

	"polyreplay/internal/book"
	"polyreplay/internal/clock"
	"polyreplay/internal/diagnostics"
	"polyreplay/internal/equity"
	"polyreplay/internal/event"
	"polyreplay/internal/feed"
	"polyreplay/internal/feedqueue"
	"polyreplay/internal/latency"
	"polyreplay/internal/ledger"
	"polyreplay/internal/oms"
	"polyreplay/internal/resultio"
	"polyreplay/internal/strategy"
	"polyreplay/internal/visibility"
	"polyreplay/pkg/bttypes"
)

// systemSource tags the strategy timers the orchestrator schedules
// distinctly from any feed adapter's own dataset-assigned source id,
// purely for log/diagnostic readability; it plays no role in queue
// ordering beyond what event.Less already does with any uint8 value.
// OMS-generated events (acks, fills, rejects, cancel acks) keep the
// Source the OMS assigns them, which is 0.
const systemSource uint8 = 255

// feedTag wraps a feed adapter's payload with the Go-level index of the
// adapter that produced it, so the pump can refill that adapter's single
// look-ahead buffer once its event is popped — a bookkeeping concern
// entirely orthogonal to the wire-level Source field, which carries the
// dataset's own stream id and feeds the canonical tie-break.
type feedTag struct {
	event.Payload
	adapterIdx int
}

// Config bundles the fully-resolved run parameters the orchestrator
// needs, already converted from YAML-facing config.Config into the
// concrete collaborator types.
type Config struct {
	LatencyModel    latency.Model
	StrictMode      bool
	VenueConstraints oms.VenueConstraints
	MakerFillModel  oms.MakerFillModel
	LedgerConfig    ledger.Config
	MarkToMarketNS  int64 // 0 disables periodic MarkToMarket
	EndTimeNS       int64 // 0 means unbounded
	StartTimeNS     int64

	// InputsHash is the caller's hash over (dataset, config, strategy
	// params, seed), folded into RunFingerprint. Zero is allowed; the
	// fingerprint then covers outputs only.
	InputsHash uint64

	// Logger defaults to slog.Default when nil.
	Logger *slog.Logger
}

// Orchestrator owns every mutable collaborator for one run and
// implements strategy.Context/OrderEntry/Scheduler/Positions directly,
// since it is the single mutator of all of them.
type Orchestrator struct {
	cfg Config

	clk   *clock.SimClock
	queue *feedqueue.UnifiedFeedQueue
	vis   *visibility.Enforcer
	books *book.Registry
	oms   *oms.OMS
	lg    *ledger.Ledger
	eq    *equity.Recorder
	diag  *diagnostics.Collector
	strat strategy.Strategy
	log   *slog.Logger

	adapters  []feed.Adapter
	exhausted []bool

	nextTimerID  uint64
	nextMarkNS   int64
	haveNextMark bool
	totalFills   int
	fillAgg      map[uint64]*fillAgg
	closedTokens map[string]bool
}

type fillAgg struct {
	notional bttypes.Amount
	fees     bttypes.Amount
	qty      float64
}

// New constructs an orchestrator ready to Run. adapters are assigned
// stream indices in the order given.
func New(cfg Config, strat strategy.Strategy, adapters []feed.Adapter) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	books := book.NewRegistry()
	o := &Orchestrator{
		cfg:          cfg,
		clk:          clock.New(cfg.StartTimeNS),
		queue:        feedqueue.New(cfg.LatencyModel, cfg.StrictMode),
		vis:          visibility.New(cfg.StrictMode),
		books:        books,
		oms:          oms.New(cfg.VenueConstraints, cfg.MakerFillModel, books),
		lg:           ledger.New(cfg.LedgerConfig),
		eq:           equity.NewRecorder(),
		diag:         diagnostics.NewCollector(cfg.LedgerConfig.TraceDepth),
		strat:        strat,
		log:          logger.With("component", "orchestrator"),
		adapters:     adapters,
		exhausted:    make([]bool, len(adapters)),
		fillAgg:      make(map[uint64]*fillAgg),
		closedTokens: make(map[string]bool),
	}
	return o
}

// --- strategy.Context / OrderEntry / Scheduler / Positions ---

func (o *Orchestrator) Timestamp() int64 { return o.vis.DecisionTime() }

func (o *Orchestrator) Orders() strategy.OrderEntry { return o }

func (o *Orchestrator) Scheduler() strategy.Scheduler { return o }

func (o *Orchestrator) Positions() strategy.Positions { return o }

func (o *Orchestrator) Book(token string) (strategy.BookView, bool) {
	return o.bookView(token), true
}

// bookView builds the strategy-facing snapshot for token. Every read
// goes through the visibility enforcer: a book may only reflect events
// at or before the current decision time, so a mutation stamped ahead
// of the watermark panics in strict mode and is counted in research
// mode.
func (o *Orchestrator) bookView(token string) strategy.BookView {
	bk := o.books.Get(token)
	o.vis.Check(bk.LastUpdate())
	return strategy.BookView{Token: token, Bids: bk.Bids(), Asks: bk.Asks(), Ready: bk.IsReady()}
}

func (o *Orchestrator) Send(req oms.Request) (uint64, error) {
	return o.oms.Submit(req, o.clk.Now())
}

func (o *Orchestrator) Cancel(orderID uint64) error {
	return o.oms.Cancel(orderID, o.clk.Now())
}

func (o *Orchestrator) Order(orderID uint64) (strategy.OrderView, bool) {
	ord := o.oms.Order(orderID)
	if ord == nil {
		return strategy.OrderView{}, false
	}
	return strategy.OrderView{
		ID: ord.ID, Token: ord.Token, Side: ord.Side, Type: ord.Type,
		Price: ord.Price, SizeTotal: ord.SizeTotal, LeavesQty: ord.LeavesQty, State: ord.State,
	}, true
}

func (o *Orchestrator) SetTimer(dtNS int64, payload []byte) uint64 {
	o.nextTimerID++
	id := o.nextTimerID
	o.queue.PushAt(o.clk.Now()+dtNS, systemSource, event.PrioritySignal, event.Timer{TimerID: id, Payload: payload})
	return id
}

func (o *Orchestrator) Position(token, outcome string) float64 {
	return o.lg.Position(ledger.PositionKey{Token: token, Outcome: outcome})
}

func (o *Orchestrator) Cash() bttypes.Amount { return o.lg.Cash() }

// --- pump loop ---

func (o *Orchestrator) pullAndPush(i int) error {
	if o.exhausted[i] {
		return nil
	}
	rec, ok, err := o.adapters[i].NextEvent()
	if err != nil {
		return fmt.Errorf("orchestrator: feed %s: %w", o.adapters[i].Name(), err)
	}
	if !ok {
		o.exhausted[i] = true
		return nil
	}
	return o.queue.Push(rec.SourceTimeNS, rec.IngestTimeNS, rec.Source, rec.Priority, feedTag{Payload: rec.Payload, adapterIdx: i})
}

func (o *Orchestrator) drainOMSOutbox() {
	for _, ob := range o.oms.Drain() {
		o.queue.PushAt(ob.AtNS, ob.Source, ob.Payload.Priority(), ob.Payload)
	}
}

// Run executes the pump loop to completion and returns the assembled
// results. It always records a finalization equity point before
// returning, even when a fatal invariant violation unwinds the loop
// early.
func (o *Orchestrator) Run() (res *resultio.Results, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = o.finalize(fmt.Errorf("fatal invariant violation: %v", r))
		}
	}()
	o.log.Info("run starting",
		"adapters", len(o.adapters),
		"strict_mode", o.cfg.StrictMode,
		"end_time_ns", o.cfg.EndTimeNS,
	)
	o.strat.OnStart(o)
	o.eq.Observe(o.clk.Now(), o.lg, o.midPrices(), equity.TriggerInitialDeposit)

	for i := range o.adapters {
		if err := o.pullAndPush(i); err != nil {
			return o.finalize(err)
		}
	}

	for {
		if o.allDone() {
			break
		}
		te, ok := o.queue.Pop()
		if !ok {
			break
		}
		if o.cfg.EndTimeNS > 0 && te.VisibleTS > o.cfg.EndTimeNS {
			break
		}

		if err := o.clk.AdvanceTo(te.VisibleTS); err != nil {
			return o.finalize(fmt.Errorf("orchestrator: %w", err))
		}
		o.vis.Advance(te.VisibleTS)

		payload := te.Payload
		if tag, ok := payload.(feedTag); ok {
			payload = tag.Payload
			if err := o.pullAndPush(tag.adapterIdx); err != nil {
				return o.finalize(err)
			}
		}
		o.diag.Observe(event.TimestampedEvent{
			VisibleTS: te.VisibleTS, SourceTime: te.SourceTime, Seq: te.Seq,
			Source: te.Source, Priority: te.Priority, Payload: payload,
		})

		if err := o.dispatch(te.VisibleTS, payload); err != nil {
			return o.finalize(fmt.Errorf("orchestrator: %w", err))
		}
		o.drainOMSOutbox()
		o.maybeMarkToMarket(te.VisibleTS)
	}

	return o.finalize(nil)
}

func (o *Orchestrator) allDone() bool {
	if !o.queue.IsEmpty() {
		return false
	}
	for _, done := range o.exhausted {
		if !done {
			return false
		}
	}
	return true
}

func (o *Orchestrator) maybeMarkToMarket(nowNS int64) {
	if o.cfg.MarkToMarketNS <= 0 {
		return
	}
	if !o.haveNextMark {
		o.nextMarkNS = nowNS + o.cfg.MarkToMarketNS
		o.haveNextMark = true
		return
	}
	if nowNS < o.nextMarkNS {
		return
	}
	o.eq.Observe(nowNS, o.lg, o.midPrices(), equity.TriggerMarkToMarket)
	o.nextMarkNS = nowNS + o.cfg.MarkToMarketNS
}

// midPrices builds the token->mid map equity.Observe needs, visiting
// tokens in sorted order: Registry.Tokens() itself documents
// non-deterministic order, and feeding it unsorted into anything that
// accumulates would reintroduce the hazard internal/ledger.PositionValue
// already guards against.
func (o *Orchestrator) midPrices() map[string]float64 {
	tokens := o.books.Tokens()
	sort.Strings(tokens)
	out := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		bk := o.books.Get(t)
		if mid, ok := bk.MidPrice(); ok {
			out[t] = mid
		}
	}
	return out
}

func (o *Orchestrator) dispatch(nowNS int64, payload event.Payload) error {
	switch p := payload.(type) {
	case event.L2BookSnapshot:
		bk := o.books.Get(p.Token)
		if err := bk.ApplySnapshot(p.Bids, p.Asks, p.ExchangeSeq, nowNS); err != nil {
			o.diag.Record(diagnostics.KindCrossedBook)
			o.notifyHalt(p.Token, err.Error())
		}
		o.notifyBook(p.Token)
	case event.L2Delta:
		bk := o.books.Get(p.Token)
		beforeBids := sizesAt(bk, bttypes.Buy, p.BidUpdates)
		beforeAsks := sizesAt(bk, bttypes.Sell, p.AskUpdates)
		if err := bk.ApplyDelta(p.BidUpdates, p.AskUpdates, p.ExchangeSeq, nowNS); err != nil {
			o.diag.Record(diagnostics.KindSequenceGap)
			o.notifyHalt(p.Token, err.Error())
		} else {
			o.drainLevelReductions(p.Token, bttypes.Buy, p.BidUpdates, beforeBids)
			o.drainLevelReductions(p.Token, bttypes.Sell, p.AskUpdates, beforeAsks)
		}
		o.notifyBook(p.Token)
	case event.L2BookDelta:
		bk := o.books.Get(p.Token)
		before := bk.SizeAt(p.Side, p.Price)
		if err := bk.ApplySingleDelta(p.Side, p.Price, p.NewSize, nowNS); err != nil {
			o.diag.Record(diagnostics.KindCrossedBook)
			o.notifyHalt(p.Token, err.Error())
		} else if p.NewSize < before {
			o.oms.OnBookLevelReduced(p.Token, p.Side, p.Price, before-p.NewSize)
		}
		o.notifyBook(p.Token)
	case event.TradePrint:
		o.oms.OnTradePrint(p, nowNS)
		o.strat.OnTrade(o, p)
	case event.OrderAck:
		o.oms.OnOrderAck(p, nowNS)
		o.strat.OnOrderAck(o, p)
	case event.OrderReject:
		o.oms.OnOrderReject(p)
		o.strat.OnOrderReject(o, p)
	case event.Fill:
		o.oms.OnFill(p)
		o.postFill(p, nowNS)
		o.strat.OnFill(o, p)
		o.eq.Observe(nowNS, o.lg, o.midPrices(), equity.TriggerFill)
	case event.CancelAck:
		o.oms.OnCancelAck(p)
		o.strat.OnCancelAck(o, p)
	case event.MarketStatusChange:
		o.notifyBook(p.Token)
	case event.ResolutionEvent:
		o.settle(p, nowNS)
	case event.Signal:
		o.strat.OnSignal(o, p)
	case event.Timer:
		o.strat.OnTimer(o, p)
	default:
		return fmt.Errorf("unhandled event kind %q", payload.Kind())
	}
	return nil
}

func sizesAt(bk *book.Book, side bttypes.Side, updates []bttypes.Level) []float64 {
	out := make([]float64, len(updates))
	for i, l := range updates {
		out[i] = bk.SizeAt(side, l.Price)
	}
	return out
}

func (o *Orchestrator) drainLevelReductions(token string, side bttypes.Side, updates []bttypes.Level, before []float64) {
	for i, l := range updates {
		if l.Size < before[i] {
			o.oms.OnBookLevelReduced(token, side, l.Price, before[i]-l.Size)
		}
	}
}

// notifyHalt escalates a data validity failure. The strategy SPI has no
// dedicated halt callback — a halt is surfaced through the next
// OnBookUpdate with Ready=false, which the dispatch paths that call
// this already emit.
func (o *Orchestrator) notifyHalt(token, reason string) {
	if o.cfg.StrictMode {
		panic(fmt.Sprintf("orchestrator: fatal data validity failure for %s: %s", token, reason))
	}
	o.log.Warn("market halted", "token", token, "reason", reason)
}

func (o *Orchestrator) notifyBook(token string) {
	o.strat.OnBookUpdate(o, o.bookView(token))
}

func (o *Orchestrator) postFill(f event.Fill, nowNS int64) {
	ord := o.oms.Order(f.OrderID)
	if ord == nil {
		return
	}
	key := ledger.PositionKey{Token: ord.Token, Outcome: "YES"}
	if err := o.lg.PostFill(f.FillID, key, ord.Side, f.Size, f.Price, f.Fee, nowNS); err != nil {
		if o.cfg.StrictMode {
			panic(fmt.Sprintf("orchestrator: %v", err))
		}
		o.diag.Record(diagnostics.KindNegativeCash)
	}

	agg, ok := o.fillAgg[f.OrderID]
	if !ok {
		agg = &fillAgg{}
		o.fillAgg[f.OrderID] = agg
	}
	agg.notional = agg.notional.Add(bttypes.PriceNotional(f.Price, f.Size))
	agg.fees = agg.fees.Add(f.Fee)
	agg.qty += f.Size
	o.totalFills++
}

// settle closes a resolved token's positions across both binary
// outcomes. ResolutionEvent carries only a token, not an outcome key, so
// this settles the conventional YES/NO pair; Settle is a no-op for any
// outcome the ledger never opened a position in.
func (o *Orchestrator) settle(res event.ResolutionEvent, nowNS int64) {
	for _, outcome := range []string{"YES", "NO"} {
		o.lg.Settle(ledger.PositionKey{Token: res.Token, Outcome: outcome}, res.Resolution.SettlementPrice, nowNS)
	}
	o.oms.MarkClosed(res.Token)
	o.closedTokens[res.Token] = true
	o.eq.Observe(nowNS, o.lg, o.midPrices(), equity.TriggerSettlement)
}

// finalize always records a FINALIZATION equity point and assembles
// Results, even when runErr is non-nil.
func (o *Orchestrator) finalize(runErr error) (*resultio.Results, error) {
	o.strat.OnStop(o)
	o.eq.Finalize(o.clk.Now(), o.lg, o.midPrices())

	curve := o.eq.Curve()
	finalEquity := o.lg.Cash().Add(o.lg.PositionValue(o.midPrices()))
	finalPnL := finalEquity.Sub(o.cfg.LedgerConfig.InitialCash)

	res := &resultio.Results{
		RunID:             resultio.NewRunID(),
		FinalPnL:          finalPnL,
		TotalFills:        o.totalFills,
		PerOrderStats:     o.perOrderStats(),
		EquityCurvePoints: resultio.FromEquityCurve(curve),
		RollingHash:       curve.RollingHash(),
		ViolationCounts:   o.diag.Counts(),
		MaxDrawdown:       curve.MaxDrawdown(),
	}
	res.RunFingerprint = resultio.Fingerprint(o.cfg.InputsHash, res.RollingHash)

	if runErr != nil {
		o.log.Error("run failed", "error", runErr, "total_fills", o.totalFills)
		report := o.diag.BuildReport(runErr.Error(), o.lg, o.queueHead())
		return res, report
	}
	o.log.Info("run complete",
		"total_fills", o.totalFills,
		"final_pnl", finalPnL.String(),
		"rolling_hash", fmt.Sprintf("%016x", res.RollingHash),
	)
	return res, nil
}

func (o *Orchestrator) queueHead() *event.TimestampedEvent {
	te, ok := o.queue.Peek()
	if !ok {
		return nil
	}
	return &te
}

func (o *Orchestrator) perOrderStats() []resultio.OrderStats {
	orders := o.oms.AllOrders()
	out := make([]resultio.OrderStats, 0, len(orders))
	for _, ord := range orders {
		agg := o.fillAgg[ord.ID]
		stat := resultio.OrderStats{
			OrderID:      ord.ID,
			Token:        ord.Token,
			Side:         string(ord.Side),
			CancelledQty: ord.CancelledQty,
		}
		if agg != nil {
			stat.FilledQty = agg.qty
			stat.Fees = agg.fees
			if agg.qty > 0 {
				stat.AvgFillPx = agg.notional.Float64() / agg.qty
			}
		}
		out = append(out, stat)
	}
	return out
}
