package orchestrator

import (
	"testing"

	"polyreplay/internal/event"
	"polyreplay/internal/feed"
	"polyreplay/internal/latency"
	"polyreplay/internal/ledger"
	"polyreplay/internal/oms"
	"polyreplay/internal/resultio"
	"polyreplay/internal/strategy"
	"polyreplay/pkg/bttypes"
)

// sliceAdapter replays a fixed record slice, for driving the pump in tests.
type sliceAdapter struct {
	name string
	recs []feed.Record
	idx  int
}

func (a *sliceAdapter) NextEvent() (feed.Record, bool, error) {
	if a.idx >= len(a.recs) {
		return feed.Record{}, false, nil
	}
	r := a.recs[a.idx]
	a.idx++
	return r, true, nil
}

func (a *sliceAdapter) PeekTime() (int64, bool) {
	if a.idx >= len(a.recs) {
		return 0, false
	}
	return a.recs[a.idx].SourceTimeNS, true
}

func (a *sliceAdapter) Reset() error   { a.idx = 0; return nil }
func (a *sliceAdapter) Remaining() int { return len(a.recs) - a.idx }
func (a *sliceAdapter) Name() string   { return a.name }

// scriptStrategy overrides selected Passthrough callbacks with closures.
type scriptStrategy struct {
	strategy.Passthrough
	onBook   func(ctx strategy.Context, b strategy.BookView)
	onTrade  func(ctx strategy.Context, tp event.TradePrint)
	rejects  []event.OrderReject
	fills    []event.Fill
	cancels  []event.CancelAck
}

func (s *scriptStrategy) OnBookUpdate(ctx strategy.Context, b strategy.BookView) {
	if s.onBook != nil {
		s.onBook(ctx, b)
	}
}

func (s *scriptStrategy) OnTrade(ctx strategy.Context, tp event.TradePrint) {
	if s.onTrade != nil {
		s.onTrade(ctx, tp)
	}
}

func (s *scriptStrategy) OnOrderReject(_ strategy.Context, rej event.OrderReject) {
	s.rejects = append(s.rejects, rej)
}

func (s *scriptStrategy) OnFill(_ strategy.Context, fill event.Fill) {
	s.fills = append(s.fills, fill)
}

func (s *scriptStrategy) OnCancelAck(_ strategy.Context, ca event.CancelAck) {
	s.cancels = append(s.cancels, ca)
}

func testConfig(maker oms.MakerFillModel) Config {
	return Config{
		LatencyModel:   latency.RecordedArrivalModel{},
		StrictMode:     false,
		MakerFillModel: maker,
		LedgerConfig: ledger.Config{
			InitialCash: bttypes.ToAmount(1000),
			TraceDepth:  64,
		},
	}
}

func snapshotRec(atNS int64, token string, bids, asks []bttypes.Level, seq uint64) feed.Record {
	return feed.Record{
		SourceTimeNS: atNS,
		IngestTimeNS: atNS,
		Priority:     event.PriorityBookSnapshot,
		Payload:      event.L2BookSnapshot{Token: token, Bids: bids, Asks: asks, ExchangeSeq: seq},
	}
}

func tradeRec(atNS int64, token string, price, size float64, aggressor bttypes.Side) feed.Record {
	return feed.Record{
		SourceTimeNS: atNS,
		IngestTimeNS: atNS,
		Priority:     event.PriorityTradePrint,
		Payload:      event.TradePrint{Token: token, Price: price, Size: size, AggressorSide: aggressor},
	}
}

func runOnce(t *testing.T, cfg Config, strat strategy.Strategy, recs []feed.Record) *resultio.Results {
	t.Helper()
	orch := New(cfg, strat, []feed.Adapter{&sliceAdapter{name: "test", recs: recs}})
	res, err := orch.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func wantAmount(t *testing.T, got bttypes.Amount, want float64, label string) {
	t.Helper()
	if got.Cmp(bttypes.ToAmount(want)) != 0 {
		t.Fatalf("%s = %s, want %v", label, got, want)
	}
}

func TestTakerFillEndToEnd(t *testing.T) {
	t.Parallel()

	strat := &scriptStrategy{}
	submitted := false
	strat.onBook = func(ctx strategy.Context, b strategy.BookView) {
		if submitted || !b.Ready {
			return
		}
		submitted = true
		if _, err := ctx.Orders().Send(oms.Request{
			Token: "tok", Side: bttypes.Buy, Type: bttypes.Market, Size: 50,
		}); err != nil {
			t.Errorf("Send: %v", err)
		}
	}

	res := runOnce(t, testConfig(oms.MakerDisabled), strat, []feed.Record{
		snapshotRec(1000, "tok",
			[]bttypes.Level{{Price: 0.49, Size: 100}},
			[]bttypes.Level{{Price: 0.51, Size: 100}}, 1),
	})

	if res.TotalFills != 1 {
		t.Fatalf("total_fills = %d, want 1", res.TotalFills)
	}
	if len(strat.fills) != 1 || strat.fills[0].Price != 0.51 || strat.fills[0].Size != 50 {
		t.Fatalf("unexpected fills: %+v", strat.fills)
	}
	if strat.fills[0].IsMaker {
		t.Fatal("a market order crossing the book must fill as taker")
	}
	if len(res.EquityCurvePoints) != 3 {
		t.Fatalf("equity curve length = %d, want 3 (init, fill, finalize)", len(res.EquityCurvePoints))
	}
	// 1000 - 0.51*50 = 974.50, visible from the fill observation on.
	wantAmount(t, res.EquityCurvePoints[1].Cash, 974.5, "cash after fill")
	if len(res.PerOrderStats) != 1 || res.PerOrderStats[0].FilledQty != 50 || res.PerOrderStats[0].AvgFillPx != 0.51 {
		t.Fatalf("unexpected per-order stats: %+v", res.PerOrderStats)
	}
}

func TestPostOnlyCrossRejectsWithoutFill(t *testing.T) {
	t.Parallel()

	strat := &scriptStrategy{}
	submitted := false
	strat.onBook = func(ctx strategy.Context, b strategy.BookView) {
		if submitted || !b.Ready {
			return
		}
		submitted = true
		ctx.Orders().Send(oms.Request{
			Token: "tok", Side: bttypes.Buy, Type: bttypes.Limit,
			Price: 0.52, Size: 10, PostOnly: true,
		})
	}

	res := runOnce(t, testConfig(oms.MakerDisabled), strat, []feed.Record{
		snapshotRec(1000, "tok",
			[]bttypes.Level{{Price: 0.49, Size: 100}},
			[]bttypes.Level{{Price: 0.51, Size: 100}}, 1),
	})

	if res.TotalFills != 0 {
		t.Fatalf("total_fills = %d, want 0", res.TotalFills)
	}
	if len(strat.rejects) != 1 || strat.rejects[0].Reason != event.RejectPostOnlyCross {
		t.Fatalf("expected one PostOnlyCross reject, got %+v", strat.rejects)
	}
	last := res.EquityCurvePoints[len(res.EquityCurvePoints)-1]
	wantAmount(t, last.Cash, 1000, "final cash")
}

func TestMakerFillAfterQueueAheadDrains(t *testing.T) {
	t.Parallel()

	strat := &scriptStrategy{}
	submitted := false
	strat.onBook = func(ctx strategy.Context, b strategy.BookView) {
		if submitted || !b.Ready {
			return
		}
		submitted = true
		ctx.Orders().Send(oms.Request{
			Token: "tok", Side: bttypes.Buy, Type: bttypes.Limit, Price: 0.49, Size: 100,
		})
	}

	res := runOnce(t, testConfig(oms.MakerQueuePosition), strat, []feed.Record{
		snapshotRec(1000, "tok",
			[]bttypes.Level{{Price: 0.49, Size: 200}},
			[]bttypes.Level{{Price: 0.51, Size: 100}}, 1),
		// 200 rest ahead of the order; the first print drains the queue
		// to 50, the second consumes the remaining 50 and fills 30.
		tradeRec(2000, "tok", 0.49, 150, bttypes.Sell),
		tradeRec(3000, "tok", 0.49, 80, bttypes.Sell),
	})

	if res.TotalFills != 1 {
		t.Fatalf("total_fills = %d, want 1", res.TotalFills)
	}
	if len(strat.fills) != 1 {
		t.Fatalf("expected one fill, got %+v", strat.fills)
	}
	fill := strat.fills[0]
	if !fill.IsMaker || fill.Size != 30 || fill.Price != 0.49 {
		t.Fatalf("unexpected maker fill: %+v", fill)
	}
	if fill.LeavesQty != 70 {
		t.Fatalf("leaves = %v, want 70", fill.LeavesQty)
	}
}

func TestCancelLosesTieToFill(t *testing.T) {
	t.Parallel()

	strat := &scriptStrategy{}
	submitted, cancelled := false, false
	var orderID uint64
	strat.onBook = func(ctx strategy.Context, b strategy.BookView) {
		if submitted || !b.Ready {
			return
		}
		submitted = true
		orderID, _ = ctx.Orders().Send(oms.Request{
			Token: "tok", Side: bttypes.Buy, Type: bttypes.Limit, Price: 0.49, Size: 100,
		})
	}
	// The cancel request lands in the same dispatch instant as the trade
	// that fills the order, so the Fill and the CancelAck share a
	// visible_ts and the Fill's lower priority class wins the tie.
	strat.onTrade = func(ctx strategy.Context, tp event.TradePrint) {
		if cancelled {
			return
		}
		cancelled = true
		if err := ctx.Orders().Cancel(orderID); err != nil {
			t.Errorf("Cancel: %v", err)
		}
	}

	res := runOnce(t, testConfig(oms.MakerQueuePosition), strat, []feed.Record{
		snapshotRec(1000, "tok",
			[]bttypes.Level{{Price: 0.48, Size: 100}},
			[]bttypes.Level{{Price: 0.51, Size: 100}}, 1),
		tradeRec(2000, "tok", 0.49, 40, bttypes.Sell),
	})

	if len(strat.fills) != 1 || strat.fills[0].Size != 40 {
		t.Fatalf("expected the fill to win the tie, got fills %+v", strat.fills)
	}
	if len(strat.cancels) != 1 {
		t.Fatalf("expected a cancel ack for the remainder, got %+v", strat.cancels)
	}
	stats := res.PerOrderStats
	if len(stats) != 1 || stats[0].FilledQty != 40 || stats[0].CancelledQty != 60 {
		t.Fatalf("per-order stats = %+v, want filled 40, cancelled 60", stats)
	}
}

func TestSequenceGapHaltsAndRejectsOrders(t *testing.T) {
	t.Parallel()

	strat := &scriptStrategy{}
	submitted := false
	strat.onBook = func(ctx strategy.Context, b strategy.BookView) {
		if b.Ready || submitted {
			return
		}
		// Book went not-ready: a marketable order must reject.
		submitted = true
		ctx.Orders().Send(oms.Request{
			Token: "tok", Side: bttypes.Buy, Type: bttypes.Market, Size: 10,
		})
	}

	res := runOnce(t, testConfig(oms.MakerDisabled), strat, []feed.Record{
		snapshotRec(1000, "tok",
			[]bttypes.Level{{Price: 0.49, Size: 100}},
			[]bttypes.Level{{Price: 0.51, Size: 100}}, 10),
		{
			SourceTimeNS: 2000, IngestTimeNS: 2000,
			Priority: event.PriorityBookDelta,
			Payload: event.L2Delta{
				Token:       "tok",
				BidUpdates:  []bttypes.Level{{Price: 0.49, Size: 50}},
				ExchangeSeq: 12, // gap: expected 11
			},
		},
	})

	if res.ViolationCounts.SequenceGap != 1 {
		t.Fatalf("sequence_gap count = %d, want 1", res.ViolationCounts.SequenceGap)
	}
	if len(strat.rejects) != 1 || strat.rejects[0].Reason != event.RejectMarketHalted {
		t.Fatalf("expected MarketHalted reject, got %+v", strat.rejects)
	}
	if res.TotalFills != 0 {
		t.Fatalf("total_fills = %d, want 0", res.TotalFills)
	}
}

func TestSettlementClosesPositionAtResolutionPrice(t *testing.T) {
	t.Parallel()

	strat := &scriptStrategy{}
	submitted := false
	strat.onBook = func(ctx strategy.Context, b strategy.BookView) {
		if submitted || !b.Ready {
			return
		}
		submitted = true
		ctx.Orders().Send(oms.Request{
			Token: "tok", Side: bttypes.Buy, Type: bttypes.Market, Size: 100,
		})
	}

	res := runOnce(t, testConfig(oms.MakerDisabled), strat, []feed.Record{
		snapshotRec(1000, "tok",
			[]bttypes.Level{{Price: 0.49, Size: 100}},
			[]bttypes.Level{{Price: 0.50, Size: 100}}, 1),
		{
			SourceTimeNS: 5000, IngestTimeNS: 5000,
			Priority: event.PrioritySystem,
			Payload: event.ResolutionEvent{
				Token:      "tok",
				Resolution: event.Resolution{Outcome: true, SettlementPrice: 1.0},
			},
		},
	})

	// 1000 - 0.50*100 + 1.0*100 = 1050.
	wantAmount(t, res.FinalPnL, 50, "final pnl")
	last := res.EquityCurvePoints[len(res.EquityCurvePoints)-1]
	wantAmount(t, last.Cash, 1050, "final cash")
	wantAmount(t, last.PositionValue, 0, "final position value")
}

func TestRunFingerprintIsDeterministic(t *testing.T) {
	t.Parallel()

	recs := []feed.Record{
		snapshotRec(1000, "tok",
			[]bttypes.Level{{Price: 0.49, Size: 200}},
			[]bttypes.Level{{Price: 0.51, Size: 100}}, 1),
		tradeRec(2000, "tok", 0.49, 150, bttypes.Sell),
		tradeRec(3000, "tok", 0.49, 80, bttypes.Sell),
	}
	newStrat := func() strategy.Strategy {
		s := &scriptStrategy{}
		submitted := false
		s.onBook = func(ctx strategy.Context, b strategy.BookView) {
			if submitted || !b.Ready {
				return
			}
			submitted = true
			ctx.Orders().Send(oms.Request{
				Token: "tok", Side: bttypes.Buy, Type: bttypes.Limit, Price: 0.49, Size: 100,
			})
		}
		return s
	}

	cfg := testConfig(oms.MakerQueuePosition)
	cfg.InputsHash = 0xfeedface

	first := runOnce(t, cfg, newStrat(), append([]feed.Record(nil), recs...))
	second := runOnce(t, cfg, newStrat(), append([]feed.Record(nil), recs...))

	if first.RollingHash != second.RollingHash {
		t.Fatalf("rolling hashes differ: %016x vs %016x", first.RollingHash, second.RollingHash)
	}
	if first.RunFingerprint != second.RunFingerprint {
		t.Fatalf("fingerprints differ: %s vs %s", first.RunFingerprint, second.RunFingerprint)
	}
	if first.RunID == second.RunID {
		t.Fatal("run ids must be unique per invocation")
	}
}

func TestOrderQuantityConservation(t *testing.T) {
	t.Parallel()

	strat := &scriptStrategy{}
	submitted, cancelled := false, false
	var orderID uint64
	strat.onBook = func(ctx strategy.Context, b strategy.BookView) {
		if submitted || !b.Ready {
			return
		}
		submitted = true
		orderID, _ = ctx.Orders().Send(oms.Request{
			Token: "tok", Side: bttypes.Buy, Type: bttypes.Limit, Price: 0.49, Size: 100,
		})
	}
	strat.onTrade = func(ctx strategy.Context, tp event.TradePrint) {
		if cancelled {
			return
		}
		cancelled = true
		ctx.Orders().Cancel(orderID)
	}

	res := runOnce(t, testConfig(oms.MakerQueuePosition), strat, []feed.Record{
		snapshotRec(1000, "tok",
			[]bttypes.Level{{Price: 0.48, Size: 100}},
			[]bttypes.Level{{Price: 0.51, Size: 100}}, 1),
		tradeRec(2000, "tok", 0.49, 25, bttypes.Sell),
	})

	stats := res.PerOrderStats[0]
	if got := stats.FilledQty + stats.CancelledQty; got != 100 {
		t.Fatalf("filled+cancelled = %v, want the full order size 100", got)
	}
}
