package ledger

import (
	"testing"

	"polyreplay/pkg/bttypes"
)

func TestPostFillTakerBuyScenario(t *testing.T) {
	t.Parallel()

	l := New(Config{InitialCash: bttypes.ToAmount(10000), TraceDepth: 8})
	key := PositionKey{Token: "tok", Outcome: "YES"}

	if err := l.PostFill("fill-1", key, bttypes.Buy, 50, 0.51, bttypes.Zero, 1000); err != nil {
		t.Fatalf("PostFill: %v", err)
	}

	wantCash := bttypes.ToAmount(10000 - 25.5)
	if l.Cash().Cmp(wantCash) != 0 {
		t.Fatalf("cash = %s, want %s", l.Cash(), wantCash)
	}
	if got := l.Position(key); got != 50 {
		t.Fatalf("position = %v, want 50", got)
	}
}

func TestPostFillWithFeeOnly(t *testing.T) {
	t.Parallel()

	l := New(Config{InitialCash: bttypes.ToAmount(10000), TraceDepth: 8})
	key := PositionKey{Token: "tok", Outcome: "YES"}

	fee := bttypes.ToAmount(1)
	if err := l.PostFill("fill-1", key, bttypes.Buy, 100, 0.50, fee, 1000); err != nil {
		t.Fatalf("PostFill: %v", err)
	}

	// 100 shares @ 0.50 = $50 notional + $1 fee => cash 10000 - 51 = 9949
	wantCash := bttypes.ToAmount(9949)
	if l.Cash().Cmp(wantCash) != 0 {
		t.Fatalf("cash = %s, want %s", l.Cash(), wantCash)
	}

	posValue := l.PositionValue(map[string]float64{"tok": 0.50})
	wantPosValue := bttypes.ToAmount(50)
	if posValue.Cmp(wantPosValue) != 0 {
		t.Fatalf("position value = %s, want %s", posValue, wantPosValue)
	}

	equity := l.Cash().Add(posValue)
	wantEquity := bttypes.ToAmount(9999)
	if equity.Cmp(wantEquity) != 0 {
		t.Fatalf("equity = %s, want %s", equity, wantEquity)
	}
}

func TestSettleClosesPositionAndCreditsCash(t *testing.T) {
	t.Parallel()

	l := New(Config{InitialCash: bttypes.ToAmount(10000), TraceDepth: 8})
	key := PositionKey{Token: "tok", Outcome: "YES"}

	if err := l.PostFill("fill-1", key, bttypes.Buy, 100, 0.5, bttypes.Zero, 1000); err != nil {
		t.Fatalf("PostFill: %v", err)
	}

	l.Settle(key, 1.0, 2000)

	if got := l.Position(key); got != 0 {
		t.Fatalf("position after settle = %v, want 0", got)
	}
	// 10000 - 50 (cost) + 100 (proceeds at 1.0) = 10050
	wantCash := bttypes.ToAmount(10050)
	if l.Cash().Cmp(wantCash) != 0 {
		t.Fatalf("cash after settle = %s, want %s", l.Cash(), wantCash)
	}
}

func TestStrictModeRejectsNegativeCash(t *testing.T) {
	t.Parallel()

	l := New(Config{InitialCash: bttypes.ToAmount(10), StrictMode: true, TraceDepth: 4})
	key := PositionKey{Token: "tok", Outcome: "YES"}

	err := l.PostFill("fill-1", key, bttypes.Buy, 100, 1.0, bttypes.Zero, 1000)
	if err == nil {
		t.Fatal("expected an error for negative cash in strict mode")
	}
}

func TestNonStrictModeClampsNegativeCashAndCounts(t *testing.T) {
	t.Parallel()

	l := New(Config{InitialCash: bttypes.ToAmount(10), TraceDepth: 4})
	key := PositionKey{Token: "tok", Outcome: "YES"}

	if err := l.PostFill("fill-1", key, bttypes.Buy, 100, 1.0, bttypes.Zero, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Cash().Cmp(bttypes.Zero) != 0 {
		t.Fatalf("cash = %s, want clamped to 0", l.Cash())
	}
	if l.NegativeCashWarnings() != 1 {
		t.Fatalf("NegativeCashWarnings() = %d, want 1", l.NegativeCashWarnings())
	}
}

func TestTraceRingBufferBoundedByDepth(t *testing.T) {
	t.Parallel()

	l := New(Config{InitialCash: bttypes.ToAmount(10000), TraceDepth: 2})
	key := PositionKey{Token: "tok", Outcome: "YES"}

	for i := 0; i < 5; i++ {
		if err := l.PostFill("fill", key, bttypes.Buy, 1, 0.5, bttypes.Zero, int64(i)); err != nil {
			t.Fatalf("PostFill: %v", err)
		}
	}
	if len(l.Trace()) != 2 {
		t.Fatalf("len(Trace()) = %d, want 2 (bounded by TraceDepth)", len(l.Trace()))
	}
}
