package oms

import (
	"testing"

	"polyreplay/internal/book"
	"polyreplay/internal/event"
	"polyreplay/pkg/bttypes"
)

func readyBook(t *testing.T, reg *book.Registry, token string, bidPrice, bidSize, askPrice, askSize float64) *book.Book {
	t.Helper()
	bk := reg.Get(token)
	if err := bk.ApplySnapshot(
		[]bttypes.Level{{Price: bidPrice, Size: bidSize}},
		[]bttypes.Level{{Price: askPrice, Size: askSize}},
		1, 0,
	); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	return bk
}

func TestSingleTakerFill(t *testing.T) {
	t.Parallel()

	reg := book.NewRegistry()
	readyBook(t, reg, "tok", 0.49, 100, 0.51, 100)

	o := New(VenueConstraints{TakerFeeBps: 0}, MakerDisabled, reg)
	id, err := o.Submit(Request{Token: "tok", Side: bttypes.Buy, Type: bttypes.Market, Size: 50}, 1000)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	outbox := o.Drain()
	var ack *event.OrderAck
	for _, ob := range outbox {
		if a, ok := ob.Payload.(event.OrderAck); ok {
			ack = &a
		}
	}
	if ack == nil {
		t.Fatal("expected an OrderAck to be scheduled")
	}

	o.OnOrderAck(*ack, 1000)

	fills := o.Drain()
	if len(fills) != 1 {
		t.Fatalf("expected exactly one scheduled fill, got %d: %+v", len(fills), fills)
	}
	fill, ok := fills[0].Payload.(event.Fill)
	if !ok {
		t.Fatalf("expected a Fill payload, got %T", fills[0].Payload)
	}
	if fill.Price != 0.51 || fill.Size != 50 || fill.IsMaker {
		t.Fatalf("unexpected fill: %+v", fill)
	}

	o.OnFill(fill)
	ord := o.Order(id)
	if ord.State != bttypes.StateFilled {
		t.Fatalf("order state = %s, want Filled", ord.State)
	}
}

func TestPostOnlyRejectsWhenCrossing(t *testing.T) {
	t.Parallel()

	reg := book.NewRegistry()
	readyBook(t, reg, "tok", 0.49, 100, 0.51, 100)

	o := New(VenueConstraints{}, MakerDisabled, reg)
	id, err := o.Submit(Request{Token: "tok", Side: bttypes.Buy, Type: bttypes.Limit, Price: 0.52, Size: 10, PostOnly: true}, 1000)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	outbox := o.Drain()
	if len(outbox) != 1 {
		t.Fatalf("expected exactly one scheduled event, got %d", len(outbox))
	}
	reject, ok := outbox[0].Payload.(event.OrderReject)
	if !ok || reject.Reason != event.RejectPostOnlyCross {
		t.Fatalf("expected PostOnlyCross reject, got %+v", outbox[0].Payload)
	}

	o.OnOrderReject(reject)
	if o.Order(id).State != bttypes.StateRejected {
		t.Fatalf("order state = %s, want Rejected", o.Order(id).State)
	}
}

func TestMakerFillDrainsQueueAheadThenFills(t *testing.T) {
	t.Parallel()

	reg := book.NewRegistry()
	readyBook(t, reg, "tok", 0.49, 200, 0.51, 100)

	o := New(VenueConstraints{}, MakerQueuePosition, reg)
	id, err := o.Submit(Request{Token: "tok", Side: bttypes.Buy, Type: bttypes.Limit, Price: 0.49, Size: 100}, 1000)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var ack event.OrderAck
	for _, ob := range o.Drain() {
		if a, ok := ob.Payload.(event.OrderAck); ok {
			ack = a
		}
	}
	o.OnOrderAck(ack, 1000)

	ord := o.Order(id)
	if ord.QueueAhead != 200 {
		t.Fatalf("queue_ahead = %v, want 200", ord.QueueAhead)
	}

	o.OnTradePrint(event.TradePrint{Token: "tok", Price: 0.49, Size: 150, AggressorSide: bttypes.Sell}, 2000)
	if len(o.Drain()) != 0 {
		t.Fatal("expected no fill yet")
	}
	if ord.QueueAhead != 50 {
		t.Fatalf("queue_ahead after first print = %v, want 50", ord.QueueAhead)
	}

	o.OnTradePrint(event.TradePrint{Token: "tok", Price: 0.49, Size: 80, AggressorSide: bttypes.Sell}, 3000)
	outbox := o.Drain()
	if len(outbox) != 1 {
		t.Fatalf("expected one fill scheduled, got %d", len(outbox))
	}
	fill := outbox[0].Payload.(event.Fill)
	if fill.Size != 30 || !fill.IsMaker {
		t.Fatalf("unexpected maker fill: %+v", fill)
	}
	if ord.QueueAhead != 0 {
		t.Fatalf("queue_ahead = %v, want 0", ord.QueueAhead)
	}
}

func TestSubmitRejectsMarketHaltedBook(t *testing.T) {
	t.Parallel()

	reg := book.NewRegistry()
	bk := reg.Get("tok") // never snapshotted: not-ready by default

	o := New(VenueConstraints{}, MakerDisabled, reg)
	if bk.IsReady() {
		t.Fatal("expected a fresh book to start not-ready")
	}
	if _, err := o.Submit(Request{Token: "tok", Side: bttypes.Buy, Type: bttypes.Limit, Price: 0.5, Size: 10}, 0); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	outbox := o.Drain()
	reject, ok := outbox[0].Payload.(event.OrderReject)
	if !ok || reject.Reason != event.RejectMarketHalted {
		t.Fatalf("expected MarketHalted reject, got %+v", outbox[0].Payload)
	}
}

func TestCancelThenCancelAck(t *testing.T) {
	t.Parallel()

	reg := book.NewRegistry()
	readyBook(t, reg, "tok", 0.49, 100, 0.51, 100)

	o := New(VenueConstraints{}, MakerQueuePosition, reg)
	id, _ := o.Submit(Request{Token: "tok", Side: bttypes.Buy, Type: bttypes.Limit, Price: 0.49, Size: 10}, 0)
	var ack event.OrderAck
	for _, ob := range o.Drain() {
		if a, ok := ob.Payload.(event.OrderAck); ok {
			ack = a
		}
	}
	o.OnOrderAck(ack, 0)

	if err := o.Cancel(id, 100); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	outbox := o.Drain()
	cancelAck, ok := outbox[0].Payload.(event.CancelAck)
	if !ok {
		t.Fatalf("expected CancelAck, got %+v", outbox[0].Payload)
	}
	o.OnCancelAck(cancelAck)
	if o.Order(id).State != bttypes.StateCancelled {
		t.Fatalf("state = %s, want Cancelled", o.Order(id).State)
	}
}
