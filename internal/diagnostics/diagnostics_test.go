package diagnostics

import (
	"testing"

	"polyreplay/internal/event"
	"polyreplay/internal/ledger"
	"polyreplay/pkg/bttypes"
)

func TestCollectorRecordAndCounts(t *testing.T) {
	t.Parallel()

	c := NewCollector(4)
	c.Record(KindSequenceGap)
	c.Record(KindSequenceGap)
	c.Record(KindCrossedBook)

	counts := c.Counts()
	if counts.SequenceGap != 2 {
		t.Fatalf("SequenceGap = %d, want 2", counts.SequenceGap)
	}
	if counts.CrossedBook != 1 {
		t.Fatalf("CrossedBook = %d, want 1", counts.CrossedBook)
	}
	if counts.Total() != 3 {
		t.Fatalf("Total() = %d, want 3", counts.Total())
	}
}

func TestCollectorRecentEventsRingBuffer(t *testing.T) {
	t.Parallel()

	c := NewCollector(2)
	for i := uint64(0); i < 5; i++ {
		c.Observe(event.TimestampedEvent{Seq: i, VisibleTS: int64(i)})
	}

	rep := c.BuildReport("test", nil, nil)
	if len(rep.RecentEvents) != 2 {
		t.Fatalf("len(RecentEvents) = %d, want 2 (ring buffer depth)", len(rep.RecentEvents))
	}
	if rep.RecentEvents[0].Seq != 3 || rep.RecentEvents[1].Seq != 4 {
		t.Fatalf("RecentEvents = %+v, want seq 3,4", rep.RecentEvents)
	}
}

func TestBuildReportIncludesLedgerTraceAndQueueHead(t *testing.T) {
	t.Parallel()

	l := ledger.New(ledger.Config{InitialCash: bttypes.ToAmount(1000), TraceDepth: 4})
	key := ledger.PositionKey{Token: "tok", Outcome: "YES"}
	if err := l.PostFill("f1", key, bttypes.Buy, 10, 0.5, bttypes.Zero, 100); err != nil {
		t.Fatalf("PostFill: %v", err)
	}

	c := NewCollector(4)
	head := &event.TimestampedEvent{Seq: 7}
	rep := c.BuildReport("crossed book", l, head)

	if len(rep.LedgerTrace) != 1 {
		t.Fatalf("len(LedgerTrace) = %d, want 1", len(rep.LedgerTrace))
	}
	if rep.QueueHead == nil || rep.QueueHead.Seq != 7 {
		t.Fatalf("QueueHead = %+v, want seq 7", rep.QueueHead)
	}
	if rep.Error() == "" {
		t.Fatalf("Error() returned empty string")
	}
}
