// Package feedqueue implements the unified, visibility-ordered priority
// queue that merges market-data and control events ahead of dispatch: a
// container/heap min-heap over the canonical
// (visible_ts, priority, source, seq) key.
package feedqueue

import (
	"container/heap"
	"fmt"

	"polyreplay/internal/event"
	"polyreplay/internal/latency"
)

// Stats tallies queue activity for diagnostics, not for control flow.
type Stats struct {
	TotalInserted int64
	TotalPopped   int64
	ByPriority    [9]int64
	MaxDepth      int
}

// heapSlice is the container/heap backing store, ordered by the
// canonical (visible_ts, priority, source, seq) key.
type heapSlice []event.TimestampedEvent

func (h heapSlice) Len() int            { return len(h) }
func (h heapSlice) Less(i, j int) bool  { return event.Less(h[i], h[j]) }
func (h heapSlice) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *heapSlice) Push(x interface{}) { *h = append(*h, x.(event.TimestampedEvent)) }
func (h *heapSlice) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// UnifiedFeedQueue is the single serialization point between feed
// adapters and the orchestrator's pump loop.
type UnifiedFeedQueue struct {
	h             heapSlice
	latencyModel  latency.Model
	nextSeq       uint64
	lastPoppedTS  int64
	hasPopped     bool
	strictMode    bool
	stats         Stats
	violations    []string
}

// New constructs a queue. strictMode controls whether a visibility or
// monotonicity violation panics (production/strict) or is counted
// (research mode).
func New(model latency.Model, strictMode bool) *UnifiedFeedQueue {
	q := &UnifiedFeedQueue{
		latencyModel: model,
		strictMode:   strictMode,
	}
	heap.Init(&q.h)
	return q
}

// Push computes visible_ts via the latency model, assigns a monotonic
// seq, and inserts the event. priority and source are caller-supplied
// per the event's class and stream id.
func (q *UnifiedFeedQueue) Push(sourceTimeNS, ingestTimeNS int64, source, priority uint8, payload event.Payload) error {
	visibleTS, err := q.latencyModel.VisibleTime(sourceTimeNS, ingestTimeNS)
	if err != nil {
		if q.strictMode {
			return fmt.Errorf("feedqueue: %w", err)
		}
		q.violations = append(q.violations, err.Error())
		visibleTS = ingestTimeNS
	}
	if visibleTS < ingestTimeNS {
		msg := fmt.Sprintf("feedqueue: negative delay, visible_ts %d < ingest_ts %d", visibleTS, ingestTimeNS)
		if q.strictMode {
			panic(msg)
		}
		q.violations = append(q.violations, msg)
	}

	seq := q.nextSeq
	q.nextSeq++

	te := event.TimestampedEvent{
		VisibleTS:  visibleTS,
		SourceTime: sourceTimeNS,
		Seq:        seq,
		Source:     source,
		Priority:   priority,
		Payload:    payload,
	}
	heap.Push(&q.h, te)

	q.stats.TotalInserted++
	if int(priority) < len(q.stats.ByPriority) {
		q.stats.ByPriority[priority]++
	}
	if q.h.Len() > q.stats.MaxDepth {
		q.stats.MaxDepth = q.h.Len()
	}
	return nil
}

// PushAt inserts an event at an already-resolved visible_ts, bypassing
// the latency model entirely. Order-lifecycle events (OrderAck, Fill,
// OrderReject, CancelAck) and strategy timers are scheduled by the OMS
// or scheduler at an absolute simulated time (now + ack_latency, etc.)
// — that delay is already the final answer, so routing it back through
// the latency model (meant for upstream source_time -> visible_time
// mapping) would double-apply latency.
func (q *UnifiedFeedQueue) PushAt(visibleTS int64, source, priority uint8, payload event.Payload) {
	seq := q.nextSeq
	q.nextSeq++

	te := event.TimestampedEvent{
		VisibleTS:  visibleTS,
		SourceTime: visibleTS,
		Seq:        seq,
		Source:     source,
		Priority:   priority,
		Payload:    payload,
	}
	heap.Push(&q.h, te)

	q.stats.TotalInserted++
	if int(priority) < len(q.stats.ByPriority) {
		q.stats.ByPriority[priority]++
	}
	if q.h.Len() > q.stats.MaxDepth {
		q.stats.MaxDepth = q.h.Len()
	}
}

// PushBatch pushes several events sharing the same source/ingest time,
// e.g. the levels of a single snapshot.
func (q *UnifiedFeedQueue) PushBatch(sourceTimeNS, ingestTimeNS int64, source, priority uint8, payloads []event.Payload) error {
	for _, p := range payloads {
		if err := q.Push(sourceTimeNS, ingestTimeNS, source, priority, p); err != nil {
			return err
		}
	}
	return nil
}

// Pop removes and returns the next event in canonical order. It
// validates that visible_ts is monotone non-decreasing across pops —
// the only timeline a strategy may observe.
func (q *UnifiedFeedQueue) Pop() (event.TimestampedEvent, bool) {
	if q.h.Len() == 0 {
		return event.TimestampedEvent{}, false
	}
	te := heap.Pop(&q.h).(event.TimestampedEvent)

	if q.hasPopped && te.VisibleTS < q.lastPoppedTS {
		msg := fmt.Sprintf("feedqueue: visible_ts regression, popped %d after %d", te.VisibleTS, q.lastPoppedTS)
		if q.strictMode {
			panic(msg)
		}
		q.violations = append(q.violations, msg)
	}
	q.lastPoppedTS = te.VisibleTS
	q.hasPopped = true
	q.stats.TotalPopped++

	return te, true
}

// Peek returns the next event without removing it.
func (q *UnifiedFeedQueue) Peek() (event.TimestampedEvent, bool) {
	if q.h.Len() == 0 {
		return event.TimestampedEvent{}, false
	}
	return q.h[0], true
}

// PeekVisibleTS returns the visible_ts of the next event, if any.
func (q *UnifiedFeedQueue) PeekVisibleTS() (int64, bool) {
	te, ok := q.Peek()
	if !ok {
		return 0, false
	}
	return te.VisibleTS, true
}

// Len returns the number of queued, unpopped events.
func (q *UnifiedFeedQueue) Len() int { return q.h.Len() }

// IsEmpty reports whether the queue has no pending events.
func (q *UnifiedFeedQueue) IsEmpty() bool { return q.h.Len() == 0 }

// DrainUntil pops and discards all events with visible_ts <= cutoff,
// returning how many were dropped. Used by tests and tooling that want
// to fast-forward past a prefix without dispatching it.
func (q *UnifiedFeedQueue) DrainUntil(cutoff int64) int {
	n := 0
	for {
		te, ok := q.Peek()
		if !ok || te.VisibleTS > cutoff {
			return n
		}
		q.Pop()
		n++
	}
}

// Reset empties the queue and clears sequence/violation state, for
// reuse across scenario test cases within one process.
func (q *UnifiedFeedQueue) Reset() {
	q.h = nil
	heap.Init(&q.h)
	q.nextSeq = 0
	q.lastPoppedTS = 0
	q.hasPopped = false
	q.stats = Stats{}
	q.violations = nil
}

// Stats returns a snapshot of queue activity counters.
func (q *UnifiedFeedQueue) Stats() Stats { return q.stats }

// Violations returns the research-mode violation log, empty in strict
// mode since violations there panic instead of accumulating.
func (q *UnifiedFeedQueue) Violations() []string { return q.violations }
