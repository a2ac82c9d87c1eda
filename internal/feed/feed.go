// Package feed defines the contract historical ingest adapters must
// satisfy, and a single dependency-free reference implementation. Real
// production adapters (SQLite, Parquet, a vendor's own wire format)
// live outside this module and only need to satisfy Adapter; the JSONL
// adapter here covers flat-file datasets and the engine's own tests.
package feed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"polyreplay/internal/event"
	"polyreplay/pkg/bttypes"
)

// Adapter yields TimestampedEvents in arrival order. The orchestrator
// performs the merge across adapters via the unified feed queue; an
// adapter itself does no ordering beyond its own stream.
type Adapter interface {
	// NextEvent returns the next record, or ok=false at end of stream.
	NextEvent() (Record, bool, error)
	// PeekTime returns the source time of the next record without
	// consuming it, if known.
	PeekTime() (int64, bool)
	// Reset rewinds the adapter to the beginning of its stream.
	Reset() error
	// Remaining returns a count of unread records, or -1 if unknown.
	Remaining() int
	// Name identifies the adapter/stream for logging and diagnostics.
	Name() string
}

// Record is the raw shape an adapter hands to the orchestrator before it
// is pushed into the unified queue (which is what assigns seq and
// computes visible_ts via the latency model).
type Record struct {
	SourceTimeNS int64
	IngestTimeNS int64
	Source       uint8
	Priority     uint8
	Payload      event.Payload
}

// wireRecord is the JSONL on-disk shape: one flat object per line, a
// Kind discriminator, and each variant's fields at the top level; the
// payload field carries only a Timer's raw bytes.
type wireRecord struct {
	Kind         string          `json:"kind"`
	SourceTimeNS int64           `json:"source_time_ns"`
	IngestTimeNS int64           `json:"ingest_time_ns"`
	Source       uint8           `json:"source"`
	Token        string          `json:"token,omitempty"`
	Price        float64         `json:"price,omitempty"`
	Size         float64         `json:"size,omitempty"`
	Side         string          `json:"side,omitempty"`
	ExchangeSeq  uint64          `json:"exchange_seq,omitempty"`
	Bids         []wireLevel     `json:"bids,omitempty"`
	Asks         []wireLevel     `json:"asks,omitempty"`
	TradeID      string          `json:"trade_id,omitempty"`
	TimerID      uint64          `json:"timer_id,omitempty"`
	Outcome      bool            `json:"outcome,omitempty"`
	Status       string          `json:"status,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

type wireLevel struct {
	Price      float64 `json:"price"`
	Size       float64 `json:"size"`
	OrderCount uint32  `json:"order_count,omitempty"`
}

// JSONLFeedAdapter reads one JSON object per line from an io.Reader.
type JSONLFeedAdapter struct {
	name    string
	opener  func() (io.ReadCloser, error)
	rc      io.ReadCloser
	scanner *bufio.Scanner
	pending *Record
	count   int
}

// NewJSONLFeedAdapter builds an adapter that (re)opens its source via
// opener, so Reset can rewind a file-backed stream without the caller
// having to manage the handle.
func NewJSONLFeedAdapter(name string, opener func() (io.ReadCloser, error)) (*JSONLFeedAdapter, error) {
	a := &JSONLFeedAdapter{name: name, opener: opener, count: -1}
	if err := a.Reset(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *JSONLFeedAdapter) Name() string { return a.name }

func (a *JSONLFeedAdapter) Reset() error {
	if a.rc != nil {
		a.rc.Close()
	}
	rc, err := a.opener()
	if err != nil {
		return fmt.Errorf("feed %s: reset: %w", a.name, err)
	}
	a.rc = rc
	a.scanner = bufio.NewScanner(rc)
	a.scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	a.pending = nil
	return nil
}

func (a *JSONLFeedAdapter) Remaining() int { return -1 }

func (a *JSONLFeedAdapter) PeekTime() (int64, bool) {
	if a.pending == nil {
		rec, ok, err := a.readNext()
		if err != nil || !ok {
			return 0, false
		}
		a.pending = &rec
	}
	return a.pending.SourceTimeNS, true
}

func (a *JSONLFeedAdapter) NextEvent() (Record, bool, error) {
	if a.pending != nil {
		rec := *a.pending
		a.pending = nil
		return rec, true, nil
	}
	return a.readNext()
}

func (a *JSONLFeedAdapter) readNext() (Record, bool, error) {
	if !a.scanner.Scan() {
		if err := a.scanner.Err(); err != nil {
			return Record{}, false, fmt.Errorf("feed %s: scan: %w", a.name, err)
		}
		return Record{}, false, nil
	}
	line := a.scanner.Bytes()
	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		return Record{}, false, fmt.Errorf("feed %s: decode: %w", a.name, err)
	}
	payload, priority, err := decodePayload(w)
	if err != nil {
		return Record{}, false, fmt.Errorf("feed %s: %w", a.name, err)
	}
	a.count++
	return Record{
		SourceTimeNS: w.SourceTimeNS,
		IngestTimeNS: w.IngestTimeNS,
		Source:       w.Source,
		Priority:     priority,
		Payload:      payload,
	}, true, nil
}

func asBTLevels(ws []wireLevel) []bttypes.Level {
	out := make([]bttypes.Level, len(ws))
	for i, l := range ws {
		out[i] = bttypes.Level{Price: l.Price, Size: l.Size, OrderCount: l.OrderCount}
	}
	return out
}

func sideOf(s string) bttypes.Side {
	if s == string(bttypes.Sell) {
		return bttypes.Sell
	}
	return bttypes.Buy
}

func decodePayload(w wireRecord) (event.Payload, uint8, error) {
	switch w.Kind {
	case "L2BookSnapshot":
		return event.L2BookSnapshot{
			Token:       w.Token,
			Bids:        asBTLevels(w.Bids),
			Asks:        asBTLevels(w.Asks),
			ExchangeSeq: w.ExchangeSeq,
		}, event.PriorityBookSnapshot, nil
	case "L2Delta":
		return event.L2Delta{
			Token:       w.Token,
			BidUpdates:  asBTLevels(w.Bids),
			AskUpdates:  asBTLevels(w.Asks),
			ExchangeSeq: w.ExchangeSeq,
		}, event.PriorityBookDelta, nil
	case "TradePrint":
		return event.TradePrint{
			Token:         w.Token,
			Price:         w.Price,
			Size:          w.Size,
			AggressorSide: sideOf(w.Side),
			TradeID:       w.TradeID,
		}, event.PriorityTradePrint, nil
	case "L2BookDelta":
		return event.L2BookDelta{
			Token:   w.Token,
			Side:    sideOf(w.Side),
			Price:   w.Price,
			NewSize: w.Size,
		}, event.PriorityBookDelta, nil
	case "Timer":
		return event.Timer{TimerID: w.TimerID, Payload: w.Payload}, event.PrioritySignal, nil
	case "ResolutionEvent":
		return event.ResolutionEvent{
			Token:      w.Token,
			Resolution: event.Resolution{Outcome: w.Outcome, SettlementPrice: w.Price},
		}, event.PrioritySystem, nil
	case "MarketStatusChange":
		return event.MarketStatusChange{
			Token:     w.Token,
			NewStatus: event.MarketStatus(w.Status),
		}, event.PrioritySystem, nil
	default:
		return nil, 0, fmt.Errorf("unknown event kind %q", w.Kind)
	}
}
