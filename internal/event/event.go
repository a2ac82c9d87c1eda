// Package event defines the closed set of event payloads the replay
// engine moves through the unified feed queue, and the canonical
// ordering key that makes replay deterministic. A Go interface plus one
// concrete struct per variant is the natural stand-in for the tagged
// union the wire format uses: dispatch is a type switch, kept local to
// each component instead of spread across a class hierarchy.
package event

import "polyreplay/pkg/bttypes"

// Priority classes. Lower wins ties in the canonical ordering.
const (
	PrioritySystem     uint8 = 0
	PriorityBookSnapshot uint8 = 1
	PriorityBookDelta    uint8 = 2
	PriorityTradePrint   uint8 = 3
	PriorityOrderAck     uint8 = 4
	PriorityFill         uint8 = 5
	PriorityOrderReject  uint8 = 6
	PriorityCancelAck    uint8 = 7
	PrioritySignal        uint8 = 8
)

// Payload is the closed sum of event variants. Every concrete type below
// implements it.
type Payload interface {
	// Priority returns the fixed priority class used for tie-breaking.
	Priority() uint8
	// Kind returns a short stable name for logging/diagnostics.
	Kind() string
}

// MarketStatus mirrors a token's trading status.
type MarketStatus string

const (
	StatusOpen    MarketStatus = "OPEN"
	StatusHalted  MarketStatus = "HALTED"
	StatusClosed  MarketStatus = "CLOSED"
	StatusPreOpen MarketStatus = "PRE_OPEN"
)

// RejectReason enumerates why an order validation or data condition
// rejected an order.
type RejectReason string

const (
	RejectInsufficientFunds   RejectReason = "INSUFFICIENT_FUNDS"
	RejectInsufficientPosition RejectReason = "INSUFFICIENT_POSITION"
	RejectMarketClosed        RejectReason = "MARKET_CLOSED"
	RejectMarketHalted        RejectReason = "MARKET_HALTED"
	RejectInvalidPrice        RejectReason = "INVALID_PRICE"
	RejectInvalidSize         RejectReason = "INVALID_SIZE"
	RejectSelfTrade           RejectReason = "SELF_TRADE"
	RejectRateLimited         RejectReason = "RATE_LIMITED"
	RejectDuplicateOrderID    RejectReason = "DUPLICATE_ORDER_ID"
	RejectPostOnlyCross       RejectReason = "POST_ONLY_CROSS"
	RejectUnknown             RejectReason = "UNKNOWN"
)

// L2BookSnapshot replaces the full state of a token's book.
type L2BookSnapshot struct {
	Token       string
	Bids        []bttypes.Level
	Asks        []bttypes.Level
	ExchangeSeq uint64
}

func (L2BookSnapshot) Priority() uint8 { return PriorityBookSnapshot }
func (L2BookSnapshot) Kind() string    { return "L2BookSnapshot" }

// L2Delta is a batch incremental update to one or more levels per side.
type L2Delta struct {
	Token       string
	BidUpdates  []bttypes.Level
	AskUpdates  []bttypes.Level
	ExchangeSeq uint64
}

func (L2Delta) Priority() uint8 { return PriorityBookDelta }
func (L2Delta) Kind() string    { return "L2Delta" }

// L2BookDelta is the single-level incremental form. internal/book lowers
// it into the same mutation primitive L2Delta batches iterate over.
type L2BookDelta struct {
	Token   string
	Side    bttypes.Side
	Price   float64
	NewSize float64
	SeqHash string // optional, empty means absent
}

func (L2BookDelta) Priority() uint8 { return PriorityBookDelta }
func (L2BookDelta) Kind() string    { return "L2BookDelta" }

// TradePrint is a public trade tape entry.
type TradePrint struct {
	Token         string
	Price         float64
	Size          float64
	AggressorSide bttypes.Side
	TradeID       string // optional, empty means absent
}

func (TradePrint) Priority() uint8 { return PriorityTradePrint }
func (TradePrint) Kind() string    { return "TradePrint" }

// OrderAck confirms an order reached the book.
type OrderAck struct {
	OrderID      uint64
	ClientOrderID string
	ExchangeTime  int64
}

func (OrderAck) Priority() uint8 { return PriorityOrderAck }
func (OrderAck) Kind() string    { return "OrderAck" }

// OrderReject notifies the strategy an order was not accepted.
type OrderReject struct {
	OrderID       uint64
	ClientOrderID string
	Reason        RejectReason
}

func (OrderReject) Priority() uint8 { return PriorityOrderReject }
func (OrderReject) Kind() string    { return "OrderReject" }

// Fill notifies the strategy of an execution against one of its orders.
type Fill struct {
	OrderID  uint64
	Price    float64
	Size     float64
	IsMaker  bool
	LeavesQty float64
	Fee      bttypes.Amount
	FillID   string // optional, empty means absent
}

func (Fill) Priority() uint8 { return PriorityFill }
func (Fill) Kind() string    { return "Fill" }

// CancelAck confirms a cancel request was applied.
type CancelAck struct {
	OrderID      uint64
	CancelledQty float64
}

func (CancelAck) Priority() uint8 { return PriorityCancelAck }
func (CancelAck) Kind() string    { return "CancelAck" }

// MarketStatusChange notifies the strategy of a token status transition.
type MarketStatusChange struct {
	Token     string
	NewStatus MarketStatus
	Reason    string
}

func (MarketStatusChange) Priority() uint8 { return PrioritySystem }
func (MarketStatusChange) Kind() string    { return "MarketStatusChange" }

// Resolution is the settlement outcome of a binary market.
type Resolution struct {
	Outcome         bool
	SettlementPrice float64
	Source          string // optional, empty means absent
}

// ResolutionEvent settles all positions in a token at a fixed price.
type ResolutionEvent struct {
	Token      string
	Resolution Resolution
}

func (ResolutionEvent) Priority() uint8 { return PrioritySystem }
func (ResolutionEvent) Kind() string    { return "ResolutionEvent" }

// Signal carries an out-of-band strategy hint (e.g. from an external
// detector). The engine never interprets its contents.
type Signal struct {
	SignalID    string
	SignalType  string
	MarketSlug  string
	Confidence  float64
	DetailsJSON string
}

func (Signal) Priority() uint8 { return PrioritySignal }
func (Signal) Kind() string    { return "Signal" }

// Timer fires a strategy-scheduled callback.
type Timer struct {
	TimerID uint64
	Payload []byte
}

func (Timer) Priority() uint8 { return PrioritySignal }
func (Timer) Kind() string    { return "Timer" }

// TimestampedEvent wraps a Payload with the queue's ordering metadata.
// Equality for queue purposes is (VisibleTS, Seq); the full ordering key
// is (VisibleTS, Priority, Source, Seq).
type TimestampedEvent struct {
	VisibleTS  int64
	SourceTime int64
	Seq        uint64
	Source     uint8
	Priority   uint8
	Payload    Payload
}

// Less implements the canonical ascending ordering used by the queue's
// heap. It never consults map iteration order or any other
// non-deterministic source.
func Less(a, b TimestampedEvent) bool {
	if a.VisibleTS != b.VisibleTS {
		return a.VisibleTS < b.VisibleTS
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	return a.Seq < b.Seq
}
