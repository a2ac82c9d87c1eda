package config

// DataContract is the declarative statement of what a dataset contains:
// whether order-book updates are full incremental deltas with sequence
// numbers, periodic snapshots, top-of-book polling, or absent; whether
// trade prints exist; and whether arrival time is recorded or must be
// simulated. Queue-position maker modeling needs full deltas plus trade
// prints, so config validation consults this before a run starts.
type DataContract struct {
	Orderbook   string
	Trades      string
	ArrivalTime string
}

const (
	OrderbookFullIncrementalL2DeltasWithSeq = "FullIncrementalL2DeltasWithSeq"
	OrderbookPeriodicL2Snapshots            = "PeriodicL2Snapshots"
	OrderbookTopOfBookPolling               = "TopOfBookPolling"
	OrderbookNone                           = "None"

	TradesPrints = "Prints"
	TradesNone   = "None"

	ArrivalRecorded  = "RecordedArrival"
	ArrivalSimulated = "SimulatedLatency"
	ArrivalUnusable  = "Unusable"
)

// IsProductionGrade reports whether the contract carries full
// incremental deltas with sequence numbers, trade prints, and recorded
// arrival times.
func (d DataContract) IsProductionGrade() bool {
	return d.Orderbook == OrderbookFullIncrementalL2DeltasWithSeq &&
		d.Trades == TradesPrints &&
		d.ArrivalTime == ArrivalRecorded
}

// IsSnapshotOnly reports whether the book side of the contract is
// periodic-snapshot-only, which disables maker queue modeling entirely.
func (d DataContract) IsSnapshotOnly() bool {
	return d.Orderbook == OrderbookPeriodicL2Snapshots || d.Orderbook == OrderbookTopOfBookPolling
}

// SupportsQueueModeling reports whether the contract carries enough
// information (full deltas with sequence numbers, plus trade prints) to
// support the OMS's queue-ahead passive-fill approximation.
func (d DataContract) SupportsQueueModeling() bool {
	return d.Orderbook == OrderbookFullIncrementalL2DeltasWithSeq && d.Trades == TradesPrints
}

// QueueModelingUnsupportedReason explains why queue modeling is
// unavailable, empty if it is supported.
func (d DataContract) QueueModelingUnsupportedReason() string {
	if d.SupportsQueueModeling() {
		return ""
	}
	if d.IsSnapshotOnly() {
		return "orderbook contract is snapshot-only; queue-ahead cannot be tracked between snapshots"
	}
	if d.Orderbook != OrderbookFullIncrementalL2DeltasWithSeq {
		return "orderbook contract lacks full incremental deltas with sequence numbers"
	}
	if d.Trades != TradesPrints {
		return "trade prints are not available to drain queue-ahead"
	}
	return "data contract does not meet queue-modeling requirements"
}
