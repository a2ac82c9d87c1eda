package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const validYAML = `
mode: research
strict_mode: false
data_contract:
  orderbook: FullIncrementalL2DeltasWithSeq
  trades: Prints
  arrival_time: RecordedArrival
latency_model:
  policy: RecordedArrival
maker_fill_model: QueuePosition
venue_constraints:
  tick_size: 0.01
  taker_fee_bps: 0
  maker_fee_bps: 0
strategy:
  name: passthrough
`

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()

	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Strategy.Name != "passthrough" {
		t.Fatalf("Strategy.Name = %q, want passthrough", cfg.Strategy.Name)
	}
	if cfg.Venue.TickSize != 0.01 {
		t.Fatalf("Venue.TickSize = %v, want 0.01", cfg.Venue.TickSize)
	}
}

func TestValidateRejectsQueueModelingOnSnapshotOnlyContract(t *testing.T) {
	t.Parallel()

	path := writeTempConfig(t, `
mode: research
data_contract:
  orderbook: PeriodicL2Snapshots
  trades: None
  arrival_time: RecordedArrival
latency_model:
  policy: RecordedArrival
maker_fill_model: QueuePosition
strategy:
  name: passthrough
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() = nil, want error for QueuePosition on snapshot-only contract")
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	path := writeTempConfig(t, `
mode: bogus
latency_model:
  policy: RecordedArrival
maker_fill_model: Disabled
strategy:
  name: passthrough
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() = nil, want error for unknown mode")
	}
}

func TestValidateRejectsMissingStrategyName(t *testing.T) {
	t.Parallel()

	path := writeTempConfig(t, `
mode: research
latency_model:
  policy: RecordedArrival
maker_fill_model: Disabled
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() = nil, want error for missing strategy name")
	}
}

func TestDataContractQueueModeling(t *testing.T) {
	t.Parallel()

	prod := DataContract{Orderbook: OrderbookFullIncrementalL2DeltasWithSeq, Trades: TradesPrints, ArrivalTime: ArrivalRecorded}
	if !prod.IsProductionGrade() {
		t.Fatalf("expected production-grade contract")
	}
	if !prod.SupportsQueueModeling() {
		t.Fatalf("expected queue modeling support")
	}
	if prod.QueueModelingUnsupportedReason() != "" {
		t.Fatalf("expected empty unsupported reason, got %q", prod.QueueModelingUnsupportedReason())
	}

	snap := DataContract{Orderbook: OrderbookPeriodicL2Snapshots, Trades: TradesNone, ArrivalTime: ArrivalRecorded}
	if !snap.IsSnapshotOnly() {
		t.Fatalf("expected snapshot-only contract")
	}
	if snap.SupportsQueueModeling() {
		t.Fatalf("snapshot-only contract must not support queue modeling")
	}
	if snap.QueueModelingUnsupportedReason() == "" {
		t.Fatalf("expected a non-empty unsupported reason")
	}
}
