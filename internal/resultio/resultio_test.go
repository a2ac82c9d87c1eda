package resultio

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"polyreplay/internal/diagnostics"
	"polyreplay/pkg/bttypes"
)

func TestWriteAndReadBack(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "results.json")

	r := &Results{
		RunID:      NewRunID(),
		FinalPnL:   bttypes.ToAmount(123.45),
		TotalFills: 2,
		PerOrderStats: []OrderStats{
			{OrderID: 1, Token: "tok", Side: "Buy", FilledQty: 10, AvgFillPx: 0.5},
		},
		RollingHash:     0xdeadbeef,
		RunFingerprint:  Fingerprint(1, 2),
		ViolationCounts: diagnostics.Counts{SequenceGap: 1},
	}

	if err := Write(path, r); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var got Results
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.RunID != r.RunID {
		t.Fatalf("RunID = %q, want %q", got.RunID, r.RunID)
	}
	if got.TotalFills != 2 {
		t.Fatalf("TotalFills = %d, want 2", got.TotalFills)
	}
	if len(got.PerOrderStats) != 1 || got.PerOrderStats[0].Token != "tok" {
		t.Fatalf("PerOrderStats mismatch: %+v", got.PerOrderStats)
	}
}

func TestFingerprintOrderIndependent(t *testing.T) {
	t.Parallel()

	a := Fingerprint(42, 7)
	b := Fingerprint(7, 42)
	if a != b {
		t.Fatalf("Fingerprint(42,7)=%s != Fingerprint(7,42)=%s, want XOR to be order-independent", a, b)
	}
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "results.json")
	if err := Write(path, &Results{RunID: "x"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected .tmp file to be gone after rename, stat err = %v", err)
	}
}
