// Package latency maps a feed event's (source_time, ingest_time) pair
// to the visible_time the unified queue sorts on. Every model is
// seed-reproducible: the same (dataset, seed) pair always yields the
// same visible-time sequence.
package latency

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Model maps source/ingest timestamps to a visible timestamp.
type Model interface {
	// VisibleTime returns ingest_time + f(source_time, ingest_time),
	// per the named policy. Returns an error only for inputs the policy
	// cannot map (RecordedArrival: ingest before source; ConstantOffset:
	// a negative offset). A result earlier than ingest_time is not
	// reported here; the feed queue checks for it on Push.
	VisibleTime(sourceTimeNS, ingestTimeNS int64) (int64, error)
	// Name identifies the policy for logging/config echo.
	Name() string
}

// RecordedArrivalModel trusts the dataset's own ingest timestamp as the
// truth: visible = ingest_time.
type RecordedArrivalModel struct{}

func (RecordedArrivalModel) VisibleTime(sourceTimeNS, ingestTimeNS int64) (int64, error) {
	if ingestTimeNS < sourceTimeNS {
		return 0, fmt.Errorf("latency: recorded arrival before source time (ingest=%d source=%d)", ingestTimeNS, sourceTimeNS)
	}
	return ingestTimeNS, nil
}

func (RecordedArrivalModel) Name() string { return "RecordedArrival" }

// ConstantOffsetModel adds a fixed, debug-only offset to source_time.
type ConstantOffsetModel struct {
	OffsetNS int64
}

func (m ConstantOffsetModel) VisibleTime(sourceTimeNS, ingestTimeNS int64) (int64, error) {
	if m.OffsetNS < 0 {
		return 0, fmt.Errorf("latency: negative constant offset %d", m.OffsetNS)
	}
	return sourceTimeNS + m.OffsetNS, nil
}

func (ConstantOffsetModel) Name() string { return "ConstantOffset" }

// SimulatedLatencyModel samples a log-normal delay, truncated at a
// configured ceiling, from a seed-reproducible source: the same
// (dataset, seed) pair always yields the same sample sequence because
// the underlying *rand.Rand is deterministic and never reseeded mid-run.
type SimulatedLatencyModel struct {
	dist     distuv.LogNormal
	ceilNS   float64
}

// NewSimulatedLatencyModel builds a sampler from log-normal parameters in
// nanoseconds (Mu, Sigma describe the underlying normal, per distuv's
// convention) and a hard ceiling on the sampled delay. seed derives the
// model's private RNG stream so it never shares state with, or is
// perturbed by, strategy-side randomness.
func NewSimulatedLatencyModel(mu, sigma, ceilingNS float64, seed uint64) *SimulatedLatencyModel {
	src := rand.New(rand.NewSource(seed))
	return &SimulatedLatencyModel{
		dist: distuv.LogNormal{
			Mu:    mu,
			Sigma: sigma,
			Src:   src,
		},
		ceilNS: ceilingNS,
	}
}

func (m *SimulatedLatencyModel) VisibleTime(sourceTimeNS, ingestTimeNS int64) (int64, error) {
	sample := m.dist.Rand()
	if sample > m.ceilNS {
		sample = m.ceilNS
	}
	if sample < 0 {
		sample = 0
	}
	return sourceTimeNS + int64(sample), nil
}

func (m *SimulatedLatencyModel) Name() string { return "SimulatedLatency" }

// MsToNs converts a millisecond duration to nanoseconds.
func MsToNs(ms float64) int64 { return int64(ms * 1e6) }
