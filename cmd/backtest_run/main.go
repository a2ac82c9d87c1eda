// backtest_run replays a historical dataset through a named strategy
// under configurable latency, visibility, and fill semantics, and
// writes the run's results as JSON.
//
// Exit codes: 0 success, 1 bad config, 2 data-contract violation,
// 3 invariant violation, 4 unknown strategy.
package main

import (
	"errors"
	"flag"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"polyreplay/internal/config"
	"polyreplay/internal/diagnostics"
	"polyreplay/internal/feed"
	"polyreplay/internal/latency"
	"polyreplay/internal/ledger"
	"polyreplay/internal/oms"
	"polyreplay/internal/orchestrator"
	"polyreplay/internal/resultio"
	"polyreplay/internal/strategy"
	"polyreplay/pkg/bttypes"
)

const (
	exitOK                 = 0
	exitBadConfig          = 1
	exitDataContract       = 2
	exitInvariantViolation = 3
	exitUnknownStrategy    = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dbPath     = flag.String("db", "", "path to the dataset (JSONL, one event per line)")
		configPath = flag.String("config", "", "path to the YAML run configuration")
		stratName  = flag.String("strategy", "", "strategy name (overrides config)")
		paramsFlag = flag.String("params", "", "strategy params as k=v,k=v (overrides config)")
		startFlag  = flag.String("start", "", "simulation start time, ISO 8601")
		endFlag    = flag.String("end", "", "simulation end time, ISO 8601")
		seed       = flag.Uint64("seed", 0, "latency-model RNG seed (overrides config)")
		mode       = flag.String("mode", "", "production | research (overrides config)")
		outPath    = flag.String("out", "results.json", "path for the JSON results file")
		logFormat  = flag.String("log-format", "", "text | json (overrides config)")
	)
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "backtest_run: --db is required")
		return exitBadConfig
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest_run: %v\n", err)
		return exitBadConfig
	}
	applyFlagOverrides(cfg, *stratName, *paramsFlag, *mode, *seed, *logFormat)

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		if strings.Contains(err.Error(), "data contract") {
			return exitDataContract
		}
		return exitBadConfig
	}

	startNS, err := parseTimeFlag(*startFlag)
	if err != nil {
		logger.Error("invalid --start", "error", err)
		return exitBadConfig
	}
	endNS, err := parseTimeFlag(*endFlag)
	if err != nil {
		logger.Error("invalid --end", "error", err)
		return exitBadConfig
	}
	if endNS == 0 {
		endNS = cfg.EndTimeNS
	}

	strat, err := strategy.Make(cfg.Strategy.Name, cfg.Strategy.Params)
	if err != nil {
		logger.Error("strategy construction failed", "error", err)
		return exitUnknownStrategy
	}

	model, err := buildLatencyModel(cfg.Latency)
	if err != nil {
		logger.Error("latency model construction failed", "error", err)
		return exitBadConfig
	}

	adapter, err := feed.NewJSONLFeedAdapter("dataset", func() (io.ReadCloser, error) {
		return os.Open(*dbPath)
	})
	if err != nil {
		logger.Error("dataset open failed", "error", err, "path", *dbPath)
		return exitBadConfig
	}

	makerModel := oms.MakerDisabled
	if cfg.MakerFillModel == "QueuePosition" {
		makerModel = oms.MakerQueuePosition
	}

	orch := orchestrator.New(orchestrator.Config{
		LatencyModel:     model,
		StrictMode:       cfg.StrictMode || cfg.Mode == "production",
		VenueConstraints: cfg.Venue.AsConstraints(),
		MakerFillModel:   makerModel,
		LedgerConfig: ledger.Config{
			InitialCash:       bttypes.ToAmount(cfg.InitialCashUSD),
			AllowNegativeCash: cfg.Ledger.AllowNegativeCash,
			AllowShorting:     cfg.Ledger.AllowShorting,
			StrictMode:        cfg.StrictMode,
			TraceDepth:        cfg.Ledger.TraceDepth,
		},
		MarkToMarketNS: cfg.EquityObservation.MarkToMarketPeriodNS,
		EndTimeNS:      endNS,
		StartTimeNS:    startNS,
		InputsHash:     inputsHash(*dbPath, cfg),
		Logger:         logger,
	}, strat, []feed.Adapter{adapter})

	results, runErr := orch.Run()
	if results != nil {
		if werr := resultio.Write(*outPath, results); werr != nil {
			logger.Error("results write failed", "error", werr, "path", *outPath)
			if runErr == nil {
				return exitBadConfig
			}
		} else {
			logger.Info("results written", "path", *outPath, "fingerprint", results.RunFingerprint)
		}
	}
	if runErr != nil {
		var report *diagnostics.Report
		if errors.As(runErr, &report) {
			logger.Error("invariant violation", "reason", report.Reason, "violations", report.ViolationCounts.Total())
		} else {
			logger.Error("run failed", "error", runErr)
		}
		return exitInvariantViolation
	}
	return exitOK
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		// No file: start from defaults and let flags fill in the rest.
		return &config.Config{
			Mode:           "research",
			MakerFillModel: "Disabled",
			Latency:        config.LatencyConfig{Policy: "RecordedArrival"},
			InitialCashUSD: 10000,
			Ledger:         config.LedgerPolicyConfig{TraceDepth: 256},
			Logging:        config.LoggingConfig{Level: "info", Format: "text"},
		}, nil
	}
	return config.Load(path)
}

func applyFlagOverrides(cfg *config.Config, stratName, params, mode string, seed uint64, logFormat string) {
	if stratName != "" {
		cfg.Strategy.Name = stratName
	}
	if params != "" {
		cfg.Strategy.Params = parseParams(params)
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if seed != 0 {
		cfg.Latency.Seed = seed
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
}

func parseParams(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func parseTimeFlag(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("parse %q as RFC 3339: %w", s, err)
	}
	return t.UnixNano(), nil
}

func buildLatencyModel(lc config.LatencyConfig) (latency.Model, error) {
	switch lc.Policy {
	case "RecordedArrival":
		return latency.RecordedArrivalModel{}, nil
	case "ConstantOffset":
		return latency.ConstantOffsetModel{OffsetNS: lc.ConstantNS}, nil
	case "SimulatedLatency":
		return latency.NewSimulatedLatencyModel(lc.MuNS, lc.SigmaNS, lc.CeilingNS, lc.Seed), nil
	default:
		return nil, fmt.Errorf("unknown latency policy %q", lc.Policy)
	}
}

// inputsHash folds the dataset path, mode, latency settings, maker fill
// model, strict flag, initial cash, strategy name and sorted strategy
// params into a 64-bit fnv1a value. Venue constraints, the data contract,
// ledger policy, start/end time and the mark-to-market period are not
// hashed. Two invocations with the same dataset and config hash
// identically, whatever the flag order was.
func inputsHash(dbPath string, cfg *config.Config) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "db=%s|mode=%s|policy=%s|mu=%v|sigma=%v|ceil=%v|const=%d|seed=%d|maker=%s|strict=%t|cash=%v|strategy=%s",
		dbPath, cfg.Mode, cfg.Latency.Policy, cfg.Latency.MuNS, cfg.Latency.SigmaNS,
		cfg.Latency.CeilingNS, cfg.Latency.ConstantNS, cfg.Latency.Seed,
		cfg.MakerFillModel, cfg.StrictMode, cfg.InitialCashUSD, cfg.Strategy.Name)
	keys := make([]string, 0, len(cfg.Strategy.Params))
	for k := range cfg.Strategy.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%s", k, cfg.Strategy.Params[k])
	}
	return h.Sum64()
}

func newLogger(lc config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(lc.Level)}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
