// Package config defines the run configuration for the replay engine.
// Config is loaded from a YAML file with fields overridable via REPLAY_*
// environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"polyreplay/internal/oms"
)

// Config is the top-level run configuration. Maps directly onto the YAML
// file structure and the CLI flags that can override it.
type Config struct {
	Mode              string                  `mapstructure:"mode"` // "production" | "research"
	DataContract      DataContractConfig      `mapstructure:"data_contract"`
	Latency           LatencyConfig           `mapstructure:"latency_model"`
	MakerFillModel    string                  `mapstructure:"maker_fill_model"` // "Disabled" | "QueuePosition"
	Venue             VenueConfig             `mapstructure:"venue_constraints"`
	StrictMode        bool                    `mapstructure:"strict_mode"`
	EquityObservation EquityObservationConfig `mapstructure:"equity_observation"`
	EndTimeNS         int64                   `mapstructure:"end_time_ns"` // 0 means unset
	InitialCashUSD    float64                 `mapstructure:"initial_cash_usd"`
	Ledger            LedgerPolicyConfig      `mapstructure:"ledger"`
	Strategy          StrategyConfig          `mapstructure:"strategy"`
	Logging           LoggingConfig           `mapstructure:"logging"`
}

// DataContractConfig declares what the dataset contains.
type DataContractConfig struct {
	Orderbook   string `mapstructure:"orderbook"`   // FullIncrementalL2DeltasWithSeq | PeriodicL2Snapshots | TopOfBookPolling | None
	Trades      string `mapstructure:"trades"`      // Prints | None
	ArrivalTime string `mapstructure:"arrival_time"` // RecordedArrival | SimulatedLatency | Unusable
}

// LatencyConfig selects and parameterizes the latency model.
type LatencyConfig struct {
	Policy       string  `mapstructure:"policy"` // RecordedArrival | SimulatedLatency | ConstantOffset
	MuNS         float64 `mapstructure:"mu_ns"`
	SigmaNS      float64 `mapstructure:"sigma_ns"`
	CeilingNS    float64 `mapstructure:"ceiling_ns"`
	ConstantNS   int64   `mapstructure:"constant_ns"`
	Seed         uint64  `mapstructure:"seed"`
}

// VenueConfig mirrors oms.VenueConstraints field-for-field so it can be
// unmarshaled straight from YAML and handed to oms.New.
type VenueConfig struct {
	TickSize           float64 `mapstructure:"tick_size"`
	MinPrice           float64 `mapstructure:"min_price"`
	MaxPrice           float64 `mapstructure:"max_price"`
	MinSize            float64 `mapstructure:"min_size"`
	MaxSize            float64 `mapstructure:"max_size"`
	MaxOrdersPerWindow int     `mapstructure:"max_orders_per_window"`
	WindowMS           int64   `mapstructure:"window_ms"`
	AckLatencyNS       int64   `mapstructure:"ack_latency_ns"`
	FillLatencyNS      int64   `mapstructure:"fill_latency_ns"`
	TakerFeeBps        float64 `mapstructure:"taker_fee_bps"`
	MakerFeeBps        float64 `mapstructure:"maker_fee_bps"`
}

// AsConstraints converts the millisecond-denominated YAML field to the
// nanosecond-denominated oms.VenueConstraints the engine runs on.
func (v VenueConfig) AsConstraints() oms.VenueConstraints {
	return oms.VenueConstraints{
		TickSize:           v.TickSize,
		MinPrice:           v.MinPrice,
		MaxPrice:           v.MaxPrice,
		MinSize:            v.MinSize,
		MaxSize:            v.MaxSize,
		MaxOrdersPerWindow: v.MaxOrdersPerWindow,
		WindowNS:           v.WindowMS * 1_000_000,
		AckLatencyNS:       v.AckLatencyNS,
		FillLatencyNS:      v.FillLatencyNS,
		TakerFeeBps:        v.TakerFeeBps,
		MakerFeeBps:        v.MakerFeeBps,
	}
}

// EquityObservationConfig controls the periodic MarkToMarket trigger.
type EquityObservationConfig struct {
	MarkToMarketPeriodNS int64 `mapstructure:"mark_to_market_period_ns"`
}

// LedgerPolicyConfig controls ledger strictness.
type LedgerPolicyConfig struct {
	AllowNegativeCash bool `mapstructure:"allow_negative_cash"`
	AllowShorting     bool `mapstructure:"allow_shorting"`
	TraceDepth        int  `mapstructure:"trace_depth"`
}

// StrategyConfig names the strategy and passes through its free-form
// parameters to the factory.
type StrategyConfig struct {
	Name   string            `mapstructure:"name"`
	Params map[string]string `mapstructure:"params"`
}

// LoggingConfig selects the slog handler (text vs json) and level.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with REPLAY_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("REPLAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "research")
	v.SetDefault("strict_mode", false)
	v.SetDefault("maker_fill_model", "QueuePosition")
	v.SetDefault("initial_cash_usd", 10000.0)
	v.SetDefault("ledger.trace_depth", 256)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("latency_model.policy", "RecordedArrival")
}

// Validate checks required fields and cross-field invariants. A
// queue-position maker model paired with a snapshot-only data contract
// must fail here, before a run starts.
func (c *Config) Validate() error {
	switch c.Mode {
	case "production", "research":
	default:
		return fmt.Errorf("mode must be 'production' or 'research', got %q", c.Mode)
	}

	switch c.Latency.Policy {
	case "RecordedArrival", "SimulatedLatency", "ConstantOffset":
	default:
		return fmt.Errorf("latency_model.policy must be one of RecordedArrival|SimulatedLatency|ConstantOffset, got %q", c.Latency.Policy)
	}
	if c.Latency.Policy == "SimulatedLatency" && c.Latency.SigmaNS <= 0 {
		return fmt.Errorf("latency_model.sigma_ns must be > 0 for SimulatedLatency")
	}

	switch c.MakerFillModel {
	case "Disabled", "QueuePosition":
	default:
		return fmt.Errorf("maker_fill_model must be 'Disabled' or 'QueuePosition', got %q", c.MakerFillModel)
	}
	if c.MakerFillModel == "QueuePosition" {
		dc := DataContract{Orderbook: c.DataContract.Orderbook, Trades: c.DataContract.Trades, ArrivalTime: c.DataContract.ArrivalTime}
		if !dc.SupportsQueueModeling() {
			return fmt.Errorf("maker_fill_model QueuePosition requires a production-grade data contract: %s", dc.QueueModelingUnsupportedReason())
		}
	}

	if c.Venue.TickSize < 0 {
		return fmt.Errorf("venue_constraints.tick_size must be >= 0")
	}
	if c.Venue.TakerFeeBps < 0 || c.Venue.MakerFeeBps < 0 {
		return fmt.Errorf("venue_constraints fee rates must be >= 0")
	}
	if c.InitialCashUSD < 0 {
		return fmt.Errorf("initial_cash_usd must be >= 0")
	}
	if c.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	return nil
}
