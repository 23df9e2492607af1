package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Optionflow OptionflowConfig `yaml:"optionflow"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Engine     EngineConfig     `yaml:"engine"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Reader     ReaderConfig     `yaml:"reader"`
	Storage    StorageConfig    `yaml:"storage"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type OptionflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	TickBuffer   int `yaml:"tick_buffer"`
	ChainBuffer  int `yaml:"chain_buffer"`
	CandleBuffer int `yaml:"candle_buffer"`
	SignalBuffer int `yaml:"signal_buffer"`
	LateBuffer   int `yaml:"late_buffer"`
}

type EngineConfig struct {
	// GracePeriod bounds how long a window stays open past its boundary to
	// absorb feed jitter before late ticks are routed aside.
	GracePeriod     time.Duration `yaml:"grace_period"`
	QueueSize       int           `yaml:"queue_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	IVLookback      int           `yaml:"iv_lookback"`
	CorrWindow      int           `yaml:"corr_window"`
}

type AnalyticsConfig struct {
	Whale     WhaleConfig     `yaml:"whale"`
	Seller    SellerConfig    `yaml:"seller"`
	Position  PositionConfig  `yaml:"position"`
	Wall      WallConfig      `yaml:"wall"`
	Sentiment SentimentConfig `yaml:"sentiment"`
	Composite CompositeConfig `yaml:"composite"`
}

// WhaleConfig controls the dynamic whale threshold and impact scaling.
type WhaleConfig struct {
	KFactor        float64 `yaml:"k_factor"`         // whale if qty > k * rolling median
	MedianWindow   int     `yaml:"median_window"`    // trades in the rolling median
	TieEpsilon     float64 `yaml:"tie_epsilon"`      // side dominance tie band
	ImpactTicks    float64 `yaml:"impact_ticks"`     // price move that separates absorption from distribution
	ImpactScale    float64 `yaml:"impact_scale"`     // log1p(vol)*ratio divisor before clamping to [0,100]
	MinWhaleTrades int     `yaml:"min_whale_trades"` // median undefined below this
}

type SellerConfig struct {
	PanicOIDrop       float64 `yaml:"panic_oi_drop"`       // OI contraction that qualifies as panic
	PanicPriceJumpPct float64 `yaml:"panic_price_jump_pct"`
	PanicVolumeMult   float64 `yaml:"panic_volume_mult"`
	HighProximityPct  float64 `yaml:"high_proximity_pct"` // close within this of the minute high
}

type PositionConfig struct {
	NoiseFloorPricePct float64                       `yaml:"noise_floor_price_pct"`
	NoiseFloorOI       float64                       `yaml:"noise_floor_oi"`
	Classes            map[string]PositionClassOver `yaml:"classes"`
}

// PositionClassOver overrides noise floors for one instrument class.
type PositionClassOver struct {
	NoiseFloorPricePct float64 `yaml:"noise_floor_price_pct"`
	NoiseFloorOI       float64 `yaml:"noise_floor_oi"`
}

type WallConfig struct {
	DepthMultiple       float64 `yaml:"depth_multiple"`       // level qty vs average book depth
	PersistenceFraction float64 `yaml:"persistence_fraction"` // fraction of snapshots the level must survive
	MinSnapshots        int     `yaml:"min_snapshots"`
}

type SentimentConfig struct {
	PCRBullBelow float64 `yaml:"pcr_bull_below"`
	PCRBearAbove float64 `yaml:"pcr_bear_above"`
	Classes      map[string]SentimentClassOver `yaml:"classes"`
}

type SentimentClassOver struct {
	PCRBullBelow float64 `yaml:"pcr_bull_below"`
	PCRBearAbove float64 `yaml:"pcr_bear_above"`
}

// CompositeConfig is the named weight set behind momentum_score and
// breakout_prob plus the signal thresholds.
type CompositeConfig struct {
	WhaleWeight    float64 `yaml:"whale_weight"`
	SellerWeight   float64 `yaml:"seller_weight"`
	OIWeight       float64 `yaml:"oi_weight"`
	GreeksWeight   float64 `yaml:"greeks_weight"`
	WallWeight     float64 `yaml:"wall_weight"`
	ImbalanceWeight float64 `yaml:"imbalance_weight"`

	BuyThreshold  float64 `yaml:"buy_threshold"`  // momentum above this emits BUY
	SellThreshold float64 `yaml:"sell_threshold"` // momentum below this emits SELL
	BreakoutFloor float64 `yaml:"breakout_floor"` // minimum breakout_prob for any signal

	// Greeks momentum shaping: each velocity is normalized by its scale and
	// amplified by its gain before the leg is folded back to [-1,1].
	GreeksDeltaGain    float64 `yaml:"greeks_delta_gain"`
	GreeksGammaGain    float64 `yaml:"greeks_gamma_gain"`
	GreeksIVGain       float64 `yaml:"greeks_iv_gain"`
	DeltaVelocityScale float64 `yaml:"delta_velocity_scale"`
	GammaSpikeScale    float64 `yaml:"gamma_spike_scale"`
	IVVelocityScale    float64 `yaml:"iv_velocity_scale"`

	// WallProximityBand is the fractional distance from close at which a wall
	// stops contributing.
	WallProximityBand float64 `yaml:"wall_proximity_band"`

	// breakout_prob mix.
	BreakoutMomentumWeight     float64 `yaml:"breakout_momentum_weight"`
	BreakoutDistributionWeight float64 `yaml:"breakout_distribution_weight"`
	BreakoutBreachWeight       float64 `yaml:"breakout_breach_weight"`
	BreakoutVolumeWeight       float64 `yaml:"breakout_volume_weight"`

	// Confidence mix over threshold exceedance and breakout margin.
	ConfidenceExceedWeight   float64 `yaml:"confidence_exceed_weight"`
	ConfidenceBreakoutWeight float64 `yaml:"confidence_breakout_weight"`
}

type ReaderConfig struct {
	Binance BinanceReaderConfig `yaml:"binance"`
	FeedWS  FeedWSConfig        `yaml:"feedws"`
}

type BinanceReaderConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Symbols        []string      `yaml:"symbols"`
	OIPollInterval time.Duration `yaml:"oi_poll_interval"`
	OIRatePerSec   float64       `yaml:"oi_rate_per_sec"`
	OIBurst        int           `yaml:"oi_burst"`
}

type FeedWSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxReconnect   time.Duration `yaml:"max_reconnect"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Spill    SpillConfig    `yaml:"spill"`
}

type PostgresConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Database      string        `yaml:"database"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	SSLMode       string        `yaml:"ssl_mode"`
	MinConns      int           `yaml:"min_conns"`
	MaxConns      int           `yaml:"max_conns"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Retry         RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

type SpillConfig struct {
	Dir            string        `yaml:"dir"`
	ReplayInterval time.Duration `yaml:"replay_interval"`
}

type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Bucket        string        `yaml:"bucket"`
	Region        string        `yaml:"region"`
	Prefix        string        `yaml:"prefix"`
	AccessKeyID   string        `yaml:"access_key_id"`
	SecretKey     string        `yaml:"secret_access_key"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

// LoadConfig reads and validates the application configuration. Any invalid
// threshold or weight is fatal: the process must refuse to start rather than
// score with a broken parameter set.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the documented default parameter set. LoadConfig overlays
// the YAML file on top of these values.
func Default() *Config {
	return &Config{
		Optionflow: OptionflowConfig{Name: "optionflow", Version: "dev"},
		Channels: ChannelsConfig{
			TickBuffer:   10000,
			ChainBuffer:  1000,
			CandleBuffer: 1000,
			SignalBuffer: 100,
			LateBuffer:   1000,
		},
		Engine: EngineConfig{
			GracePeriod:     3 * time.Second,
			QueueSize:       4096,
			ShutdownTimeout: 10 * time.Second,
			IVLookback:      252,
			CorrWindow:      20,
		},
		Analytics: AnalyticsConfig{
			Whale: WhaleConfig{
				KFactor:        5,
				MedianWindow:   200,
				TieEpsilon:     0.05,
				ImpactTicks:    0.0005,
				ImpactScale:    12,
				MinWhaleTrades: 5,
			},
			Seller: SellerConfig{
				PanicOIDrop:       5000,
				PanicPriceJumpPct: 1.0,
				PanicVolumeMult:   2.0,
				HighProximityPct:  0.1,
			},
			Position: PositionConfig{
				NoiseFloorPricePct: 0.01,
				NoiseFloorOI:       1,
			},
			Wall: WallConfig{
				DepthMultiple:       4,
				PersistenceFraction: 0.6,
				MinSnapshots:        3,
			},
			Sentiment: SentimentConfig{
				PCRBullBelow: 0.9,
				PCRBearAbove: 1.1,
			},
			Composite: CompositeConfig{
				WhaleWeight:     0.25,
				SellerWeight:    0.15,
				OIWeight:        0.20,
				GreeksWeight:    0.15,
				WallWeight:      0.10,
				ImbalanceWeight: 0.15,
				BuyThreshold:    65,
				SellThreshold:   35,
				BreakoutFloor:   0.55,

				GreeksDeltaGain:    20,
				GreeksGammaGain:    15,
				GreeksIVGain:       10,
				DeltaVelocityScale: 0.05,
				GammaSpikeScale:    0.005,
				IVVelocityScale:    0.01,

				WallProximityBand: 0.01,

				BreakoutMomentumWeight:     0.45,
				BreakoutDistributionWeight: 0.25,
				BreakoutBreachWeight:       0.20,
				BreakoutVolumeWeight:       0.10,

				ConfidenceExceedWeight:   0.6,
				ConfidenceBreakoutWeight: 0.4,
			},
		},
		Reader: ReaderConfig{
			Binance: BinanceReaderConfig{
				OIPollInterval: 15 * time.Second,
				OIRatePerSec:   2,
				OIBurst:        4,
			},
			FeedWS: FeedWSConfig{
				ReconnectDelay: time.Second,
				MaxReconnect:   30 * time.Second,
				PingInterval:   20 * time.Second,
			},
		},
		Storage: StorageConfig{
			Postgres: PostgresConfig{
				Host:          "localhost",
				Port:          5432,
				SSLMode:       "disable",
				MinConns:      1,
				MaxConns:      4,
				BatchSize:     100,
				FlushInterval: 2 * time.Second,
				Retry: RetryConfig{
					MaxAttempts:       5,
					BaseDelay:         200 * time.Millisecond,
					MaxDelay:          5 * time.Second,
					BackoffMultiplier: 2,
				},
			},
			Spill: SpillConfig{
				Dir:            "data/spill",
				ReplayInterval: 30 * time.Second,
			},
		},
		Archive: ArchiveConfig{
			FlushInterval: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Validate rejects parameter sets the engine cannot score with.
func (c *Config) Validate() error {
	if c.Engine.GracePeriod < 0 {
		return fmt.Errorf("engine.grace_period must not be negative")
	}
	if c.Engine.IVLookback < 1 {
		return fmt.Errorf("engine.iv_lookback must be >= 1")
	}
	if c.Engine.CorrWindow < 2 {
		return fmt.Errorf("engine.corr_window must be >= 2")
	}

	w := c.Analytics.Whale
	if w.KFactor <= 0 {
		return fmt.Errorf("analytics.whale.k_factor must be > 0")
	}
	if w.MedianWindow < w.MinWhaleTrades {
		return fmt.Errorf("analytics.whale.median_window must be >= min_whale_trades")
	}
	if w.TieEpsilon < 0 || w.TieEpsilon >= 1 {
		return fmt.Errorf("analytics.whale.tie_epsilon must be in [0,1)")
	}
	if w.ImpactScale <= 0 {
		return fmt.Errorf("analytics.whale.impact_scale must be > 0")
	}

	wl := c.Analytics.Wall
	if wl.DepthMultiple <= 1 {
		return fmt.Errorf("analytics.wall.depth_multiple must be > 1")
	}
	if wl.PersistenceFraction <= 0 || wl.PersistenceFraction > 1 {
		return fmt.Errorf("analytics.wall.persistence_fraction must be in (0,1]")
	}

	s := c.Analytics.Sentiment
	if s.PCRBullBelow > s.PCRBearAbove {
		return fmt.Errorf("analytics.sentiment.pcr_bull_below must not exceed pcr_bear_above")
	}

	comp := c.Analytics.Composite
	weightSum := comp.WhaleWeight + comp.SellerWeight + comp.OIWeight +
		comp.GreeksWeight + comp.WallWeight + comp.ImbalanceWeight
	if weightSum <= 0 {
		return fmt.Errorf("analytics.composite weights must sum to a positive value")
	}
	for name, v := range map[string]float64{
		"whale_weight":     comp.WhaleWeight,
		"seller_weight":    comp.SellerWeight,
		"oi_weight":        comp.OIWeight,
		"greeks_weight":    comp.GreeksWeight,
		"wall_weight":      comp.WallWeight,
		"imbalance_weight": comp.ImbalanceWeight,
	} {
		if v < 0 {
			return fmt.Errorf("analytics.composite.%s must not be negative", name)
		}
	}
	if comp.BuyThreshold <= comp.SellThreshold {
		return fmt.Errorf("analytics.composite.buy_threshold must exceed sell_threshold")
	}
	if comp.BuyThreshold > 100 || comp.SellThreshold < 0 {
		return fmt.Errorf("analytics.composite thresholds must lie in [0,100]")
	}
	if comp.BreakoutFloor < 0 || comp.BreakoutFloor > 1 {
		return fmt.Errorf("analytics.composite.breakout_floor must be in [0,1]")
	}
	if comp.GreeksDeltaGain < 0 || comp.GreeksGammaGain < 0 || comp.GreeksIVGain < 0 {
		return fmt.Errorf("analytics.composite greeks gains must not be negative")
	}
	if comp.GreeksDeltaGain+comp.GreeksGammaGain+comp.GreeksIVGain <= 0 {
		return fmt.Errorf("analytics.composite greeks gains must sum to a positive value")
	}
	if comp.DeltaVelocityScale <= 0 || comp.GammaSpikeScale <= 0 || comp.IVVelocityScale <= 0 {
		return fmt.Errorf("analytics.composite velocity scales must be > 0")
	}
	if comp.WallProximityBand <= 0 {
		return fmt.Errorf("analytics.composite.wall_proximity_band must be > 0")
	}
	for name, v := range map[string]float64{
		"breakout_momentum_weight":     comp.BreakoutMomentumWeight,
		"breakout_distribution_weight": comp.BreakoutDistributionWeight,
		"breakout_breach_weight":       comp.BreakoutBreachWeight,
		"breakout_volume_weight":       comp.BreakoutVolumeWeight,
		"confidence_exceed_weight":     comp.ConfidenceExceedWeight,
		"confidence_breakout_weight":   comp.ConfidenceBreakoutWeight,
	} {
		if v < 0 {
			return fmt.Errorf("analytics.composite.%s must not be negative", name)
		}
	}
	if comp.BreakoutMomentumWeight+comp.BreakoutDistributionWeight+
		comp.BreakoutBreachWeight+comp.BreakoutVolumeWeight <= 0 {
		return fmt.Errorf("analytics.composite breakout weights must sum to a positive value")
	}
	if comp.ConfidenceExceedWeight+comp.ConfidenceBreakoutWeight <= 0 {
		return fmt.Errorf("analytics.composite confidence weights must sum to a positive value")
	}

	p := c.Analytics.Position
	if p.NoiseFloorPricePct < 0 || p.NoiseFloorOI < 0 {
		return fmt.Errorf("analytics.position noise floors must not be negative")
	}

	if c.Storage.Postgres.Enabled {
		pg := c.Storage.Postgres
		if pg.Host == "" || pg.Database == "" || pg.User == "" {
			return fmt.Errorf("storage.postgres requires host, database and user")
		}
		if pg.Retry.MaxAttempts < 1 {
			return fmt.Errorf("storage.postgres.retry.max_attempts must be >= 1")
		}
		if pg.Retry.BaseDelay <= 0 || pg.Retry.MaxDelay < pg.Retry.BaseDelay {
			return fmt.Errorf("storage.postgres.retry delays are inconsistent")
		}
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive requires a bucket when enabled")
	}

	return nil
}

// PositionFloors resolves noise floors for an instrument class, falling back
// to the global defaults when the class carries no override.
func (c *Config) PositionFloors(class string) (pricePct, oi float64) {
	p := c.Analytics.Position
	if over, ok := p.Classes[class]; ok {
		return over.NoiseFloorPricePct, over.NoiseFloorOI
	}
	return p.NoiseFloorPricePct, p.NoiseFloorOI
}

// SentimentBands resolves PCR thresholds for an instrument class.
func (c *Config) SentimentBands(class string) (bullBelow, bearAbove float64) {
	s := c.Analytics.Sentiment
	if over, ok := s.Classes[class]; ok {
		return over.PCRBullBelow, over.PCRBearAbove
	}
	return s.PCRBullBelow, s.PCRBearAbove
}
