package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the trading core needs at construction
// time. Nothing in the core reads the environment or a file; cmd/engine
// resolves overrides and hands the finished struct down.
type Config struct {
	// Book limits (fixed-point ticks).
	MinPriceTicks int64
	MaxPriceTicks int64
	DepthLevels   int

	// Lifecycle.
	MaxOrderNotional int64         // ticks * quantity ceiling per order
	DayOrderTimeout  time.Duration // DAY orders older than this are expired
	ExpirySweepEvery time.Duration
	NotifyRingSize   uint64        // power of two
	UrgencyThreshold float64       // at or above: market/IOC and aggressive impact tagging

	// Impact models.
	LambdaWindow       int           // trade observations kept per symbol
	LambdaMinSamples   int           // below this Lambda reports 0
	LambdaCacheTTL     time.Duration // fitted lambda reuse window
	ExecutionRetention int           // ExecutionRecords kept per symbol
	RecalibrateEvery   time.Duration // per-symbol retrain floor
	RetrainMinRecords  int           // records required before retraining
	DefaultHorizon     time.Duration // execution horizon when caller gives none
	RiskAversion       float64       // Almgren-Chriss gamma
	PermanentRatio     float64       // epsilon = PermanentRatio * eta
	EnsembleWeights    [3]float64    // model / lambda / square-root law
	AggressiveFactor   float64       // multiplier on aggressive predictions
	SpreadClampFactor  float64       // prediction ceiling in spreads

	// Collaborators.
	OutboxDir    string
	KafkaBrokers []string
	FeedTopic    string
	ExecTopic    string
}

// Default returns the configuration the engine ships with: $1M notional
// ceiling, 300s execution horizon, 60s lambda cache.
func Default() Config {
	return Config{
		MinPriceTicks: 1,
		MaxPriceTicks: 10_000_000,
		DepthLevels:   10,

		MaxOrderNotional: 1_000_000_00, // $1,000,000 in cents
		DayOrderTimeout:  8 * time.Hour,
		ExpirySweepEvery: time.Minute,
		NotifyRingSize:   1 << 14,
		UrgencyThreshold: 0.7,

		LambdaWindow:       1000,
		LambdaMinSamples:   50,
		LambdaCacheTTL:     60 * time.Second,
		ExecutionRetention: 10_000,
		RecalibrateEvery:   time.Hour,
		RetrainMinRecords:  100,
		DefaultHorizon:     300 * time.Second,
		RiskAversion:       1e-6,
		PermanentRatio:     0.1,
		EnsembleWeights:    [3]float64{0.5, 0.3, 0.2},
		AggressiveFactor:   1.5,
		SpreadClampFactor:  5.0,

		OutboxDir:    "./outbox",
		KafkaBrokers: []string{"127.0.0.1:9092"},
		FeedTopic:    "market.updates",
		ExecTopic:    "orders.executions",
	}
}

// FromEnv applies environment overrides onto Default. Only operational
// knobs are exposed this way; model parameters stay code-configured.
func FromEnv() Config {
	cfg := Default()
	cfg.OutboxDir = envString("OUTBOX_DIR", cfg.OutboxDir)
	if v := envString("KAFKA_BROKERS", ""); v != "" {
		cfg.KafkaBrokers = []string{v}
	}
	cfg.FeedTopic = envString("FEED_TOPIC", cfg.FeedTopic)
	cfg.ExecTopic = envString("EXEC_TOPIC", cfg.ExecTopic)
	cfg.MaxOrderNotional = envInt64("MAX_ORDER_NOTIONAL", cfg.MaxOrderNotional)
	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
