// Package config loads validator deployment settings from the process
// environment. Every tunable named in the external-interfaces section of the
// design is read here exactly once, at startup, the same "construct, validate,
// return a single struct" shape the reference binary uses for its flag block,
// just sourced from environment instead of flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full set of validator deployment tunables.
type Config struct {
	WalletName  string
	HotkeyName  string
	NetUID      uint64
	Network     string

	TelemetryBaseURL string
	EventListBaseURL string

	StoreBackend string // "sqlite" or "postgres"
	StorePath    string // sqlite file path, or postgres DSN

	LogLevel string

	LoopIntervalOverride time.Duration // 0 means "derive from tempo"

	TelemetryBatchSize   int
	TelemetryMaxRetries  int
	TelemetryFanout      int
	TelemetryRatePerSec  float64
	TelemetryTimeout     time.Duration

	CommitMaxRetries int
	CommitPeriod     uint64 // fallback when the chain client doesn't expose one

	SnapshotTTL time.Duration
	ScoreTTL    time.Duration

	MinVolumeUSD float64
	MinWinRate   float64

	MetricsAddr string
	MetricsEnabled bool

	RedisAddr string // empty disables the snapshot cache

	AuditKafkaBrokers []string
	AuditKafkaTopic   string
}

// Load reads and validates configuration from the environment. Missing
// required values (wallet name, hotkey name) are a fatal initialization error
// per the exit-code policy: the caller should treat a non-nil error as "abort
// the process".
func Load() (*Config, error) {
	wallet := os.Getenv("WALLET_NAME")
	if wallet == "" {
		return nil, fmt.Errorf("config: WALLET_NAME is required")
	}
	hotkey := os.Getenv("HOTKEY_NAME")
	if hotkey == "" {
		return nil, fmt.Errorf("config: HOTKEY_NAME is required")
	}

	cfg := &Config{
		WalletName: wallet,
		HotkeyName: hotkey,
		NetUID:     envUint("NETUID", 0),
		Network:    envString("NETWORK", "finney"),

		TelemetryBaseURL: envString("TELEMETRY_BASE_URL", "https://stats.example.invalid/api/v2/performance"),
		EventListBaseURL: envString("EVENT_LIST_BASE_URL", "https://stats.example.invalid/api/v2/event/events-list"),

		StoreBackend: envString("STORE_BACKEND", "sqlite"),
		StorePath:    envString("STORE_PATH", "./validator.db"),

		LogLevel: envString("LOG_LEVEL", "info"),

		TelemetryBatchSize:  int(envUint("TELEMETRY_BATCH_SIZE", 64)),
		TelemetryMaxRetries: int(envUint("TELEMETRY_MAX_RETRIES", 3)),
		TelemetryFanout:     int(envUint("TELEMETRY_FANOUT", 4)),
		TelemetryRatePerSec: envFloat("TELEMETRY_RATE_PER_SEC", 20.0),
		TelemetryTimeout:    envDuration("TELEMETRY_TIMEOUT", 30*time.Second),

		CommitMaxRetries: int(envUint("COMMIT_MAX_RETRIES", 2)),
		CommitPeriod:     envUint("COMMIT_PERIOD", 32),

		SnapshotTTL: envDuration("SNAPSHOT_TTL", 3*24*time.Hour),
		ScoreTTL:    envDuration("SCORE_TTL", 7*24*time.Hour),

		MinVolumeUSD: envFloat("MIN_VOLUME_USD", 0.0),
		MinWinRate:   envFloat("MIN_WIN_RATE", 0.0),

		MetricsAddr:    envString("METRICS_ADDR", ":9090"),
		MetricsEnabled: envBool("METRICS_ENABLED", true),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		AuditKafkaTopic: envString("AUDIT_KAFKA_TOPIC", "validator.commits"),
	}

	if brokers := os.Getenv("AUDIT_KAFKA_BROKERS"); brokers != "" {
		cfg.AuditKafkaBrokers = splitCSV(brokers)
	}

	if v := os.Getenv("LOOP_INTERVAL_OVERRIDE_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: LOOP_INTERVAL_OVERRIDE_SECONDS: %w", err)
		}
		cfg.LoopIntervalOverride = time.Duration(secs) * time.Second
	}

	if cfg.StoreBackend != "sqlite" && cfg.StoreBackend != "postgres" {
		return nil, fmt.Errorf("config: STORE_BACKEND must be sqlite or postgres, got %q", cfg.StoreBackend)
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envUint(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
