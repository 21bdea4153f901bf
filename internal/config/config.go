// Package config defines all configuration for the signal bridge.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via BRIDGE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Price      PriceConfig      `mapstructure:"price"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Validation ValidationConfig `mapstructure:"validation"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the HTTP ingress/API server.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig selects the persistence backend. When DSN is empty the
// bridge runs with the in-memory store, which is fine for tests and demos
// but loses all state on restart.
type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// MonitorConfig tunes the price-monitor worker.
//
//   - CycleInterval: base tick between monitor cycles.
//   - BatchSize: max due signals processed per cycle, ordered by next_poll_at.
//   - HeartbeatEvery: emit a summary log line every N cycles.
//   - ExpireAfter: PENDING signals older than this are expired.
type MonitorConfig struct {
	CycleInterval  time.Duration `mapstructure:"cycle_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	HeartbeatEvery int           `mapstructure:"heartbeat_every"`
	ExpireAfter    time.Duration `mapstructure:"expire_after"`
}

// PriceConfig controls price sources and the quote cache.
//
//   - CacheTTL: quotes younger than this are served from cache.
//   - BinanceWSEnabled: maintain a Binance stream for crypto symbols so the
//     cache stays warm without REST polling.
//   - RequestsPerMinute: per-source REST budget over a rolling minute.
type PriceConfig struct {
	CacheTTL          time.Duration  `mapstructure:"cache_ttl"`
	FetchTimeout      time.Duration  `mapstructure:"fetch_timeout"`
	BinanceWSEnabled  bool           `mapstructure:"binance_ws_enabled"`
	BinanceWSURL      string         `mapstructure:"binance_ws_url"`
	RequestsPerMinute map[string]int `mapstructure:"requests_per_minute"`
}

// SchedulerConfig tunes the proximity-based adaptive poll scheduler.
// Proximity is distance to the nearest exit level normalized by the
// TP1-SL span; signals in the CLOSE zone poll fastest.
type SchedulerConfig struct {
	CloseThreshold float64       `mapstructure:"close_threshold"`
	MidThreshold   float64       `mapstructure:"mid_threshold"`
	CloseInterval  time.Duration `mapstructure:"close_interval"`
	MidInterval    time.Duration `mapstructure:"mid_interval"`
	FarInterval    time.Duration `mapstructure:"far_interval"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	MaxInterval    time.Duration `mapstructure:"max_interval"`
}

// DeliveryConfig tunes outbound webhook delivery.
//
//   - RetryOffsets: delays after the first attempt (the first attempt is
//     immediate).
//   - BreakerThreshold: consecutive failures before a subscription is
//     skipped until an operator resets it.
//   - MaxConcurrent: cap on in-flight deliveries.
type DeliveryConfig struct {
	Timeout          time.Duration   `mapstructure:"timeout"`
	RetryOffsets     []time.Duration `mapstructure:"retry_offsets"`
	BreakerThreshold int             `mapstructure:"breaker_threshold"`
	MaxConcurrent    int             `mapstructure:"max_concurrent"`
}

// ValidationConfig tunes the signal validation engine thresholds.
type ValidationConfig struct {
	MinRRRatio      float64       `mapstructure:"min_rr_ratio"`
	WarnRRRatio     float64       `mapstructure:"warn_rr_ratio"`
	MaxLatency      time.Duration `mapstructure:"max_latency"`
	WarnLatency     time.Duration `mapstructure:"warn_latency"`
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: BRIDGE_DATABASE_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BRIDGE")
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

	// Override sensitive fields from env
	if dsn := os.Getenv("BRIDGE_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}

	return &cfg, nil
}

// Default returns a Config with every field at its documented default.
// Used by tests and as the base when no YAML file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.max_open_conns", 16)
	v.SetDefault("database.max_idle_conns", 4)

	v.SetDefault("monitor.cycle_interval", 3*time.Second)
	v.SetDefault("monitor.batch_size", 200)
	v.SetDefault("monitor.heartbeat_every", 60)
	v.SetDefault("monitor.expire_after", 72*time.Hour)

	v.SetDefault("price.cache_ttl", 10*time.Second)
	v.SetDefault("price.fetch_timeout", 5*time.Second)
	v.SetDefault("price.binance_ws_enabled", false)
	v.SetDefault("price.binance_ws_url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("price.requests_per_minute", map[string]int{
		"binance": 1200,
		"yahoo":   100,
		"forex":   60,
	})

	v.SetDefault("scheduler.close_threshold", 0.10)
	v.SetDefault("scheduler.mid_threshold", 0.30)
	v.SetDefault("scheduler.close_interval", 5*time.Second)
	v.SetDefault("scheduler.mid_interval", 15*time.Second)
	v.SetDefault("scheduler.far_interval", 60*time.Second)
	v.SetDefault("scheduler.min_interval", 1*time.Second)
	v.SetDefault("scheduler.max_interval", 300*time.Second)

	v.SetDefault("delivery.timeout", 10*time.Second)
	v.SetDefault("delivery.retry_offsets", []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second})
	v.SetDefault("delivery.breaker_threshold", 10)
	v.SetDefault("delivery.max_concurrent", 10)

	v.SetDefault("validation.min_rr_ratio", 0.5)
	v.SetDefault("validation.warn_rr_ratio", 1.0)
	v.SetDefault("validation.max_latency", 300*time.Second)
	v.SetDefault("validation.warn_latency", 120*time.Second)
	v.SetDefault("validation.duplicate_window", 5*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Monitor.CycleInterval <= 0 {
		return fmt.Errorf("monitor.cycle_interval must be > 0")
	}
	if c.Monitor.BatchSize <= 0 {
		return fmt.Errorf("monitor.batch_size must be > 0")
	}
	if c.Price.CacheTTL <= 0 {
		return fmt.Errorf("price.cache_ttl must be > 0")
	}
	if c.Scheduler.CloseThreshold <= 0 || c.Scheduler.CloseThreshold >= c.Scheduler.MidThreshold {
		return fmt.Errorf("scheduler.close_threshold must be > 0 and < scheduler.mid_threshold")
	}
	if c.Scheduler.MinInterval <= 0 || c.Scheduler.MinInterval > c.Scheduler.MaxInterval {
		return fmt.Errorf("scheduler.min_interval must be > 0 and <= scheduler.max_interval")
	}
	if c.Delivery.Timeout <= 0 {
		return fmt.Errorf("delivery.timeout must be > 0")
	}
	if c.Delivery.BreakerThreshold <= 0 {
		return fmt.Errorf("delivery.breaker_threshold must be > 0")
	}
	if c.Delivery.MaxConcurrent <= 0 {
		return fmt.Errorf("delivery.max_concurrent must be > 0")
	}
	if c.Validation.MinRRRatio < 0 {
		return fmt.Errorf("validation.min_rr_ratio must be >= 0")
	}
	return nil
}
