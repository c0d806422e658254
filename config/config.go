package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"logsentry/core"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LOGSENTRY_REDIS_ADDR
const EnvPrefix = "LOGSENTRY"

// LoggingConfig selects the log level and encoding
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig tunes the orchestrator
type EngineConfig struct {
	WorkerCount       int           `mapstructure:"worker_count"`
	RateLimit         float64       `mapstructure:"rate_limit"`
	RateBurst         int           `mapstructure:"rate_burst"`
	NotifyMinSeverity string        `mapstructure:"notify_min_severity"`
	RegexTimeout      time.Duration `mapstructure:"regex_timeout"`
}

// RulesConfig points at the alert rule pack
type RulesConfig struct {
	File               string `mapstructure:"file"`
	Strict             bool   `mapstructure:"strict"`
	MaxRecordsPerGroup int    `mapstructure:"max_records_per_group"`
}

// SignaturesConfig points at an optional signature pack
type SignaturesConfig struct {
	File string `mapstructure:"file"`
	// IncludeDefaults keeps the built-in signatures alongside the pack
	IncludeDefaults bool `mapstructure:"include_defaults"`
}

// GeoConfig tunes the geo lookup wrapper
type GeoConfig struct {
	Enabled        bool                      `mapstructure:"enabled"`
	Timeout        time.Duration             `mapstructure:"timeout"`
	FallbackSize   int                       `mapstructure:"fallback_size"`
	CircuitBreaker core.CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// ThreatConfig tunes the indicator intelligence service
type ThreatConfig struct {
	FeedsFile              string        `mapstructure:"feeds_file"`
	CacheSize              int           `mapstructure:"cache_size"`
	CacheTTL               time.Duration `mapstructure:"cache_ttl"`
	InvalidateOnFeedChange bool          `mapstructure:"invalidate_on_feed_change"`
	RelatedIOCLimit        int           `mapstructure:"related_ioc_limit"`
	BenignDomains          []string      `mapstructure:"benign_domains"`
	Geo                    GeoConfig     `mapstructure:"geo"`
}

// PeerGroupConfig seeds one peer group at startup
type PeerGroupConfig struct {
	Name    string   `mapstructure:"name"`
	Members []string `mapstructure:"members"`
	// WorkingHours is [start, end] in UTC hours; empty means unset
	WorkingHours    []int    `mapstructure:"working_hours"`
	CommonResources []string `mapstructure:"common_resources"`
	CommonLocations []string `mapstructure:"common_locations"`
}

// UEBAConfig tunes the behavior engine
type UEBAConfig struct {
	RingCapacity           int               `mapstructure:"ring_capacity"`
	AnomalyLogCapacity     int               `mapstructure:"anomaly_log_capacity"`
	Alpha                  float64           `mapstructure:"alpha"`
	SigmaThreshold         float64           `mapstructure:"sigma_threshold"`
	MinSamples             int64             `mapstructure:"min_samples"`
	ImpossibleTravelWindow time.Duration     `mapstructure:"impossible_travel_window"`
	LocationLearnThreshold int               `mapstructure:"location_learn_threshold"`
	AuthWindow             time.Duration     `mapstructure:"auth_window"`
	AuthAlertThreshold     int               `mapstructure:"auth_alert_threshold"`
	AuthEscalateThreshold  int               `mapstructure:"auth_escalate_threshold"`
	VolumeWindow           time.Duration     `mapstructure:"volume_window"`
	IdleDecayInterval      time.Duration     `mapstructure:"idle_decay_interval"`
	PeerGroups             []PeerGroupConfig `mapstructure:"peer_groups"`
}

// RedisConfig enables the Redis result sink and alert notifier
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	Stream       string `mapstructure:"stream"`
	StreamMaxLen int64  `mapstructure:"stream_max_len"`
	AlertChannel string `mapstructure:"alert_channel"`
}

// Config holds all configuration for logsentry
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Rules      RulesConfig      `mapstructure:"rules"`
	Signatures SignaturesConfig `mapstructure:"signatures"`
	Threat     ThreatConfig     `mapstructure:"threat"`
	UEBA       UEBAConfig       `mapstructure:"ueba"`
	Redis      RedisConfig      `mapstructure:"redis"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("engine.worker_count", 0) // 0 = GOMAXPROCS
	v.SetDefault("engine.rate_limit", 0)
	v.SetDefault("engine.rate_burst", 100)
	v.SetDefault("engine.notify_min_severity", string(core.SeverityHigh))
	v.SetDefault("engine.regex_timeout", 100*time.Millisecond)

	v.SetDefault("rules.file", "")
	v.SetDefault("rules.strict", false)
	v.SetDefault("rules.max_records_per_group", 10000)

	v.SetDefault("signatures.file", "")
	v.SetDefault("signatures.include_defaults", true)

	v.SetDefault("threat.feeds_file", "")
	v.SetDefault("threat.cache_size", 10000)
	v.SetDefault("threat.cache_ttl", 0)
	v.SetDefault("threat.invalidate_on_feed_change", false)
	v.SetDefault("threat.related_ioc_limit", 5)
	v.SetDefault("threat.benign_domains", []string{})
	v.SetDefault("threat.geo.enabled", true)
	v.SetDefault("threat.geo.timeout", 2*time.Second)
	v.SetDefault("threat.geo.fallback_size", 1024)
	v.SetDefault("threat.geo.circuit_breaker.max_failures", 5)
	v.SetDefault("threat.geo.circuit_breaker.cooldown", 30*time.Second)
	v.SetDefault("threat.geo.circuit_breaker.max_half_open_requests", 1)

	v.SetDefault("ueba.ring_capacity", 1000)
	v.SetDefault("ueba.anomaly_log_capacity", 10000)
	v.SetDefault("ueba.alpha", 0.1)
	v.SetDefault("ueba.sigma_threshold", 2.5)
	v.SetDefault("ueba.min_samples", 10)
	v.SetDefault("ueba.impossible_travel_window", 4*time.Hour)
	v.SetDefault("ueba.location_learn_threshold", 5)
	v.SetDefault("ueba.auth_window", 15*time.Minute)
	v.SetDefault("ueba.auth_alert_threshold", 3)
	v.SetDefault("ueba.auth_escalate_threshold", 5)
	v.SetDefault("ueba.volume_window", time.Hour)
	v.SetDefault("ueba.idle_decay_interval", 0)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.stream", "logsentry:results")
	v.SetDefault("redis.stream_max_len", 100000)
	v.SetDefault("redis.alert_channel", "logsentry:alerts")
}

func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("redis.addr", "LOGSENTRY_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "LOGSENTRY_REDIS_PASSWORD", "REDIS_PASSWORD")
	_ = v.BindEnv("logging.level", "LOGSENTRY_LOG_LEVEL", "LOGSENTRY_LOGGING_LEVEL")
}

// LoadConfig loads configuration from defaults, the optional YAML file at
// path and LOGSENTRY_* environment variables, in increasing precedence.
// An empty path looks for config.yaml in . and ./config; a missing file
// there is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	loadFromEnv(v)

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee
func (c *Config) Validate() error {
	ve := core.NewValidationError("config")

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		ve.Add("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		ve.Add("logging.format must be console or json")
	}

	if c.Engine.WorkerCount < 0 {
		ve.Add("engine.worker_count must not be negative")
	}
	if c.Engine.RateLimit < 0 {
		ve.Add("engine.rate_limit must not be negative")
	}
	if c.Engine.RateLimit > 0 && c.Engine.RateBurst <= 0 {
		ve.Add("engine.rate_burst must be positive when rate_limit is set")
	}
	if !core.Severity(c.Engine.NotifyMinSeverity).IsValid() {
		ve.Add("engine.notify_min_severity %q is not a severity", c.Engine.NotifyMinSeverity)
	}
	if c.Engine.RegexTimeout <= 0 {
		ve.Add("engine.regex_timeout must be positive")
	}

	if c.Rules.MaxRecordsPerGroup <= 0 {
		ve.Add("rules.max_records_per_group must be positive")
	}

	if c.Threat.CacheSize <= 0 {
		ve.Add("threat.cache_size must be positive")
	}
	if c.Threat.CacheTTL < 0 {
		ve.Add("threat.cache_ttl must not be negative")
	}
	if c.Threat.Geo.Enabled {
		if c.Threat.Geo.Timeout <= 0 {
			ve.Add("threat.geo.timeout must be positive")
		}
		if err := c.Threat.Geo.CircuitBreaker.Validate(); err != nil {
			ve.Add("threat.geo.circuit_breaker: %v", err)
		}
	}

	if c.UEBA.Alpha <= 0 || c.UEBA.Alpha > 1 {
		ve.Add("ueba.alpha must be in (0, 1]")
	}
	if c.UEBA.SigmaThreshold <= 0 {
		ve.Add("ueba.sigma_threshold must be positive")
	}
	if c.UEBA.AuthEscalateThreshold < c.UEBA.AuthAlertThreshold {
		ve.Add("ueba.auth_escalate_threshold must be >= auth_alert_threshold")
	}
	if c.UEBA.IdleDecayInterval < 0 {
		ve.Add("ueba.idle_decay_interval must not be negative")
	}
	for i, pg := range c.UEBA.PeerGroups {
		if pg.Name == "" {
			ve.Add("ueba.peer_groups[%d].name is required", i)
		}
		if n := len(pg.WorkingHours); n != 0 && n != 2 {
			ve.Add("ueba.peer_groups[%d].working_hours must be [start, end]", i)
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		ve.Add("redis.addr is required when redis is enabled")
	}
	return ve.OrNil()
}
