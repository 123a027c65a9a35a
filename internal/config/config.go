package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Schedule  ScheduleConfig  `yaml:"schedule" mapstructure:"schedule"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FetchConfig configures the supplier page fetcher.
type FetchConfig struct {
	UserAgent      string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	MaxBodyBytes   int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	HostRatePerSec float64 `yaml:"host_rate_per_sec" mapstructure:"host_rate_per_sec"`
	HostBurst      int     `yaml:"host_burst" mapstructure:"host_burst"`
}

// ExtractConfig configures the price extraction heuristics. Confidence
// weights are tunable because heuristic priority needs per-target-site
// adjustment.
type ExtractConfig struct {
	StructuredMetaWeight    int      `yaml:"structured_meta_weight" mapstructure:"structured_meta_weight"`
	PlatformMetaWeight      int      `yaml:"platform_meta_weight" mapstructure:"platform_meta_weight"`
	LinkedDataWeight        int      `yaml:"linked_data_weight" mapstructure:"linked_data_weight"`
	VisibleElementWeight    int      `yaml:"visible_element_weight" mapstructure:"visible_element_weight"`
	InlineScriptWeight      int      `yaml:"inline_script_weight" mapstructure:"inline_script_weight"`
	FrequencyFallbackWeight int      `yaml:"frequency_fallback_weight" mapstructure:"frequency_fallback_weight"`
	MinorUnitThreshold      float64  `yaml:"minor_unit_threshold" mapstructure:"minor_unit_threshold"`
	MinorUnitPlatforms      []string `yaml:"minor_unit_platforms" mapstructure:"minor_unit_platforms"`
	PatternsFile            string   `yaml:"patterns_file" mapstructure:"patterns_file"`
}

// ReconcileConfig configures the reconciliation worker.
type ReconcileConfig struct {
	Epsilon           float64 `yaml:"epsilon" mapstructure:"epsilon"`
	PolitenessDelayMs int     `yaml:"politeness_delay_ms" mapstructure:"politeness_delay_ms"`
}

// ScheduleConfig configures the recurring price-check job.
type ScheduleConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	Mode           string `yaml:"mode" mapstructure:"mode"` // "interval" or "daily"
	IntervalMins   int    `yaml:"interval_mins" mapstructure:"interval_mins"`
	DailyAt        string `yaml:"daily_at" mapstructure:"daily_at"` // "HH:MM"
	UTCOffsetHours int    `yaml:"utc_offset_hours" mapstructure:"utc_offset_hours"`
}

// NotifyConfig configures discrepancy alert delivery.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PRICESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "pricesync.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("fetch.user_agent", "pricesync/1.0")
	v.SetDefault("fetch.timeout_secs", 20)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.max_body_bytes", 5*1024*1024)
	v.SetDefault("fetch.host_rate_per_sec", 1)
	v.SetDefault("fetch.host_burst", 1)
	v.SetDefault("extract.structured_meta_weight", 90)
	v.SetDefault("extract.platform_meta_weight", 85)
	v.SetDefault("extract.linked_data_weight", 80)
	v.SetDefault("extract.visible_element_weight", 75)
	v.SetDefault("extract.inline_script_weight", 70)
	v.SetDefault("extract.frequency_fallback_weight", 60)
	v.SetDefault("extract.minor_unit_threshold", 1000)
	v.SetDefault("extract.minor_unit_platforms", []string{"shopify"})
	v.SetDefault("reconcile.epsilon", 0.01)
	v.SetDefault("reconcile.politeness_delay_ms", 1000)
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.mode", "interval")
	v.SetDefault("schedule.interval_mins", 360)
	v.SetDefault("schedule.daily_at", "06:00")
	v.SetDefault("schedule.utc_offset_hours", 0)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
