package config

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"bullion-pipeline/internal/logging"
	"bullion-pipeline/internal/partition"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Storage backends understood by storage.New.
const (
	BackendFS       = "fs"
	BackendMemory   = "memory"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Open/close selection modes for the daily report; the values match
// pipeline.OpenCloseSorted and pipeline.OpenCloseChronological.
const (
	OpenCloseSorted        = "sorted"
	OpenCloseChronological = "chronological"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Quote     QuoteConfig     `mapstructure:"quote"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects the blob store and the partition prefixes.
type StorageConfig struct {
	Backend       string         `mapstructure:"backend"`
	Bucket        string         `mapstructure:"bucket"`
	RawPrefix     string         `mapstructure:"raw_prefix"`
	CleanedPrefix string         `mapstructure:"cleaned_prefix"`
	ReportsPrefix string         `mapstructure:"reports_prefix"`
	FS            FSConfig       `mapstructure:"fs"`
	S3            S3Config       `mapstructure:"s3"`
	Postgres      DatabaseConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
}

// Layout returns the partition layout built from the configured prefixes.
func (s StorageConfig) Layout() partition.Layout {
	return partition.Layout{Raw: s.RawPrefix, Cleaned: s.CleanedPrefix, Reports: s.ReportsPrefix}
}

// FSConfig roots the filesystem backend; the bucket becomes a directory below Root.
type FSConfig struct {
	Root string `mapstructure:"root"`
}

// S3Config covers S3 and S3-compatible endpoints.
type S3Config struct {
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Table           string        `mapstructure:"table"`
}

// RedisConfig covers the redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QuoteConfig captures quote API connectivity.
type QuoteConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	MetalSymbol    string        `mapstructure:"metal_symbol"`
	FXSymbol       string        `mapstructure:"fx_symbol"`
	Provider       string        `mapstructure:"provider"`
}

// PipelineConfig drives the stage semantics.
type PipelineConfig struct {
	Asset           string `mapstructure:"asset"`
	ProcessDate     string `mapstructure:"process_date"`
	OpenClose       string `mapstructure:"open_close"`
	StrictNormalize bool   `mapstructure:"strict_normalize"`
}

// SchedulerConfig governs the cadence of run mode.
type SchedulerConfig struct {
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	AlignToBucket    bool          `mapstructure:"align_to_bucket"`
	BatchAt          string        `mapstructure:"batch_at"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
}

// BatchOffset parses BatchAt (HH:MM, UTC) into an offset from midnight.
func (s SchedulerConfig) BatchOffset() (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s.BatchAt))
	if err != nil {
		return 0, fmt.Errorf("%w: scheduler.batch_at must be HH:MM: %v", ErrInvalidConfig, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// AlertingConfig defines report notifications.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig configures Prometheus metrics and the pushgateway.
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Namespace      string `mapstructure:"namespace"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BULLION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv also accepts the unprefixed variable names used by older deployments.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"storage.bucket":         {"BULLION_STORAGE_BUCKET", "BUCKET_NAME"},
		"storage.raw_prefix":     {"BULLION_STORAGE_RAW_PREFIX", "RAW_PREFIX"},
		"storage.cleaned_prefix": {"BULLION_STORAGE_CLEANED_PREFIX", "CLEANED_PREFIX"},
		"storage.reports_prefix": {"BULLION_STORAGE_REPORTS_PREFIX", "REPORTS_PREFIX"},
		"pipeline.asset":         {"BULLION_PIPELINE_ASSET", "ASSET"},
		"pipeline.process_date":  {"BULLION_PIPELINE_PROCESS_DATE", "PROCESS_DATE", "REPORT_DATE"},
		"quote.api_key":          {"BULLION_QUOTE_API_KEY", "TWELVEDATA_API_KEY"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "bullionpipe")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("storage.backend", BackendFS)
	v.SetDefault("storage.fs.root", "data")
	v.SetDefault("storage.s3.region", "ap-south-1")
	v.SetDefault("storage.postgres.max_open_conns", 5)
	v.SetDefault("storage.postgres.max_idle_conns", 1)
	v.SetDefault("storage.postgres.conn_max_lifetime", "30m")
	v.SetDefault("storage.postgres.table", "blobs")
	v.SetDefault("storage.redis.addr", "localhost:6379")

	v.SetDefault("quote.base_url", "https://api.twelvedata.com/price")
	v.SetDefault("quote.request_timeout", "10s")
	v.SetDefault("quote.user_agent", "bullionpipe/1.0")
	v.SetDefault("quote.metal_symbol", "XAU/USD")
	v.SetDefault("quote.fx_symbol", "USD/INR")
	v.SetDefault("quote.provider", "twelvedata")

	v.SetDefault("pipeline.asset", "gold")
	v.SetDefault("pipeline.open_close", OpenCloseSorted)
	v.SetDefault("pipeline.strict_normalize", false)

	v.SetDefault("scheduler.snapshot_interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.batch_at", "00:15")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 0.0)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "bullion")
	v.SetDefault("metrics.job", "bullionpipe")

	v.SetDefault("export.max_data_points", 2000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// cleanPrefix reports whether prefix is relative and already in path.Clean form,
// apart from an optional trailing slash. Backends store keys in that form.
func cleanPrefix(prefix string) bool {
	if strings.HasPrefix(prefix, "/") {
		return false
	}
	trimmed := strings.TrimSuffix(prefix, "/")
	return trimmed != "" && path.Clean(trimmed) == trimmed
}

// Validate performs sanity checks on values every command needs.
func (c *Config) Validate() error {
	s := c.Storage
	switch s.Backend {
	case BackendFS, BackendMemory, BackendS3, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("%w: storage.backend %q not supported", ErrInvalidConfig, s.Backend)
	}
	if strings.TrimSpace(s.Bucket) == "" {
		return fmt.Errorf("%w: storage.bucket is required", ErrInvalidConfig)
	}
	if s.RawPrefix == "" || s.CleanedPrefix == "" || s.ReportsPrefix == "" {
		return fmt.Errorf("%w: storage.raw_prefix, storage.cleaned_prefix and storage.reports_prefix are required", ErrInvalidConfig)
	}
	for name, prefix := range map[string]string{
		"storage.raw_prefix":     s.RawPrefix,
		"storage.cleaned_prefix": s.CleanedPrefix,
		"storage.reports_prefix": s.ReportsPrefix,
	} {
		if !cleanPrefix(prefix) {
			return fmt.Errorf("%w: %s %q must be a clean relative path such as raw/", ErrInvalidConfig, name, prefix)
		}
	}
	if s.Backend == BackendPostgres && s.Postgres.DSN == "" {
		return fmt.Errorf("%w: storage.postgres.dsn is required for the postgres backend", ErrInvalidConfig)
	}
	if s.Backend == BackendRedis && s.Redis.Addr == "" {
		return fmt.Errorf("%w: storage.redis.addr is required for the redis backend", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Pipeline.Asset) == "" {
		return fmt.Errorf("%w: pipeline.asset cannot be empty", ErrInvalidConfig)
	}
	switch c.Pipeline.OpenClose {
	case OpenCloseSorted, OpenCloseChronological:
	default:
		return fmt.Errorf("%w: pipeline.open_close must be %q or %q", ErrInvalidConfig, OpenCloseSorted, OpenCloseChronological)
	}
	if c.Pipeline.ProcessDate != "" {
		if _, err := partition.ParseDate(c.Pipeline.ProcessDate); err != nil {
			return fmt.Errorf("%w: pipeline.process_date: %v", ErrInvalidConfig, err)
		}
	}
	if c.Scheduler.SnapshotInterval <= 0 {
		return fmt.Errorf("%w: scheduler.snapshot_interval must be greater than zero", ErrInvalidConfig)
	}
	if _, err := c.Scheduler.BatchOffset(); err != nil {
		return err
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("%w: export.max_data_points must be greater than zero", ErrInvalidConfig)
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("%w: alerting.threshold_pct cannot be negative", ErrInvalidConfig)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("%w: alerting.telegram.bot_token 必须配置", ErrInvalidConfig)
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("%w: alerting.telegram.chat_id 必须配置", ErrInvalidConfig)
		}
	}
	return nil
}

// RequireQuote checks the settings only the snapshot stage needs.
func (c *Config) RequireQuote() error {
	if strings.TrimSpace(c.Quote.APIKey) == "" {
		return fmt.Errorf("%w: quote.api_key is required", ErrInvalidConfig)
	}
	if c.Quote.MetalSymbol == "" || c.Quote.FXSymbol == "" {
		return fmt.Errorf("%w: quote.metal_symbol and quote.fx_symbol are required", ErrInvalidConfig)
	}
	return nil
}

// ResolveDate returns the CLI override, or the configured process date.
func (c *Config) ResolveDate(override string) (string, error) {
	date := strings.TrimSpace(override)
	if date == "" {
		date = strings.TrimSpace(c.Pipeline.ProcessDate)
	}
	if date == "" {
		return "", fmt.Errorf("%w: process date required (--date or pipeline.process_date)", ErrInvalidConfig)
	}
	if _, err := partition.ParseDate(date); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return date, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
