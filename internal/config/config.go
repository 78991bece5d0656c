// Package config loads thotem-cli settings from config.yaml and THOTEM_*
// environment variables, and builds the global logger.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the root configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Feed       FeedConfig       `yaml:"feed" mapstructure:"feed"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the contact store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	KeySchema   string `yaml:"key_schema" mapstructure:"key_schema"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FeedConfig points at the KML feed and the correspondent endpoint.
type FeedConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	DetailURL string `yaml:"detail_url" mapstructure:"detail_url"`
	Limit     int    `yaml:"limit" mapstructure:"limit"`
}

// FetchConfig tunes the HTTP side.
type FetchConfig struct {
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	FeedRetries      int     `yaml:"feed_retries" mapstructure:"feed_retries"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Timeout returns TimeoutSecs as a duration.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// IngestConfig controls the pass loop.
type IngestConfig struct {
	Mode            string        `yaml:"mode" mapstructure:"mode"`
	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	MaxPasses       int           `yaml:"max_passes" mapstructure:"max_passes"`
	Workers         int           `yaml:"workers" mapstructure:"workers"`
	ConflictRetries int           `yaml:"conflict_retries" mapstructure:"conflict_retries"`
}

// PricingConfig holds the AWS rates used by the cost estimate. Instance
// rates are a list because instance type names contain dots, which viper
// would read as nesting.
type PricingConfig struct {
	Instances         []InstancePricing `yaml:"instances" mapstructure:"instances"`
	DefaultPerHour    float64           `yaml:"default_per_hour" mapstructure:"default_per_hour"`
	NATGatewayPerHour float64           `yaml:"nat_gateway_per_hour" mapstructure:"nat_gateway_per_hour"`
	NATDataPerGB      float64           `yaml:"nat_data_per_gb" mapstructure:"nat_data_per_gb"`
	S3PerGBMonth      float64           `yaml:"s3_per_gb_month" mapstructure:"s3_per_gb_month"`
	S3DataOutPerGB    float64           `yaml:"s3_data_out_per_gb" mapstructure:"s3_data_out_per_gb"`
}

// InstancePricing is the hourly rate of one EC2 instance type.
type InstancePricing struct {
	Type    string  `yaml:"type" mapstructure:"type"`
	PerHour float64 `yaml:"per_hour" mapstructure:"per_hour"`
}

type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig controls the ingestion health checks.
type MonitoringConfig struct {
	Enabled                bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	UnsettledRateThreshold float64 `yaml:"unsettled_rate_threshold" mapstructure:"unsettled_rate_threshold"`
	MaxIncompleteRuns      int     `yaml:"max_incomplete_runs" mapstructure:"max_incomplete_runs"`
}

// NotionConfig targets the database `contacts push notion` writes to.
type NotionConfig struct {
	Token        string  `yaml:"token" mapstructure:"token"`
	DatabaseID   string  `yaml:"database_id" mapstructure:"database_id"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// SalesforceConfig holds JWT bearer credentials for `contacts push salesforce`.
type SalesforceConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	Username     string  `yaml:"username" mapstructure:"username"`
	KeyPath      string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL     string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	LeadSource   string  `yaml:"lead_source" mapstructure:"lead_source"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml from the working directory if present, then
// applies THOTEM_ environment overrides (store.driver -> THOTEM_STORE_DRIVER).
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file, which must exist. An
// empty path searches the working directory like Load.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("THOTEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "thotem.db")
	v.SetDefault("store.key_schema", "name")
	v.SetDefault("feed.url", "https://irve.qualifelec.fr/assets/qualifelec-thotem-irve.kml")
	v.SetDefault("feed.detail_url", "https://irve.qualifelec.fr/api/get-correspondant-informations-thotem.php")
	v.SetDefault("feed.limit", 0)
	v.SetDefault("fetch.user_agent", "thotem-cli/1.0")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.rate_limit_rps", 5)
	v.SetDefault("fetch.feed_retries", 3)
	v.SetDefault("fetch.breaker_threshold", 10)
	v.SetDefault("fetch.breaker_reset_secs", 60)
	v.SetDefault("ingest.mode", "until_complete")
	v.SetDefault("ingest.poll_interval", 30*time.Minute)
	v.SetDefault("ingest.max_passes", 0)
	v.SetDefault("ingest.workers", 1)
	v.SetDefault("ingest.conflict_retries", 5)
	v.SetDefault("pricing.instances", []map[string]any{{"type": "t3.micro", "per_hour": 0.0116}})
	v.SetDefault("pricing.default_per_hour", 0.0134)
	v.SetDefault("pricing.nat_gateway_per_hour", 0.045)
	v.SetDefault("pricing.nat_data_per_gb", 0.045)
	v.SetDefault("pricing.s3_per_gb_month", 0.023)
	v.SetDefault("pricing.s3_data_out_per_gb", 0.09)
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.unsettled_rate_threshold", 0.10)
	v.SetDefault("monitoring.max_incomplete_runs", 3)
	v.SetDefault("notion.rate_limit_rps", 3)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit_rps", 5)
	v.SetDefault("salesforce.lead_source", "Qualifelec IRVE")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs before it starts. mode is
// the command name: "ingest", "serve", "push-notion", "push-salesforce" or
// anything else for store-only commands. All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	switch c.Store.KeySchema {
	case "name", "name_email":
	default:
		errs = append(errs, fmt.Sprintf("store.key_schema must be name or name_email, got %q", c.Store.KeySchema))
	}

	switch mode {
	case "ingest":
		if c.Feed.URL == "" {
			errs = append(errs, "feed.url is required")
		}
		if c.Feed.DetailURL == "" {
			errs = append(errs, "feed.detail_url is required")
		}
		switch c.Ingest.Mode {
		case "once", "until_complete":
		default:
			errs = append(errs, fmt.Sprintf("ingest.mode must be once or until_complete, got %q", c.Ingest.Mode))
		}
		if c.Ingest.MaxPasses < 0 {
			errs = append(errs, "ingest.max_passes must not be negative")
		}
		if c.Fetch.RateLimitRPS <= 0 {
			errs = append(errs, "fetch.rate_limit_rps must be positive")
		}
	case "points":
		if c.Feed.URL == "" {
			errs = append(errs, "feed.url is required")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port))
		}
		if c.Monitoring.Enabled && c.Monitoring.WebhookURL == "" {
			errs = append(errs, "monitoring.webhook_url is required when monitoring is enabled")
		}
	case "push-notion":
		if c.Notion.Token == "" {
			errs = append(errs, "notion.token is required")
		}
		if c.Notion.DatabaseID == "" {
			errs = append(errs, "notion.database_id is required")
		}
	case "push-salesforce":
		if c.Salesforce.ClientID == "" {
			errs = append(errs, "salesforce.client_id is required")
		}
		if c.Salesforce.Username == "" {
			errs = append(errs, "salesforce.username is required")
		}
		if c.Salesforce.KeyPath == "" {
			errs = append(errs, "salesforce.key_path is required")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger replaces the global zap logger according to cfg.
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
