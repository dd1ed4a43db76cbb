package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nanzhong/marketdata/market"
	"gopkg.in/yaml.v3"
)

const appEnvVar = "APP_ENV"

type Config struct {
	Server      ServerConfig   `yaml:"server"`
	Environment string         `yaml:"environment"`
	Logging     LoggingConfig  `yaml:"logging"`
	Cache       CacheConfig    `yaml:"cache"`
	Fallback    FallbackConfig `yaml:"fallback"`
	Usage       UsageConfig    `yaml:"usage"`
	Budget      BudgetConfig   `yaml:"budget"`
	Upstream    UpstreamConfig `yaml:"upstream"`
	Slack       SlackConfig    `yaml:"slack"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigin   string        `yaml:"allowed_origin"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CacheConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

type FallbackConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type UsageConfig struct {
	DailyLimit   int64 `yaml:"daily_limit"`
	MonthlyLimit int64 `yaml:"monthly_limit"`
}

type BudgetConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Region            string        `yaml:"region"`
	FunctionName      string        `yaml:"function_name"`
	FreeTierLimit     float64       `yaml:"free_tier_limit"`
	WarningThreshold  float64       `yaml:"warning_threshold"`
	CriticalThreshold float64       `yaml:"critical_threshold"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

type UpstreamConfig struct {
	RequestsPerSecond float64            `yaml:"requests_per_second"`
	Burst             int                `yaml:"burst"`
	Timeout           time.Duration      `yaml:"timeout"`
	DefaultRates      map[string]float64 `yaml:"default_rates"`
}

type SlackConfig struct {
	BotToken      string `yaml:"bot_token"`
	SigningSecret string `yaml:"signing_secret"`
	AlertChannel  string `yaml:"alert_channel"`
}

// Default returns the configuration used for keys a file leaves unset.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "0.0.0.0:8080",
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigin:   "*",
		},
		Environment: string(market.Live),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Cache: CacheConfig{
			Redis: RedisConfig{Addr: "localhost:6379"},
		},
		Fallback: FallbackConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Usage: UsageConfig{
			DailyLimit:   100,
			MonthlyLimit: 1000,
		},
		Budget: BudgetConfig{
			FreeTierLimit:     1000000,
			WarningThreshold:  0.85,
			CriticalThreshold: 0.95,
			CacheTTL:          5 * time.Minute,
		},
		Upstream: UpstreamConfig{
			RequestsPerSecond: 5,
			Burst:             5,
			Timeout:           10 * time.Second,
			DefaultRates: map[string]float64{
				"USD-JPY": 149.5,
			},
		},
	}
}

// LoadConfig reads the YAML file at path over Default and applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// Env resolves the configured market environment.
func (c *Config) Env() market.Environment {
	return market.ParseEnvironment(c.Environment)
}

func applyEnv(config *Config) {
	if v := envString(appEnvVar); v != "" {
		config.Environment = v
	}
	if v := envString("ADDR"); v != "" {
		config.Server.Addr = v
	}
	if v := envString("REDIS_ADDR"); v != "" {
		config.Cache.Redis.Addr = v
	}
	if v := envString("REDIS_PASSWORD"); v != "" {
		config.Cache.Redis.Password = v
	}
	if v := envString("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			config.Cache.Redis.DB = db
		}
	}
	if v := envString("DB_DSN"); v != "" {
		config.Fallback.DSN = v
	}
	if v := envString("AWS_REGION"); v != "" {
		config.Budget.Region = v
	}
	if v := envString("SLACK_BOT_TOKEN"); v != "" {
		config.Slack.BotToken = v
	}
	if v := envString("SLACK_SIGNING_SECRET"); v != "" {
		config.Slack.SigningSecret = v
	}
	if v := envString("SLACK_ALERT_CHANNEL"); v != "" {
		config.Slack.AlertChannel = v
	}
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func validateConfig(cfg *Config) error {
	var errs []error

	if cfg.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if cfg.Usage.DailyLimit <= 0 || cfg.Usage.MonthlyLimit <= 0 {
		errs = append(errs, errors.New("usage limits must be positive"))
	}
	if cfg.Usage.DailyLimit > cfg.Usage.MonthlyLimit {
		errs = append(errs, errors.New("usage.daily_limit cannot exceed usage.monthly_limit"))
	}
	if cfg.Upstream.RequestsPerSecond <= 0 || cfg.Upstream.Burst <= 0 {
		errs = append(errs, errors.New("upstream rate limit must be positive"))
	}
	if cfg.Budget.Enabled {
		if cfg.Budget.FreeTierLimit <= 0 {
			errs = append(errs, errors.New("budget.free_tier_limit must be positive"))
		}
		if cfg.Budget.WarningThreshold <= 0 || cfg.Budget.WarningThreshold >= cfg.Budget.CriticalThreshold || cfg.Budget.CriticalThreshold > 1 {
			errs = append(errs, errors.New("budget thresholds must satisfy 0 < warning < critical <= 1"))
		}
	}
	for pair := range cfg.Upstream.DefaultRates {
		if _, _, ok := market.SplitPair(pair); !ok {
			errs = append(errs, fmt.Errorf("upstream.default_rates: invalid pair %q", pair))
		}
	}
	switch strings.ToLower(cfg.Environment) {
	case "", string(market.Live), string(market.Test), "testing", "mock", "production", "development", "staging":
	default:
		errs = append(errs, fmt.Errorf("unknown environment %q", cfg.Environment))
	}

	return errors.Join(errs...)
}
