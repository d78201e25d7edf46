package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/pricewatch/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Naver   NaverConfig   `yaml:"naver" mapstructure:"naver"`
	Collect CollectConfig `yaml:"collect" mapstructure:"collect"`
	Refresh RefreshConfig `yaml:"refresh" mapstructure:"refresh"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// NaverConfig holds Naver Open API credentials and client tuning.
type NaverConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// CollectConfig holds defaults for collection runs.
type CollectConfig struct {
	DefaultCategory string `yaml:"default_category" mapstructure:"default_category"`
	DefaultPageSize int    `yaml:"default_page_size" mapstructure:"default_page_size"`
	DefaultSort     string `yaml:"default_sort" mapstructure:"default_sort"`
}

// RefreshConfig configures the periodic refresh runner.
type RefreshConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// ServerConfig configures the HTTP API server.
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
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("naver.base_url", "https://openapi.naver.com/v1/search/shop.json")
	v.SetDefault("naver.timeout_secs", 10)
	v.SetDefault("naver.rate_per_sec", 8)
	v.SetDefault("collect.default_page_size", 100)
	v.SetDefault("collect.default_sort", "sim")
	v.SetDefault("refresh.interval_secs", 3600)
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

// Validate checks that the configuration is complete for the given mode.
// Modes map to commands: "collect" and "refresh" call the search API,
// "serve" additionally binds the HTTP port, "local" only needs a store.
func (c *Config) Validate(mode string) error {
	var missing []string

	if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
		missing = append(missing, "store.driver must be postgres or sqlite")
	}
	if c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url is required")
	}

	needsAPI := false
	switch mode {
	case "collect", "refresh", "serve":
		needsAPI = true
	case "local":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needsAPI {
		if c.Naver.ClientID == "" {
			missing = append(missing, "naver.client_id is required")
		}
		if c.Naver.ClientSecret == "" {
			missing = append(missing, "naver.client_secret is required")
		}
		if c.Naver.RatePerSec <= 0 {
			missing = append(missing, "naver.rate_per_sec must be > 0")
		}
		if c.Collect.DefaultPageSize < 1 || c.Collect.DefaultPageSize > 100 {
			missing = append(missing, "collect.default_page_size must be between 1 and 100")
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
		if c.Refresh.IntervalSecs < 60 {
			missing = append(missing, "refresh.interval_secs must be >= 60")
		}
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s", strings.Join(missing, "; "))
	}
	return nil
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
