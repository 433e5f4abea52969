// Package config loads application configuration and initializes logging.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	DSA   DSAConfig   `yaml:"dsa" mapstructure:"dsa"`
	Store StoreConfig `yaml:"store" mapstructure:"store"`
	Sync  SyncConfig  `yaml:"sync" mapstructure:"sync"`
	Rules RulesConfig `yaml:"rules" mapstructure:"rules"`
	Serve ServeConfig `yaml:"serve" mapstructure:"serve"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
}

// DSAConfig holds Digital Slide Archive connection settings. Token
// lifecycle is external; only the current credential is consumed here.
type DSAConfig struct {
	APIURL    string  `yaml:"api_url" mapstructure:"api_url"`
	Token     string  `yaml:"token" mapstructure:"token"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	PageSize  int     `yaml:"page_size" mapstructure:"page_size"`
}

// StoreConfig configures snapshot persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SyncConfig tunes the batch synchronization driver.
type SyncConfig struct {
	BatchWidth    int           `yaml:"batch_width" mapstructure:"batch_width"`
	BatchDelay    time.Duration `yaml:"batch_delay" mapstructure:"batch_delay"`
	RetryAttempts int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
}

// RulesConfig points at the extraction rule file.
type RulesConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServeConfig configures the HTTP surface for the UI layer.
type ServeConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("WRANGLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Empty defaults register the keys so environment overrides reach
	// Unmarshal.
	v.SetDefault("dsa.api_url", "")
	v.SetDefault("dsa.token", "")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "wrangler.db")
	v.SetDefault("sync.batch_width", 5)
	v.SetDefault("sync.batch_delay", "250ms")
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.retry_delay", "500ms")
	v.SetDefault("rules.path", "rules.yaml")
	v.SetDefault("serve.port", 8080)
	v.SetDefault("serve.allowed_origins", []string{"*"})
	v.SetDefault("dsa.rate_limit", 10.0)
	v.SetDefault("dsa.page_size", 500)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
