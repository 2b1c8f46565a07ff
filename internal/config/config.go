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
	Reddit    RedditConfig    `yaml:"reddit" mapstructure:"reddit"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Critino   CritinoConfig   `yaml:"critino" mapstructure:"critino"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Profile   ProfileConfig   `yaml:"profile" mapstructure:"profile"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Optimizer OptimizerConfig `yaml:"optimizer" mapstructure:"optimizer"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RedditConfig holds source API credentials and fetch tuning.
type RedditConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	AuthURL      string  `yaml:"auth_url" mapstructure:"auth_url"`
	PageLimit    int     `yaml:"page_limit" mapstructure:"page_limit"`
	MaxPages     int     `yaml:"max_pages" mapstructure:"max_pages"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	ClassifyModel  string `yaml:"classify_model" mapstructure:"classify_model"`
	SummarizeModel string `yaml:"summarize_model" mapstructure:"summarize_model"`
	RewriteModel   string `yaml:"rewrite_model" mapstructure:"rewrite_model"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// CritinoConfig holds the critique-recording service settings.
type CritinoConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	Team        string `yaml:"team" mapstructure:"team"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NotionConfig holds the lead tracking export settings.
type NotionConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	LeadDB string `yaml:"lead_db" mapstructure:"lead_db"`
}

// ProfileConfig points at the business profile file.
type ProfileConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PipelineConfig configures classification behavior.
type PipelineConfig struct {
	Workers            int `yaml:"workers" mapstructure:"workers"`
	ClassifyAttempts   int `yaml:"classify_attempts" mapstructure:"classify_attempts"`
	ClassifyRetryDelay int `yaml:"classify_retry_delay_secs" mapstructure:"classify_retry_delay_secs"`
	SummarizeFloor     int `yaml:"summarize_floor_tokens" mapstructure:"summarize_floor_tokens"`
}

// OptimizerConfig configures the prompt improvement loop.
type OptimizerConfig struct {
	SampleSize       int     `yaml:"sample_size" mapstructure:"sample_size"`
	RequiredAccuracy float64 `yaml:"required_accuracy" mapstructure:"required_accuracy"`
	MaxIterations    int     `yaml:"max_iterations" mapstructure:"max_iterations"`
	FixedOrder       bool    `yaml:"fixed_order" mapstructure:"fixed_order"`
}

// ServerConfig configures the boundary HTTP API.
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
	v.SetEnvPrefix("RELETINO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("reddit.base_url", "https://oauth.reddit.com")
	v.SetDefault("reddit.auth_url", "https://www.reddit.com/api/v1/access_token")
	v.SetDefault("reddit.page_limit", 20)
	v.SetDefault("reddit.max_pages", 2)
	v.SetDefault("reddit.rate_per_sec", 1)
	v.SetDefault("reddit.timeout_secs", 30)
	v.SetDefault("anthropic.classify_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.summarize_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.rewrite_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("critino.team", "startino")
	v.SetDefault("critino.timeout_secs", 15)
	v.SetDefault("profile.path", "profile.yaml")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.classify_attempts", 3)
	v.SetDefault("pipeline.classify_retry_delay_secs", 5)
	v.SetDefault("pipeline.summarize_floor_tokens", 150)
	v.SetDefault("optimizer.sample_size", 20)
	v.SetDefault("optimizer.required_accuracy", 0.8)
	v.SetDefault("optimizer.max_iterations", 10)
	v.SetDefault("optimizer.fixed_order", false)

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
