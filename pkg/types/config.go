// Package types provides configuration types for the signal engine.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the root runtime configuration, loaded from an optional YAML
// file with GOLDSIGHT_* environment variable overrides.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Selector   SelectorConfig   `mapstructure:"selector"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	LogLevel   string           `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds SQLite storage settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// MarketDataConfig holds Twelve Data provider settings.
type MarketDataConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url" validate:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RiskConfig holds the risk gate limits.
type RiskConfig struct {
	AccountBalance       float64 `mapstructure:"account_balance" validate:"gt=0"`
	RiskPerTrade         float64 `mapstructure:"risk_per_trade" validate:"gt=0,lte=0.1"`
	MaxDailyLossPct      float64 `mapstructure:"max_daily_loss_pct" validate:"gt=0,lte=0.5"`
	MaxConcurrentSignals int     `mapstructure:"max_concurrent_signals" validate:"min=1"`
}

// PipelineConfig holds signal pipeline thresholds.
type PipelineConfig struct {
	MinRiskReward float64       `mapstructure:"min_risk_reward" validate:"gt=0"`
	MinConfidence float64       `mapstructure:"min_confidence" validate:"min=0,max=100"`
	DedupWindow   time.Duration `mapstructure:"dedup_window"`
	BiasLookback  int           `mapstructure:"bias_lookback" validate:"min=1"`
	BiasThreshold float64       `mapstructure:"bias_threshold" validate:"gt=0.5,lte=1"`
}

// SelectorConfig holds strategy selector tuning.
type SelectorConfig struct {
	MinTrades        int     `mapstructure:"min_trades" validate:"min=1"`
	LiveBlendWeight  float64 `mapstructure:"live_blend_weight" validate:"min=0,max=1"`
	LiveMinSignals   int     `mapstructure:"live_min_signals" validate:"min=1"`
	RegimePenalty    float64 `mapstructure:"regime_penalty" validate:"gt=0,lte=1"`
	WinRateDropLimit float64 `mapstructure:"win_rate_drop_limit" validate:"gt=0,lt=1"`
}

// JobsConfig holds scheduler intervals.
type JobsConfig struct {
	OutcomeInterval      time.Duration `mapstructure:"outcome_interval"`
	ScannerInterval      time.Duration `mapstructure:"scanner_interval"`
	BacktestInterval     time.Duration `mapstructure:"backtest_interval"`
	OptimizationInterval time.Duration `mapstructure:"optimization_interval"`
	RetentionInterval    time.Duration `mapstructure:"retention_interval"`
	FailureThreshold     int           `mapstructure:"failure_threshold" validate:"min=1"`
}

// TelegramConfig holds notification delivery settings. Empty token or
// chat ID disables delivery.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("database.path", "goldsight.db")

	v.SetDefault("market_data.base_url", "https://api.twelvedata.com")
	v.SetDefault("market_data.timeout", 10*time.Second)

	v.SetDefault("risk.account_balance", 10000.0)
	v.SetDefault("risk.risk_per_trade", 0.01)
	v.SetDefault("risk.max_daily_loss_pct", 0.02)
	v.SetDefault("risk.max_concurrent_signals", 2)

	v.SetDefault("pipeline.min_risk_reward", 2.0)
	v.SetDefault("pipeline.min_confidence", 65.0)
	v.SetDefault("pipeline.dedup_window", 4*time.Hour)
	v.SetDefault("pipeline.bias_lookback", 20)
	v.SetDefault("pipeline.bias_threshold", 0.75)

	v.SetDefault("selector.min_trades", 8)
	v.SetDefault("selector.live_blend_weight", 0.30)
	v.SetDefault("selector.live_min_signals", 5)
	v.SetDefault("selector.regime_penalty", 0.90)
	v.SetDefault("selector.win_rate_drop_limit", 0.15)

	v.SetDefault("jobs.outcome_interval", 90*time.Second)
	v.SetDefault("jobs.scanner_interval", 30*time.Minute)
	v.SetDefault("jobs.backtest_interval", 4*time.Hour)
	v.SetDefault("jobs.optimization_interval", 4*time.Hour)
	v.SetDefault("jobs.retention_interval", 24*time.Hour)
	v.SetDefault("jobs.failure_threshold", 3)
}

// LoadConfig reads configuration from the given file path (optional) and
// the environment, validates it, and returns the resulting Config.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GOLDSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}
