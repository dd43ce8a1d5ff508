package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode    string   `yaml:"mode"` // SIM or LIVE
	Symbols []string `yaml:"symbols"`

	Trading struct {
		InitialBalance float64 `yaml:"initial_balance"`
		TakerFeeRate   float64 `yaml:"taker_fee_rate"`
		MakerFeeRate   float64 `yaml:"maker_fee_rate"`
		MaxLeverage    int     `yaml:"max_leverage"`
	} `yaml:"trading"`

	Sim struct {
		Concurrency        int    `yaml:"concurrency"`
		UnitTimeoutSeconds int    `yaml:"unit_timeout_seconds"`
		RetryRounds        int    `yaml:"retry_rounds"`
		DataDir            string `yaml:"data_dir"`
		WindowBars         int    `yaml:"window_bars"`
		HistoryBars        int    `yaml:"history_bars"`
	} `yaml:"sim"`

	Persist struct {
		Dir                   string `yaml:"dir"`
		QueueSize             int    `yaml:"queue_size"`
		EnqueueTimeoutSeconds int    `yaml:"enqueue_timeout_seconds"`
		DrainTimeoutSeconds   int    `yaml:"drain_timeout_seconds"`
	} `yaml:"persist"`

	Exchange struct {
		BaseURL     string `yaml:"base_url"`
		WsURL       string `yaml:"ws_url"`
		KeyEnv      string `yaml:"key_env"`
		SecretEnv   string `yaml:"secret_env"`
		BarInterval string `yaml:"bar_interval"`
	} `yaml:"exchange"`

	LLM struct {
		Provider    string  `yaml:"provider"`
		Model       string  `yaml:"model"`
		BaseURL     string  `yaml:"base_url"`
		APIKeyEnv   string  `yaml:"api_key_env"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float32 `yaml:"temperature"`
	} `yaml:"llm"`

	MetricsAddr string `yaml:"metrics_addr"`
}

// UnitTimeout returns the per-simulation-unit wall-clock budget for the
// decision collaborator call.
func (c *Config) UnitTimeout() time.Duration {
	return time.Duration(c.Sim.UnitTimeoutSeconds) * time.Second
}

func (c *Config) EnqueueTimeout() time.Duration {
	return time.Duration(c.Persist.EnqueueTimeoutSeconds) * time.Second
}

func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Persist.DrainTimeoutSeconds) * time.Second
}

func (c *Config) Validate() error {
	if c.Mode != "SIM" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'SIM' or 'LIVE'", c.Mode)
	}
	if len(c.Symbols) == 0 {
		return errors.New("symbols cannot be empty")
	}
	if c.Trading.InitialBalance <= 0 {
		return fmt.Errorf("trading.initial_balance must be positive, got %.2f", c.Trading.InitialBalance)
	}
	if c.Trading.TakerFeeRate < 0 || c.Trading.TakerFeeRate >= 1 {
		return fmt.Errorf("trading.taker_fee_rate must be in [0,1), got %f", c.Trading.TakerFeeRate)
	}
	if c.Trading.MaxLeverage < 1 {
		return fmt.Errorf("trading.max_leverage must be >= 1, got %d", c.Trading.MaxLeverage)
	}
	if c.Sim.Concurrency < 1 {
		return fmt.Errorf("sim.concurrency must be >= 1, got %d", c.Sim.Concurrency)
	}
	if c.Sim.RetryRounds < 1 {
		return fmt.Errorf("sim.retry_rounds must be >= 1, got %d", c.Sim.RetryRounds)
	}
	if c.Mode == "LIVE" && c.Exchange.BaseURL == "" {
		return errors.New("exchange.base_url is required in LIVE mode")
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Trading.TakerFeeRate == 0 {
		c.Trading.TakerFeeRate = 0.0005
	}
	if c.Trading.MakerFeeRate == 0 {
		c.Trading.MakerFeeRate = 0.0002
	}
	if c.Trading.MaxLeverage == 0 {
		c.Trading.MaxLeverage = 20
	}
	if c.Sim.Concurrency == 0 {
		c.Sim.Concurrency = 8
	}
	if c.Sim.UnitTimeoutSeconds == 0 {
		c.Sim.UnitTimeoutSeconds = 600
	}
	if c.Sim.RetryRounds == 0 {
		c.Sim.RetryRounds = 3
	}
	if c.Sim.WindowBars == 0 {
		c.Sim.WindowBars = 60
	}
	if c.Sim.HistoryBars == 0 {
		c.Sim.HistoryBars = 100
	}
	if c.Persist.Dir == "" {
		c.Persist.Dir = "data"
	}
	if c.Persist.QueueSize == 0 {
		c.Persist.QueueSize = 256
	}
	if c.Persist.EnqueueTimeoutSeconds == 0 {
		c.Persist.EnqueueTimeoutSeconds = 3
	}
	if c.Persist.DrainTimeoutSeconds == 0 {
		c.Persist.DrainTimeoutSeconds = 10
	}
	if c.Exchange.BarInterval == "" {
		c.Exchange.BarInterval = "1m"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9100"
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
