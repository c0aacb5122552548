// Package config loads and validates the single typed configuration structure
// shared by all warden processes.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Service names accepted in the services list.
const (
	ServiceFeeder   = "feeder"
	ServiceProducer = "producer"
	ServiceExecutor = "executor"
	ServiceGovernor = "governor"
)

// Postgres holds shared state store connection settings.
type Postgres struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// Advisor holds risk-advisory collaborator settings. The API key is taken from
// the ADVISOR_API_KEY environment variable when not set here.
type Advisor struct {
	APIURL     string        `yaml:"api_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// Config is the validated runtime configuration.
type Config struct {
	Symbol                string
	InitialBalance        decimal.Decimal
	OrderSizePercent      decimal.Decimal
	MaxCapitalLossPercent decimal.Decimal
	MaxTradesPerWindow    int
	RiskWindow            time.Duration
	StaleSignalThreshold  time.Duration

	SignalFile  string
	WalDir      string
	PriceSource string

	FeederInterval   time.Duration
	ProducerInterval time.Duration
	ExecutorInterval time.Duration
	GovernorInterval time.Duration

	Services []string
	Postgres Postgres
	Advisor  Advisor
}

type configTmp struct {
	Symbol                string `yaml:"symbol"`
	InitialBalance        string `yaml:"initial_balance"`
	OrderSizePercent      string `yaml:"order_size_percent,omitempty"`
	MaxCapitalLossPercent string `yaml:"max_capital_loss_percent,omitempty"`
	MaxTradesPerWindow    int    `yaml:"max_trades_per_10min,omitempty"`
	RiskWindow            string `yaml:"risk_window,omitempty"`
	StaleSignalThreshold  string `yaml:"stale_signal_threshold,omitempty"`

	SignalFile  string `yaml:"signal_file,omitempty"`
	WalDir      string `yaml:"wal_dir,omitempty"`
	PriceSource string `yaml:"price_source,omitempty"`

	FeederInterval   string `yaml:"feeder_interval,omitempty"`
	ProducerInterval string `yaml:"producer_interval,omitempty"`
	ExecutorInterval string `yaml:"executor_interval,omitempty"`
	GovernorInterval string `yaml:"governor_interval,omitempty"`

	Services []string   `yaml:"services,omitempty"`
	Postgres Postgres   `yaml:"postgres"`
	Advisor  advisorTmp `yaml:"advisor"`
}

type advisorTmp struct {
	APIURL     string `yaml:"api_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

// Get reads the YAML config at path and applies defaults.
func Get(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var tmp configTmp
	if err := yaml.Unmarshal(raw, &tmp); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return fromTmp(tmp)
}

func fromTmp(tmp configTmp) (*Config, error) {
	cfg := &Config{
		Symbol:             tmp.Symbol,
		MaxTradesPerWindow: tmp.MaxTradesPerWindow,
		SignalFile:         tmp.SignalFile,
		WalDir:             tmp.WalDir,
		PriceSource:        tmp.PriceSource,
		Services:           tmp.Services,
		Postgres:           tmp.Postgres,
		Advisor: Advisor{
			APIURL:     tmp.Advisor.APIURL,
			APIKey:     tmp.Advisor.APIKey,
			Model:      tmp.Advisor.Model,
			MaxRetries: tmp.Advisor.MaxRetries,
		},
	}

	var err error
	cfg.InitialBalance, err = parseDecimal(tmp.InitialBalance, "100000")
	if err != nil {
		return nil, fmt.Errorf("incorrect 'initial_balance' param: %w", err)
	}
	cfg.OrderSizePercent, err = parseDecimal(tmp.OrderSizePercent, "25")
	if err != nil {
		return nil, fmt.Errorf("incorrect 'order_size_percent' param: %w", err)
	}
	cfg.MaxCapitalLossPercent, err = parseDecimal(tmp.MaxCapitalLossPercent, "2")
	if err != nil {
		return nil, fmt.Errorf("incorrect 'max_capital_loss_percent' param: %w", err)
	}

	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"risk_window", tmp.RiskWindow, &cfg.RiskWindow},
		{"stale_signal_threshold", tmp.StaleSignalThreshold, &cfg.StaleSignalThreshold},
		{"feeder_interval", tmp.FeederInterval, &cfg.FeederInterval},
		{"producer_interval", tmp.ProducerInterval, &cfg.ProducerInterval},
		{"executor_interval", tmp.ExecutorInterval, &cfg.ExecutorInterval},
		{"governor_interval", tmp.GovernorInterval, &cfg.GovernorInterval},
		{"advisor timeout", tmp.Advisor.Timeout, &cfg.Advisor.Timeout},
	} {
		if *d.dst, err = parseDuration(d.raw); err != nil {
			return nil, fmt.Errorf("incorrect '%s' param: %w", d.name, err)
		}
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.MaxTradesPerWindow == 0 {
		cfg.MaxTradesPerWindow = 5
	}
	if cfg.RiskWindow == 0 {
		cfg.RiskWindow = 10 * time.Minute
	}
	if cfg.FeederInterval == 0 {
		cfg.FeederInterval = time.Minute
	}
	if cfg.ProducerInterval == 0 {
		cfg.ProducerInterval = time.Minute
	}
	if cfg.ExecutorInterval == 0 {
		cfg.ExecutorInterval = 10 * time.Second
	}
	if cfg.GovernorInterval == 0 {
		cfg.GovernorInterval = 5 * time.Minute
	}
	if cfg.StaleSignalThreshold == 0 {
		// a signal older than two producer cadences is not actionable
		cfg.StaleSignalThreshold = 2 * cfg.ProducerInterval
	}
	if cfg.SignalFile == "" {
		cfg.SignalFile = "./trade_signal.json"
	}
	if cfg.WalDir == "" {
		cfg.WalDir = "./wal"
	}
	if cfg.PriceSource == "" {
		cfg.PriceSource = "randomwalk"
	}
	if len(cfg.Services) == 0 {
		cfg.Services = []string{ServiceFeeder, ServiceProducer, ServiceExecutor, ServiceGovernor}
	}
	if cfg.Advisor.Timeout == 0 {
		cfg.Advisor.Timeout = 30 * time.Second
	}
	if cfg.Advisor.MaxRetries == 0 {
		cfg.Advisor.MaxRetries = 3
	}
	if cfg.Advisor.APIKey == "" {
		cfg.Advisor.APIKey = os.Getenv("ADVISOR_API_KEY")
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
}

// Validate checks invariants that would otherwise surface mid-run.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("'symbol' param is required")
	}
	if !c.InitialBalance.IsPositive() {
		return fmt.Errorf("'initial_balance' must be positive, got %s", c.InitialBalance.String())
	}
	one, hundred := decimal.NewFromInt(1), decimal.NewFromInt(100)
	if c.OrderSizePercent.LessThan(one) || c.OrderSizePercent.GreaterThan(hundred) {
		return fmt.Errorf("'order_size_percent' must be between 1 and 100, got %s", c.OrderSizePercent.String())
	}
	if !c.MaxCapitalLossPercent.IsPositive() || c.MaxCapitalLossPercent.GreaterThan(hundred) {
		return fmt.Errorf("'max_capital_loss_percent' must be in (0,100], got %s", c.MaxCapitalLossPercent.String())
	}
	if c.MaxTradesPerWindow < 1 {
		return fmt.Errorf("'max_trades_per_10min' must be at least 1, got %d", c.MaxTradesPerWindow)
	}
	for _, svc := range c.Services {
		switch svc {
		case ServiceFeeder, ServiceProducer, ServiceExecutor, ServiceGovernor:
		default:
			return fmt.Errorf("unknown service %q in 'services'", svc)
		}
	}
	switch c.PriceSource {
	case "binance", "bybit", "randomwalk":
	default:
		return fmt.Errorf("unknown 'price_source' %q", c.PriceSource)
	}
	return nil
}

// RunsService reports whether the named service is enabled.
func (c *Config) RunsService(name string) bool {
	for _, svc := range c.Services {
		if svc == name {
			return true
		}
	}
	return false
}

func parseDecimal(raw, fallback string) (decimal.Decimal, error) {
	if raw == "" {
		raw = fallback
	}
	return decimal.NewFromString(raw)
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}
