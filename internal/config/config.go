package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the neural engine.
type Config struct {
	Storage     Storage           `yaml:"storage"`
	Server      Server            `yaml:"server"`
	Alpaca      Alpaca            `yaml:"alpaca"`
	Logging     Logging           `yaml:"logging"`
	Backtest    BacktestConfig    `yaml:"backtest"`
	Portfolio   PortfolioConfig   `yaml:"portfolio"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Strategies  []StrategyConfig  `yaml:"strategies"`
	Symbols     []string          `yaml:"symbols"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BacktestConfig holds simulation parameters for the backtest engine.
type BacktestConfig struct {
	InitialCapital   float64 `yaml:"initial_capital"`
	RiskFreeRate     float64 `yaml:"risk_free_rate"`
	RegimeWindow     int     `yaml:"regime_window"`
	PositionPct      float64 `yaml:"position_pct"`
	PeriodTimeoutSec int     `yaml:"period_timeout_sec"`
}

// PortfolioConfig holds capital and allocation limits for the strategy
// portfolio.
type PortfolioConfig struct {
	InitialCapital float64 `yaml:"initial_capital"`
	MinScore       float64 `yaml:"min_score"`
	MaxWeight      float64 `yaml:"max_weight"`
}

// MaintenanceConfig controls the periodic retire/adapt/reallocate sweep.
type MaintenanceConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
}

// StrategyConfig declares a built-in strategy instance to register at
// startup.
type StrategyConfig struct {
	ID     string             `yaml:"id"`
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies defaults for unset numeric parameters, and then
// applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyDefaults fills in zero-valued numeric parameters with the engine
// defaults.
func applyDefaults(cfg *Config) {
	if cfg.Backtest.InitialCapital == 0 {
		cfg.Backtest.InitialCapital = 100000
	}
	if cfg.Backtest.RiskFreeRate == 0 {
		cfg.Backtest.RiskFreeRate = 0.02
	}
	if cfg.Backtest.RegimeWindow == 0 {
		cfg.Backtest.RegimeWindow = 20
	}
	if cfg.Backtest.PositionPct == 0 {
		cfg.Backtest.PositionPct = 0.02
	}
	if cfg.Backtest.PeriodTimeoutSec == 0 {
		cfg.Backtest.PeriodTimeoutSec = 120
	}
	if cfg.Portfolio.InitialCapital == 0 {
		cfg.Portfolio.InitialCapital = 1000000
	}
	if cfg.Portfolio.MinScore == 0 {
		cfg.Portfolio.MinScore = 0.4
	}
	if cfg.Portfolio.MaxWeight == 0 {
		cfg.Portfolio.MaxWeight = 0.25
	}
	if cfg.Maintenance.IntervalMinutes == 0 {
		cfg.Maintenance.IntervalMinutes = 60
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Canonical Alpaca SDK env vars take priority over the rest.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
