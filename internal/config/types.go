package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Data     DataConfig     `mapstructure:"data"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	ReportPort  int    `mapstructure:"report_port"` // 0 表示不启动查询接口
}

// DataConfig 描述行情数据源。
type DataConfig struct {
	Source     string      `mapstructure:"source"` // memory / ccxt
	Timeframe  string      `mapstructure:"timeframe"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制上游取数的重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// OpenAIConfig 描述大模型信号源的调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// BacktestConfig 提供回测运行的默认参数，单次运行可在 CLI 覆盖。
type BacktestConfig struct {
	StartDate          string   `mapstructure:"start_date"`
	EndDate            string   `mapstructure:"end_date"`
	Symbols            []string `mapstructure:"symbols"`
	InitialCash        float64  `mapstructure:"initial_cash"`
	CommissionRate     float64  `mapstructure:"commission_rate"`
	SlippageRate       float64  `mapstructure:"slippage_rate"`
	MaxPositions       int      `mapstructure:"max_positions"`
	PositionSizePct    float64  `mapstructure:"position_size_pct"`
	RebalanceFrequency string   `mapstructure:"rebalance_frequency"`
	MaxLookbackDays    int      `mapstructure:"max_lookback_days"`
	LookbackPeriods    int      `mapstructure:"lookback_periods"`
	StrictMode         bool     `mapstructure:"strict_mode"`
	RiskFreeRate       float64  `mapstructure:"risk_free_rate"`
	SignalSource       string   `mapstructure:"signal_source"` // rule / llm
}

// DatabaseConfig 管理结果库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	switch c.Data.Source {
	case "memory", "ccxt":
	default:
		err = multierr.Append(err, fmt.Errorf("data.source 取值非法: %s", c.Data.Source))
	}
	if c.Data.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("data.retry.max_attempts 必须大于0"))
	}
	if c.Data.Retry.MinDelay <= 0 || c.Data.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("data.retry.delay 必须为正"))
	}
	if c.Data.Retry.MinDelay > c.Data.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("data.retry.min_delay 不能大于 max_delay"))
	}

	switch c.Backtest.SignalSource {
	case "rule":
	case "llm":
		if c.OpenAI.APIKey == "" {
			err = multierr.Append(err, errors.New("openai.api_key 不能为空"))
		}
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("backtest.signal_source 取值非法: %s", c.Backtest.SignalSource))
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	switch c.Logging.Encoding {
	case "console", "json":
	default:
		err = multierr.Append(err, fmt.Errorf("logging.encoding 取值非法: %s", c.Logging.Encoding))
	}

	return err
}
