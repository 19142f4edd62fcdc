package backtest

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"

	appconfig "mytrade/internal/config"
	"mytrade/internal/indicator"
)

// Frequency 表示再平衡频率。
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ConfigError 表示回测配置非法，引擎不会启动。
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("backtest: 配置非法: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Config 定义单次回测的全部参数，构造后通过 Validate 一次性校验。
type Config struct {
	StartDate          time.Time
	EndDate            time.Time
	Symbols            []string
	InitialCash        float64
	CommissionRate     float64
	SlippageRate       float64
	MaxPositions       int
	PositionSizePct    float64
	RebalanceFrequency Frequency
	MaxLookback        time.Duration
	LookbackPeriods    int
	StrictMode         bool
	RiskFreeRate       float64
}

const dateLayout = "2006-01-02"

// FromAppConfig 从应用配置构造回测配置。
func FromAppConfig(cfg appconfig.BacktestConfig) (Config, error) {
	start, err := time.Parse(dateLayout, cfg.StartDate)
	if err != nil {
		return Config{}, &ConfigError{Err: fmt.Errorf("start_date 解析失败: %w", err)}
	}
	end, err := time.Parse(dateLayout, cfg.EndDate)
	if err != nil {
		return Config{}, &ConfigError{Err: fmt.Errorf("end_date 解析失败: %w", err)}
	}

	// 规则信号源依赖技术指标，回看条数不足时指标永远算不出来。
	if cfg.SignalSource == "rule" && cfg.LookbackPeriods > 0 && cfg.LookbackPeriods < indicator.MinBars {
		return Config{}, &ConfigError{Err: fmt.Errorf("lookback_periods (%d) 低于规则信号源所需的最少K线数 (%d)",
			cfg.LookbackPeriods, indicator.MinBars)}
	}

	result := Config{
		StartDate:          start,
		EndDate:            end,
		Symbols:            cfg.Symbols,
		InitialCash:        cfg.InitialCash,
		CommissionRate:     cfg.CommissionRate,
		SlippageRate:       cfg.SlippageRate,
		MaxPositions:       cfg.MaxPositions,
		PositionSizePct:    cfg.PositionSizePct,
		RebalanceFrequency: Frequency(cfg.RebalanceFrequency),
		MaxLookback:        time.Duration(cfg.MaxLookbackDays) * 24 * time.Hour,
		LookbackPeriods:    cfg.LookbackPeriods,
		StrictMode:         cfg.StrictMode,
		RiskFreeRate:       cfg.RiskFreeRate,
	}

	if err := result.Validate(); err != nil {
		return Config{}, err
	}

	return result.normalize(), nil
}

// Validate 校验配置约束，全部违规一次性返回。
func (c Config) Validate() error {
	var err error

	if c.StartDate.IsZero() || c.EndDate.IsZero() {
		err = multierr.Append(err, errors.New("start_date/end_date 不能为空"))
	} else if !c.StartDate.Before(c.EndDate) {
		err = multierr.Append(err, fmt.Errorf("start_date (%s) 必须早于 end_date (%s)",
			c.StartDate.Format(dateLayout), c.EndDate.Format(dateLayout)))
	}

	if len(c.Symbols) == 0 {
		err = multierr.Append(err, errors.New("symbols 不能为空"))
	}
	if c.InitialCash <= 0 {
		err = multierr.Append(err, fmt.Errorf("initial_cash 必须为正，当前为 %f", c.InitialCash))
	}
	if c.PositionSizePct <= 0 || c.PositionSizePct > 1 {
		err = multierr.Append(err, fmt.Errorf("position_size_pct 必须位于 (0,1]，当前为 %f", c.PositionSizePct))
	}
	if c.MaxPositions < 1 {
		err = multierr.Append(err, fmt.Errorf("max_positions 必须不小于1，当前为 %d", c.MaxPositions))
	}
	if c.CommissionRate < 0 {
		err = multierr.Append(err, fmt.Errorf("commission_rate 不能为负，当前为 %f", c.CommissionRate))
	}
	if c.SlippageRate < 0 {
		err = multierr.Append(err, fmt.Errorf("slippage_rate 不能为负，当前为 %f", c.SlippageRate))
	}

	switch c.RebalanceFrequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	default:
		err = multierr.Append(err, fmt.Errorf("rebalance_frequency 取值非法: %s", c.RebalanceFrequency))
	}

	if err != nil {
		return &ConfigError{Err: err}
	}
	return nil
}

// normalize 填充默认值并固定标的顺序，保证运行结果可复现。
func (c Config) normalize() Config {
	cfg := c

	if cfg.MaxLookback <= 0 {
		cfg.MaxLookback = 252 * 24 * time.Hour
	}
	if cfg.LookbackPeriods <= 0 {
		cfg.LookbackPeriods = 60
	}

	symbols := make([]string, len(cfg.Symbols))
	copy(symbols, cfg.Symbols)
	sort.Strings(symbols)
	cfg.Symbols = symbols

	return cfg
}
