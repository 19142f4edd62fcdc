package signal

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"mytrade/internal/indicator"
	"mytrade/internal/market"
	"mytrade/internal/temporal"
)

// RuleSource 是基于技术指标的规则信号源。评分完全由输入行情决定，
// 相同输入必然产生相同信号。
type RuleSource struct {
	calc   *indicator.Calculator
	logger *zap.Logger
}

// NewRuleSource 创建规则信号源。
func NewRuleSource(logger *zap.Logger) *RuleSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleSource{
		calc:   indicator.NewCalculator(),
		logger: logger,
	}
}

// Generate 依据均线、MACD 与 RSI 状态给出交易建议。
// 历史数据不足以计算指标时返回 HOLD 而非错误。
func (s *RuleSource) Generate(ctx context.Context, symbol string, asOf time.Time, history []market.DataPoint) (market.Signal, error) {
	if err := ctx.Err(); err != nil {
		return market.Signal{}, err
	}

	hold := market.Signal{
		Symbol:     symbol,
		Action:     market.ActionHold,
		Confidence: 0.5,
		Reason:     "数据不足，保持观望",
		Timestamp:  asOf,
	}

	result, err := s.calc.Compute(history)
	if err != nil {
		s.logger.Debug("指标计算失败，返回观望信号",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return hold, nil
	}

	var bullish, bearish []string

	if result.MAShort > result.MALong {
		bullish = append(bullish, "短期均线位于长期均线上方")
		if result.PrevMAShort <= result.PrevMALong {
			bullish = append(bullish, "均线金叉")
		}
	} else if result.MAShort < result.MALong {
		bearish = append(bearish, "短期均线位于长期均线下方")
		if result.PrevMAShort >= result.PrevMALong {
			bearish = append(bearish, "均线死叉")
		}
	}

	if result.MACD.Histogram > 0 && result.MACD.Histogram > result.MACD.PrevHistogram {
		bullish = append(bullish, "MACD 柱状图走强")
	} else if result.MACD.Histogram < 0 && result.MACD.Histogram < result.MACD.PrevHistogram {
		bearish = append(bearish, "MACD 柱状图走弱")
	}

	if result.RSI < 30 {
		bullish = append(bullish, fmt.Sprintf("RSI 超卖 (%.1f)", result.RSI))
	} else if result.RSI > 70 {
		bearish = append(bearish, fmt.Sprintf("RSI 超买 (%.1f)", result.RSI))
	}

	bullScore := float64(len(bullish))
	bearScore := float64(len(bearish))

	sig := market.Signal{
		Symbol:    symbol,
		Timestamp: asOf,
	}

	switch {
	case bullScore >= 2 && bullScore > bearScore:
		sig.Action = market.ActionBuy
		sig.Confidence = clampConfidence(bullScore / (bullScore + bearScore + 0.1))
		sig.Reason = strings.Join(bullish, "；")
	case bearScore >= 2 && bearScore > bullScore:
		sig.Action = market.ActionSell
		sig.Confidence = clampConfidence(bearScore / (bullScore + bearScore + 0.1))
		sig.Reason = strings.Join(bearish, "；")
	default:
		sig.Action = market.ActionHold
		sig.Confidence = 0.6
		sig.Reason = "多空信号不明确，保持观望"
	}

	if sig.Action != market.ActionHold {
		if vol, ok := recentVolatility(history); ok && vol > volatilityThreshold {
			sig.Confidence = clampConfidence(sig.Confidence * volatilityDamping)
			sig.Reason += "；近期波动偏高，降低置信度"
		}
	}

	return sig, nil
}

const (
	volatilityWindowSize = 20
	volatilityMinPeriods = 10
	volatilityThreshold  = 0.04
	volatilityDamping    = 0.8
)

// recentVolatility 用滚动窗口求近期收盘价的变异系数（标准差/均值）。
// 窗口按 FIFO 只保留最近 volatilityWindowSize 根K线。
func recentVolatility(history []market.DataPoint) (float64, bool) {
	window, err := temporal.NewRollingWindow("rule_volatility", volatilityWindowSize, volatilityMinPeriods)
	if err != nil {
		return 0, false
	}

	for _, p := range history {
		if err := window.Add(p.Close, p.Timestamp); err != nil {
			return 0, false
		}
	}

	mean, err := window.Calculate(temporal.Mean)
	if err != nil || mean == 0 {
		return 0, false
	}
	sd, err := window.Calculate(temporal.StdDev)
	if err != nil {
		return 0, false
	}

	return sd / math.Abs(mean), true
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 0.95 {
		return 0.95
	}
	return v
}
