package market

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mytrade/internal/temporal"
)

// PointInTimeAccess 是模拟读取行情与校验信号时效的唯一入口：
// 上游返回的任何数据都必须逐条通过时间防护后才能进入决策链。
type PointInTimeAccess struct {
	guard    *temporal.Guard
	provider Provider
	logger   *zap.Logger
}

// NewPointInTimeAccess 创建时间点数据访问控制器。
func NewPointInTimeAccess(guard *temporal.Guard, provider Provider, logger *zap.Logger) (*PointInTimeAccess, error) {
	if guard == nil {
		return nil, fmt.Errorf("market: guard 不能为空")
	}
	if provider == nil {
		return nil, fmt.Errorf("market: provider 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PointInTimeAccess{
		guard:    guard,
		provider: provider,
		logger:   logger,
	}, nil
}

// GetMarketData 获取截止 endTime 的最近 lookbackPeriods 条合法行情，按时间升序返回。
// endTime 为零值时使用当前模拟时间。上游返回的越界数据点在宽松模式下被丢弃并记录违规，
// 严格模式下直接返回错误。
func (a *PointInTimeAccess) GetMarketData(ctx context.Context, symbol string, endTime time.Time, lookbackPeriods int) ([]DataPoint, error) {
	if lookbackPeriods <= 0 {
		return nil, fmt.Errorf("market: lookback_periods 必须为正，当前为 %d", lookbackPeriods)
	}

	if endTime.IsZero() {
		current, err := a.guard.CurrentTime()
		if err != nil {
			return nil, err
		}
		endTime = current
	}

	if ok, err := a.guard.ValidateTimestamp(endTime, "market_data"); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("market: 查询时间 %s 未通过时间校验", endTime.Format(time.RFC3339))
	}

	// 向前多取一倍自然日，确保覆盖足够多的交易日。
	start := endTime.AddDate(0, 0, -lookbackPeriods*2)

	raw, err := a.provider.Fetch(ctx, symbol, start, endTime)
	if err != nil {
		return nil, fmt.Errorf("market: 获取 %s 行情失败: %w", symbol, err)
	}

	valid := make([]DataPoint, 0, len(raw))
	for _, point := range raw {
		if point.Timestamp.After(endTime) {
			// 上游无界返回的未来数据，交由防护记录违规。
			if _, verr := a.guard.ValidateTimestamp(point.Timestamp, "market_data"); verr != nil {
				return nil, verr
			}
			continue
		}

		ok, verr := a.guard.ValidateTimestamp(point.Timestamp, "market_data")
		if verr != nil {
			return nil, verr
		}
		if !ok {
			continue
		}
		valid = append(valid, point)
	}

	if len(valid) > lookbackPeriods {
		valid = valid[len(valid)-lookbackPeriods:]
	}

	a.logger.Debug("获取时间点行情",
		zap.String("symbol", symbol),
		zap.Time("end_time", endTime),
		zap.Int("requested", lookbackPeriods),
		zap.Int("returned", len(valid)),
	)

	return valid, nil
}

// ValidateSignalTiming 校验交易信号的时效性。信号合法的条件是
// signal.Timestamp <= 当前时间 <= signal.ValidUntil（未设置有效期时忽略后半段）。
func (a *PointInTimeAccess) ValidateSignalTiming(sig Signal) (bool, error) {
	current, err := a.guard.CurrentTime()
	if err != nil {
		return false, err
	}

	ok, err := a.guard.ValidateTimestamp(sig.Timestamp, "trading_signal")
	if err != nil {
		return false, err
	}

	if !sig.ValidUntil.IsZero() {
		if sig.ValidUntil.Before(sig.Timestamp) {
			ok = false
			if rerr := a.guard.RecordViolation(temporal.Violation{
				Kind:      temporal.ViolationInvalidTimestamp,
				Timestamp: sig.Timestamp,
				Component: "trading_signal",
				Severity:  temporal.SeverityHigh,
				Description: fmt.Sprintf("信号 %s 有效期早于生成时间: %s < %s",
					sig.Symbol, sig.ValidUntil.Format(time.RFC3339), sig.Timestamp.Format(time.RFC3339)),
			}); rerr != nil {
				return false, rerr
			}
		} else if current.After(sig.ValidUntil) {
			ok = false
			if rerr := a.guard.RecordViolation(temporal.Violation{
				Kind:      temporal.ViolationStaleSignal,
				Timestamp: sig.Timestamp,
				Component: "trading_signal",
				Severity:  temporal.SeverityHigh,
				Description: fmt.Sprintf("信号 %s 已于 %s 过期，当前时间 %s",
					sig.Symbol, sig.ValidUntil.Format(time.RFC3339), current.Format(time.RFC3339)),
			}); rerr != nil {
				return false, rerr
			}
		}
	}

	return ok, nil
}
