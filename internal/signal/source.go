package signal

import (
	"context"
	"errors"
	"time"

	"mytrade/internal/market"
)

// Source 在给定模拟时刻为标的生成交易建议。history 为调用方通过
// 时间点数据访问层取得的行情，按时间升序且全部不晚于 asOf。
type Source interface {
	Generate(ctx context.Context, symbol string, asOf time.Time, history []market.DataPoint) (market.Signal, error)
}

// SourceFunc 允许使用函数作为信号源。
type SourceFunc func(ctx context.Context, symbol string, asOf time.Time, history []market.DataPoint) (market.Signal, error)

func (f SourceFunc) Generate(ctx context.Context, symbol string, asOf time.Time, history []market.DataPoint) (market.Signal, error) {
	if f == nil {
		return market.Signal{}, errors.New("signal: 信号函数未实现")
	}
	return f(ctx, symbol, asOf, history)
}
