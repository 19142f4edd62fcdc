package market

import (
	"context"
	"sort"
	"time"
)

// Provider 按时间范围提供历史行情，返回序列按时间升序。
type Provider interface {
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]DataPoint, error)
}

// SliceProvider 以内存中的固定数据集提供行情，用于测试与离线数据回放。
type SliceProvider struct {
	points map[string][]DataPoint
}

// NewSliceProvider 创建内存行情源，输入数据按 symbol 分组并排序。
func NewSliceProvider(points []DataPoint) *SliceProvider {
	grouped := make(map[string][]DataPoint)
	for _, p := range points {
		grouped[p.Symbol] = append(grouped[p.Symbol], p)
	}
	for symbol := range grouped {
		series := grouped[symbol]
		sort.Slice(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})
		grouped[symbol] = series
	}
	return &SliceProvider{points: grouped}
}

// Fetch 返回 [start, end] 范围内的行情。
func (p *SliceProvider) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]DataPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	series := p.points[symbol]
	result := make([]DataPoint, 0, len(series))
	for _, point := range series {
		if point.Timestamp.Before(start) || point.Timestamp.After(end) {
			continue
		}
		result = append(result, point)
	}
	return result, nil
}
