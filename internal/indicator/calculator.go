package indicator

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"mytrade/internal/market"
)

// MACDResult 保存 MACD 关键值。
type MACDResult struct {
	Value         float64
	Signal        float64
	Histogram     float64
	PrevHistogram float64
}

// Result 为一次指标计算的汇总。
type Result struct {
	Series        Series
	MAShort       float64
	MALong        float64
	PrevMAShort   float64
	PrevMALong    float64
	RSI           float64
	MACD          MACDResult
	Close         float64
	PreviousClose float64
}

const (
	maShortPeriod = 5
	maLongPeriod  = 20
	rsiPeriod     = 14
)

// MinBars 是 MACD(12,26,9) 可计算所需的最少K线数，
// 使用本计算器的信号源必须保证历史数据不短于此值。
const MinBars = 35

// Calculator 提供基于 talib 的技术指标计算。
type Calculator struct{}

// NewCalculator 创建 Calculator。
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Compute 依据给定行情计算常用技术指标，数据按时间升序。
func (c *Calculator) Compute(points []market.DataPoint) (Result, error) {
	if len(points) < MinBars {
		return Result{}, fmt.Errorf("indicator: 数据不足，需要至少 %d 条，当前 %d 条", MinBars, len(points))
	}

	series := NewSeries(points)

	maShort := talib.Sma(series.Close, maShortPeriod)
	maLong := talib.Sma(series.Close, maLongPeriod)
	rsi := talib.Rsi(series.Close, rsiPeriod)
	macd, macdSignal, macdHist := talib.Macd(series.Close, 12, 26, 9)

	result := Result{
		Series:      series,
		MAShort:     Last(maShort),
		MALong:      Last(maLong),
		PrevMAShort: Prev(maShort),
		PrevMALong:  Prev(maLong),
		RSI:         Last(rsi),
		MACD: MACDResult{
			Value:         Last(macd),
			Signal:        Last(macdSignal),
			Histogram:     Last(macdHist),
			PrevHistogram: Prev(macdHist),
		},
		Close:         Last(series.Close),
		PreviousClose: Prev(series.Close),
	}

	if math.IsNaN(result.MAShort) || math.IsNaN(result.MALong) || math.IsNaN(result.RSI) {
		return Result{}, fmt.Errorf("indicator: 指标计算结果包含 NaN，数据长度 %d", len(points))
	}

	return result, nil
}
