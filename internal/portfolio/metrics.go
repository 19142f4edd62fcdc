package portfolio

import "math"

// Metrics 记录回测绩效指标。
type Metrics struct {
	TotalReturn  float64 `json:"total_return"`
	AnnualReturn float64 `json:"annual_return"`
	Volatility   float64 `json:"volatility"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	WinRate      float64 `json:"win_rate"`
	TradingDays  int     `json:"trading_days"`
}

// 年化按 252 个交易日计算。
const tradingDaysPerYear = 252

// CalculateMetrics 从净值历史推导绩效指标。riskFreeRate 为年化无风险利率。
// 波动率为 0 时夏普比率报告为 0 而非报错。
func (m *Manager) CalculateMetrics(riskFreeRate float64) Metrics {
	snapshots := m.snapshots
	if len(snapshots) == 0 {
		return Metrics{}
	}

	values := make([]float64, len(snapshots))
	for i, s := range snapshots {
		values[i] = s.TotalValue.InexactFloat64()
	}

	initial := m.initialCash.InexactFloat64()
	final := values[len(values)-1]

	totalReturn := 0.0
	if initial > 0 {
		totalReturn = final/initial - 1
	}

	days := len(values)
	annualReturn := math.Pow(1+totalReturn, float64(tradingDaysPerYear)/float64(days)) - 1

	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] != 0 {
			returns = append(returns, values[i]/values[i-1]-1)
		}
	}

	volatility := stdDev(returns) * math.Sqrt(tradingDaysPerYear)

	sharpe := 0.0
	if volatility > 0 {
		sharpe = (annualReturn - riskFreeRate) / volatility
	}

	maxDrawdown := computeDrawdown(values)

	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	winRate := 0.0
	if len(returns) > 0 {
		winRate = float64(wins) / float64(len(returns))
	}

	return Metrics{
		TotalReturn:  totalReturn,
		AnnualReturn: annualReturn,
		Volatility:   volatility,
		SharpeRatio:  sharpe,
		MaxDrawdown:  maxDrawdown,
		WinRate:      winRate,
		TradingDays:  days,
	}
}

func computeDrawdown(values []float64) float64 {
	var peak float64
	maxDD := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - v) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values) - 1)

	return math.Sqrt(variance)
}
