package backtest

import (
	"github.com/shopspring/decimal"
)

// Sizer 把买入信号换算成目标股数，返回0表示放弃本次买入。
type Sizer interface {
	BuyShares(totalValue, cash decimal.Decimal, price float64, cfg Config) int64
}

// LotSizer 按目标权重等权买入并向下取整到整手。
// 目标权重取 position_size_pct 与 1/max_positions 的较小者，
// 预算同时扣除滑点与佣金余量，保证成交后现金不为负。
type LotSizer struct {
	LotSize int64
}

// NewLotSizer 构造 A 股整手（100股）买入策略。
func NewLotSizer() *LotSizer {
	return &LotSizer{LotSize: 100}
}

func (s *LotSizer) BuyShares(totalValue, cash decimal.Decimal, price float64, cfg Config) int64 {
	if price <= 0 {
		return 0
	}
	lot := s.LotSize
	if lot <= 0 {
		lot = 1
	}

	weight := cfg.PositionSizePct
	if equal := 1.0 / float64(cfg.MaxPositions); equal < weight {
		weight = equal
	}

	budget := totalValue.Mul(decimal.NewFromFloat(weight))
	if budget.GreaterThan(cash) {
		budget = cash
	}

	// 每股实际成本包含滑点后的价格与佣金。
	costPerShare := decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(1 + cfg.SlippageRate)).
		Mul(decimal.NewFromFloat(1 + cfg.CommissionRate))
	if costPerShare.LessThanOrEqual(decimal.Zero) {
		return 0
	}

	shares := budget.Div(costPerShare).IntPart()
	shares -= shares % lot
	if shares < lot {
		return 0
	}
	return shares
}
