package portfolio

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mytrade/internal/market"
)

// Position 表示单一标的的持仓。仅由 Manager 修改，股数归零时从持仓集合移除。
type Position struct {
	Symbol    string          `json:"symbol"`
	Shares    int64           `json:"shares"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	LastPrice decimal.Decimal `json:"last_price"`
}

// MarketValue 返回按最新价格计算的持仓市值。
func (p Position) MarketValue() decimal.Decimal {
	return decimal.NewFromInt(p.Shares).Mul(p.LastPrice)
}

// UnrealizedPnL 返回未实现盈亏。
func (p Position) UnrealizedPnL() decimal.Decimal {
	return decimal.NewFromInt(p.Shares).Mul(p.LastPrice.Sub(p.AvgCost))
}

// Trade 是一条不可变的成交记录。
type Trade struct {
	Symbol      string          `json:"symbol"`
	Action      market.Action   `json:"action"`
	Shares      int64           `json:"shares"`
	Price       decimal.Decimal `json:"price"` // 含滑点的实际成交价
	Commission  decimal.Decimal `json:"commission"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"` // 仅卖出时非零
	Timestamp   time.Time       `json:"timestamp"`
	Reason      string          `json:"reason"`
}

// Snapshot 是某一时刻投资组合的估值快照。每次估值生成新快照，从不原地修改。
type Snapshot struct {
	Timestamp   time.Time           `json:"timestamp"`
	Cash        decimal.Decimal     `json:"cash"`
	Positions   map[string]Position `json:"positions"`
	TotalValue  decimal.Decimal     `json:"total_value"`
	TotalReturn decimal.Decimal     `json:"total_return"`
}

// Manager 是现金与持仓的唯一记账人：所有交易必须经由 ExecuteTrade 落账。
// 金额计算使用十进制精确算术，估值恒等式 total = cash + Σ(shares*last_price) 无漂移。
type Manager struct {
	initialCash    decimal.Decimal
	cash           decimal.Decimal
	commissionRate decimal.Decimal
	slippageRate   decimal.Decimal

	positions map[string]*Position
	trades    []Trade
	snapshots []Snapshot

	logger *zap.Logger
}

// NewManager 创建投资组合管理器。
func NewManager(initialCash, commissionRate, slippageRate float64, logger *zap.Logger) (*Manager, error) {
	if initialCash <= 0 {
		return nil, fmt.Errorf("portfolio: 初始资金必须为正，当前为 %f", initialCash)
	}
	if commissionRate < 0 || slippageRate < 0 {
		return nil, fmt.Errorf("portfolio: 费率不能为负: commission=%f slippage=%f", commissionRate, slippageRate)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cash := decimal.NewFromFloat(initialCash)

	return &Manager{
		initialCash:    cash,
		cash:           cash,
		commissionRate: decimal.NewFromFloat(commissionRate),
		slippageRate:   decimal.NewFromFloat(slippageRate),
		positions:      make(map[string]*Position),
		logger:         logger,
	}, nil
}

// ExecuteTrade 执行一笔交易。业务性拒绝（资金不足、超卖、参数非法）返回 false
// 且不修改任何状态；成功时落账并追加成交记录。
func (m *Manager) ExecuteTrade(symbol string, action market.Action, shares int64, price float64, ts time.Time, reason string) bool {
	if strings.TrimSpace(symbol) == "" {
		m.logger.Warn("拒绝交易：标的为空")
		return false
	}
	if shares <= 0 {
		m.logger.Warn("拒绝交易：股数非法", zap.String("symbol", symbol), zap.Int64("shares", shares))
		return false
	}
	if price <= 0 {
		m.logger.Warn("拒绝交易：价格非法", zap.String("symbol", symbol), zap.Float64("price", price))
		return false
	}

	quoted := decimal.NewFromFloat(price)
	one := decimal.NewFromInt(1)

	switch action {
	case market.ActionBuy:
		execPrice := quoted.Mul(one.Add(m.slippageRate))
		return m.executeBuy(symbol, shares, execPrice, ts, reason)
	case market.ActionSell:
		execPrice := quoted.Mul(one.Sub(m.slippageRate))
		return m.executeSell(symbol, shares, execPrice, ts, reason)
	default:
		m.logger.Warn("拒绝交易：动作非法", zap.String("symbol", symbol), zap.String("action", string(action)))
		return false
	}
}

func (m *Manager) executeBuy(symbol string, shares int64, execPrice decimal.Decimal, ts time.Time, reason string) bool {
	amount := decimal.NewFromInt(shares).Mul(execPrice)
	commission := amount.Mul(m.commissionRate)
	totalCost := amount.Add(commission)

	if m.cash.LessThan(totalCost) {
		m.logger.Warn("拒绝买入：资金不足",
			zap.String("symbol", symbol),
			zap.String("need", totalCost.String()),
			zap.String("cash", m.cash.String()),
		)
		return false
	}

	m.cash = m.cash.Sub(totalCost)

	position, ok := m.positions[symbol]
	if !ok {
		position = &Position{Symbol: symbol}
		m.positions[symbol] = position
	}

	totalShares := position.Shares + shares
	costBasis := decimal.NewFromInt(position.Shares).Mul(position.AvgCost).
		Add(decimal.NewFromInt(shares).Mul(execPrice))
	position.AvgCost = costBasis.Div(decimal.NewFromInt(totalShares))
	position.Shares = totalShares
	position.LastPrice = execPrice

	m.trades = append(m.trades, Trade{
		Symbol:     symbol,
		Action:     market.ActionBuy,
		Shares:     shares,
		Price:      execPrice,
		Commission: commission,
		Timestamp:  ts,
		Reason:     reason,
	})

	m.logger.Info("买入成交",
		zap.String("symbol", symbol),
		zap.Int64("shares", shares),
		zap.String("price", execPrice.String()),
		zap.String("cash", m.cash.String()),
	)

	return true
}

func (m *Manager) executeSell(symbol string, shares int64, execPrice decimal.Decimal, ts time.Time, reason string) bool {
	position, ok := m.positions[symbol]
	if !ok {
		m.logger.Warn("拒绝卖出：无持仓", zap.String("symbol", symbol))
		return false
	}
	if position.Shares < shares {
		m.logger.Warn("拒绝卖出：持仓不足",
			zap.String("symbol", symbol),
			zap.Int64("want", shares),
			zap.Int64("have", position.Shares),
		)
		return false
	}

	amount := decimal.NewFromInt(shares).Mul(execPrice)
	commission := amount.Mul(m.commissionRate)
	netProceeds := amount.Sub(commission)
	realized := decimal.NewFromInt(shares).Mul(execPrice.Sub(position.AvgCost)).Sub(commission)

	m.cash = m.cash.Add(netProceeds)

	position.Shares -= shares
	position.LastPrice = execPrice
	if position.Shares == 0 {
		delete(m.positions, symbol)
	}

	m.trades = append(m.trades, Trade{
		Symbol:      symbol,
		Action:      market.ActionSell,
		Shares:      shares,
		Price:       execPrice,
		Commission:  commission,
		RealizedPnL: realized,
		Timestamp:   ts,
		Reason:      reason,
	})

	m.logger.Info("卖出成交",
		zap.String("symbol", symbol),
		zap.Int64("shares", shares),
		zap.String("price", execPrice.String()),
		zap.String("realized_pnl", realized.String()),
	)

	return true
}

// UpdateMarketValues 按最新价格刷新持仓估值，不影响现金。
func (m *Manager) UpdateMarketValues(prices map[string]float64) {
	for symbol, position := range m.positions {
		if price, ok := prices[symbol]; ok && price > 0 {
			position.LastPrice = decimal.NewFromFloat(price)
		}
	}
}

// Summary 生成当前时刻的估值快照（不写入历史）。
func (m *Manager) Summary(ts time.Time) Snapshot {
	positions := make(map[string]Position, len(m.positions))
	total := m.cash
	for symbol, position := range m.positions {
		positions[symbol] = *position
		total = total.Add(position.MarketValue())
	}

	return Snapshot{
		Timestamp:   ts,
		Cash:        m.cash,
		Positions:   positions,
		TotalValue:  total,
		TotalReturn: total.Div(m.initialCash).Sub(decimal.NewFromInt(1)),
	}
}

// RecordSnapshot 生成快照并追加到净值历史。
func (m *Manager) RecordSnapshot(ts time.Time) Snapshot {
	snapshot := m.Summary(ts)
	m.snapshots = append(m.snapshots, snapshot)
	return snapshot
}

// Cash 返回当前现金。
func (m *Manager) Cash() decimal.Decimal {
	return m.cash
}

// InitialCash 返回初始资金。
func (m *Manager) InitialCash() decimal.Decimal {
	return m.initialCash
}

// Position 返回指定标的的持仓副本。
func (m *Manager) Position(symbol string) (Position, bool) {
	position, ok := m.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *position, true
}

// PositionCount 返回当前持仓标的数量。
func (m *Manager) PositionCount() int {
	return len(m.positions)
}

// Trades 返回成交记录的副本。
func (m *Manager) Trades() []Trade {
	trades := make([]Trade, len(m.trades))
	copy(trades, m.trades)
	return trades
}

// Snapshots 返回净值历史的副本。
func (m *Manager) Snapshots() []Snapshot {
	snapshots := make([]Snapshot, len(m.snapshots))
	copy(snapshots, m.snapshots)
	return snapshots
}

// Reset 将组合恢复到初始状态。
func (m *Manager) Reset() {
	m.cash = m.initialCash
	m.positions = make(map[string]*Position)
	m.trades = nil
	m.snapshots = nil
	m.logger.Info("投资组合已重置", zap.String("cash", m.cash.String()))
}
