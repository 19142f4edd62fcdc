package portfolio

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mytrade/internal/market"
)

var tradeTime = time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)

func newManager(t *testing.T, cash, commission, slippage float64) *Manager {
	t.Helper()
	m, err := NewManager(cash, commission, slippage, nil)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	return m
}

// identity 校验估值恒等式 total = cash + Σ(shares*last_price)。
func identity(t *testing.T, m *Manager, ts time.Time) {
	t.Helper()
	snapshot := m.Summary(ts)
	sum := snapshot.Cash
	for _, p := range snapshot.Positions {
		sum = sum.Add(decimal.NewFromInt(p.Shares).Mul(p.LastPrice))
	}
	if !snapshot.TotalValue.Equal(sum) {
		t.Fatalf("valuation identity broken: total=%s cash+positions=%s", snapshot.TotalValue, sum)
	}
}

func TestNewManager_Validation(t *testing.T) {
	if _, err := NewManager(0, 0, 0, nil); err == nil {
		t.Fatalf("expected error for non positive initial cash")
	}
	if _, err := NewManager(1000, -0.001, 0, nil); err == nil {
		t.Fatalf("expected error for negative commission rate")
	}
}

func TestExecuteTrade_BuyWithCommissionAndSlippage(t *testing.T) {
	m := newManager(t, 100000, 0.001, 0.0005)

	if !m.ExecuteTrade("600519", market.ActionBuy, 100, 100, tradeTime, "test buy") {
		t.Fatalf("expected buy to execute")
	}

	// 成交价 100*1.0005=100.05，金额 10005，佣金 10.005，总成本 10015.005。
	wantCash := decimal.NewFromFloat(100000).Sub(decimal.NewFromFloat(10015.005))
	if !m.Cash().Equal(wantCash) {
		t.Errorf("unexpected cash: got %s want %s", m.Cash(), wantCash)
	}

	pos, ok := m.Position("600519")
	if !ok {
		t.Fatalf("expected position after buy")
	}
	if pos.Shares != 100 {
		t.Errorf("unexpected shares: %d", pos.Shares)
	}
	if !pos.AvgCost.Equal(decimal.NewFromFloat(100.05)) {
		t.Errorf("unexpected avg cost: %s", pos.AvgCost)
	}

	trades := m.Trades()
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if !trades[0].Price.Equal(decimal.NewFromFloat(100.05)) {
		t.Errorf("trade must record execution price, got %s", trades[0].Price)
	}
	if !trades[0].Commission.Equal(decimal.NewFromFloat(10.005)) {
		t.Errorf("unexpected commission: %s", trades[0].Commission)
	}

	identity(t, m, tradeTime)
}

func TestExecuteTrade_RejectsWithoutMutation(t *testing.T) {
	m := newManager(t, 1000, 0.001, 0)

	cases := []struct {
		name   string
		symbol string
		action market.Action
		shares int64
		price  float64
	}{
		{"empty symbol", "", market.ActionBuy, 100, 10},
		{"zero shares", "600519", market.ActionBuy, 0, 10},
		{"negative price", "600519", market.ActionBuy, 100, -1},
		{"invalid action", "600519", market.ActionHold, 100, 10},
		{"insufficient cash", "600519", market.ActionBuy, 1000, 10},
		{"sell without position", "600519", market.ActionSell, 100, 10},
	}

	for _, tc := range cases {
		if m.ExecuteTrade(tc.symbol, tc.action, tc.shares, tc.price, tradeTime, "test") {
			t.Errorf("%s: expected trade rejected", tc.name)
		}
	}

	if !m.Cash().Equal(decimal.NewFromInt(1000)) {
		t.Errorf("rejected trades must not touch cash, got %s", m.Cash())
	}
	if m.PositionCount() != 0 || len(m.Trades()) != 0 {
		t.Errorf("rejected trades must not create positions or records")
	}
}

func TestExecuteTrade_OversellRejected(t *testing.T) {
	m := newManager(t, 100000, 0, 0)

	if !m.ExecuteTrade("600519", market.ActionBuy, 100, 50, tradeTime, "open") {
		t.Fatalf("expected buy to execute")
	}
	if m.ExecuteTrade("600519", market.ActionSell, 200, 50, tradeTime, "oversell") {
		t.Fatalf("expected oversell rejected")
	}

	pos, _ := m.Position("600519")
	if pos.Shares != 100 {
		t.Errorf("position must be unchanged after rejected sell, got %d", pos.Shares)
	}
}

func TestExecuteTrade_SellRealizesPnL(t *testing.T) {
	m := newManager(t, 100000, 0, 0)

	if !m.ExecuteTrade("600519", market.ActionBuy, 100, 100, tradeTime, "open") {
		t.Fatalf("expected buy to execute")
	}
	if !m.ExecuteTrade("600519", market.ActionSell, 100, 120, tradeTime.Add(time.Hour), "close") {
		t.Fatalf("expected sell to execute")
	}

	// 全部卖出后持仓清除，现金回到 100000+2000。
	if _, ok := m.Position("600519"); ok {
		t.Errorf("expected position removed after full sell")
	}
	if !m.Cash().Equal(decimal.NewFromInt(102000)) {
		t.Errorf("unexpected cash after round trip: %s", m.Cash())
	}

	trades := m.Trades()
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if !trades[1].RealizedPnL.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("unexpected realized pnl: %s", trades[1].RealizedPnL)
	}

	identity(t, m, tradeTime.Add(time.Hour))
}

func TestExecuteTrade_PartialSellKeepsAvgCost(t *testing.T) {
	m := newManager(t, 100000, 0, 0)

	m.ExecuteTrade("600519", market.ActionBuy, 100, 100, tradeTime, "open")
	m.ExecuteTrade("600519", market.ActionBuy, 100, 120, tradeTime, "add")

	pos, _ := m.Position("600519")
	if !pos.AvgCost.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("unexpected avg cost after second buy: %s", pos.AvgCost)
	}

	if !m.ExecuteTrade("600519", market.ActionSell, 50, 130, tradeTime, "trim") {
		t.Fatalf("expected partial sell to execute")
	}

	pos, _ = m.Position("600519")
	if pos.Shares != 150 {
		t.Errorf("unexpected shares after partial sell: %d", pos.Shares)
	}
	if !pos.AvgCost.Equal(decimal.NewFromInt(110)) {
		t.Errorf("partial sell must keep avg cost, got %s", pos.AvgCost)
	}
}

func TestUpdateMarketValues_AffectsValuationNotCash(t *testing.T) {
	m := newManager(t, 100000, 0, 0)
	m.ExecuteTrade("600519", market.ActionBuy, 100, 100, tradeTime, "open")

	cashBefore := m.Cash()
	m.UpdateMarketValues(map[string]float64{"600519": 150, "000001": 99})

	if !m.Cash().Equal(cashBefore) {
		t.Errorf("market value update must not touch cash")
	}

	snapshot := m.Summary(tradeTime)
	wantTotal := cashBefore.Add(decimal.NewFromInt(15000))
	if !snapshot.TotalValue.Equal(wantTotal) {
		t.Errorf("unexpected total value: got %s want %s", snapshot.TotalValue, wantTotal)
	}

	// 非正价格被忽略。
	m.UpdateMarketValues(map[string]float64{"600519": -1})
	pos, _ := m.Position("600519")
	if !pos.LastPrice.Equal(decimal.NewFromInt(150)) {
		t.Errorf("non positive price must be ignored, got %s", pos.LastPrice)
	}

	identity(t, m, tradeTime)
}

func TestSnapshots_AppendOnlyAndImmutable(t *testing.T) {
	m := newManager(t, 100000, 0, 0)
	m.ExecuteTrade("600519", market.ActionBuy, 100, 100, tradeTime, "open")

	first := m.RecordSnapshot(tradeTime)
	m.UpdateMarketValues(map[string]float64{"600519": 200})
	second := m.RecordSnapshot(tradeTime.Add(24 * time.Hour))

	if first.TotalValue.Equal(second.TotalValue) {
		t.Fatalf("expected snapshots to differ after price move")
	}

	history := m.Snapshots()
	if len(history) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(history))
	}
	if !history[0].TotalValue.Equal(first.TotalValue) {
		t.Errorf("earlier snapshot must be unchanged by later updates")
	}
}

func TestReset_RestoresInitialState(t *testing.T) {
	m := newManager(t, 100000, 0.001, 0.0005)
	m.ExecuteTrade("600519", market.ActionBuy, 100, 100, tradeTime, "open")
	m.RecordSnapshot(tradeTime)

	m.Reset()

	if !m.Cash().Equal(decimal.NewFromInt(100000)) {
		t.Errorf("unexpected cash after reset: %s", m.Cash())
	}
	if m.PositionCount() != 0 || len(m.Trades()) != 0 || len(m.Snapshots()) != 0 {
		t.Errorf("reset must clear positions, trades and snapshots")
	}
}

func TestCalculateMetrics(t *testing.T) {
	m := newManager(t, 100000, 0, 0)

	// 手工构造净值序列：100000 -> 101000 -> 99990 -> 102000。
	m.RecordSnapshot(tradeTime)
	m.ExecuteTrade("600519", market.ActionBuy, 100, 100, tradeTime, "open")
	m.UpdateMarketValues(map[string]float64{"600519": 110})
	m.RecordSnapshot(tradeTime.AddDate(0, 0, 1))
	m.UpdateMarketValues(map[string]float64{"600519": 99.9})
	m.RecordSnapshot(tradeTime.AddDate(0, 0, 2))
	m.UpdateMarketValues(map[string]float64{"600519": 120})
	m.RecordSnapshot(tradeTime.AddDate(0, 0, 3))

	metrics := m.CalculateMetrics(0)

	if metrics.TradingDays != 4 {
		t.Errorf("unexpected trading days: %d", metrics.TradingDays)
	}
	if diff := metrics.TotalReturn - 0.02; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("unexpected total return: %f", metrics.TotalReturn)
	}
	if metrics.AnnualReturn <= metrics.TotalReturn {
		t.Errorf("short profitable run must annualize upward, got %f", metrics.AnnualReturn)
	}
	if metrics.Volatility <= 0 {
		t.Errorf("expected positive volatility, got %f", metrics.Volatility)
	}
	if metrics.SharpeRatio <= 0 {
		t.Errorf("expected positive sharpe ratio, got %f", metrics.SharpeRatio)
	}
	// 最大回撤发生在 101000 -> 99990。
	wantDrawdown := 1 - 99990.0/101000.0
	if diff := metrics.MaxDrawdown - wantDrawdown; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("unexpected max drawdown: got %f want %f", metrics.MaxDrawdown, wantDrawdown)
	}
	// 三个日收益中两个为正。
	if diff := metrics.WinRate - 2.0/3.0; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("unexpected win rate: %f", metrics.WinRate)
	}
}

func TestCalculateMetrics_EmptyHistory(t *testing.T) {
	m := newManager(t, 100000, 0, 0)
	metrics := m.CalculateMetrics(0)
	if metrics != (Metrics{}) {
		t.Errorf("expected zero metrics without snapshots, got %+v", metrics)
	}
}
