package report

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mytrade/internal/backtest"
	"mytrade/internal/config"
	"mytrade/internal/market"
	"mytrade/internal/portfolio"
	"mytrade/internal/store"
	"mytrade/internal/temporal"
)

func newMemoryRecorder(t *testing.T) *Recorder {
	t.Helper()

	s, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	recorder, err := NewRecorder(s, nil)
	if err != nil {
		t.Fatalf("NewRecorder returned error: %v", err)
	}
	return recorder
}

func sampleResult() *backtest.Result {
	started := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	tradeTime := time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)

	violations := []temporal.Violation{
		{
			Kind:        temporal.ViolationFutureDataAccess,
			DetectedAt:  tradeTime,
			Timestamp:   tradeTime.Add(time.Hour),
			Component:   "market_data",
			Severity:    temporal.SeverityHigh,
			Description: "future bar",
		},
	}

	return &backtest.Result{
		Config: backtest.Config{
			StartDate:          time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
			EndDate:            time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC),
			Symbols:            []string{"600519"},
			InitialCash:        1000000,
			MaxPositions:       10,
			PositionSizePct:    0.1,
			RebalanceFrequency: backtest.FrequencyDaily,
		},
		FinalSnapshot: portfolio.Snapshot{
			Timestamp:   tradeTime,
			Cash:        decimal.NewFromInt(900000),
			TotalValue:  decimal.NewFromInt(1020000),
			TotalReturn: decimal.NewFromFloat(0.02),
		},
		Metrics: portfolio.Metrics{TotalReturn: 0.02, TradingDays: 5},
		Trades: []portfolio.Trade{
			{
				Symbol:     "600519",
				Action:     market.ActionBuy,
				Shares:     100,
				Price:      decimal.NewFromInt(100),
				Commission: decimal.NewFromInt(10),
				Timestamp:  tradeTime,
				Reason:     "test trade",
			},
		},
		Violations:       violations,
		ViolationSummary: temporal.Summarize(violations),
		StartedAt:        started,
		FinishedAt:       started.Add(time.Second),
		Duration:         time.Second,
	}
}

func TestSaveResultAndListRuns(t *testing.T) {
	recorder := newMemoryRecorder(t)
	ctx := context.Background()

	runID, err := recorder.SaveResult(ctx, sampleResult())
	if err != nil {
		t.Fatalf("SaveResult returned error: %v", err)
	}
	if runID <= 0 {
		t.Fatalf("expected positive run id, got %d", runID)
	}

	if _, err := recorder.SaveResult(ctx, sampleResult()); err != nil {
		t.Fatalf("second SaveResult returned error: %v", err)
	}

	runs, err := recorder.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns returned error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	// 按时间倒序返回。
	if runs[0].ID <= runs[1].ID {
		t.Errorf("expected newest run first, got ids %d, %d", runs[0].ID, runs[1].ID)
	}

	latest := runs[0]
	if latest.TotalReturn != "0.02" {
		t.Errorf("unexpected total return: %s", latest.TotalReturn)
	}
	if latest.ViolationCount != 1 {
		t.Errorf("unexpected violation count: %d", latest.ViolationCount)
	}
	if len(latest.Config) == 0 || len(latest.Metrics) == 0 {
		t.Errorf("config and metrics payloads must round trip")
	}
}

func TestSaveResult_NilResult(t *testing.T) {
	recorder := newMemoryRecorder(t)
	if _, err := recorder.SaveResult(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil result")
	}
}
