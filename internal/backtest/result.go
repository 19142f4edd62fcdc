package backtest

import (
	"time"

	"mytrade/internal/market"
	"mytrade/internal/portfolio"
	"mytrade/internal/temporal"
)

// SignalRecord 记录一条信号及其最终处置，便于事后复盘。
type SignalRecord struct {
	Date    time.Time
	Signal  market.Signal
	Outcome string
}

const (
	OutcomeExecuted = "executed"
	OutcomeRejected = "rejected"
	OutcomeSkipped  = "skipped"
	OutcomeHold     = "hold"
)

// Result 汇总一次回测运行的全部产出。
// 运行失败时引擎仍返回截至失败时刻的部分结果。
type Result struct {
	Config           Config
	FinalSnapshot    portfolio.Snapshot
	Metrics          portfolio.Metrics
	Trades           []portfolio.Trade
	Signals          []SignalRecord
	Snapshots        []portfolio.Snapshot
	Violations       []temporal.Violation
	ViolationSummary temporal.Summary
	StartedAt        time.Time
	FinishedAt       time.Time
	Duration         time.Duration
}
