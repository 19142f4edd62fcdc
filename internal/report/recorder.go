package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mytrade/internal/backtest"
	"mytrade/internal/store"
)

// Recorder 负责把回测结果持久化到 SQLite，供事后查询与对比。
type Recorder struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRecorder 初始化记录器，创建所需表结构。
func NewRecorder(store *store.Store, logger *zap.Logger) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("report: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		db:     store.DB(),
		logger: logger,
	}

	if err := r.initSchema(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Recorder) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS backtest_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	config TEXT NOT NULL,
	total_return TEXT NOT NULL,
	metrics TEXT NOT NULL,
	violation_count INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS backtest_trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES backtest_runs(id),
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	shares INTEGER NOT NULL,
	price TEXT NOT NULL,
	commission TEXT NOT NULL,
	realized_pnl TEXT NOT NULL,
	traded_at TEXT NOT NULL,
	reason TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS backtest_violations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES backtest_runs(id),
	kind TEXT NOT NULL,
	severity TEXT NOT NULL,
	component TEXT NOT NULL,
	detected_at TEXT NOT NULL,
	data_ts TEXT NOT NULL,
	description TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtest_trades_run ON backtest_trades(run_id);
CREATE INDEX IF NOT EXISTS idx_backtest_violations_run ON backtest_violations(run_id);
`
	if _, err := r.db.Exec(stmt); err != nil {
		return fmt.Errorf("report: 初始化表失败: %w", err)
	}
	return nil
}

// SaveResult 在单个事务内写入一次回测的汇总、成交与违规明细，返回运行ID。
func (r *Recorder) SaveResult(ctx context.Context, result *backtest.Result) (int64, error) {
	if result == nil {
		return 0, fmt.Errorf("report: result 不能为空")
	}

	configJSON, err := json.Marshal(result.Config)
	if err != nil {
		return 0, fmt.Errorf("report: 序列化配置失败: %w", err)
	}
	metricsJSON, err := json.Marshal(result.Metrics)
	if err != nil {
		return 0, fmt.Errorf("report: 序列化指标失败: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("report: 开启事务失败: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO backtest_runs (started_at, finished_at, config, total_return, metrics, violation_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		result.StartedAt.UTC().Format(time.RFC3339),
		result.FinishedAt.UTC().Format(time.RFC3339),
		string(configJSON),
		result.FinalSnapshot.TotalReturn.String(),
		string(metricsJSON),
		len(result.Violations),
	)
	if err != nil {
		return 0, fmt.Errorf("report: 写入运行记录失败: %w", err)
	}

	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("report: 读取运行ID失败: %w", err)
	}

	for _, trade := range result.Trades {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backtest_trades (run_id, symbol, action, shares, price, commission, realized_pnl, traded_at, reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID,
			trade.Symbol,
			string(trade.Action),
			trade.Shares,
			trade.Price.String(),
			trade.Commission.String(),
			trade.RealizedPnL.String(),
			trade.Timestamp.UTC().Format(time.RFC3339),
			trade.Reason,
		); err != nil {
			return 0, fmt.Errorf("report: 写入成交记录失败: %w", err)
		}
	}

	for _, v := range result.Violations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO backtest_violations (run_id, kind, severity, component, detected_at, data_ts, description)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID,
			string(v.Kind),
			string(v.Severity),
			v.Component,
			v.DetectedAt.UTC().Format(time.RFC3339),
			v.Timestamp.UTC().Format(time.RFC3339),
			v.Description,
		); err != nil {
			return 0, fmt.Errorf("report: 写入违规记录失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("report: 提交事务失败: %w", err)
	}

	r.logger.Info("回测结果已入库",
		zap.Int64("run_id", runID),
		zap.Int("trades", len(result.Trades)),
		zap.Int("violations", len(result.Violations)))
	return runID, nil
}

// RunRecord 是运行历史查询的返回结构。
type RunRecord struct {
	ID             int64           `json:"id"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	Config         json.RawMessage `json:"config"`
	TotalReturn    string          `json:"total_return"`
	Metrics        json.RawMessage `json:"metrics"`
	ViolationCount int             `json:"violation_count"`
}

// ListRuns 按时间倒序返回最近的回测运行。
func (r *Recorder) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, config, total_return, metrics, violation_count
		 FROM backtest_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("report: 查询运行记录失败: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var (
			rec                     RunRecord
			startedAt, finishedAt   string
			configJSON, metricsJSON string
		)
		if err := rows.Scan(&rec.ID, &startedAt, &finishedAt, &configJSON, &rec.TotalReturn, &metricsJSON, &rec.ViolationCount); err != nil {
			return nil, fmt.Errorf("report: 解析运行记录失败: %w", err)
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339, startedAt); err != nil {
			return nil, fmt.Errorf("report: 解析开始时间失败: %w", err)
		}
		if rec.FinishedAt, err = time.Parse(time.RFC3339, finishedAt); err != nil {
			return nil, fmt.Errorf("report: 解析结束时间失败: %w", err)
		}
		rec.Config = json.RawMessage(configJSON)
		rec.Metrics = json.RawMessage(metricsJSON)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: 遍历运行记录失败: %w", err)
	}

	return records, nil
}
