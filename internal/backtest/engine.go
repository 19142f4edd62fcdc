package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mytrade/internal/market"
	"mytrade/internal/portfolio"
	"mytrade/internal/signal"
	"mytrade/internal/temporal"
)

// State 表示引擎生命周期状态。
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Calendar 是引擎所需的交易日历能力，AShareCalendar 完整实现。
type Calendar interface {
	market.Calendar
	Location() *time.Location
	TradingDays(start, end time.Time) []time.Time
}

// maxConcurrentSymbols 限制单次再平衡中并发取数与生成信号的标的数量。
const maxConcurrentSymbols = 4

// Engine 串联时间守卫、数据访问、信号源与组合管理，按交易日推进回测。
// 每个交易日的处理顺序固定：推进时钟、取历史行情、生成信号、
// 按确定性顺序执行交易、记录当日快照。
type Engine struct {
	calendar Calendar
	provider market.Provider
	source   signal.Source
	sizer    Sizer
	logger   *zap.Logger

	mu     sync.Mutex
	state  State
	result *Result
}

// NewEngine 创建回测引擎。sizer 为 nil 时使用整手等权买入策略。
func NewEngine(calendar Calendar, provider market.Provider, source signal.Source, sizer Sizer, logger *zap.Logger) (*Engine, error) {
	if calendar == nil {
		return nil, errors.New("backtest: calendar 不能为空")
	}
	if provider == nil {
		return nil, errors.New("backtest: provider 不能为空")
	}
	if source == nil {
		return nil, errors.New("backtest: signal source 不能为空")
	}
	if sizer == nil {
		sizer = NewLotSizer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		calendar: calendar,
		provider: provider,
		source:   source,
		sizer:    sizer,
		logger:   logger,
		state:    StateIdle,
	}, nil
}

// State 返回引擎当前状态。
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Result 返回最近一次运行的结果，失败的运行返回截至失败时刻的部分结果。
func (e *Engine) Result() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Reset 将引擎恢复到空闲状态以便复用，运行中不能重置。
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateRunning {
		return errors.New("backtest: 引擎运行中，不能重置")
	}
	e.state = StateIdle
	e.result = nil
	return nil
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run 执行一次完整回测。配置非法时立即返回 *ConfigError，引擎保持空闲；
// 运行中途失败时状态转为 failed，同时返回部分结果与失败原因。
func (e *Engine) Run(ctx context.Context, cfg Config) (*Result, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		state := e.state
		e.mu.Unlock()
		return nil, fmt.Errorf("backtest: 引擎状态为 %s，需先 Reset 才能再次运行", state)
	}
	e.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.normalize()

	e.setState(StateRunning)
	e.logger.Info("回测开始",
		zap.Time("start_date", cfg.StartDate),
		zap.Time("end_date", cfg.EndDate),
		zap.Strings("symbols", cfg.Symbols),
		zap.Bool("strict_mode", cfg.StrictMode))

	result, err := e.run(ctx, cfg)

	e.mu.Lock()
	e.result = result
	if err != nil {
		e.state = StateFailed
	} else {
		e.state = StateCompleted
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Error("回测失败", zap.Error(err))
		return result, err
	}

	e.logger.Info("回测完成",
		zap.String("total_return", result.FinalSnapshot.TotalReturn.String()),
		zap.Int("trades", len(result.Trades)),
		zap.Int("violations", len(result.Violations)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (e *Engine) run(ctx context.Context, cfg Config) (*Result, error) {
	started := time.Now()

	guard := temporal.NewGuard(e.calendar, e.logger)
	access, err := market.NewPointInTimeAccess(guard, e.provider, e.logger)
	if err != nil {
		return nil, err
	}
	pm, err := portfolio.NewManager(cfg.InitialCash, cfg.CommissionRate, cfg.SlippageRate, e.logger)
	if err != nil {
		return nil, err
	}

	if err := guard.EnterScope(cfg.StartDate, true, cfg.MaxLookback, cfg.StrictMode); err != nil {
		return nil, err
	}

	days := e.calendar.TradingDays(cfg.StartDate, cfg.EndDate)
	e.logger.Info("交易日历就绪", zap.Int("trading_days", len(days)))

	var (
		signals []SignalRecord
		runErr  error
		lastTs  = cfg.StartDate
	)

	for i, day := range days {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("backtest: 回测被取消: %w", err)
			break
		}

		ts := e.decisionTime(day)
		if err := guard.AdvanceTime(ts); err != nil {
			runErr = err
			break
		}
		lastTs = ts

		if e.shouldRebalance(cfg.RebalanceFrequency, days, i) {
			recs, prices, err := e.rebalance(ctx, cfg, access, pm, ts)
			signals = append(signals, recs...)
			if err != nil {
				runErr = err
				break
			}
			pm.UpdateMarketValues(prices)
		}

		pm.RecordSnapshot(ts)
	}

	violations, exitErr := guard.ExitScope()
	if runErr == nil && exitErr != nil {
		runErr = exitErr
	}

	finished := time.Now()
	result := &Result{
		Config:           cfg,
		FinalSnapshot:    pm.Summary(lastTs),
		Metrics:          pm.CalculateMetrics(cfg.RiskFreeRate),
		Trades:           pm.Trades(),
		Signals:          signals,
		Snapshots:        pm.Snapshots(),
		Violations:       violations,
		ViolationSummary: temporal.Summarize(violations),
		StartedAt:        started,
		FinishedAt:       finished,
		Duration:         finished.Sub(started),
	}
	return result, runErr
}

// decisionTime 返回交易日的决策时刻，取收盘 15:00。
func (e *Engine) decisionTime(day time.Time) time.Time {
	d := day.In(e.calendar.Location())
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 0, 0, 0, e.calendar.Location())
}

// shouldRebalance 判断第 i 个交易日是否触发再平衡。
// weekly 在每周第一个交易日触发，monthly 在每月第一个交易日触发。
func (e *Engine) shouldRebalance(freq Frequency, days []time.Time, i int) bool {
	switch freq {
	case FrequencyWeekly:
		if i == 0 {
			return true
		}
		prevYear, prevWeek := days[i-1].ISOWeek()
		year, week := days[i].ISOWeek()
		return year != prevYear || week != prevWeek
	case FrequencyMonthly:
		if i == 0 {
			return true
		}
		return days[i].Month() != days[i-1].Month() || days[i].Year() != days[i-1].Year()
	default:
		return true
	}
}

// symbolDecision 是单个标的并发阶段的产出。
type symbolDecision struct {
	signal  market.Signal
	price   float64
	outcome string // 非空表示该标的已在并发阶段定案
	skipped bool   // 数据或信号阶段失败，无信号可记录
}

// rebalance 为全部标的并发取数并生成信号，再按确定性顺序执行：
// 先按标的字典序处理卖出，再按置信度降序（同分按字典序）处理买入。
// 单标的数据失败只跳过该标的；严格模式下的时间违规终止整个回测。
func (e *Engine) rebalance(ctx context.Context, cfg Config, access *market.PointInTimeAccess, pm *portfolio.Manager, ts time.Time) ([]SignalRecord, map[string]float64, error) {
	decisions := make([]symbolDecision, len(cfg.Symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSymbols)
	for i, sym := range cfg.Symbols {
		g.Go(func() error {
			history, err := access.GetMarketData(gctx, sym, ts, cfg.LookbackPeriods)
			if err != nil {
				var vErr *temporal.ViolationError
				if errors.As(err, &vErr) {
					return err
				}
				e.logger.Warn("取数失败，跳过该标的",
					zap.String("symbol", sym), zap.Time("as_of", ts), zap.Error(err))
				decisions[i] = symbolDecision{skipped: true}
				return nil
			}
			if len(history) == 0 {
				decisions[i] = symbolDecision{skipped: true}
				return nil
			}

			sig, err := e.source.Generate(gctx, sym, ts, history)
			if err != nil {
				e.logger.Warn("信号生成失败，跳过该标的",
					zap.String("symbol", sym), zap.Time("as_of", ts), zap.Error(err))
				decisions[i] = symbolDecision{skipped: true}
				return nil
			}
			if err := sig.Validate(); err != nil {
				e.logger.Warn("信号字段非法", zap.String("symbol", sym), zap.Error(err))
				decisions[i] = symbolDecision{signal: sig, outcome: OutcomeRejected}
				return nil
			}

			ok, err := access.ValidateSignalTiming(sig)
			if err != nil {
				return err
			}

			d := symbolDecision{signal: sig, price: history[len(history)-1].Close}
			if !ok {
				d.outcome = OutcomeRejected
			}
			decisions[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	prices := make(map[string]float64, len(decisions))
	for _, d := range decisions {
		if !d.skipped && d.price > 0 {
			prices[d.signal.Symbol] = d.price
		}
	}

	records := make([]SignalRecord, 0, len(decisions))
	record := func(sig market.Signal, outcome string) {
		records = append(records, SignalRecord{Date: ts, Signal: sig, Outcome: outcome})
	}

	// 卖出按标的字典序先行，释放的现金供同日买入使用。
	var buys []symbolDecision
	for _, d := range decisions {
		if d.skipped {
			continue
		}
		if d.outcome != "" {
			record(d.signal, d.outcome)
			continue
		}
		switch d.signal.Action {
		case market.ActionSell:
			record(d.signal, e.executeSell(pm, d, ts))
		case market.ActionBuy:
			buys = append(buys, d)
		default:
			record(d.signal, OutcomeHold)
		}
	}

	sort.SliceStable(buys, func(a, b int) bool {
		if buys[a].signal.Confidence != buys[b].signal.Confidence {
			return buys[a].signal.Confidence > buys[b].signal.Confidence
		}
		return buys[a].signal.Symbol < buys[b].signal.Symbol
	})
	for _, d := range buys {
		record(d.signal, e.executeBuy(pm, cfg, d, ts))
	}

	return records, prices, nil
}

func (e *Engine) executeSell(pm *portfolio.Manager, d symbolDecision, ts time.Time) string {
	pos, ok := pm.Position(d.signal.Symbol)
	if !ok {
		return OutcomeRejected
	}

	shares := pos.Shares
	if d.signal.Volume > 0 && d.signal.Volume < shares {
		shares = d.signal.Volume
	}

	if pm.ExecuteTrade(d.signal.Symbol, market.ActionSell, shares, d.price, ts, d.signal.Reason) {
		return OutcomeExecuted
	}
	return OutcomeRejected
}

func (e *Engine) executeBuy(pm *portfolio.Manager, cfg Config, d symbolDecision, ts time.Time) string {
	if _, held := pm.Position(d.signal.Symbol); held {
		return OutcomeSkipped
	}
	if pm.PositionCount() >= cfg.MaxPositions {
		e.logger.Debug("仓位已满，放弃买入", zap.String("symbol", d.signal.Symbol))
		return OutcomeRejected
	}

	shares := d.signal.Volume
	if shares <= 0 {
		shares = e.sizer.BuyShares(pm.Summary(ts).TotalValue, pm.Cash(), d.price, cfg)
	}
	if shares <= 0 {
		return OutcomeSkipped
	}

	if pm.ExecuteTrade(d.signal.Symbol, market.ActionBuy, shares, d.price, ts, d.signal.Reason) {
		return OutcomeExecuted
	}
	return OutcomeRejected
}
