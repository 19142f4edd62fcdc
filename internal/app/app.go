package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mytrade/internal/backtest"
	"mytrade/internal/config"
	"mytrade/internal/market"
	"mytrade/internal/report"
	"mytrade/internal/signal"
	"mytrade/internal/store"
)

// App 聚合核心依赖并驱动一次回测的完整生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装数据源、信号源与回测引擎，执行回测并把结果写入结果库。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("回测系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("data_source", a.cfg.Data.Source),
		zap.String("signal_source", a.cfg.Backtest.SignalSource),
	)

	runCfg, err := backtest.FromAppConfig(a.cfg.Backtest)
	if err != nil {
		return err
	}

	provider, err := a.buildProvider()
	if err != nil {
		return err
	}

	source, err := a.buildSignalSource()
	if err != nil {
		return err
	}

	recorder, err := report.NewRecorder(a.store, a.logger)
	if err != nil {
		return err
	}

	if port := a.cfg.App.ReportPort; port > 0 {
		if err := startReportServer(ctx, recorder, port, a.logger); err != nil {
			return err
		}
	}

	engine, err := backtest.NewEngine(market.NewAShareCalendar(), provider, source, nil, a.logger)
	if err != nil {
		return err
	}

	result, runErr := engine.Run(ctx, runCfg)
	if result != nil {
		if _, saveErr := recorder.SaveResult(ctx, result); saveErr != nil {
			a.logger.Error("保存回测结果失败", zap.Error(saveErr))
		}
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			a.logger.Info("回测被用户中断")
			return nil
		}
		return runErr
	}

	a.logSummary(result)
	return nil
}

func (a *App) buildProvider() (market.Provider, error) {
	switch a.cfg.Data.Source {
	case "ccxt":
		return market.NewCCXTProvider(a.cfg.Data, a.logger)
	case "memory":
		return nil, errors.New("app: memory 数据源仅用于测试，请配置 data.source=ccxt")
	default:
		return nil, fmt.Errorf("app: 不支持的数据源: %s", a.cfg.Data.Source)
	}
}

func (a *App) buildSignalSource() (signal.Source, error) {
	switch a.cfg.Backtest.SignalSource {
	case "rule":
		return signal.NewRuleSource(a.logger), nil
	case "llm":
		return signal.NewLLMSource(a.cfg.OpenAI, a.logger)
	default:
		return nil, fmt.Errorf("app: 不支持的信号源: %s", a.cfg.Backtest.SignalSource)
	}
}

func (a *App) logSummary(result *backtest.Result) {
	a.logger.Info("回测结果",
		zap.String("total_value", result.FinalSnapshot.TotalValue.String()),
		zap.String("total_return", result.FinalSnapshot.TotalReturn.String()),
		zap.Float64("annual_return", result.Metrics.AnnualReturn),
		zap.Float64("sharpe_ratio", result.Metrics.SharpeRatio),
		zap.Float64("max_drawdown", result.Metrics.MaxDrawdown),
		zap.Float64("win_rate", result.Metrics.WinRate),
		zap.Int("trades", len(result.Trades)),
		zap.Int("violations", result.ViolationSummary.Total),
	)

	for kind, count := range result.ViolationSummary.ByKind {
		a.logger.Warn("检测到时间完整性违规",
			zap.String("kind", string(kind)),
			zap.Int("count", count))
	}
}
