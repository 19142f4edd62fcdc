package market

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"mytrade/internal/config"
)

var (
	// ErrMaintenance 表示交易所处于维护状态，调用方应跳过本步取数。
	ErrMaintenance = errors.New("market: exchange on maintenance")
)

// CCXTProvider 通过 ccxt 获取加密货币历史K线，内置统一的重试策略。
// 所有上游调用共用同一套有界重试与退避参数，失败在调用方降级为单标的跳过。
type CCXTProvider struct {
	cfg      config.DataConfig
	logger   *zap.Logger
	exchange *ccxt.Binance

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewCCXTProvider 构造 ccxt 行情源。
func NewCCXTProvider(cfg config.DataConfig, logger *zap.Logger) (*CCXTProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1d"
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
		},
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinance(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &CCXTProvider{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// Fetch 获取 [start, end] 范围内的K线，按时间升序返回。
func (p *CCXTProvider) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]DataPoint, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("market: 查询区间非法: %s > %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	limit := int64(end.Sub(start).Hours()/24) + 2

	var raw []ccxt.OHLCV

	err := p.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", symbol), func() error {
		if err := p.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := p.exchange.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(p.cfg.Timeframe),
			ccxt.WithFetchOHLCVSince(start.UnixMilli()),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	points := make([]DataPoint, 0, len(raw))
	for _, item := range raw {
		ts := time.UnixMilli(item.Timestamp).UTC()
		if ts.After(end) {
			continue
		}
		points = append(points, DataPoint{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return points, nil
}

// ensureMarketsLoaded 加载一次市场元数据。失败后允许下次调用重试，
// 标志位只在持锁状态下读写，Fetch 可安全并发调用。
func (p *CCXTProvider) ensureMarketsLoaded(ctx context.Context) error {
	p.marketsMu.Lock()
	defer p.marketsMu.Unlock()

	if p.marketsLoaded {
		return nil
	}

	loadErr := p.callWithRetry(ctx, "load_markets", func() error {
		_, err := p.exchange.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	p.marketsLoaded = true
	p.logger.Info("已完成市场元数据加载")
	return nil
}

func (p *CCXTProvider) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := p.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := p.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				p.logger.Info("行情调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := p.classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			p.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= p.cfg.Retry.MaxAttempts {
			p.logger.Error("行情调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		p.logger.Warn("行情调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (p *CCXTProvider) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}
