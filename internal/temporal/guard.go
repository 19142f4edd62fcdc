package temporal

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNoActiveContext 表示当前没有激活的时间上下文。
	ErrNoActiveContext = errors.New("temporal: 当前没有激活的时间上下文")
	// ErrScopeActive 表示已有激活的作用域，不支持嵌套。
	ErrScopeActive = errors.New("temporal: 时间上下文已激活，不支持嵌套作用域")
	// ErrTemporalRegression 表示模拟时间被要求倒退，属于驱动层逻辑缺陷。
	ErrTemporalRegression = errors.New("temporal: 模拟时间不允许倒退")
)

// Calendar 提供交易时间校验能力，由行情层实现。
type Calendar interface {
	// ValidateMarketDataTime 校验时间戳是否落在交易时段内，返回校验结果与说明。
	ValidateMarketDataTime(ts time.Time) (bool, string)
}

// Context 保存一个作用域内的时间状态。violations 只追加，由 Guard 串行写入。
type Context struct {
	CurrentTime    time.Time
	SimulationMode bool
	MaxLookback    time.Duration
	StrictMode     bool

	violations []Violation
}

// EarliestAllowed 返回回看窗口允许的最早时间。
func (c *Context) EarliestAllowed() time.Time {
	return c.CurrentTime.Add(-c.MaxLookback)
}

// Guard 是时间完整性防护核心：跟踪模拟"当前时间"，校验所有数据时间戳，
// 并记录违规。上下文通过显式的 EnterScope/ExitScope 管理，不使用任何全局状态。
type Guard struct {
	mu       sync.Mutex
	calendar Calendar
	logger   *zap.Logger
	ctx      *Context
}

// NewGuard 创建时间防护。calendar 可为 nil，此时跳过交易时段检查。
func NewGuard(calendar Calendar, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		calendar: calendar,
		logger:   logger,
	}
}

// EnterScope 打开一个时间作用域（Closed -> Active）。作用域已打开时返回 ErrScopeActive。
func (g *Guard) EnterScope(now time.Time, simulationMode bool, maxLookback time.Duration, strictMode bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx != nil {
		return ErrScopeActive
	}
	if maxLookback <= 0 {
		return fmt.Errorf("temporal: max_lookback 必须为正，当前为 %s", maxLookback)
	}

	g.ctx = &Context{
		CurrentTime:    now,
		SimulationMode: simulationMode,
		MaxLookback:    maxLookback,
		StrictMode:     strictMode,
	}

	g.logger.Debug("进入时间作用域",
		zap.Time("current_time", now),
		zap.Bool("simulation_mode", simulationMode),
		zap.Duration("max_lookback", maxLookback),
		zap.Bool("strict_mode", strictMode),
	)

	return nil
}

// ExitScope 关闭作用域（Active -> Closed），返回冻结后的违规日志。
func (g *Guard) ExitScope() ([]Violation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx == nil {
		return nil, ErrNoActiveContext
	}

	violations := make([]Violation, len(g.ctx.violations))
	copy(violations, g.ctx.violations)

	g.logger.Debug("退出时间作用域",
		zap.Time("current_time", g.ctx.CurrentTime),
		zap.Int("violations", len(violations)),
	)

	g.ctx = nil

	return violations, nil
}

// Active 返回作用域是否处于打开状态。
func (g *Guard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctx != nil
}

// CurrentTime 返回当前模拟时间。
func (g *Guard) CurrentTime() (time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx == nil {
		return time.Time{}, ErrNoActiveContext
	}
	return g.ctx.CurrentTime, nil
}

// StrictMode 返回当前作用域是否处于严格模式。
func (g *Guard) StrictMode() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctx != nil && g.ctx.StrictMode
}

// AdvanceTime 推进模拟时间。时间倒退在任何模式下都是致命错误：
// 它意味着驱动层存在逻辑缺陷而非数据质量问题。
func (g *Guard) AdvanceTime(newTime time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx == nil {
		return ErrNoActiveContext
	}

	if newTime.Before(g.ctx.CurrentTime) {
		g.ctx.violations = append(g.ctx.violations, Violation{
			Kind:        ViolationTemporalRegression,
			DetectedAt:  g.ctx.CurrentTime,
			Timestamp:   newTime,
			Component:   "guard",
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("时间倒退：从 %s 到 %s", g.ctx.CurrentTime.Format(time.RFC3339), newTime.Format(time.RFC3339)),
		})
		return fmt.Errorf("%w: %s -> %s", ErrTemporalRegression,
			g.ctx.CurrentTime.Format(time.RFC3339), newTime.Format(time.RFC3339))
	}

	g.ctx.CurrentTime = newTime
	g.logger.Debug("时间推进", zap.Time("current_time", newTime))

	return nil
}

// ValidateTimestamp 校验数据时间戳。返回值约定：
//   - 合法: (true, nil)
//   - 仅中等及以下严重度违规: (true, nil)，违规记入日志但数据仍可使用
//   - 高严重度违规，宽松模式: (false, nil)，由调用方决定跳过
//   - 高严重度违规，严格模式: (false, *ViolationError)
func (g *Guard) ValidateTimestamp(ts time.Time, component string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx == nil {
		return false, ErrNoActiveContext
	}

	var violations []Violation

	if ts.After(g.ctx.CurrentTime) {
		violations = append(violations, Violation{
			Kind:       ViolationFutureDataAccess,
			DetectedAt: g.ctx.CurrentTime,
			Timestamp:  ts,
			Component:  component,
			Severity:   SeverityHigh,
			Description: fmt.Sprintf("访问未来数据：%s 时间戳 %s 晚于当前时间 %s",
				component, ts.Format(time.RFC3339), g.ctx.CurrentTime.Format(time.RFC3339)),
		})
	}

	if ts.Before(g.ctx.EarliestAllowed()) {
		violations = append(violations, Violation{
			Kind:       ViolationLookbackExceeded,
			DetectedAt: g.ctx.CurrentTime,
			Timestamp:  ts,
			Component:  component,
			Severity:   SeverityHigh,
			Description: fmt.Sprintf("数据超出回看窗口：%s 时间戳 %s 早于允许的最早时间 %s",
				component, ts.Format(time.RFC3339), g.ctx.EarliestAllowed().Format(time.RFC3339)),
		})
	}

	if g.calendar != nil {
		if ok, message := g.calendar.ValidateMarketDataTime(ts); !ok {
			violations = append(violations, Violation{
				Kind:        ViolationNonTradingTime,
				DetectedAt:  g.ctx.CurrentTime,
				Timestamp:   ts,
				Component:   component,
				Severity:    SeverityMedium,
				Description: fmt.Sprintf("非交易时间数据：%s", message),
			})
		}
	}

	if len(violations) == 0 {
		return true, nil
	}

	g.ctx.violations = append(g.ctx.violations, violations...)

	hasHigh := false
	for _, v := range violations {
		if v.Severity != SeverityHigh {
			continue
		}
		hasHigh = true
		if g.ctx.StrictMode {
			return false, &ViolationError{Violation: v}
		}
	}

	return !hasHigh, nil
}

// RecordViolation 记录一条由上层组件（如信号时效校验）检测到的违规。
// 严格模式下高严重度违规同样立即返回 *ViolationError。
func (g *Guard) RecordViolation(v Violation) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx == nil {
		return ErrNoActiveContext
	}

	if v.DetectedAt.IsZero() {
		v.DetectedAt = g.ctx.CurrentTime
	}
	if v.Severity == "" {
		v.Severity = SeverityHigh
	}

	g.ctx.violations = append(g.ctx.violations, v)

	if g.ctx.StrictMode && v.Severity == SeverityHigh {
		return &ViolationError{Violation: v}
	}

	return nil
}

// Violations 返回当前作用域已记录违规的副本。
func (g *Guard) Violations() []Violation {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx == nil {
		return nil
	}
	violations := make([]Violation, len(g.ctx.violations))
	copy(violations, g.ctx.violations)
	return violations
}

// ViolationSummary 返回当前作用域的违规统计。
func (g *Guard) ViolationSummary() Summary {
	return Summarize(g.Violations())
}
