package temporal

import (
	"fmt"
	"time"
)

// ViolationKind 表示时间完整性违规类型。
type ViolationKind string

const (
	ViolationFutureDataAccess   ViolationKind = "future_data_access"   // 访问未来数据
	ViolationLookbackExceeded   ViolationKind = "lookback_exceeded"    // 超出回看窗口
	ViolationTemporalRegression ViolationKind = "temporal_regression"  // 模拟时间倒退
	ViolationOutOfOrder         ViolationKind = "out_of_order"         // 数据乱序
	ViolationNonTradingTime     ViolationKind = "non_trading_time"     // 非交易时间数据
	ViolationStaleSignal        ViolationKind = "stale_signal"         // 信号已过期
	ViolationInvalidTimestamp   ViolationKind = "invalid_timestamp"    // 时间戳不合法
)

// Severity 表示违规严重程度。
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Violation 是一条不可变的违规记录，一旦写入日志不再修改。
type Violation struct {
	Kind        ViolationKind `json:"kind"`
	DetectedAt  time.Time     `json:"detected_at"`
	Timestamp   time.Time     `json:"timestamp"`
	Component   string        `json:"component"`
	Severity    Severity      `json:"severity"`
	Description string        `json:"description"`
}

// ViolationError 在严格模式下携带触发违规的完整上下文。
type ViolationError struct {
	Violation Violation
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("temporal: 时间完整性违规 (%s): %s", e.Violation.Kind, e.Violation.Description)
}

// Summary 按类型与严重程度统计违规。
type Summary struct {
	Total      int                   `json:"total"`
	ByKind     map[ViolationKind]int `json:"by_kind"`
	BySeverity map[Severity]int      `json:"by_severity"`
}

// Summarize 汇总违规列表。
func Summarize(violations []Violation) Summary {
	summary := Summary{
		Total:      len(violations),
		ByKind:     make(map[ViolationKind]int),
		BySeverity: make(map[Severity]int),
	}
	for _, v := range violations {
		summary.ByKind[v.Kind]++
		summary.BySeverity[v.Severity]++
	}
	return summary
}
