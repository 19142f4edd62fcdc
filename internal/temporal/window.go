package temporal

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrOutOfOrderInsertion 表示写入的数据时间戳早于窗口内最新数据。
	ErrOutOfOrderInsertion = errors.New("temporal: 窗口数据时间戳乱序")
	// ErrInsufficientData 表示窗口内数据量不足以完成计算。
	ErrInsufficientData = errors.New("temporal: 窗口数据不足")
)

type windowPoint struct {
	value     float64
	timestamp time.Time
}

// RollingWindow 是时间感知的定容滚动窗口，用于流式指标计算。
// 缓冲区按时间非递减排列，超出容量时按 FIFO 淘汰最旧数据点，
// 保证插入摊还 O(1) 且内存有界。
type RollingWindow struct {
	id         string
	capacity   int
	minPeriods int
	guard      *Guard
	points     []windowPoint
}

// NewRollingWindow 创建滚动窗口。minPeriods 为 0 时取 capacity。
func NewRollingWindow(id string, capacity, minPeriods int) (*RollingWindow, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("temporal: 窗口容量必须为正，当前为 %d", capacity)
	}
	if minPeriods <= 0 {
		minPeriods = capacity
	}
	if minPeriods > capacity {
		return nil, fmt.Errorf("temporal: min_periods (%d) 不能大于容量 (%d)", minPeriods, capacity)
	}

	return &RollingWindow{
		id:         id,
		capacity:   capacity,
		minPeriods: minPeriods,
		points:     make([]windowPoint, 0, capacity),
	}, nil
}

// NewWindow 创建与防护绑定的滚动窗口：每次写入都会经过时间戳校验。
func (g *Guard) NewWindow(id string, capacity, minPeriods int) (*RollingWindow, error) {
	window, err := NewRollingWindow(id, capacity, minPeriods)
	if err != nil {
		return nil, err
	}
	window.guard = g
	return window, nil
}

// Add 写入一个数据点。时间戳早于窗口内最新数据时写入失败并记录违规。
func (w *RollingWindow) Add(value float64, ts time.Time) error {
	if w.guard != nil {
		component := fmt.Sprintf("rolling_window_%s", w.id)
		if ok, err := w.guard.ValidateTimestamp(ts, component); err != nil {
			return err
		} else if !ok {
			return nil
		}
	}

	if len(w.points) > 0 && ts.Before(w.points[len(w.points)-1].timestamp) {
		if w.guard != nil {
			if err := w.guard.RecordViolation(Violation{
				Kind:      ViolationOutOfOrder,
				Timestamp: ts,
				Component: fmt.Sprintf("rolling_window_%s", w.id),
				Severity:  SeverityHigh,
				Description: fmt.Sprintf("滚动窗口 %s 数据时间倒退：%s 早于 %s",
					w.id, ts.Format(time.RFC3339), w.points[len(w.points)-1].timestamp.Format(time.RFC3339)),
			}); err != nil {
				return err
			}
		}
		return fmt.Errorf("%w: 窗口 %s", ErrOutOfOrderInsertion, w.id)
	}

	w.points = append(w.points, windowPoint{value: value, timestamp: ts})

	if len(w.points) > w.capacity {
		w.points = w.points[1:]
	}

	return nil
}

// Calculate 对窗口内数据应用计算函数。数据量不足 minPeriods 时返回 ErrInsufficientData。
func (w *RollingWindow) Calculate(fn func(values []float64) float64) (float64, error) {
	if len(w.points) < w.minPeriods {
		return 0, fmt.Errorf("%w: 窗口 %s 需要 %d 个数据点，当前 %d 个",
			ErrInsufficientData, w.id, w.minPeriods, len(w.points))
	}
	return fn(w.Values()), nil
}

// Values 返回窗口内数值的副本，按时间升序。
func (w *RollingWindow) Values() []float64 {
	values := make([]float64, len(w.points))
	for i, p := range w.points {
		values[i] = p.value
	}
	return values
}

// Len 返回当前窗口内数据点数量。
func (w *RollingWindow) Len() int {
	return len(w.points)
}

// Ready 返回窗口是否已积累足够数据。
func (w *RollingWindow) Ready() bool {
	return len(w.points) >= w.minPeriods
}

// Bounds 返回窗口内最早与最晚的时间戳。窗口为空时 ok 为 false。
func (w *RollingWindow) Bounds() (earliest, latest time.Time, ok bool) {
	if len(w.points) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return w.points[0].timestamp, w.points[len(w.points)-1].timestamp, true
}

// Mean 计算算术平均值。
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev 计算样本标准差。
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}
