package market

import (
	"fmt"
	"time"
)

// Status 表示某个时刻的市场状态。
type Status string

const (
	StatusPre    Status = "pre"    // 盘前
	StatusOpen   Status = "open"   // 交易中
	StatusLunch  Status = "lunch"  // 午间休市
	StatusClosed Status = "closed" // 休市
)

// Calendar 提供交易日与交易时段判断。
type Calendar interface {
	IsTradingDay(date time.Time) bool
	MarketStatus(ts time.Time) Status
	// ValidateMarketDataTime 校验时间戳是否落在交易时段内（实现 temporal.Calendar）。
	ValidateMarketDataTime(ts time.Time) (bool, string)
}

type holiday struct {
	start time.Time
	end   time.Time
	name  string
}

// AShareCalendar 是内置 2024-2025 年节假日表的 A 股交易日历。
// 交易时段：09:30-11:30 与 13:00-15:00（北京时间）。
type AShareCalendar struct {
	location *time.Location
	holidays []holiday
}

// NewAShareCalendar 创建 A 股交易日历。
func NewAShareCalendar() *AShareCalendar {
	loc := time.FixedZone("CST", 8*3600)

	day := func(year int, month time.Month, d int) time.Time {
		return time.Date(year, month, d, 0, 0, 0, 0, loc)
	}
	span := func(name string, start, end time.Time) holiday {
		return holiday{start: start, end: end, name: name}
	}

	// 依据国务院办公厅放假安排；2025 年部分为预估。
	holidays := []holiday{
		span("元旦", day(2024, 1, 1), day(2024, 1, 1)),
		span("春节", day(2024, 2, 10), day(2024, 2, 17)),
		span("清明节", day(2024, 4, 4), day(2024, 4, 6)),
		span("劳动节", day(2024, 5, 1), day(2024, 5, 5)),
		span("端午节", day(2024, 6, 10), day(2024, 6, 10)),
		span("中秋节", day(2024, 9, 15), day(2024, 9, 17)),
		span("国庆节", day(2024, 10, 1), day(2024, 10, 7)),
		span("元旦", day(2025, 1, 1), day(2025, 1, 1)),
		span("春节", day(2025, 1, 28), day(2025, 2, 3)),
		span("清明节", day(2025, 4, 4), day(2025, 4, 6)),
		span("劳动节", day(2025, 5, 1), day(2025, 5, 5)),
		span("端午节", day(2025, 5, 31), day(2025, 5, 31)),
		span("国庆节", day(2025, 10, 1), day(2025, 10, 7)),
	}

	return &AShareCalendar{
		location: loc,
		holidays: holidays,
	}
}

// Location 返回日历所用时区。
func (c *AShareCalendar) Location() *time.Location {
	return c.location
}

// IsTradingDay 判断给定日期是否为交易日（非周末且非节假日）。
func (c *AShareCalendar) IsTradingDay(date time.Time) bool {
	d := date.In(c.location)

	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	year, month, day := d.Date()
	current := time.Date(year, month, day, 0, 0, 0, 0, c.location)

	for _, h := range c.holidays {
		if !current.Before(h.start) && !current.After(h.end) {
			return false
		}
	}

	return true
}

func minuteOfDay(ts time.Time) int {
	return ts.Hour()*60 + ts.Minute()
}

// MarketStatus 返回给定时刻的市场状态。
func (c *AShareCalendar) MarketStatus(ts time.Time) Status {
	t := ts.In(c.location)

	if !c.IsTradingDay(t) {
		return StatusClosed
	}

	minute := minuteOfDay(t)
	switch {
	case minute < 9*60+30:
		return StatusPre
	case minute <= 11*60+30:
		return StatusOpen
	case minute < 13*60:
		return StatusLunch
	case minute <= 15*60:
		return StatusOpen
	default:
		return StatusClosed
	}
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0
}

// ValidateMarketDataTime 校验行情时间戳是否落在交易时段内。
// 本地或 UTC 午夜的时间戳视为日线数据，仅校验交易日：
// 上游K线源普遍以 UTC 午夜标记日线。
func (c *AShareCalendar) ValidateMarketDataTime(ts time.Time) (bool, string) {
	t := ts.In(c.location)

	if !c.IsTradingDay(t) {
		return false, fmt.Sprintf("%s 不是交易日", t.Format("2006-01-02"))
	}

	if isMidnight(t) || isMidnight(ts.UTC()) {
		return true, ""
	}

	if status := c.MarketStatus(t); status != StatusOpen {
		return false, fmt.Sprintf("%s 处于非交易时段 (%s)", t.Format("2006-01-02 15:04"), status)
	}

	return true, ""
}

// TradingDays 返回 [start, end] 内的全部交易日（按日对齐，升序）。
func (c *AShareCalendar) TradingDays(start, end time.Time) []time.Time {
	s := start.In(c.location)
	e := end.In(c.location)

	current := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, c.location)
	last := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, c.location)

	var days []time.Time
	for !current.After(last) {
		if c.IsTradingDay(current) {
			days = append(days, current)
		}
		current = current.AddDate(0, 0, 1)
	}
	return days
}
