package market

import (
	"testing"
	"time"
)

func cst(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.FixedZone("CST", 8*3600))
}

func TestAShareCalendar_IsTradingDay(t *testing.T) {
	cal := NewAShareCalendar()

	cases := []struct {
		name string
		date time.Time
		want bool
	}{
		{"regular weekday", cst(2024, 6, 3, 0, 0), true},
		{"saturday", cst(2024, 6, 1, 0, 0), false},
		{"sunday", cst(2024, 6, 2, 0, 0), false},
		{"new year 2024", cst(2024, 1, 1, 0, 0), false},
		{"spring festival start", cst(2024, 2, 10, 0, 0), false},
		{"spring festival end", cst(2024, 2, 17, 0, 0), false},
		{"after spring festival", cst(2024, 2, 19, 0, 0), true},
		{"national day", cst(2024, 10, 1, 0, 0), false},
		{"spring festival 2025", cst(2025, 1, 28, 0, 0), false},
	}

	for _, tc := range cases {
		if got := cal.IsTradingDay(tc.date); got != tc.want {
			t.Errorf("%s: IsTradingDay(%v) = %v, want %v", tc.name, tc.date, got, tc.want)
		}
	}
}

func TestAShareCalendar_MarketStatus(t *testing.T) {
	cal := NewAShareCalendar()

	cases := []struct {
		name string
		ts   time.Time
		want Status
	}{
		{"before open", cst(2024, 6, 3, 9, 0), StatusPre},
		{"open boundary", cst(2024, 6, 3, 9, 30), StatusOpen},
		{"morning session", cst(2024, 6, 3, 10, 15), StatusOpen},
		{"morning close boundary", cst(2024, 6, 3, 11, 30), StatusOpen},
		{"lunch break", cst(2024, 6, 3, 12, 0), StatusLunch},
		{"afternoon session", cst(2024, 6, 3, 14, 0), StatusOpen},
		{"close boundary", cst(2024, 6, 3, 15, 0), StatusOpen},
		{"after close", cst(2024, 6, 3, 15, 1), StatusClosed},
		{"weekend", cst(2024, 6, 1, 10, 0), StatusClosed},
		{"holiday", cst(2024, 10, 1, 10, 0), StatusClosed},
	}

	for _, tc := range cases {
		if got := cal.MarketStatus(tc.ts); got != tc.want {
			t.Errorf("%s: MarketStatus(%v) = %s, want %s", tc.name, tc.ts, got, tc.want)
		}
	}
}

func TestAShareCalendar_ValidateMarketDataTime(t *testing.T) {
	cal := NewAShareCalendar()

	// 午夜时间戳视为日线数据，仅要求是交易日。
	if ok, reason := cal.ValidateMarketDataTime(cst(2024, 6, 3, 0, 0)); !ok {
		t.Errorf("daily bar on trading day must be valid, got %s", reason)
	}
	if ok, _ := cal.ValidateMarketDataTime(cst(2024, 6, 1, 0, 0)); ok {
		t.Errorf("daily bar on weekend must be invalid")
	}

	if ok, _ := cal.ValidateMarketDataTime(cst(2024, 6, 3, 10, 0)); !ok {
		t.Errorf("intraday timestamp inside session must be valid")
	}
	if ok, _ := cal.ValidateMarketDataTime(cst(2024, 6, 3, 12, 30)); ok {
		t.Errorf("lunch break timestamp must be invalid")
	}
}

func TestAShareCalendar_ValidateMarketDataTime_UTCMidnightDailyBars(t *testing.T) {
	cal := NewAShareCalendar()

	// 上游K线源以 UTC 午夜（北京时间 08:00）标记日线，同样视为日线数据。
	if ok, reason := cal.ValidateMarketDataTime(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)); !ok {
		t.Errorf("UTC midnight bar on trading day must be valid, got %s", reason)
	}
	// 端午节休市，日线也不合法。
	if ok, _ := cal.ValidateMarketDataTime(time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)); ok {
		t.Errorf("UTC midnight bar on holiday must be invalid")
	}
	// 非午夜的盘外时间戳不享受日线豁免。
	if ok, _ := cal.ValidateMarketDataTime(time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)); ok {
		t.Errorf("18:00 CST timestamp must stay invalid")
	}
}

func TestAShareCalendar_TradingDays(t *testing.T) {
	cal := NewAShareCalendar()

	// 2024-09-30 周一为交易日，10-01 起国庆休市，10-08 恢复交易。
	days := cal.TradingDays(cst(2024, 9, 30, 0, 0), cst(2024, 10, 9, 0, 0))

	want := []time.Time{
		cst(2024, 9, 30, 0, 0),
		cst(2024, 10, 8, 0, 0),
		cst(2024, 10, 9, 0, 0),
	}
	if len(days) != len(want) {
		t.Fatalf("unexpected trading day count: got %d want %d (%v)", len(days), len(want), days)
	}
	for i := range want {
		if !days[i].Equal(want[i]) {
			t.Errorf("days[%d]: got %v want %v", i, days[i], want[i])
		}
	}
}
