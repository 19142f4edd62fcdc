package temporal

import (
	"errors"
	"testing"
	"time"
)

var baseTime = time.Date(2024, 6, 3, 15, 0, 0, 0, time.UTC)

func newActiveGuard(t *testing.T, strict bool) *Guard {
	t.Helper()
	g := NewGuard(nil, nil)
	if err := g.EnterScope(baseTime, true, 30*24*time.Hour, strict); err != nil {
		t.Fatalf("EnterScope returned error: %v", err)
	}
	return g
}

func TestGuardScopeLifecycle(t *testing.T) {
	g := NewGuard(nil, nil)

	if g.Active() {
		t.Fatalf("expected guard inactive before EnterScope")
	}
	if _, err := g.CurrentTime(); !errors.Is(err, ErrNoActiveContext) {
		t.Fatalf("expected ErrNoActiveContext, got %v", err)
	}
	if err := g.AdvanceTime(baseTime); !errors.Is(err, ErrNoActiveContext) {
		t.Fatalf("expected ErrNoActiveContext from AdvanceTime, got %v", err)
	}

	if err := g.EnterScope(baseTime, true, time.Hour, false); err != nil {
		t.Fatalf("EnterScope returned error: %v", err)
	}
	if !g.Active() {
		t.Fatalf("expected guard active after EnterScope")
	}
	if err := g.EnterScope(baseTime, true, time.Hour, false); !errors.Is(err, ErrScopeActive) {
		t.Fatalf("expected ErrScopeActive on nested scope, got %v", err)
	}

	now, err := g.CurrentTime()
	if err != nil {
		t.Fatalf("CurrentTime returned error: %v", err)
	}
	if !now.Equal(baseTime) {
		t.Errorf("unexpected current time: got %v want %v", now, baseTime)
	}

	violations, err := g.ExitScope()
	if err != nil {
		t.Fatalf("ExitScope returned error: %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("expected no violations, got %d", len(violations))
	}
	if g.Active() {
		t.Fatalf("expected guard inactive after ExitScope")
	}
	if _, err := g.ExitScope(); !errors.Is(err, ErrNoActiveContext) {
		t.Fatalf("expected ErrNoActiveContext on double exit, got %v", err)
	}
}

func TestGuardEnterScope_RejectsNonPositiveLookback(t *testing.T) {
	g := NewGuard(nil, nil)
	if err := g.EnterScope(baseTime, true, 0, false); err == nil {
		t.Fatalf("expected error for zero max lookback")
	}
	if g.Active() {
		t.Fatalf("guard must stay inactive after failed EnterScope")
	}
}

func TestValidateTimestamp_FutureDataLenient(t *testing.T) {
	g := newActiveGuard(t, false)

	ok, err := g.ValidateTimestamp(baseTime.Add(time.Hour), "test_feed")
	if err != nil {
		t.Fatalf("lenient mode must not return error, got %v", err)
	}
	if ok {
		t.Fatalf("expected future timestamp to be rejected")
	}

	violations := g.Violations()
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(violations))
	}
	v := violations[0]
	if v.Kind != ViolationFutureDataAccess {
		t.Errorf("unexpected violation kind: %s", v.Kind)
	}
	if v.Severity != SeverityHigh {
		t.Errorf("unexpected severity: %s", v.Severity)
	}
	if v.Component != "test_feed" {
		t.Errorf("unexpected component: %s", v.Component)
	}
	if !v.DetectedAt.Equal(baseTime) {
		t.Errorf("DetectedAt must be the simulation time, got %v", v.DetectedAt)
	}
}

func TestValidateTimestamp_FutureDataStrict(t *testing.T) {
	g := newActiveGuard(t, true)

	ok, err := g.ValidateTimestamp(baseTime.Add(time.Minute), "test_feed")
	if ok {
		t.Fatalf("expected future timestamp to be rejected")
	}

	var vErr *ViolationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ViolationError, got %v", err)
	}
	if vErr.Violation.Kind != ViolationFutureDataAccess {
		t.Errorf("unexpected violation kind: %s", vErr.Violation.Kind)
	}

	// 违规在报错前已入日志。
	if got := len(g.Violations()); got != 1 {
		t.Errorf("expected violation recorded before error, got %d", got)
	}
}

func TestValidateTimestamp_LookbackExceeded(t *testing.T) {
	g := newActiveGuard(t, false)

	tooOld := baseTime.Add(-31 * 24 * time.Hour)
	ok, err := g.ValidateTimestamp(tooOld, "test_feed")
	if err != nil || ok {
		t.Fatalf("expected lenient rejection, got ok=%v err=%v", ok, err)
	}

	violations := g.Violations()
	if len(violations) != 1 || violations[0].Kind != ViolationLookbackExceeded {
		t.Fatalf("expected single lookback violation, got %+v", violations)
	}
}

func TestValidateTimestamp_ExactBoundariesAreValid(t *testing.T) {
	g := newActiveGuard(t, true)

	// 等于当前时间与恰在回看边界上的时间戳都合法。
	for _, ts := range []time.Time{baseTime, baseTime.Add(-30 * 24 * time.Hour)} {
		ok, err := g.ValidateTimestamp(ts, "test_feed")
		if err != nil {
			t.Fatalf("ValidateTimestamp(%v) returned error: %v", ts, err)
		}
		if !ok {
			t.Errorf("expected %v to be valid", ts)
		}
	}
	if got := len(g.Violations()); got != 0 {
		t.Errorf("expected no violations, got %d", got)
	}
}

type fakeCalendar struct {
	valid  bool
	reason string
}

func (c fakeCalendar) ValidateMarketDataTime(time.Time) (bool, string) {
	return c.valid, c.reason
}

func TestValidateTimestamp_NonTradingTimeIsMediumSeverity(t *testing.T) {
	g := NewGuard(fakeCalendar{valid: false, reason: "market closed"}, nil)
	if err := g.EnterScope(baseTime, true, 30*24*time.Hour, true); err != nil {
		t.Fatalf("EnterScope returned error: %v", err)
	}

	// 中等严重度违规只记录：严格模式不报错，数据也不被拦下。
	ok, err := g.ValidateTimestamp(baseTime.Add(-time.Hour), "test_feed")
	if err != nil {
		t.Fatalf("medium severity must not raise in strict mode, got %v", err)
	}
	if !ok {
		t.Fatalf("medium severity alone must not block the timestamp")
	}

	violations := g.Violations()
	if len(violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(violations))
	}
	if violations[0].Kind != ViolationNonTradingTime || violations[0].Severity != SeverityMedium {
		t.Errorf("unexpected violation: %+v", violations[0])
	}
}

func TestAdvanceTime_ForwardAndRegression(t *testing.T) {
	g := newActiveGuard(t, false)

	next := baseTime.Add(24 * time.Hour)
	if err := g.AdvanceTime(next); err != nil {
		t.Fatalf("AdvanceTime returned error: %v", err)
	}
	// 推进到相同时间是空操作，不算倒退。
	if err := g.AdvanceTime(next); err != nil {
		t.Fatalf("AdvanceTime to same instant returned error: %v", err)
	}

	err := g.AdvanceTime(baseTime)
	if !errors.Is(err, ErrTemporalRegression) {
		t.Fatalf("expected ErrTemporalRegression, got %v", err)
	}

	now, _ := g.CurrentTime()
	if !now.Equal(next) {
		t.Errorf("current time must be unchanged after rejected regression, got %v", now)
	}

	violations := g.Violations()
	if len(violations) != 1 || violations[0].Kind != ViolationTemporalRegression {
		t.Fatalf("expected regression violation, got %+v", violations)
	}
}

func TestAdvanceTime_RegressionFatalEvenInLenientMode(t *testing.T) {
	g := newActiveGuard(t, false)
	if err := g.AdvanceTime(baseTime.Add(-time.Second)); !errors.Is(err, ErrTemporalRegression) {
		t.Fatalf("lenient mode must still reject regression, got %v", err)
	}
}

func TestRecordViolation_StrictRaisesHighSeverity(t *testing.T) {
	g := newActiveGuard(t, true)

	err := g.RecordViolation(Violation{
		Kind:        ViolationStaleSignal,
		Timestamp:   baseTime.Add(-time.Hour),
		Component:   "signal_check",
		Severity:    SeverityHigh,
		Description: "signal expired",
	})

	var vErr *ViolationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ViolationError, got %v", err)
	}
	if got := len(g.Violations()); got != 1 {
		t.Errorf("expected violation recorded, got %d", got)
	}
}

func TestRecordViolation_FillsDefaults(t *testing.T) {
	g := newActiveGuard(t, false)

	if err := g.RecordViolation(Violation{
		Kind:      ViolationInvalidTimestamp,
		Timestamp: baseTime,
		Component: "signal_check",
	}); err != nil {
		t.Fatalf("RecordViolation returned error: %v", err)
	}

	v := g.Violations()[0]
	if !v.DetectedAt.Equal(baseTime) {
		t.Errorf("expected DetectedAt defaulted to current time, got %v", v.DetectedAt)
	}
	if v.Severity != SeverityHigh {
		t.Errorf("expected severity defaulted to high, got %s", v.Severity)
	}
}

func TestViolationLog_FrozenAtExitAndImmutable(t *testing.T) {
	g := newActiveGuard(t, false)

	if _, err := g.ValidateTimestamp(baseTime.Add(time.Hour), "feed_a"); err != nil {
		t.Fatalf("ValidateTimestamp returned error: %v", err)
	}

	snapshot := g.Violations()
	snapshot[0].Component = "mutated"
	if g.Violations()[0].Component != "feed_a" {
		t.Fatalf("external mutation must not affect the internal log")
	}

	frozen, err := g.ExitScope()
	if err != nil {
		t.Fatalf("ExitScope returned error: %v", err)
	}
	if len(frozen) != 1 {
		t.Fatalf("expected frozen log with 1 violation, got %d", len(frozen))
	}

	summary := Summarize(frozen)
	if summary.Total != 1 || summary.ByKind[ViolationFutureDataAccess] != 1 || summary.BySeverity[SeverityHigh] != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}
