package market

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Action 表示交易动作。
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

var validActions = map[Action]struct{}{
	ActionBuy:  {},
	ActionSell: {},
	ActionHold: {},
}

// DataPoint 是一条 OHLCV 行情记录。
type DataPoint struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Signal 是信号源输出的交易建议。字段为封闭模式，
// 在进入回测引擎前必须通过 Validate 校验。
type Signal struct {
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Volume     int64     `json:"volume"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
	ValidUntil time.Time `json:"valid_until,omitempty"` // 零值表示不设有效期
}

// Validate 校验信号字段合法性。
func (s Signal) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return errors.New("market: signal symbol 不能为空")
	}
	if _, ok := validActions[s.Action]; !ok {
		return fmt.Errorf("market: signal action 取值非法: %s", s.Action)
	}
	if s.Volume < 0 {
		return fmt.Errorf("market: signal volume 不能为负，当前为 %d", s.Volume)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("market: signal confidence 必须位于 [0,1]，当前为 %f", s.Confidence)
	}
	if s.Timestamp.IsZero() {
		return errors.New("market: signal timestamp 不能为零值")
	}
	return nil
}
