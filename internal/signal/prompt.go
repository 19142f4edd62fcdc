package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"mytrade/internal/market"
)

const decisionTemplate = `
你是一个专业的A股量化分析师。请仅依据截止 {{ .AsOf }} 的历史行情，为股票 {{ .Symbol }} 给出交易建议。
禁止使用任何晚于该时刻的信息。

最近行情（按时间升序，JSON）：
{{ .HistoryJSON }}

请严格输出唯一的 JSON 对象，格式如下：
{
  "action": "BUY|SELL|HOLD",        // 交易动作
  "volume": 0,                       // 建议股数，填 0 表示由仓位策略决定
  "confidence": 0.0-1.0,             // 建议信心度
  "reason": "..."                   // 支撑结论的关键理由
}

注意事项：
- 仅输出 JSON，不要附加任何说明文字。
- confidence 必须位于 [0,1]。
- 不确定时返回 HOLD。
`

var tmpl = template.Must(template.New("decision").Parse(decisionTemplate))

type promptContext struct {
	Symbol      string
	AsOf        string
	HistoryJSON string
}

type promptBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// maxPromptBars 控制进入提示词的K线数量，避免提示过长。
const maxPromptBars = 30

// BuildPrompt 渲染信号生成提示词。
func BuildPrompt(symbol string, asOf time.Time, history []market.DataPoint) (string, error) {
	if len(history) > maxPromptBars {
		history = history[len(history)-maxPromptBars:]
	}

	bars := make([]promptBar, 0, len(history))
	for _, point := range history {
		bars = append(bars, promptBar{
			Date:   point.Timestamp.Format("2006-01-02"),
			Open:   point.Open,
			High:   point.High,
			Low:    point.Low,
			Close:  point.Close,
			Volume: point.Volume,
		})
	}

	historyJSON, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return "", fmt.Errorf("signal: 序列化行情失败: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, promptContext{
		Symbol:      symbol,
		AsOf:        asOf.Format("2006-01-02 15:04"),
		HistoryJSON: string(historyJSON),
	}); err != nil {
		return "", fmt.Errorf("signal: 渲染提示词失败: %w", err)
	}

	return buf.String(), nil
}
