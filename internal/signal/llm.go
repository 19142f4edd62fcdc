package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"mytrade/internal/config"
	"mytrade/internal/market"
)

// LLMSource 封装 OpenAI 调用逻辑，将模型输出解析为封闭的信号结构。
type LLMSource struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewLLMSource 使用给定配置创建大模型信号源。
func NewLLMSource(cfg config.OpenAIConfig, logger *zap.Logger) (*LLMSource, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("signal: openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &LLMSource{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(clientConfig),
	}, nil
}

type llmDecision struct {
	Action     string  `json:"action"`
	Volume     int64   `json:"volume"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Generate 根据历史行情获取模型交易建议。
func (s *LLMSource) Generate(ctx context.Context, symbol string, asOf time.Time, history []market.DataPoint) (market.Signal, error) {
	if s.cfg.Model == "" {
		return market.Signal{}, errors.New("signal: openai model 不能为空")
	}

	prompt, err := BuildPrompt(symbol, asOf, history)
	if err != nil {
		return market.Signal{}, err
	}

	response, err := s.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		s.logger.Error("调用OpenAI失败", zap.Error(err))
		return market.Signal{}, fmt.Errorf("signal: 调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return market.Signal{}, errors.New("signal: OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return market.Signal{}, errors.New("signal: OpenAI 返回内容为空")
	}

	decision, err := parseDecision(rawContent)
	if err != nil {
		s.logger.Error("解析模型决策失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return market.Signal{}, err
	}

	sig := market.Signal{
		Symbol:     symbol,
		Action:     market.Action(strings.ToUpper(strings.TrimSpace(decision.Action))),
		Volume:     decision.Volume,
		Confidence: decision.Confidence,
		Reason:     decision.Reason,
		Timestamp:  asOf,
	}

	if err := sig.Validate(); err != nil {
		return market.Signal{}, err
	}

	s.logger.Info("AI 信号生成成功",
		zap.String("symbol", symbol),
		zap.String("action", string(sig.Action)),
		zap.Float64("confidence", sig.Confidence),
	)

	return sig, nil
}

func parseDecision(content string) (llmDecision, error) {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return llmDecision{}, err
	}

	var decision llmDecision
	if err = json.Unmarshal(jsonPayload, &decision); err != nil {
		return llmDecision{}, fmt.Errorf("signal: 解析决策JSON失败: %w", err)
	}

	return decision, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("signal: 模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
