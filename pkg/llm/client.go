// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aero-doc-go/internal/config"

	"github.com/sashabaranov/go-openai"
)

// ErrGeneration 表示模型调用失败或返回了不可用的结果。
var ErrGeneration = errors.New("generation failed")

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator defines the interface for an LLM client.
type Generator interface {
	// Generate 以 role-based 消息调用聊天接口，返回完整回答。
	Generate(ctx context.Context, messages []Message) (string, error)
}

// GenerationParams 控制生成行为，零值字段不下发。
type GenerationParams struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// OpenAIClient 调用 OpenAI 兼容的 /chat/completions 接口。
type OpenAIClient struct {
	client *openai.Client
	model  string
	gen    GenerationParams
}

var _ Generator = (*OpenAIClient)(nil)

// NewClient creates a new LLM client from the config.
func NewClient(cfg config.LLMConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		gen: GenerationParams{
			Temperature: float32(cfg.Generation.Temperature),
			TopP:        float32(cfg.Generation.TopP),
			MaxTokens:   cfg.Generation.MaxTokens,
		},
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: c.gen.Temperature,
		TopP:        c.gen.TopP,
		MaxTokens:   c.gen.MaxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model returned no choices", ErrGeneration)
	}
	choice := resp.Choices[0]
	// 被安全策略拦截或内容为空都按失败处理
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", fmt.Errorf("%w: response blocked by content filter", ErrGeneration)
	}
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: model returned empty content (finish_reason=%s)", ErrGeneration, choice.FinishReason)
	}
	return content, nil
}
