package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIBackend 调用 OpenAI 兼容的 /embeddings 接口。
type OpenAIBackend struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewOpenAIBackend 创建 OpenAI 兼容的嵌入后端，baseURL 为空时使用官方地址。
func NewOpenAIBackend(apiKey, baseURL, model string, dimensions int) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIBackend{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dimensions,
	}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(b.model),
	}
	// 只有 text-embedding-3 系列支持自定义维度
	if b.dimensions > 0 && strings.HasPrefix(b.model, "text-embedding-3") {
		req.Dimensions = b.dimensions
	}

	resp, err := b.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classify(err)
	}

	// 服务端不保证 data 的顺序，按 index 归位
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai returned out-of-range embedding index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("openai returned no embedding for input %d", i)
		}
	}
	return out, nil
}
