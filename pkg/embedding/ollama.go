package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultOllamaURL 是本地 Ollama 的默认地址。
const DefaultOllamaURL = "http://localhost:11434"

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// OllamaBackend 调用 Ollama 的 /api/embed 批量接口。
type OllamaBackend struct {
	client  *http.Client
	baseURL string
	model   string
}

func NewOllamaBackend(baseURL, model string) *OllamaBackend {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaBackend{
		client:  &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
	}
}

func (b *OllamaBackend) Name() string { return "ollama" }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (b *OllamaBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: b.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, classify(fmt.Errorf("call ollama: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classify(&StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))})
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	return out.Embeddings, nil
}
