package service

import (
	"context"
	"strings"
	"time"

	"aero-doc-go/internal/config"
	"aero-doc-go/internal/model"
	"aero-doc-go/pkg/embedding"
	"aero-doc-go/pkg/llm"
	"aero-doc-go/pkg/log"
	"aero-doc-go/pkg/metrics"
	"aero-doc-go/pkg/vectorstore"
)

const (
	// ApologyMessage 是生成失败时助手消息的固定内容。
	ApologyMessage = "I encountered an error while processing your request."
	// DefaultFallbackPhrase 是上下文不足以回答时模型应当使用的原话。
	DefaultFallbackPhrase = "I cannot find the answer in the provided documents."

	defaultTopK    = 5
	unknownSource  = "Unknown"
	titlePrefixLen = 30
)

// DefaultPromptRules 是系统提示模板，{context} 和 {fallback} 在每一轮被替换。
const DefaultPromptRules = `You are Aero-Doc AI, an intelligent assistant designed to help users understand their technical documents.
Use the following pieces of retrieved context to answer the user's question.

Guidelines:
1. Base your answer ONLY on the provided context.
2. If the answer is not in the context, say "{fallback}"
3. Cite the source document filenames when possible.
4. Keep answers concise and professional.

Context:
{context}`

// Turn 是一轮问答的助手回复，失败时 Sources 为错误标记。
type Turn struct {
	Content string
	Sources model.Sources
}

// Degraded 报告该回复是否为降级回答。
func (t Turn) Degraded() bool { return t.Sources.IsError() }

// ResponderOptions 汇总 Responder 的可调参数，零值使用默认。
type ResponderOptions struct {
	TopK            int
	MaxContextChars int
	Rules           string
	FallbackPhrase  string
	Timeouts        config.TimeoutConfig
}

// Responder 执行一轮检索增强问答：embed query → 检索 → 组装上下文 → 生成。
type Responder struct {
	embedder  embedding.Provider
	index     vectorstore.Index
	generator llm.Generator
	opts      ResponderOptions
}

// NewResponder 创建 Responder。
func NewResponder(embedder embedding.Provider, index vectorstore.Index, generator llm.Generator, opts ResponderOptions) *Responder {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if strings.TrimSpace(opts.Rules) == "" {
		opts.Rules = DefaultPromptRules
	}
	if opts.FallbackPhrase == "" {
		opts.FallbackPhrase = DefaultFallbackPhrase
	}
	return &Responder{
		embedder:  embedder,
		index:     index,
		generator: generator,
		opts:      opts,
	}
}

// Respond 为 ownerID 的一条消息生成回复。
// 检索和生成阶段的任何失败都会变成降级回复而不是 error；
// 只有缺少 ownerID 这种调用方错误才会返回 error。
func (r *Responder) Respond(ctx context.Context, sessionID, ownerID, message string) (Turn, error) {
	if ownerID == "" {
		return Turn{}, ErrMissingOwner
	}
	start := time.Now()

	turn, err := r.answer(ctx, ownerID, message)
	if err != nil {
		metrics.ChatTurns.WithLabelValues("degraded").Inc()
		log.Errorf("[Responder] 生成回答失败，返回降级回复, session=%s, owner=%s, err=%v", sessionID, ownerID, err)
		return Turn{Content: ApologyMessage, Sources: model.ErrorSources(err.Error())}, nil
	}

	metrics.ChatTurns.WithLabelValues("answered").Inc()
	log.Infof("[Responder] 回答完成, session=%s, sources=%d, elapsed=%s",
		sessionID, len(turn.Sources.Citations), time.Since(start))
	return turn, nil
}

func (r *Responder) answer(ctx context.Context, ownerID, message string) (Turn, error) {
	embedCtx, cancel := withTimeout(ctx, r.opts.Timeouts.Embedding)
	vector, err := r.embedder.EmbedQuery(embedCtx, message)
	cancel()
	if err != nil {
		return Turn{}, err
	}

	queryCtx, cancel := withTimeout(ctx, r.opts.Timeouts.VectorIndex)
	hits, err := r.index.Query(queryCtx, vector, r.opts.TopK, vectorstore.Filter{OwnerID: ownerID})
	cancel()
	if err != nil {
		return Turn{}, err
	}
	log.Debugf("[Responder] 检索完成, owner=%s, hits=%d", ownerID, len(hits))

	contextText, citations := assembleContext(hits, r.opts.MaxContextChars)

	genCtx, cancel := withTimeout(ctx, r.opts.Timeouts.Generation)
	defer cancel()
	answer, err := r.generator.Generate(genCtx, []llm.Message{
		{Role: llm.RoleSystem, Content: r.systemPrompt(contextText)},
		{Role: llm.RoleUser, Content: message},
	})
	if err != nil {
		return Turn{}, err
	}
	return Turn{Content: answer, Sources: model.CitationSources(citations)}, nil
}

func (r *Responder) systemPrompt(contextText string) string {
	return strings.NewReplacer(
		"{context}", contextText,
		"{fallback}", r.opts.FallbackPhrase,
	).Replace(r.opts.Rules)
}

// assembleContext 按检索顺序拼接上下文块并生成去重后的引用列表。
// maxChars > 0 时，放不下的块及其后的块都会被丢弃。
func assembleContext(hits []vectorstore.Hit, maxChars int) (string, []model.SourceCitation) {
	blocks := make([]string, 0, len(hits))
	citations := make([]model.SourceCitation, 0, len(hits))
	used := 0

	for _, h := range hits {
		filename := h.Metadata.Filename
		if filename == "" {
			filename = unknownSource
		}
		block := "Source: " + filename + "\nContent: " + h.Text

		size := len([]rune(block))
		if len(blocks) > 0 {
			size += 2
		}
		if maxChars > 0 && used+size > maxChars {
			break
		}
		used += size
		blocks = append(blocks, block)

		c := model.SourceCitation{
			DocID:      h.Metadata.DocID,
			Filename:   filename,
			ChunkIndex: h.Metadata.ChunkIndex,
			PageNumber: h.Metadata.PageNumber,
		}
		if !containsCitation(citations, c) {
			citations = append(citations, c)
		}
	}
	return strings.Join(blocks, "\n\n"), citations
}

func containsCitation(list []model.SourceCitation, c model.SourceCitation) bool {
	for _, existing := range list {
		if existing.Equal(c) {
			return true
		}
	}
	return false
}

// TitleFromMessage 由首条消息生成会话标题：前 30 个字符加省略号。
func TitleFromMessage(message string) string {
	runes := []rune(message)
	if len(runes) > titlePrefixLen {
		runes = runes[:titlePrefixLen]
	}
	return string(runes) + "..."
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
