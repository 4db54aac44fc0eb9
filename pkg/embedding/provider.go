// Package embedding 把文本转换为定长向量。
//
// Provider 是对外的唯一接口，Client 在任意 Backend 之上实现分批、限速与重试，
// 具体用哪个 Backend 由配置决定。
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrService 包装所有上游嵌入服务的失败，原始错误保留在链上。
	ErrService = errors.New("embedding service error")
	// ErrDimensionMismatch 表示上游返回的向量维度与约定不一致。
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider 是文档和查询共用的嵌入能力。
type Provider interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	// EmbedQuery 可能使用面向查询的模式，但维度与文档向量相同。
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch 返回结果与输入一一对应，顺序不变。
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Backend 是一次原始的上游调用。
// 可重试的失败（限流、5xx、网络抖动）必须用 retry.Transient 标记，其余视为永久失败。
type Backend interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
