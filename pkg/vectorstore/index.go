// Package vectorstore 是对外部相似度检索引擎的一层集合抽象。
//
// 所有用户的向量存放在同一个集合里，按 owner_id 在查询时做逻辑隔离。
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnavailable 表示引擎不可用或请求失败。
	ErrUnavailable = errors.New("vector index unavailable")
	// ErrDimension 表示写入或查询的向量维度与集合不一致。
	ErrDimension = errors.New("vector dimension mismatch")
	// ErrEmptyFilter 阻止不带条件的批量删除。
	ErrEmptyFilter = errors.New("delete requires a non-empty filter")
)

// ChunkMetadata 与每个向量一一对应，既用于过滤也用于引用。
type ChunkMetadata struct {
	DocID       string `json:"doc_id"`
	Filename    string `json:"filename"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	OwnerID     string `json:"owner_id"`
	PageNumber  *int   `json:"page_number,omitempty"`
}

// Record 是实际写入引擎的单元。
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata ChunkMetadata
}

// Hit 是一条检索结果，Distance 越小越相似（1 - cosine）。
type Hit struct {
	ID       string
	Text     string
	Metadata ChunkMetadata
	Distance float64
}

// Filter 是字段等值过滤，空字段不参与过滤。
type Filter struct {
	OwnerID string
	DocID   string
}

func (f Filter) IsEmpty() bool { return f.OwnerID == "" && f.DocID == "" }

func (f Filter) Match(m ChunkMetadata) bool {
	if f.OwnerID != "" && m.OwnerID != f.OwnerID {
		return false
	}
	if f.DocID != "" && m.DocID != f.DocID {
		return false
	}
	return true
}

// Index 是检索引擎需要提供的全部能力。
type Index interface {
	// Upsert 按 ID 覆盖写入。
	Upsert(ctx context.Context, records []Record) error
	// Query 返回按相似度排序的至多 k 条结果。
	Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error)
	// DeleteWhere 删除所有满足 filter 的向量。
	DeleteWhere(ctx context.Context, filter Filter) error
	Count(ctx context.Context) (int64, error)
	// Name 返回集合名，用于统计展示。
	Name() string
}

// ChunkID 生成向量 ID，格式固定为 "<docID>_<chunkIndex>"。
func ChunkID(docID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", docID, chunkIndex)
}

// CosineDistance 返回 1 - cos(a, b)，任一向量为零向量时返回 1。
func CosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
