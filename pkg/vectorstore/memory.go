package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryIndex 是进程内的暴力检索实现，用于本地开发与测试。
type MemoryIndex struct {
	mu      sync.RWMutex
	name    string
	dims    int
	records map[string]Record
}

// NewMemoryIndex 创建内存索引，dims 为 0 时以第一次写入的维度为准。
func NewMemoryIndex(name string, dims int) *MemoryIndex {
	return &MemoryIndex{name: name, dims: dims, records: make(map[string]Record)}
}

func (m *MemoryIndex) Name() string { return m.name }

func (m *MemoryIndex) Upsert(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	dims := m.dims
	for _, r := range records {
		if dims == 0 {
			dims = len(r.Vector)
		}
		if len(r.Vector) != dims {
			return fmt.Errorf("%w: record %s has %d dimensions, collection has %d", ErrDimension, r.ID, len(r.Vector), dims)
		}
	}
	m.dims = dims
	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		m.records[r.ID] = r
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dims != 0 && len(vector) != m.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d", ErrDimension, len(vector), m.dims)
	}

	hits := make([]Hit, 0, len(m.records))
	for _, r := range m.records {
		if !filter.Match(r.Metadata) {
			continue
		}
		hits = append(hits, Hit{
			ID:       r.ID,
			Text:     r.Text,
			Metadata: r.Metadata,
			Distance: CosineDistance(vector, r.Vector),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryIndex) DeleteWhere(ctx context.Context, filter Filter) error {
	if filter.IsEmpty() {
		return ErrEmptyFilter
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if filter.Match(r.Metadata) {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *MemoryIndex) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}
