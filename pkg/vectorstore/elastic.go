package vectorstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aero-doc-go/internal/config"
	"aero-doc-go/pkg/log"
	"aero-doc-go/pkg/metrics"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticIndex 基于 Elasticsearch dense_vector（cosine）实现 Index。
type ElasticIndex struct {
	client *elasticsearch.Client
	index  string
	dims   int
}

var _ Index = (*ElasticIndex)(nil)

// esChunk 是存入 Elasticsearch 的文档结构
type esChunk struct {
	ID          string    `json:"id"`
	DocID       string    `json:"doc_id"`
	OwnerID     string    `json:"owner_id"`
	Filename    string    `json:"filename"`
	ChunkIndex  int       `json:"chunk_index"`
	TotalChunks int       `json:"total_chunks"`
	PageNumber  *int      `json:"page_number,omitempty"`
	Text        string    `json:"text"`
	Vector      []float32 `json:"vector,omitempty"`
}

// NewElasticIndex 创建客户端并确保索引存在。
func NewElasticIndex(ctx context.Context, cfg config.ElasticsearchConfig, dims int) (*ElasticIndex, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: strings.Split(cfg.Addresses, ","),
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, err
	}
	idx := &ElasticIndex{client: client, index: cfg.IndexName, dims: dims}
	if err := idx.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (e *ElasticIndex) Name() string { return e.index }

// EnsureIndex 检查索引是否存在，不存在时按向量维度创建 mapping。
func (e *ElasticIndex) EnsureIndex(ctx context.Context) error {
	res, err := e.client.Indices.Exists([]string{e.index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return unavailable("check index", err)
	}
	if res.Body != nil {
		res.Body.Close()
	}
	if res.StatusCode == http.StatusOK {
		log.Infof("[ElasticIndex] 索引 '%s' 已存在", e.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return unavailable("check index", fmt.Errorf("unexpected status %d", res.StatusCode))
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"id":           { "type": "keyword" },
				"doc_id":       { "type": "keyword" },
				"owner_id":     { "type": "keyword" },
				"filename":     { "type": "keyword" },
				"chunk_index":  { "type": "integer" },
				"total_chunks": { "type": "integer" },
				"page_number":  { "type": "integer" },
				"text":         { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, e.dims)

	res, err = e.client.Indices.Create(
		e.index,
		e.client.Indices.Create.WithContext(ctx),
		e.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return unavailable("create index", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return unavailable("create index", fmt.Errorf("elasticsearch returned %s", res.String()))
	}
	log.Infof("[ElasticIndex] 索引 '%s' 创建成功, dims=%d", e.index, e.dims)
	return nil
}

// Upsert 使用 bulk index 按 _id 覆盖写入。
func (e *ElasticIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if len(r.Vector) != e.dims {
			return fmt.Errorf("%w: record %s has %d dimensions, index has %d", ErrDimension, r.ID, len(r.Vector), e.dims)
		}
		action := map[string]any{"index": map[string]any{"_index": e.index, "_id": r.ID}}
		if err := enc.Encode(action); err != nil {
			return err
		}
		if err := enc.Encode(toESChunk(r)); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{Index: e.index, Body: &buf, Refresh: "true"}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return unavailable("bulk upsert", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return unavailable("bulk upsert", fmt.Errorf("elasticsearch returned %s", res.String()))
	}

	var bulk struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulk); err != nil {
		return unavailable("bulk upsert", fmt.Errorf("decode response: %w", err))
	}
	if bulk.Errors {
		for _, item := range bulk.Items {
			for _, op := range item {
				if op.Error != nil {
					return unavailable("bulk upsert", fmt.Errorf("item %s: %s: %s", op.ID, op.Error.Type, op.Error.Reason))
				}
			}
		}
		return unavailable("bulk upsert", fmt.Errorf("bulk response reported errors"))
	}
	return nil
}

// Query 执行 kNN 检索，过滤条件在 knn.filter 中作为前置过滤生效。
func (e *ElasticIndex) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(vector) != e.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimension, len(vector), e.dims)
	}

	knn := map[string]any{
		"field":          "vector",
		"query_vector":   vector,
		"k":              k,
		"num_candidates": max(k*10, 100),
	}
	if terms := termFilters(filter); len(terms) > 0 {
		knn["filter"] = map[string]any{"bool": map[string]any{"filter": terms}}
	}
	body := map[string]any{
		"size":    k,
		"knn":     knn,
		"_source": map[string]any{"excludes": []string{"vector"}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(&buf),
	)
	metrics.VectorQueryLatency.WithLabelValues("elasticsearch").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, unavailable("search", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return nil, unavailable("search", fmt.Errorf("status %s: %s", res.Status(), msg))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source esChunk `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, unavailable("search", fmt.Errorf("decode response: %w", err))
	}

	hits := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, Hit{
			ID:   h.ID,
			Text: h.Source.Text,
			Metadata: ChunkMetadata{
				DocID:       h.Source.DocID,
				Filename:    h.Source.Filename,
				ChunkIndex:  h.Source.ChunkIndex,
				TotalChunks: h.Source.TotalChunks,
				OwnerID:     h.Source.OwnerID,
				PageNumber:  h.Source.PageNumber,
			},
			// cosine 相似度下 _score = (1 + cos) / 2
			Distance: 2 - 2*h.Score,
		})
	}
	return hits, nil
}

func (e *ElasticIndex) DeleteWhere(ctx context.Context, filter Filter) error {
	if filter.IsEmpty() {
		return ErrEmptyFilter
	}
	body := map[string]any{
		"query": map[string]any{"bool": map[string]any{"filter": termFilters(filter)}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	refresh := true
	req := esapi.DeleteByQueryRequest{
		Index:     []string{e.index},
		Body:      &buf,
		Refresh:   &refresh,
		Conflicts: "proceed",
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return unavailable("delete by query", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return unavailable("delete by query", fmt.Errorf("elasticsearch returned %s", res.String()))
	}
	return nil
}

func (e *ElasticIndex) Count(ctx context.Context) (int64, error) {
	res, err := e.client.Count(e.client.Count.WithContext(ctx), e.client.Count.WithIndex(e.index))
	if err != nil {
		return 0, unavailable("count", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, unavailable("count", fmt.Errorf("elasticsearch returned %s", res.String()))
	}
	var parsed struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, unavailable("count", err)
	}
	return parsed.Count, nil
}

func termFilters(f Filter) []map[string]any {
	var terms []map[string]any
	if f.OwnerID != "" {
		terms = append(terms, map[string]any{"term": map[string]any{"owner_id": f.OwnerID}})
	}
	if f.DocID != "" {
		terms = append(terms, map[string]any{"term": map[string]any{"doc_id": f.DocID}})
	}
	return terms
}

func toESChunk(r Record) esChunk {
	return esChunk{
		ID:          r.ID,
		DocID:       r.Metadata.DocID,
		OwnerID:     r.Metadata.OwnerID,
		Filename:    r.Metadata.Filename,
		ChunkIndex:  r.Metadata.ChunkIndex,
		TotalChunks: r.Metadata.TotalChunks,
		PageNumber:  r.Metadata.PageNumber,
		Text:        r.Text,
		Vector:      r.Vector,
	}
}
