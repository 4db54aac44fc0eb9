package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aero-doc-go/internal/config"
	"aero-doc-go/pkg/log"
	"aero-doc-go/pkg/metrics"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// milvusAPI 是 MilvusIndex 用到的 client.Client 子集。
type milvusAPI interface {
	HasCollection(ctx context.Context, collName string) (bool, error)
	CreateCollection(ctx context.Context, schema *entity.Schema, shardsNum int32, opts ...client.CreateCollectionOption) error
	CreateIndex(ctx context.Context, collName string, fieldName string, idx entity.Index, async bool, opts ...client.IndexOption) error
	LoadCollection(ctx context.Context, collName string, async bool, opts ...client.LoadCollectionOption) error
	Upsert(ctx context.Context, collName string, partitionName string, columns ...entity.Column) (entity.Column, error)
	Delete(ctx context.Context, collName string, partitionName string, expr string) error
	Search(ctx context.Context, collName string, partitions []string, expr string, outputFields []string, vectors []entity.Vector,
		vectorField string, metricType entity.MetricType, topK int, sp entity.SearchParam, opts ...client.SearchQueryOptionFunc) ([]client.SearchResult, error)
	Query(ctx context.Context, collectionName string, partitionNames []string, expr string, outputFields []string,
		opts ...client.SearchQueryOptionFunc) (client.ResultSet, error)
}

const (
	milvusVectorField = "vector"
	// page_number 缺失时写入 -1
	milvusNoPage = -1
)

var milvusOutputFields = []string{"doc_id", "owner_id", "filename", "chunk_index", "total_chunks", "page_number", "text"}

// MilvusIndex 基于 Milvus 的 COSINE 度量实现 Index，所有用户共用一个集合。
type MilvusIndex struct {
	api        milvusAPI
	collection string
	dims       int
}

var _ Index = (*MilvusIndex)(nil)

// NewMilvusIndex 连接 Milvus 并确保集合与索引存在且已加载。
func NewMilvusIndex(ctx context.Context, cfg config.MilvusConfig, dims int) (*MilvusIndex, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, unavailable("connect milvus", err)
	}
	idx := &MilvusIndex{api: c, collection: cfg.Collection, dims: dims}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (m *MilvusIndex) Name() string { return m.collection }

func (m *MilvusIndex) ensureCollection(ctx context.Context) error {
	exists, err := m.api.HasCollection(ctx, m.collection)
	if err != nil {
		return unavailable("check collection", err)
	}
	if !exists {
		varchar := func(name string, maxLen int) *entity.Field {
			return &entity.Field{
				Name:       name,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
			}
		}
		schema := &entity.Schema{
			CollectionName: m.collection,
			Description:    "document chunks",
			Fields: []*entity.Field{
				{
					Name:       "id",
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": "256"},
				},
				varchar("doc_id", 128),
				varchar("owner_id", 128),
				varchar("filename", 512),
				{Name: "chunk_index", DataType: entity.FieldTypeInt64},
				{Name: "total_chunks", DataType: entity.FieldTypeInt64},
				{Name: "page_number", DataType: entity.FieldTypeInt64},
				varchar("text", 65535),
				{
					Name:       milvusVectorField,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(m.dims)},
				},
			},
		}
		if err := m.api.CreateCollection(ctx, schema, entity.DefaultShardNumber, client.WithConsistencyLevel(entity.ClStrong)); err != nil {
			return unavailable("create collection", err)
		}
		index, err := entity.NewIndexHNSW(entity.COSINE, 16, 200)
		if err != nil {
			return err
		}
		if err := m.api.CreateIndex(ctx, m.collection, milvusVectorField, index, false); err != nil {
			return unavailable("create index", err)
		}
		log.Infof("[MilvusIndex] 集合 '%s' 创建成功, dims=%d", m.collection, m.dims)
	}
	if err := m.api.LoadCollection(ctx, m.collection, false); err != nil {
		return unavailable("load collection", err)
	}
	return nil
}

func (m *MilvusIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	n := len(records)
	var (
		ids         = make([]string, n)
		docIDs      = make([]string, n)
		ownerIDs    = make([]string, n)
		filenames   = make([]string, n)
		chunkIdx    = make([]int64, n)
		totalChunks = make([]int64, n)
		pages       = make([]int64, n)
		texts       = make([]string, n)
		vectors     = make([][]float32, n)
	)
	for i, r := range records {
		if len(r.Vector) != m.dims {
			return fmt.Errorf("%w: record %s has %d dimensions, collection has %d", ErrDimension, r.ID, len(r.Vector), m.dims)
		}
		ids[i] = r.ID
		docIDs[i] = r.Metadata.DocID
		ownerIDs[i] = r.Metadata.OwnerID
		filenames[i] = r.Metadata.Filename
		chunkIdx[i] = int64(r.Metadata.ChunkIndex)
		totalChunks[i] = int64(r.Metadata.TotalChunks)
		pages[i] = milvusNoPage
		if r.Metadata.PageNumber != nil {
			pages[i] = int64(*r.Metadata.PageNumber)
		}
		texts[i] = r.Text
		vectors[i] = r.Vector
	}

	_, err := m.api.Upsert(ctx, m.collection, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("doc_id", docIDs),
		entity.NewColumnVarChar("owner_id", ownerIDs),
		entity.NewColumnVarChar("filename", filenames),
		entity.NewColumnInt64("chunk_index", chunkIdx),
		entity.NewColumnInt64("total_chunks", totalChunks),
		entity.NewColumnInt64("page_number", pages),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnFloatVector(milvusVectorField, m.dims, vectors),
	)
	if err != nil {
		return unavailable("upsert", err)
	}
	return nil
}

func (m *MilvusIndex) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(vector) != m.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d", ErrDimension, len(vector), m.dims)
	}
	sp, err := entity.NewIndexHNSWSearchParam(max(k, 64))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results, err := m.api.Search(ctx, m.collection, nil, milvusExpr(filter), milvusOutputFields,
		[]entity.Vector{entity.FloatVector(vector)}, milvusVectorField, entity.COSINE, k, sp)
	metrics.VectorQueryLatency.WithLabelValues("milvus").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, unavailable("search", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	res := results[0]
	if res.Err != nil {
		return nil, unavailable("search", res.Err)
	}

	var ids []string
	if col, ok := res.IDs.(*entity.ColumnVarChar); ok {
		ids = col.Data()
	}
	strs := map[string][]string{}
	ints := map[string][]int64{}
	for _, field := range res.Fields {
		switch col := field.(type) {
		case *entity.ColumnVarChar:
			strs[col.Name()] = col.Data()
		case *entity.ColumnInt64:
			ints[col.Name()] = col.Data()
		}
	}

	hits := make([]Hit, 0, res.ResultCount)
	for i := 0; i < res.ResultCount; i++ {
		meta := ChunkMetadata{
			DocID:       at(strs["doc_id"], i),
			OwnerID:     at(strs["owner_id"], i),
			Filename:    at(strs["filename"], i),
			ChunkIndex:  int(at(ints["chunk_index"], i)),
			TotalChunks: int(at(ints["total_chunks"], i)),
		}
		if p := at(ints["page_number"], i); p != milvusNoPage && len(ints["page_number"]) > i {
			page := int(p)
			meta.PageNumber = &page
		}
		var score float32
		if i < len(res.Scores) {
			score = res.Scores[i]
		}
		hits = append(hits, Hit{
			ID:       at(ids, i),
			Text:     at(strs["text"], i),
			Metadata: meta,
			// COSINE 度量返回的是相似度
			Distance: 1 - float64(score),
		})
	}
	return hits, nil
}

func (m *MilvusIndex) DeleteWhere(ctx context.Context, filter Filter) error {
	if filter.IsEmpty() {
		return ErrEmptyFilter
	}
	if err := m.api.Delete(ctx, m.collection, "", milvusExpr(filter)); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

func (m *MilvusIndex) Count(ctx context.Context) (int64, error) {
	rs, err := m.api.Query(ctx, m.collection, nil, "", []string{"count(*)"})
	if err != nil {
		return 0, unavailable("count", err)
	}
	col, ok := rs.GetColumn("count(*)").(*entity.ColumnInt64)
	if !ok || len(col.Data()) == 0 {
		return 0, unavailable("count", fmt.Errorf("unexpected count(*) result"))
	}
	return col.Data()[0], nil
}

// milvusExpr 把 Filter 转成布尔表达式，字符串用双引号转义。
func milvusExpr(f Filter) string {
	var parts []string
	if f.OwnerID != "" {
		parts = append(parts, "owner_id == "+strconv.Quote(f.OwnerID))
	}
	if f.DocID != "" {
		parts = append(parts, "doc_id == "+strconv.Quote(f.DocID))
	}
	return strings.Join(parts, " && ")
}

func at[T any](s []T, i int) T {
	var zero T
	if i < len(s) {
		return s[i]
	}
	return zero
}
