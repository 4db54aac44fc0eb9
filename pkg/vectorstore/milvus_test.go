package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMilvus struct {
	exists     bool
	created    *entity.Schema
	indexed    bool
	loaded     bool
	upserted   []entity.Column
	deleteExpr string
	searchExpr string
	searchTopK int
	result     client.SearchResult
	searchErr  error
	count      int64
}

func (f *fakeMilvus) HasCollection(_ context.Context, _ string) (bool, error) { return f.exists, nil }

func (f *fakeMilvus) CreateCollection(_ context.Context, schema *entity.Schema, _ int32, _ ...client.CreateCollectionOption) error {
	f.created = schema
	f.exists = true
	return nil
}

func (f *fakeMilvus) CreateIndex(_ context.Context, _ string, _ string, _ entity.Index, _ bool, _ ...client.IndexOption) error {
	f.indexed = true
	return nil
}

func (f *fakeMilvus) LoadCollection(_ context.Context, _ string, _ bool, _ ...client.LoadCollectionOption) error {
	f.loaded = true
	return nil
}

func (f *fakeMilvus) Upsert(_ context.Context, _ string, _ string, columns ...entity.Column) (entity.Column, error) {
	f.upserted = columns
	return nil, nil
}

func (f *fakeMilvus) Delete(_ context.Context, _ string, _ string, expr string) error {
	f.deleteExpr = expr
	return nil
}

func (f *fakeMilvus) Search(_ context.Context, _ string, _ []string, expr string, _ []string, _ []entity.Vector,
	_ string, _ entity.MetricType, topK int, _ entity.SearchParam, _ ...client.SearchQueryOptionFunc) ([]client.SearchResult, error) {
	f.searchExpr = expr
	f.searchTopK = topK
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return []client.SearchResult{f.result}, nil
}

func (f *fakeMilvus) Query(_ context.Context, _ string, _ []string, _ string, _ []string, _ ...client.SearchQueryOptionFunc) (client.ResultSet, error) {
	return client.ResultSet{entity.NewColumnInt64("count(*)", []int64{f.count})}, nil
}

func newTestMilvus(t *testing.T, fake *fakeMilvus) *MilvusIndex {
	t.Helper()
	idx := &MilvusIndex{api: fake, collection: "chunks", dims: 2}
	require.NoError(t, idx.ensureCollection(context.Background()))
	return idx
}

func TestMilvusCreatesCollectionOnce(t *testing.T) {
	fake := &fakeMilvus{}
	newTestMilvus(t, fake)
	require.NotNil(t, fake.created)
	assert.True(t, fake.indexed)
	assert.True(t, fake.loaded)
	assert.Equal(t, "chunks", fake.created.CollectionName)

	existing := &fakeMilvus{exists: true}
	newTestMilvus(t, existing)
	assert.Nil(t, existing.created)
	assert.True(t, existing.loaded)
}

func TestMilvusUpsertColumns(t *testing.T) {
	fake := &fakeMilvus{exists: true}
	idx := newTestMilvus(t, fake)
	page := 4

	err := idx.Upsert(context.Background(), []Record{
		{ID: "d1_0", Vector: []float32{1, 0}, Text: "alpha", Metadata: ChunkMetadata{DocID: "d1", OwnerID: "u1", Filename: "a.pdf", TotalChunks: 2}},
		{ID: "d1_1", Vector: []float32{0, 1}, Text: "beta", Metadata: ChunkMetadata{DocID: "d1", OwnerID: "u1", Filename: "a.pdf", ChunkIndex: 1, TotalChunks: 2, PageNumber: &page}},
	})
	require.NoError(t, err)

	cols := map[string]entity.Column{}
	for _, c := range fake.upserted {
		cols[c.Name()] = c
	}
	assert.Equal(t, []string{"d1_0", "d1_1"}, cols["id"].(*entity.ColumnVarChar).Data())
	assert.Equal(t, []int64{milvusNoPage, 4}, cols["page_number"].(*entity.ColumnInt64).Data())
	assert.Equal(t, 2, cols["vector"].Len())

	err = idx.Upsert(context.Background(), []Record{{ID: "bad", Vector: []float32{1, 2, 3}}})
	assert.ErrorIs(t, err, ErrDimension)
}

func TestMilvusQueryMapsHits(t *testing.T) {
	fake := &fakeMilvus{exists: true}
	fake.result = client.SearchResult{
		ResultCount: 2,
		IDs:         entity.NewColumnVarChar("id", []string{"d1_0", "d1_1"}),
		Scores:      []float32{0.9, 0.25},
		Fields: client.ResultSet{
			entity.NewColumnVarChar("doc_id", []string{"d1", "d1"}),
			entity.NewColumnVarChar("owner_id", []string{"u1", "u1"}),
			entity.NewColumnVarChar("filename", []string{"a.pdf", "a.pdf"}),
			entity.NewColumnInt64("chunk_index", []int64{0, 1}),
			entity.NewColumnInt64("total_chunks", []int64{2, 2}),
			entity.NewColumnInt64("page_number", []int64{milvusNoPage, 7}),
			entity.NewColumnVarChar("text", []string{"alpha", "beta"}),
		},
	}
	idx := newTestMilvus(t, fake)

	hits, err := idx.Query(context.Background(), []float32{1, 0}, 5, Filter{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, `owner_id == "u1"`, fake.searchExpr)
	assert.Equal(t, 5, fake.searchTopK)

	require.Len(t, hits, 2)
	assert.Equal(t, "d1_0", hits[0].ID)
	assert.InDelta(t, 0.1, hits[0].Distance, 1e-6)
	assert.Nil(t, hits[0].Metadata.PageNumber)
	assert.Equal(t, "beta", hits[1].Text)
	require.NotNil(t, hits[1].Metadata.PageNumber)
	assert.Equal(t, 7, *hits[1].Metadata.PageNumber)
	assert.Equal(t, 1, hits[1].Metadata.ChunkIndex)
}

func TestMilvusQueryError(t *testing.T) {
	fake := &fakeMilvus{exists: true, searchErr: errors.New("rpc unavailable")}
	idx := newTestMilvus(t, fake)
	_, err := idx.Query(context.Background(), []float32{1, 0}, 5, Filter{OwnerID: "u1"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMilvusDeleteAndCount(t *testing.T) {
	fake := &fakeMilvus{exists: true, count: 12}
	idx := newTestMilvus(t, fake)
	ctx := context.Background()

	assert.ErrorIs(t, idx.DeleteWhere(ctx, Filter{}), ErrEmptyFilter)
	require.NoError(t, idx.DeleteWhere(ctx, Filter{OwnerID: "u1", DocID: `we"ird`}))
	assert.Equal(t, `owner_id == "u1" && doc_id == "we\"ird"`, fake.deleteExpr)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 12, n)
}
