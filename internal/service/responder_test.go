package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"aero-doc-go/internal/model"
	"aero-doc-go/pkg/embedding"
	"aero-doc-go/pkg/llm"
	"aero-doc-go/pkg/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fixedEmbedder 对任意查询返回同一个向量。
type fixedEmbedder struct {
	vector []float32
	err    error
}

func (f fixedEmbedder) EmbedOne(context.Context, string) ([]float32, error) { return f.vector, f.err }

func (f fixedEmbedder) EmbedQuery(context.Context, string) ([]float32, error) { return f.vector, f.err }

func (f fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, f.err
}

func (f fixedEmbedder) Dimensions() int { return len(f.vector) }

// cannedIndex 原样返回预设的结果并记录查询条件。
type cannedIndex struct {
	vectorstore.MemoryIndex
	hits    []vectorstore.Hit
	err     error
	filters []vectorstore.Filter
	ks      []int
}

func (c *cannedIndex) Query(_ context.Context, _ []float32, k int, filter vectorstore.Filter) ([]vectorstore.Hit, error) {
	c.filters = append(c.filters, filter)
	c.ks = append(c.ks, k)
	return c.hits, c.err
}

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, messages []llm.Message) (string, error) {
	args := m.Called(ctx, messages)
	return args.String(0), args.Error(1)
}

func page(n int) *int { return &n }

func hit(docID, filename string, chunk int, pageNo *int, text string) vectorstore.Hit {
	return vectorstore.Hit{
		ID:   vectorstore.ChunkID(docID, chunk),
		Text: text,
		Metadata: vectorstore.ChunkMetadata{
			DocID:      docID,
			Filename:   filename,
			ChunkIndex: chunk,
			OwnerID:    "u1",
			PageNumber: pageNo,
		},
	}
}

func TestRespondBuildsContextAndCitations(t *testing.T) {
	index := &cannedIndex{hits: []vectorstore.Hit{
		hit("d1", "manual.pdf", 0, page(3), "Torque the bolts to 25 Nm."),
		hit("d2", "checklist.pdf", 4, nil, "Inspect the landing gear."),
	}}
	gen := &mockGenerator{}
	var sent []llm.Message
	gen.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(1).([]llm.Message) }).
		Return("Use 25 Nm.", nil).Once()

	r := NewResponder(fixedEmbedder{vector: []float32{1, 0, 0}}, index, gen, ResponderOptions{})
	turn, err := r.Respond(context.Background(), "s1", "u1", "What torque?")
	require.NoError(t, err)

	assert.Equal(t, "Use 25 Nm.", turn.Content)
	assert.False(t, turn.Degraded())
	assert.Equal(t, []model.SourceCitation{
		{DocID: "d1", Filename: "manual.pdf", ChunkIndex: 0, PageNumber: page(3)},
		{DocID: "d2", Filename: "checklist.pdf", ChunkIndex: 4},
	}, turn.Sources.Citations)

	require.Len(t, sent, 2)
	assert.Equal(t, llm.RoleSystem, sent[0].Role)
	assert.Contains(t, sent[0].Content,
		"Source: manual.pdf\nContent: Torque the bolts to 25 Nm.\n\nSource: checklist.pdf\nContent: Inspect the landing gear.")
	assert.Contains(t, sent[0].Content, DefaultFallbackPhrase)
	assert.NotContains(t, sent[0].Content, "{context}")
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "What torque?"}, sent[1])

	assert.Equal(t, []vectorstore.Filter{{OwnerID: "u1"}}, index.filters)
	assert.Equal(t, []int{5}, index.ks)
	gen.AssertExpectations(t)
}

func TestRespondDeduplicatesCitations(t *testing.T) {
	index := &cannedIndex{hits: []vectorstore.Hit{
		hit("d1", "manual.pdf", 2, page(7), "first copy"),
		hit("d1", "manual.pdf", 2, page(7), "second copy"),
		hit("d1", "manual.pdf", 2, nil, "no page"),
	}}
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).Return("ok", nil)

	r := NewResponder(fixedEmbedder{vector: []float32{1}}, index, gen, ResponderOptions{TopK: 3})
	turn, err := r.Respond(context.Background(), "s1", "u1", "q")
	require.NoError(t, err)

	require.Len(t, turn.Sources.Citations, 2)
	assert.Equal(t, page(7), turn.Sources.Citations[0].PageNumber)
	assert.Nil(t, turn.Sources.Citations[1].PageNumber)
	assert.Equal(t, []int{3}, index.ks)
}

// 生成服务超时：返回降级回复，不向上抛出错误。
func TestRespondDegradesOnGenerationTimeout(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything).
		Return("", fmt.Errorf("%w: %w", llm.ErrGeneration, context.DeadlineExceeded))

	r := NewResponder(fixedEmbedder{vector: []float32{1}}, &cannedIndex{}, gen, ResponderOptions{})
	turn, err := r.Respond(context.Background(), "s1", "u1", "q")
	require.NoError(t, err)

	assert.Equal(t, ApologyMessage, turn.Content)
	assert.True(t, turn.Degraded())
	assert.Equal(t, "generation failed: context deadline exceeded", turn.Sources.Err)
	assert.Empty(t, turn.Sources.Citations)
}

func TestRespondDegradesOnEmbeddingAndRetrievalFailures(t *testing.T) {
	gen := &mockGenerator{}

	emb := fixedEmbedder{err: fmt.Errorf("%w: %w", embedding.ErrService, errors.New("503 Service Unavailable"))}
	turn, err := NewResponder(emb, &cannedIndex{}, gen, ResponderOptions{}).Respond(context.Background(), "s1", "u1", "q")
	require.NoError(t, err)
	assert.Equal(t, ApologyMessage, turn.Content)
	assert.Equal(t, "embedding service error: 503 Service Unavailable", turn.Sources.Err)

	index := &cannedIndex{err: fmt.Errorf("%w: query: connection refused", vectorstore.ErrUnavailable)}
	turn, err = NewResponder(fixedEmbedder{vector: []float32{1}}, index, gen, ResponderOptions{}).Respond(context.Background(), "s1", "u1", "q")
	require.NoError(t, err)
	assert.Equal(t, ApologyMessage, turn.Content)
	assert.Contains(t, turn.Sources.Err, "connection refused")

	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestRespondRequiresOwner(t *testing.T) {
	index := &cannedIndex{}
	r := NewResponder(fixedEmbedder{vector: []float32{1}}, index, &mockGenerator{}, ResponderOptions{})

	_, err := r.Respond(context.Background(), "s1", "", "q")
	assert.ErrorIs(t, err, ErrMissingOwner)
	assert.Empty(t, index.filters)
}

// 两个用户上传了内容相同的分块，按 owner 检索时不会看到对方的分块，即使对方的向量更近。
func TestRespondNeverLeaksOtherOwnersChunks(t *testing.T) {
	ctx := context.Background()
	index := vectorstore.NewMemoryIndex("test", 2)
	text := "Hydraulic pressure must stay between 2800 and 3200 psi."
	require.NoError(t, index.Upsert(ctx, []vectorstore.Record{
		{
			ID: vectorstore.ChunkID("doc-a", 0), Vector: []float32{0.9, 0.1}, Text: text,
			Metadata: vectorstore.ChunkMetadata{DocID: "doc-a", Filename: "a.pdf", OwnerID: "owner-1", TotalChunks: 1},
		},
		{
			ID: vectorstore.ChunkID("doc-b", 0), Vector: []float32{1, 0}, Text: text,
			Metadata: vectorstore.ChunkMetadata{DocID: "doc-b", Filename: "b.pdf", OwnerID: "owner-2", TotalChunks: 1},
		},
	}))
	n, err := index.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(msgs []llm.Message) bool {
		return !strings.Contains(msgs[0].Content, "b.pdf")
	})).Return("answer", nil).Once()

	r := NewResponder(fixedEmbedder{vector: []float32{1, 0}}, index, gen, ResponderOptions{TopK: 5})
	turn, err := r.Respond(ctx, "s1", "owner-1", "pressure?")
	require.NoError(t, err)

	require.Len(t, turn.Sources.Citations, 1)
	assert.Equal(t, "doc-a", turn.Sources.Citations[0].DocID)
	gen.AssertExpectations(t)
}

func TestRespondCustomPrompt(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(msgs []llm.Message) bool {
		return msgs[0].Content == "ctx=[] fb=Not in docs."
	})).Return("Not in docs.", nil).Once()

	r := NewResponder(fixedEmbedder{vector: []float32{1}}, &cannedIndex{}, gen, ResponderOptions{
		Rules:          "ctx=[{context}] fb={fallback}",
		FallbackPhrase: "Not in docs.",
	})
	turn, err := r.Respond(context.Background(), "s1", "u1", "q")
	require.NoError(t, err)
	assert.Equal(t, "Not in docs.", turn.Content)
	assert.Empty(t, turn.Sources.Citations)
	gen.AssertExpectations(t)
}

func TestAssembleContextRespectsBudget(t *testing.T) {
	hits := []vectorstore.Hit{
		hit("d1", "a.pdf", 0, nil, strings.Repeat("a", 10)),
		hit("d1", "a.pdf", 1, nil, strings.Repeat("b", 10)),
		hit("d2", "", 0, nil, "c"),
	}

	text, citations := assembleContext(hits, 0)
	assert.Len(t, citations, 3)
	assert.Contains(t, text, "Source: Unknown\nContent: c")

	first := len("Source: a.pdf\nContent: ") + 10
	text, citations = assembleContext(hits, first+5)
	assert.Equal(t, "Source: a.pdf\nContent: aaaaaaaaaa", text)
	require.Len(t, citations, 1)
	assert.Equal(t, 0, citations[0].ChunkIndex)
}

func TestTitleFromMessage(t *testing.T) {
	long := "What is the torque spec for the main landing gear axle nut?"
	assert.Equal(t, "What is the torque spec for th...", TitleFromMessage(long))
	assert.Equal(t, "Hi...", TitleFromMessage("Hi"))
	assert.Equal(t, strings.Repeat("航", 30)+"...", TitleFromMessage(strings.Repeat("航", 40)))
}
