// Package pipeline 定义了文档入库的核心流程。
package pipeline

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"aero-doc-go/pkg/chunker"
	"aero-doc-go/pkg/embedding"
	"aero-doc-go/pkg/log"
	"aero-doc-go/pkg/metrics"
	"aero-doc-go/pkg/vectorstore"
)

const (
	msgNoText   = "no text extracted"
	msgNoChunks = "no chunks created"
)

// Outcome 是一次入库的终态：Processed(n) 或 Failed(message)。
type Outcome struct {
	Processed  bool
	ChunkCount int
	Message    string
}

func Processed(n int) Outcome { return Outcome{Processed: true, ChunkCount: n} }

func Failed(msg string) Outcome { return Outcome{Message: msg} }

func (o Outcome) String() string {
	if o.Processed {
		return "Processed(" + strconv.Itoa(o.ChunkCount) + ")"
	}
	return "Failed(" + strconv.Quote(o.Message) + ")"
}

// Document 标识被入库的文档。
type Document struct {
	ID       string
	OwnerID  string
	Filename string
}

// Ingestor 执行 chunk → embed → upsert。
type Ingestor struct {
	splitter     *chunker.Splitter
	embedder     embedding.Provider
	index        vectorstore.Index
	indexTimeout time.Duration
}

// NewIngestor 创建 Ingestor；indexTimeout 为每次写向量库的超时，0 表示不限。
func NewIngestor(splitter *chunker.Splitter, embedder embedding.Provider, index vectorstore.Index, indexTimeout time.Duration) *Ingestor {
	return &Ingestor{
		splitter:     splitter,
		embedder:     embedder,
		index:        index,
		indexTimeout: indexTimeout,
	}
}

// Ingest 处理一篇文档的文本。任何失败都以 Failed 返回，不会回滚已写入的向量；
// 以相同 doc.ID 重新入库会按 id 覆盖。
func (i *Ingestor) Ingest(ctx context.Context, doc Document, text string) Outcome {
	outcome := i.ingest(ctx, doc, text)
	if outcome.Processed {
		metrics.IngestOutcomes.WithLabelValues("processed").Inc()
		metrics.IngestedChunks.Add(float64(outcome.ChunkCount))
		log.Infof("[Ingestor] 文档入库完成, doc=%s, chunks=%d", doc.ID, outcome.ChunkCount)
	} else {
		metrics.IngestOutcomes.WithLabelValues("failed").Inc()
		log.Warnf("[Ingestor] 文档入库失败, doc=%s, reason=%s", doc.ID, outcome.Message)
	}
	return outcome
}

func (i *Ingestor) ingest(ctx context.Context, doc Document, text string) Outcome {
	if strings.TrimSpace(text) == "" {
		return Failed(msgNoText)
	}

	chunks := i.splitter.Split(text)
	if len(chunks) == 0 {
		return Failed(msgNoChunks)
	}
	log.Infof("[Ingestor] 文本分块完成, doc=%s, chunkSize=%d, overlap=%d, chunks=%d",
		doc.ID, i.splitter.ChunkSize(), i.splitter.Overlap(), len(chunks))

	vectors, err := i.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return Failed(err.Error())
	}

	pages := pagesOf(text, chunks)
	records := make([]vectorstore.Record, len(chunks))
	for idx, chunk := range chunks {
		records[idx] = vectorstore.Record{
			ID:     vectorstore.ChunkID(doc.ID, idx),
			Vector: vectors[idx],
			Text:   chunk,
			Metadata: vectorstore.ChunkMetadata{
				DocID:       doc.ID,
				Filename:    doc.Filename,
				ChunkIndex:  idx,
				TotalChunks: len(chunks),
				OwnerID:     doc.OwnerID,
				PageNumber:  pages[idx],
			},
		}
	}

	upsertCtx, cancel := withTimeout(ctx, i.indexTimeout)
	defer cancel()
	if err := i.index.Upsert(upsertCtx, records); err != nil {
		return Failed(err.Error())
	}
	return Processed(len(chunks))
}

var pageMarker = regexp.MustCompile(`--- Page (\d+) ---`)

// pagesOf 根据解析器插入的分页标记推断每个分块所在的页，文本中没有标记时全部为 nil。
func pagesOf(text string, chunks []string) []*int {
	pages := make([]*int, len(chunks))
	markers := pageMarker.FindAllStringSubmatchIndex(text, -1)
	if len(markers) == 0 {
		return pages
	}

	pos := 0
	for idx, chunk := range chunks {
		start := strings.Index(text[pos:], chunk)
		if start < 0 {
			continue
		}
		start += pos
		// 下一个分块与本块重叠，只能从本块起点之后开始找
		pos = start + 1

		page := 0
		for _, m := range markers {
			if m[0] > start {
				break
			}
			page, _ = strconv.Atoi(text[m[2]:m[3]])
		}
		if page == 0 {
			// 分块位于第一个标记之前，归到第一页
			page, _ = strconv.Atoi(text[markers[0][2]:markers[0][3]])
		}
		pages[idx] = &page
	}
	return pages
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
