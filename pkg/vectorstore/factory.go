package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"aero-doc-go/internal/config"
	"aero-doc-go/pkg/log"
)

// NewFromConfig 按 vector_store.provider 创建索引。
func NewFromConfig(ctx context.Context, cfg config.VectorStoreConfig) (Index, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "elasticsearch":
		log.Infof("[VectorStore] 使用 Elasticsearch, index=%s", cfg.Elasticsearch.IndexName)
		return NewElasticIndex(ctx, cfg.Elasticsearch, cfg.Dimensions)
	case "milvus":
		log.Infof("[VectorStore] 使用 Milvus, collection=%s", cfg.Milvus.Collection)
		return NewMilvusIndex(ctx, cfg.Milvus, cfg.Dimensions)
	case "memory":
		log.Warnf("[VectorStore] 使用内存索引，数据不会持久化")
		return NewMemoryIndex("memory", cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown vector store provider %q", cfg.Provider)
	}
}
