// Package metrics 定义服务暴露的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EmbeddingRequests 按 provider 与结果统计每一次上游嵌入调用（含重试）。
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerodoc_embedding_requests_total",
			Help: "Upstream embedding calls by provider and result.",
		},
		[]string{"provider", "result"}, // result: ok, transient, permanent
	)

	EmbeddingRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerodoc_embedding_retries_total",
			Help: "Embedding calls retried after a transient failure.",
		},
		[]string{"provider"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aerodoc_embedding_duration_seconds",
			Help:    "Latency of a single upstream embedding call.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	IngestOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerodoc_ingest_outcomes_total",
			Help: "Document ingestion terminal states.",
		},
		[]string{"outcome"}, // processed, failed
	)

	IngestedChunks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aerodoc_ingested_chunks_total",
			Help: "Chunks written to the vector index.",
		},
	)

	ChatTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aerodoc_chat_turns_total",
			Help: "Chat turns by terminal state.",
		},
		[]string{"outcome"}, // answered, degraded
	)

	VectorQueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aerodoc_vector_query_duration_seconds",
			Help:    "Latency of vector index queries.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine"},
	)

	HTTPRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aerodoc_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
