// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Conf 是全局配置，Init 之后只读。
var Conf Config

// Config 与 configs/config.yaml 的结构一一对应。
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Log         LogConfig         `mapstructure:"log"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Tika        TikaConfig        `mapstructure:"tika"`
	MinIO       MinIOConfig       `mapstructure:"minio"`
	RAG         RAGConfig         `mapstructure:"rag"`
	Timeouts    TimeoutConfig     `mapstructure:"timeouts"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Document    DocumentConfig    `mapstructure:"document"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// RAGConfig 汇总了切分、检索、批量嵌入与重试相关的全部参数。
type RAGConfig struct {
	ChunkSize       int           `mapstructure:"chunk_size"`
	ChunkOverlap    int           `mapstructure:"chunk_overlap"`
	TopK            int           `mapstructure:"top_k"`
	BatchSize       int           `mapstructure:"batch_size"`
	RetryCeiling    int           `mapstructure:"retry_ceiling"`
	BackoffMin      time.Duration `mapstructure:"backoff_min"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	PacingMin       time.Duration `mapstructure:"pacing_min"`
	PacingMax       time.Duration `mapstructure:"pacing_max"`
	MaxContextChars int           `mapstructure:"max_context_chars"`
}

// TimeoutConfig 为每一类外部调用单独设置超时。
type TimeoutConfig struct {
	Embedding   time.Duration `mapstructure:"embedding"`
	VectorIndex time.Duration `mapstructure:"vector_index"`
	Generation  time.Duration `mapstructure:"generation"`
	Parser      time.Duration `mapstructure:"parser"`
	Storage     time.Duration `mapstructure:"storage"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider          string  `mapstructure:"provider"`
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Dimensions        int     `mapstructure:"dimensions"`
	QueryPrefix       string  `mapstructure:"query_prefix"`
	DocumentPrefix    string  `mapstructure:"document_prefix"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// VectorStoreConfig 选择向量库实现。
type VectorStoreConfig struct {
	Provider      string              `mapstructure:"provider"`
	Dimensions    int                 `mapstructure:"dimensions"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Milvus        MilvusConfig        `mapstructure:"milvus"`
}

type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

type MilvusConfig struct {
	Address    string `mapstructure:"address"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示。Rules 中的 {context} 和 {fallback} 会被替换为检索上下文和兜底语。
type LLMPromptConfig struct {
	Rules          string `mapstructure:"rules"`
	FallbackPhrase string `mapstructure:"fallback_phrase"`
}

// DocumentConfig 控制上传校验和解析器选择。
type DocumentConfig struct {
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	MaxUploadSize     int64    `mapstructure:"max_upload_size"`
	Parser            string   `mapstructure:"parser"`
}

// SetDefaults 注册所有默认值，配置文件中缺省的键会回落到这里。
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "document-ingest")
	v.SetDefault("kafka.group_id", "aero-doc-ingest")
	v.SetDefault("minio.bucket_name", "aero-doc")

	v.SetDefault("rag.chunk_size", 1000)
	v.SetDefault("rag.chunk_overlap", 200)
	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.batch_size", 10)
	v.SetDefault("rag.retry_ceiling", 5)
	v.SetDefault("rag.backoff_min", time.Second)
	v.SetDefault("rag.backoff_max", 10*time.Second)
	v.SetDefault("rag.pacing_min", 100*time.Millisecond)
	v.SetDefault("rag.pacing_max", 500*time.Millisecond)
	v.SetDefault("rag.max_context_chars", 0)

	v.SetDefault("timeouts.embedding", 30*time.Second)
	v.SetDefault("timeouts.vector_index", 10*time.Second)
	v.SetDefault("timeouts.generation", 60*time.Second)
	v.SetDefault("timeouts.parser", 60*time.Second)
	v.SetDefault("timeouts.storage", 30*time.Second)

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("vector_store.provider", "elasticsearch")
	v.SetDefault("vector_store.elasticsearch.index_name", "technical_documents")
	v.SetDefault("vector_store.milvus.collection", "technical_documents")
	v.SetDefault("vector_store.milvus.database", "default")

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.generation.temperature", 0.7)
	v.SetDefault("llm.generation.max_tokens", 2048)

	v.SetDefault("document.allowed_extensions", []string{".pdf", ".docx", ".doc"})
	v.SetDefault("document.max_upload_size", 10*1024*1024)
	v.SetDefault("document.parser", "tika")
}

// Load 从指定路径读取 YAML 配置，环境变量 AERODOC_* 可以覆盖同名键。
func Load(configPath string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AERODOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if cfg.VectorStore.Dimensions == 0 {
		cfg.VectorStore.Dimensions = cfg.Embedding.Dimensions
	}
	return cfg, nil
}

// Init 加载配置到 Conf，失败时直接 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Errorf("配置校验失败: %w", err))
	}
	Conf = cfg
}

// Validate 检查 RAG 相关参数的前置条件。
func (c Config) Validate() error {
	r := c.RAG
	var errs []error
	if r.ChunkOverlap < 0 || r.ChunkSize <= r.ChunkOverlap {
		errs = append(errs, fmt.Errorf("rag.chunk_size (%d) must be greater than rag.chunk_overlap (%d) >= 0", r.ChunkSize, r.ChunkOverlap))
	}
	if r.TopK < 1 {
		errs = append(errs, errors.New("rag.top_k must be >= 1"))
	}
	if r.BatchSize < 1 {
		errs = append(errs, errors.New("rag.batch_size must be >= 1"))
	}
	if r.RetryCeiling < 1 {
		errs = append(errs, errors.New("rag.retry_ceiling must be >= 1"))
	}
	if r.BackoffMin <= 0 || r.BackoffMax < r.BackoffMin {
		errs = append(errs, errors.New("rag.backoff_min must be > 0 and <= rag.backoff_max"))
	}
	if r.PacingMin <= 0 || r.PacingMax < r.PacingMin {
		errs = append(errs, errors.New("rag.pacing_min must be > 0 and <= rag.pacing_max"))
	}
	if c.VectorStore.Dimensions <= 0 {
		errs = append(errs, errors.New("vector_store.dimensions must be > 0"))
	}
	if e, v := c.Embedding.Dimensions, c.VectorStore.Dimensions; e > 0 && v > 0 && e != v {
		errs = append(errs, fmt.Errorf("embedding.dimensions (%d) must equal vector_store.dimensions (%d)", e, v))
	}
	return errors.Join(errs...)
}
