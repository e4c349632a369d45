// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Documents     DocumentsConfig     `mapstructure:"documents"`
	Analyst       AnalystConfig       `mapstructure:"analyst"`
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

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 只用于校验外部签发的 access token。
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储共享文档导入任务使用的 Kafka 配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 为空时使用本地文本提取。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储向量索引相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	Dimensions  int    `mapstructure:"dimensions"`
	BatchSize   int    `mapstructure:"batch_size"`
	Concurrency int    `mapstructure:"concurrency"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 按会话模式配置指令前言，留空使用内置文案。
type LLMPromptConfig struct {
	Knowledge string `mapstructure:"knowledge"`
	Analyst   string `mapstructure:"analyst"`
}

// ChatConfig 控制上下文窗口和检索规模。
type ChatConfig struct {
	HistoryLimit       int `mapstructure:"history_limit"`
	RetrievalTopK      int `mapstructure:"retrieval_top_k"`
	TurnLockTTLSeconds int `mapstructure:"turn_lock_ttl_seconds"`
}

// DocumentsConfig 控制上传校验和共享文档导入目录。
type DocumentsConfig struct {
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	MaxSizeMB         int      `mapstructure:"max_size_mb"`
	SharedDir         string   `mapstructure:"shared_dir"`
	ChunkSize         int      `mapstructure:"chunk_size"`
	ChunkOverlap      int      `mapstructure:"chunk_overlap"`
}

// AnalystConfig 指向模拟器写出的遥测 CSV 目录。
type AnalystConfig struct {
	DataDir string `mapstructure:"data_dir"`
	LastN   int    `mapstructure:"last_n"`
}

// Load 从指定路径读取 YAML 并解析，环境变量 NETSIGHT_* 可覆盖同名配置项。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NETSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// 密钥类配置项需要注册默认值，AutomaticEnv 才能在 Unmarshal 时生效
	for _, key := range []string{"jwt.secret", "database.mysql.dsn", "database.redis.password", "llm.api_key", "embedding.api_key", "minio.secret_access_key"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "shared-documents")
	v.SetDefault("kafka.group_id", "netsight-go-consumer")
	v.SetDefault("elasticsearch.index_name", "knowledge_chunks")
	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.batch_size", 10)
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("chat.history_limit", 12)
	v.SetDefault("chat.retrieval_top_k", 5)
	v.SetDefault("chat.turn_lock_ttl_seconds", 300)
	v.SetDefault("documents.allowed_extensions", []string{".pdf", ".txt", ".md"})
	v.SetDefault("documents.max_size_mb", 10)
	v.SetDefault("documents.shared_dir", "./resources/common")
	v.SetDefault("documents.chunk_size", 1000)
	v.SetDefault("documents.chunk_overlap", 100)
	v.SetDefault("analyst.data_dir", "./data")
	v.SetDefault("analyst.last_n", 100)
}
