package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = 8080
	defaultDimension       = 384
	defaultMaxSentences    = 10
	defaultTopK            = 5
	defaultTimeoutSeconds  = 30
	defaultBatchSize       = 64
	defaultClaimTTLSeconds = 600
	defaultOllamaModel     = "llama3"
)

type Config struct {
	Port             int              `json:"port"`
	JWTSecret        string           `json:"jwt_secret"`
	JWTTTLHours      int              `json:"jwt_ttl_hours"`
	RateLimitSeconds int              `json:"rate_limit_seconds"`
	CORSAllowlist    []string         `json:"cors_allowlist"`
	MaxUploadMB      int64            `json:"max_upload_mb"`
	LogConfig        logger.LogConfig `json:"log_config"`
	Database         DatabaseConfig   `json:"database"`
	FileStore        FileStoreConfig  `json:"file_store"`
	Index            IndexConfig      `json:"index"`
	Chunker          ChunkerConfig    `json:"chunker"`
	Embedding        EmbeddingConfig  `json:"embedding"`
	Generation       GenerationConfig `json:"generation"`
	Retrieval        RetrievalConfig  `json:"retrieval"`
	Extract          ExtractConfig    `json:"extract"`
	Ingest           IngestConfig     `json:"ingest"`
	Jobs             JobsConfig       `json:"jobs"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type IndexConfig struct {
	Dir                 string `json:"dir"`
	Dimension           int    `json:"dimension"`
	RebuildOnCorruption bool   `json:"rebuild_on_corruption"`
}

type ChunkerConfig struct {
	MaxSentences int `json:"max_sentences"`
}

type EmbeddingConfig struct {
	Provider        string      `json:"provider"`
	Model           string      `json:"model"`
	Data            interface{} `json:"data"`
	TimeoutSeconds  int         `json:"timeout_seconds"`
	BatchSize       int         `json:"batch_size"`
	RateLimit       float64     `json:"rate_limit"`
	Burst           int         `json:"burst"`
	CacheSize       int         `json:"cache_size"`
	CacheTTLSeconds int         `json:"cache_ttl_seconds"`
	DBCache         bool        `json:"db_cache"`
}

type GeneratorConfig struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type GenerationConfig struct {
	Generators     []GeneratorConfig `json:"generators"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	HistoryTurns   int               `json:"history_turns"`
}

type RetrievalConfig struct {
	TopK        int     `json:"top_k"`
	MaxDistance float64 `json:"max_distance"`
}

type ExtractConfig struct {
	PdfToText         string `json:"pdftotext"`
	URLTimeoutSeconds int    `json:"url_timeout_seconds"`
	MaxDownloadMB     int64  `json:"max_download_mb"`
}

type IngestConfig struct {
	ClaimTTLSeconds int64 `json:"claim_ttl_seconds"`
}

type JobsConfig struct {
	PendingIngestSpec  string `json:"pending_ingest_spec"`
	PendingIngestBatch int    `json:"pending_ingest_batch"`
	IndexAuditSpec     string `json:"index_audit_spec"`
	CacheCleanupSpec   string `json:"cache_cleanup_spec"`
	CacheMaxAgeDays    int    `json:"cache_max_age_days"`
}

// Load reads a json or yaml config file. Yaml documents are decoded
// through the json tags so both formats share one schema.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		raw, err = yamlToJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return json.Marshal(doc)
}

func (c *Config) normalize() error {
	if c.Database.DSN == "" && c.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if c.Database.DSN == "" && c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.JWTTTLHours == 0 {
		c.JWTTTLHours = 72
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = 50
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.FileStore.Type == "" {
		c.FileStore.Type = "local"
	}
	switch c.FileStore.Type {
	case "local", "s3":
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}
	if c.FileStore.Data == nil && c.FileStore.Type == "local" {
		c.FileStore.Data = map[string]interface{}{"dir": "data/files"}
	}
	if c.Index.Dir == "" {
		c.Index.Dir = "data/index"
	}
	if c.Index.Dimension < 0 {
		return fmt.Errorf("index.dimension must not be negative")
	}
	if c.Index.Dimension == 0 {
		c.Index.Dimension = defaultDimension
	}
	if c.Chunker.MaxSentences <= 0 {
		c.Chunker.MaxSentences = defaultMaxSentences
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "local"
	}
	if c.Embedding.TimeoutSeconds <= 0 {
		c.Embedding.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = defaultBatchSize
	}
	if c.Generation.TimeoutSeconds <= 0 {
		c.Generation.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Generation.HistoryTurns < 0 {
		c.Generation.HistoryTurns = 0
	}
	if len(c.Generation.Generators) == 0 {
		c.Generation.Generators = []GeneratorConfig{{Name: "ollama", Provider: "ollama", Model: defaultOllamaModel}}
	}
	for i, g := range c.Generation.Generators {
		if strings.TrimSpace(g.Provider) == "" {
			return fmt.Errorf("generation.generators[%d].provider is required", i)
		}
		if g.Name == "" {
			c.Generation.Generators[i].Name = g.Provider
		}
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = defaultTopK
	}
	if c.Retrieval.MaxDistance < 0 {
		return fmt.Errorf("retrieval.max_distance must not be negative")
	}
	if c.Extract.PdfToText == "" {
		c.Extract.PdfToText = "pdftotext"
	}
	if c.Extract.URLTimeoutSeconds <= 0 {
		c.Extract.URLTimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Extract.MaxDownloadMB <= 0 {
		c.Extract.MaxDownloadMB = 50
	}
	if c.Ingest.ClaimTTLSeconds <= 0 {
		c.Ingest.ClaimTTLSeconds = defaultClaimTTLSeconds
	}
	if c.Jobs.PendingIngestBatch <= 0 {
		c.Jobs.PendingIngestBatch = 10
	}
	if c.Jobs.CacheMaxAgeDays <= 0 {
		c.Jobs.CacheMaxAgeDays = 30
	}
	return nil
}
