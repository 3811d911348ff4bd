// Package config loads the service configuration: a YAML file with
// defaults applied on load, plus environment-variable overrides for
// connection strings and secrets. A .env file, when present, is folded
// into the environment first.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// APIKeys authorize requests; empty disables auth (local development).
	APIKeys    []string `yaml:"api_keys"`
	CORSOrigin string   `yaml:"cors_origin"`
	// RequestsPerSecond caps inbound traffic; <=0 disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// EmbedderConfig configures the OpenAI-compatible embedding provider.
type EmbedderConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	Dimension         int     `yaml:"dimension"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// QdrantConfig contains vector store connection details.
type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
}

// Neo4jConfig contains document catalog connection details.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// NATSConfig contains the ingest transport connection details.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// ChunkerConfig tunes chunk construction.
type ChunkerConfig struct {
	Strategy            string  `yaml:"strategy"`
	MinTokens           int     `yaml:"min_tokens"`
	MaxTokens           int     `yaml:"max_tokens"`
	Percentile          float64 `yaml:"percentile"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	SegmentMode         string  `yaml:"segment_mode"`
}

// RetrievalConfig tunes hybrid retrieval.
type RetrievalConfig struct {
	DenseWeight   float64 `yaml:"dense_weight"`
	SparseWeight  float64 `yaml:"sparse_weight"`
	DenseTopK     int     `yaml:"dense_top_k"`
	SparseTopK    int     `yaml:"sparse_top_k"`
	MaxCandidates int     `yaml:"max_candidates"`
	RerankTopN    int     `yaml:"rerank_top_n"`
	// RerankBaseURL enables the cross-encoder stage when set.
	RerankBaseURL string `yaml:"rerank_base_url"`
	RerankModel   string `yaml:"rerank_model"`
}

// IngestConfig tunes the ingestion consumer.
type IngestConfig struct {
	// ArtifactDir enables chunk-set and embeddings JSON emission when set.
	ArtifactDir string `yaml:"artifact_dir"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
	NATS      NATSConfig      `yaml:"nats"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// Load reads the YAML config at path, folding in .env and environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

// EmbedderTimeout returns the configured provider timeout.
func (c *Config) EmbedderTimeout() time.Duration {
	return time.Duration(c.Embedder.TimeoutSecs) * time.Second
}

// EmbedderAPIKey resolves the provider key from the environment.
func (c *Config) EmbedderAPIKey() string {
	return os.Getenv(c.Embedder.APIKeyEnv)
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080", CORSOrigin: "*"},
		Embedder: EmbedderConfig{
			BaseURL:     "https://api.openai.com",
			APIKeyEnv:   "OPENAI_API_KEY",
			Model:       "text-embedding-3-large",
			Dimension:   3072,
			TimeoutSecs: 30,
		},
		Qdrant:  QdrantConfig{Addr: "localhost:6334", Collection: "chunks"},
		Neo4j:   Neo4jConfig{URI: "bolt://localhost:7687", User: "neo4j"},
		NATS:    NATSConfig{URL: "nats://localhost:4222"},
		Chunker: ChunkerConfig{Strategy: "semantic_percentile"},
		Retrieval: RetrievalConfig{
			DenseWeight:  0.6,
			SparseWeight: 0.4,
		},
	}
}

func applyDefaults(cfg *Config) {
	d := defaults()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Server.CORSOrigin == "" {
		cfg.Server.CORSOrigin = d.Server.CORSOrigin
	}
	if cfg.Embedder.BaseURL == "" {
		cfg.Embedder.BaseURL = d.Embedder.BaseURL
	}
	if cfg.Embedder.APIKeyEnv == "" {
		cfg.Embedder.APIKeyEnv = d.Embedder.APIKeyEnv
	}
	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = d.Embedder.Model
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = d.Embedder.Dimension
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = d.Embedder.TimeoutSecs
	}
	if cfg.Qdrant.Addr == "" {
		cfg.Qdrant.Addr = d.Qdrant.Addr
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = d.Qdrant.Collection
	}
	if cfg.Neo4j.URI == "" {
		cfg.Neo4j.URI = d.Neo4j.URI
	}
	if cfg.Neo4j.User == "" {
		cfg.Neo4j.User = d.Neo4j.User
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = d.NATS.URL
	}
	if cfg.Chunker.Strategy == "" {
		cfg.Chunker.Strategy = d.Chunker.Strategy
	}
	if cfg.Retrieval.DenseWeight == 0 && cfg.Retrieval.SparseWeight == 0 {
		cfg.Retrieval.DenseWeight = d.Retrieval.DenseWeight
		cfg.Retrieval.SparseWeight = d.Retrieval.SparseWeight
	}
}

// applyEnv overlays connection and secret settings from the environment.
func applyEnv(cfg *Config) {
	overlay(&cfg.Server.Addr, "SERVER_ADDR")
	overlay(&cfg.Embedder.BaseURL, "EMBEDDER_BASE_URL")
	overlay(&cfg.Embedder.Model, "EMBEDDER_MODEL")
	overlayInt(&cfg.Embedder.Dimension, "EMBEDDER_DIMENSION")
	overlay(&cfg.Qdrant.Addr, "QDRANT_ADDR")
	overlay(&cfg.Qdrant.Collection, "QDRANT_COLLECTION")
	overlay(&cfg.Neo4j.URI, "NEO4J_URI")
	overlay(&cfg.Neo4j.User, "NEO4J_USER")
	overlay(&cfg.Neo4j.Password, "NEO4J_PASSWORD")
	overlay(&cfg.NATS.URL, "NATS_URL")
	if v := os.Getenv("API_KEYS"); v != "" {
		cfg.Server.APIKeys = splitKeys(v)
	}
}

func overlay(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func overlayInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitKeys(v string) []string {
	var out []string
	for _, k := range strings.Split(v, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
