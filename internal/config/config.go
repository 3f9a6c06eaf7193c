package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendFlat     = "flat"
	BackendChromem  = "chromem"
	BackendPostgres = "postgres"

	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// LLMConfig configures a model endpoint, used for both embeddings and generation.
// Key is resolved from the APIKeyEnv environment variable when empty.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Key         string  `yaml:"key,omitempty"`
	Temperature float64 `yaml:"temperature"`
	BatchSize   int     `yaml:"batch_size"`
}

// RAGConfig holds chunking, retrieval and gating parameters
type RAGConfig struct {
	ChunkSize       int     `yaml:"chunk_size"`
	ChunkOverlap    int     `yaml:"chunk_overlap"`
	TopK            int     `yaml:"top_k"`
	MMRLambda       float64 `yaml:"mmr_lambda"`
	Oversample      int     `yaml:"oversample"`
	MinScore        float64 `yaml:"min_score"`
	MaxContextChars int     `yaml:"max_context_chars"`
}

// StoreConfig selects where the vector store lives
type StoreConfig struct {
	Backend       string `yaml:"backend"`
	ChromemPath   string `yaml:"chromem_path"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Driver   string `yaml:"driver"`
	Debug    bool   `yaml:"debug"`
}

// CacheConfig configures the Redis query-embedding cache. An empty Addr disables it.
type CacheConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Config struct {
	CompanyID string         `yaml:"company_id"`
	DataDir   string         `yaml:"data_dir"`
	Log       LogConfig      `yaml:"log"`
	Embed     LLMConfig      `yaml:"embed"`
	LLM       LLMConfig      `yaml:"llm"`
	RAG       RAGConfig      `yaml:"rag"`
	Store     StoreConfig    `yaml:"store"`
	Database  DatabaseConfig `yaml:"database"`
	Cache     CacheConfig    `yaml:"cache"`
	Server    ServerConfig   `yaml:"server"`
}

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
// Keys absent from the file keep their defaults, so an explicit zero is honoured.
// COMPANY_ID and DATA_DIR in the environment override the file.
func LoadConfig(path string) (*Config, error) {
	cfg := seed()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is present
func Default() *Config {
	cfg := seed()
	applyDefaults(&cfg)
	return &cfg
}

// seed holds the numeric defaults, set before decoding so that zero stays a valid value
func seed() Config {
	return Config{
		Embed: LLMConfig{BatchSize: 32},
		LLM:   LLMConfig{Temperature: 0.2},
		RAG: RAGConfig{
			ChunkSize:       1200,
			ChunkOverlap:    200,
			TopK:            8,
			MMRLambda:       0.6,
			Oversample:      4,
			MinScore:        0.30,
			MaxContextChars: 12000,
		},
		Cache: CacheConfig{TTL: 24 * time.Hour},
	}
}

// StoreDir is the on-disk location of the company's flat store
func (c *Config) StoreDir() string {
	return filepath.Join(c.DataDir, "processed", c.CompanyID)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("COMPANY_ID"); v != "" {
		cfg.CompanyID = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.CompanyID == "" {
		cfg.CompanyID = "default"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Embed.Provider == "" {
		cfg.Embed.Provider = ProviderOpenAI
	}
	if cfg.Embed.Model == "" {
		cfg.Embed.Model = "BAAI/bge-large-en-v1.5"
	}
	if cfg.Embed.BaseURL == "" && cfg.Embed.Provider == ProviderOpenAI {
		cfg.Embed.BaseURL = "http://localhost:8080/v1"
	}
	if cfg.Embed.APIKeyEnv == "" {
		cfg.Embed.APIKeyEnv = "EMBED_API_KEY"
	}
	if cfg.Embed.BatchSize <= 0 {
		cfg.Embed.BatchSize = 32
	}
	resolveKey(&cfg.Embed)

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = ProviderOpenAI
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "llama-3.3-70b-versatile"
	}
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == ProviderOpenAI {
		cfg.LLM.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "GROQ_API_KEY"
	}
	if cfg.LLM.Temperature < 0 {
		cfg.LLM.Temperature = 0
	}
	resolveKey(&cfg.LLM)

	// values that cannot work fall back to the defaults
	if cfg.RAG.ChunkSize <= 0 {
		cfg.RAG.ChunkSize = 1200
	}
	if cfg.RAG.ChunkOverlap < 0 {
		cfg.RAG.ChunkOverlap = 0
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = 8
	}
	cfg.RAG.MMRLambda = min(max(cfg.RAG.MMRLambda, 0), 1)
	if cfg.RAG.Oversample <= 0 {
		cfg.RAG.Oversample = 4
	}
	if cfg.RAG.MaxContextChars <= 0 {
		cfg.RAG.MaxContextChars = 12000
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendFlat
	}
	if cfg.Store.ChromemPath == "" {
		cfg.Store.ChromemPath = filepath.Join(cfg.DataDir, "chromemdb")
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
}

func resolveKey(c *LLMConfig) {
	if c.Key == "" && c.APIKeyEnv != "" {
		c.Key = os.Getenv(c.APIKeyEnv)
	}
	c.Key = strings.TrimPrefix(c.Key, "Bearer ")
}
