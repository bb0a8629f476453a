package medgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/medgraph/llm"
	"github.com/brunobiangulo/medgraph/store"
)

// Graph backends.
const (
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

// Config holds all configuration for the medgraph engine. Start from
// DefaultConfig; zero durations disable the corresponding timeout.
type Config struct {
	Graph GraphConfig `json:"graph" yaml:"graph"`

	// LLM providers
	Chat      LLMConfig         `json:"chat" yaml:"chat"`
	Embedding LLMConfig         `json:"embedding" yaml:"embedding"`
	Breaker   llm.BreakerConfig `json:"breaker" yaml:"breaker"`

	// Embedding cache (Redis)
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Projection and chunking
	MaxProjectionRows int `json:"max_projection_rows" yaml:"max_projection_rows"`
	ChunkSize         int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap      int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// Embedding
	EmbedBatchSize   int `json:"embed_batch_size" yaml:"embed_batch_size"`
	EmbedConcurrency int `json:"embed_concurrency" yaml:"embed_concurrency"`

	// Retrieval and answering
	TopK        int     `json:"top_k" yaml:"top_k"`
	MinScore    float64 `json:"min_score" yaml:"min_score"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`

	AskTimeout  time.Duration `json:"ask_timeout" yaml:"ask_timeout"`
	InitTimeout time.Duration `json:"init_timeout" yaml:"init_timeout"`
}

// GraphConfig selects and configures the graph store.
type GraphConfig struct {
	Backend string `json:"backend" yaml:"backend"` // sqlite or neo4j

	// DBPath is the SQLite database file. If empty, defaults to
	// ~/.medgraph/<DBName>.db, or <DBName>.db when StorageDir is "local".
	DBPath     string `json:"db_path" yaml:"db_path"`
	DBName     string `json:"db_name" yaml:"db_name"`
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	Neo4j store.Neo4jConfig `json:"neo4j" yaml:"neo4j"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider   string        `json:"provider" yaml:"provider"` // openai, anthropic, ollama, lmstudio, openrouter, groq, xai, gemini, custom
	Model      string        `json:"model" yaml:"model"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	APIKey     string        `json:"api_key" yaml:"api_key"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
}

func (c LLMConfig) providerConfig() llm.Config {
	return llm.Config{
		Provider:   c.Provider,
		Model:      c.Model,
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		Timeout:    c.Timeout,
		MaxRetries: c.MaxRetries,
	}
}

// CacheConfig configures the Redis embedding cache.
type CacheConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	URL     string        `json:"url" yaml:"url"`
	Prefix  string        `json:"prefix" yaml:"prefix"`
	TTL     time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultConfig returns a Config using OpenAI for chat and embeddings and a
// local SQLite graph.
func DefaultConfig() Config {
	return Config{
		Graph: GraphConfig{
			Backend:    BackendSQLite,
			DBName:     "medgraph",
			StorageDir: "home",
			Neo4j: store.Neo4jConfig{
				URI:  "bolt://localhost:7687",
				User: "neo4j",
			},
		},
		Chat: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Embedding: LLMConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Breaker: llm.DefaultBreakerConfig(),
		Cache: CacheConfig{
			URL:    "redis://localhost:6379",
			Prefix: "medgraph:emb:",
			TTL:    7 * 24 * time.Hour,
		},
		MaxProjectionRows: 1000,
		ChunkSize:         500,
		ChunkOverlap:      50,
		EmbedBatchSize:    32,
		EmbedConcurrency:  4,
		TopK:              5,
		Temperature:       0.1,
		AskTimeout:        60 * time.Second,
		InitTimeout:       10 * time.Minute,
	}
}

// LoadConfig reads a YAML (.yaml, .yml) or JSON file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("%w: parsing %s: %v", ErrConfiguration, path, err)
	}
	return cfg, nil
}

// Validate checks that every provider and the graph backend are usable.
func (c *Config) Validate() error {
	if err := c.validateGraph(); err != nil {
		return err
	}
	if err := c.validateChat(); err != nil {
		return err
	}
	return c.validateEmbedding()
}

func (c *Config) validateGraph() error {
	switch c.Graph.Backend {
	case "", BackendSQLite:
		return nil
	case BackendNeo4j:
		if strings.TrimSpace(c.Graph.Neo4j.URI) == "" {
			return fmt.Errorf("%w: neo4j uri is required", ErrConfiguration)
		}
		if c.Graph.Neo4j.Password == "" {
			return fmt.Errorf("%w: neo4j password is required", ErrConfiguration)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown graph backend %q", ErrConfiguration, c.Graph.Backend)
	}
}

func (c *Config) validateChat() error {
	return validateLLM("chat", c.Chat)
}

func (c *Config) validateEmbedding() error {
	if err := validateLLM("embedding", c.Embedding); err != nil {
		return err
	}
	if !llm.SupportsEmbeddings(c.Embedding.Provider) {
		return fmt.Errorf("%w: provider %q cannot serve embeddings", ErrConfiguration, c.Embedding.Provider)
	}
	return nil
}

func validateLLM(role string, c LLMConfig) error {
	if c.Provider == "" {
		return fmt.Errorf("%w: %s provider not specified", ErrConfiguration, role)
	}
	if llm.RequiresAPIKey(c.Provider) && c.APIKey == "" {
		return fmt.Errorf("%w: %s provider %q requires an API key", ErrConfiguration, role, c.Provider)
	}
	return nil
}

// ResolvedDBPath returns the SQLite database file the config points at.
func (g *GraphConfig) ResolvedDBPath() string {
	if g.DBPath != "" {
		return g.DBPath
	}

	name := g.DBName
	if name == "" {
		name = "medgraph"
	}

	switch g.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".medgraph", name+".db")
	}
}
