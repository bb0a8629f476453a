package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider is the interface for LLM interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Embed generates embeddings for a batch of texts, one vector per text
	// in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider   string        `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, anthropic, custom
	Model      string        `json:"model" yaml:"model"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	APIKey     string        `json:"api_key" yaml:"api_key"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "custom":
		return NewOpenAICompat(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	}
	if v, ok := vendors[cfg.Provider]; ok {
		return newVendor(cfg.Provider, v, cfg), nil
	}
	return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
}

// RequiresAPIKey reports whether a hosted provider needs a credential.
func RequiresAPIKey(provider string) bool {
	if provider == "anthropic" {
		return true
	}
	v, ok := vendors[provider]
	return ok && v.requiresKey
}

// SupportsEmbeddings reports whether a provider can serve Embed.
func SupportsEmbeddings(provider string) bool {
	return provider != "anthropic"
}
