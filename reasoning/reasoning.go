// Package reasoning turns retrieved context into a grounded answer.
package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/medgraph/chunker"
	"github.com/brunobiangulo/medgraph/index"
	"github.com/brunobiangulo/medgraph/llm"
)

// DefaultTemperature keeps answers close to the supplied context.
const DefaultTemperature = 0.1

// Config holds answer generation configuration.
type Config struct {
	Model       string
	Temperature *float64 // nil means DefaultTemperature
	MaxTokens   int
}

// Answer is the generated answer with the context it was grounded on.
type Answer struct {
	Text             string   `json:"text"`
	Sources          []Source `json:"sources"`
	ModelUsed        string   `json:"model_used"`
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	ElapsedMs        int64    `json:"elapsed_ms"`
}

// Source is a chunk used to build the prompt.
type Source struct {
	Content  string           `json:"content"`
	Metadata chunker.Metadata `json:"metadata"`
	Score    float64          `json:"score"`
}

// Engine generates answers with a chat provider.
type Engine struct {
	chat llm.Provider
	cfg  Config
}

// New creates a new reasoning engine.
func New(chat llm.Provider, cfg Config) *Engine {
	if cfg.Temperature == nil {
		t := DefaultTemperature
		cfg.Temperature = &t
	}
	return &Engine{chat: chat, cfg: cfg}
}

// Reason answers question from hits with a single chat call.
func (e *Engine) Reason(ctx context.Context, question string, hits []index.Hit) (*Answer, error) {
	sources := make([]Source, len(hits))
	contents := make([]string, len(hits))
	for i, h := range hits {
		sources[i] = Source{Content: h.Chunk.Content, Metadata: h.Chunk.Metadata, Score: h.Score}
		contents[i] = h.Chunk.Content
	}

	start := time.Now()
	resp, err := e.chat.Chat(ctx, llm.ChatRequest{
		Model:       e.cfg.Model,
		Messages:    BuildMessages(question, contents),
		Temperature: *e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	elapsed := time.Since(start)
	slog.Info("reasoning: answer generated",
		"sources", len(hits), "tokens", resp.TotalTokens, "elapsed", elapsed.Round(time.Millisecond))

	return &Answer{
		Text:             strings.TrimSpace(resp.Content),
		Sources:          sources,
		ModelUsed:        resp.Model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
		ElapsedMs:        elapsed.Milliseconds(),
	}, nil
}

const systemPrompt = `You are a helpful medical information assistant. Use the following medical knowledge to answer the question.

IMPORTANT DISCLAIMERS:
- This information is for educational purposes only
- Always consult healthcare professionals for medical advice
- Do not use this for self-diagnosis or treatment decisions`

// BuildMessages returns the system and user messages for a question over
// the given context texts.
func BuildMessages(question string, contexts []string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: buildAnswerPrompt(question, buildContext(contexts))},
	}
}

func buildContext(contexts []string) string {
	return strings.Join(contexts, "\n\n")
}

func buildAnswerPrompt(question, context string) string {
	return fmt.Sprintf(`Medical Knowledge Context:
%s

Question: %s

Answer: Provide a clear, accurate answer based on the medical knowledge provided. If the information is incomplete or you're unsure, state that clearly and recommend consulting a healthcare professional.`, context, question)
}
