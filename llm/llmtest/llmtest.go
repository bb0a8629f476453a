// Package llmtest provides deterministic in-process llm.Provider
// implementations for tests.
package llmtest

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/brunobiangulo/medgraph/llm"
)

// DefaultDim is the vector size produced by Provider.Embed.
const DefaultDim = 64

// Provider embeds text as a hashed bag of words, so texts sharing words are
// close, and answers chat requests with a fixed reply. It records every
// call.
type Provider struct {
	Dim      int
	Reply    string
	ChatErr  error
	EmbedErr error

	mu         sync.Mutex
	chatCalls  []llm.ChatRequest
	embedCalls [][]string
}

// New returns a Provider that replies with reply.
func New(reply string) *Provider {
	return &Provider{Dim: DefaultDim, Reply: reply}
}

func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.chatCalls = append(p.chatCalls, req)
	p.mu.Unlock()
	if p.ChatErr != nil {
		return nil, p.ChatErr
	}
	return &llm.ChatResponse{
		Content:          p.Reply,
		Model:            "llmtest",
		FinishReason:     "stop",
		PromptTokens:     10,
		CompletionTokens: 5,
		TotalTokens:      15,
	}, nil
}

func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.embedCalls = append(p.embedCalls, append([]string(nil), texts...))
	p.mu.Unlock()
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t, p.dim())
	}
	return out, nil
}

func (p *Provider) dim() int {
	if p.Dim <= 0 {
		return DefaultDim
	}
	return p.Dim
}

// ChatCalls returns the chat requests received so far.
func (p *Provider) ChatCalls() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.ChatRequest(nil), p.chatCalls...)
}

// EmbedCalls returns the batches passed to Embed so far.
func (p *Provider) EmbedCalls() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]string(nil), p.embedCalls...)
}

// Calls returns the total number of provider calls.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chatCalls) + len(p.embedCalls)
}

// Vector hashes the lowercased words of text into a dim-sized count vector.
func Vector(text string, dim int) []float32 {
	v := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(dim)]++
	}
	if len(words) == 0 {
		v[0] = 1
	}
	return v
}

// ErrUnavailable is a convenient provider failure for tests.
var ErrUnavailable = errors.New("llmtest: provider unavailable")
