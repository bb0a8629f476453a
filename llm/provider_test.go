package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
	}{
		{"ollama", "*llm.ollamaProvider"},
		{"lmstudio", "*llm.vendorProvider"},
		{"openrouter", "*llm.vendorProvider"},
		{"xai", "*llm.vendorProvider"},
		{"openai", "*llm.vendorProvider"},
		{"anthropic", "*llm.anthropicProvider"},
		{"custom", "*llm.openAICompatProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider, Model: "test-model"})
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			if got := fmt.Sprintf("%T", p); got != tt.wantType {
				t.Errorf("NewProvider(%q) type = %s, want %s", tt.provider, got, tt.wantType)
			}
		})
	}
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(Config{Provider: "doesnotexist"})
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
	if want := "unknown llm provider: doesnotexist"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestNewProviderEmpty(t *testing.T) {
	_, err := NewProvider(Config{})
	if err == nil {
		t.Fatal("expected error for empty provider, got nil")
	}
	if want := "llm provider not specified"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestVendorDefaults(t *testing.T) {
	tests := []struct {
		provider  string
		wantURL   string
		wantModel string
	}{
		{"lmstudio", "http://localhost:1234", ""},
		{"openrouter", "https://openrouter.ai/api", ""},
		{"openai", "https://api.openai.com", "gpt-4o-mini"},
		{"groq", "https://api.groq.com/openai", "llama-3.3-70b-versatile"},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider})
			if err != nil {
				t.Fatal(err)
			}
			vp := p.(*vendorProvider)
			if vp.base.cfg.BaseURL != tt.wantURL {
				t.Errorf("base URL = %q, want %q", vp.base.cfg.BaseURL, tt.wantURL)
			}
			if vp.base.cfg.Model != tt.wantModel {
				t.Errorf("model = %q, want %q", vp.base.cfg.Model, tt.wantModel)
			}
		})
	}
}

func TestExplicitBaseURLPreserved(t *testing.T) {
	p, err := NewProvider(Config{Provider: "openai", BaseURL: "http://proxy:9000", Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	vp := p.(*vendorProvider)
	if vp.base.cfg.BaseURL != "http://proxy:9000" {
		t.Errorf("base URL = %q, want explicit value", vp.base.cfg.BaseURL)
	}
	if vp.base.cfg.Model != "m" {
		t.Errorf("model = %q, want m", vp.base.cfg.Model)
	}
}

func TestGeminiHasNoVersionPrefix(t *testing.T) {
	p, err := NewProvider(Config{Provider: "gemini"})
	if err != nil {
		t.Fatal(err)
	}
	if prefix := p.(*vendorProvider).base.pathPrefix; prefix != "" {
		t.Errorf("gemini path prefix = %q, want empty", prefix)
	}
}

func TestRequiresAPIKey(t *testing.T) {
	for provider, want := range map[string]bool{
		"openai":    true,
		"anthropic": true,
		"groq":      true,
		"ollama":    false,
		"lmstudio":  false,
		"custom":    false,
	} {
		if got := RequiresAPIKey(provider); got != want {
			t.Errorf("RequiresAPIKey(%q) = %v, want %v", provider, got, want)
		}
	}
	if SupportsEmbeddings("anthropic") {
		t.Error("anthropic should not support embeddings")
	}
	if !SupportsEmbeddings("ollama") {
		t.Error("ollama should support embeddings")
	}
}

func newTestClient(url string) openAICompatClient {
	c := newOpenAICompatClient(Config{BaseURL: url, Model: "test-model", APIKey: "secret"})
	c.retryDelay = time.Millisecond
	c.rateDelay = time.Millisecond
	return c
}

func TestChatRequestAndResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Model != "test-model" || len(req.Messages) != 2 || req.Temperature != 0.1 {
			t.Errorf("unexpected request: %+v", req)
		}
		fmt.Fprint(w, `{"model":"test-model","choices":[{"message":{"content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":1,"total_tokens":5}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "hi"},
		},
		Temperature: 0.1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" || resp.TotalTokens != 5 || resp.FinishReason != "stop" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestZeroTemperatureIsSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var raw map[string]any
		_ = json.Unmarshal(body, &raw)
		if _, ok := raw["temperature"]; !ok {
			t.Error("temperature omitted from request")
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}}); err != nil {
		t.Fatal(err)
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	vecs, err := c.embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("embeddings out of order: %v", vecs)
	}
}

func TestEmbedMissingIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for missing embedding")
	}
}

func TestRetryOnServiceUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok" || calls.Load() != 3 {
		t.Errorf("content = %q after %d calls", resp.Content, calls.Load())
	}
}

func TestNoRetryOnBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.chat(context.Background(), ChatRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v, want APIError 400", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"embeddings":[[0.5,0.5],[1,0]]}`)
	}))
	defer srv.Close()

	p := NewOllama(Config{BaseURL: srv.URL, Model: "nomic-embed-text"})
	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || vecs[0][0] != 0.5 {
		t.Errorf("unexpected embeddings: %v", vecs)
	}
}

func TestAnthropicChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if _, ok := body["system"]; !ok {
			t.Error("system prompt not sent")
		}
		if msgs, _ := body["messages"].([]any); len(msgs) != 1 {
			t.Errorf("messages = %v, want one user message", body["messages"])
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[{"type":"text","text":"Metformin treats diabetes."}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":4}}`)
	}))
	defer srv.Close()

	p := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "k", Model: "claude-test"})
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "medical assistant"},
			{Role: RoleUser, Content: "what treats diabetes?"},
		},
		Temperature: 0.1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Metformin treats diabetes." || resp.TotalTokens != 14 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestAnthropicEmbedUnsupported(t *testing.T) {
	p := NewAnthropic(Config{APIKey: "k"})
	if _, err := p.Embed(context.Background(), []string{"x"}); !errors.Is(err, ErrEmbeddingsUnsupported) {
		t.Errorf("err = %v, want ErrEmbeddingsUnsupported", err)
	}
}

func TestAnthropicParamsDefaults(t *testing.T) {
	params := anthropicParams(ChatRequest{Messages: []Message{
		{Role: RoleSystem, Content: "s"},
		{Role: RoleUser, Content: "u"},
		{Role: RoleAssistant, Content: "a"},
	}}, "claude-default")
	if string(params.Model) != "claude-default" {
		t.Errorf("model = %s", params.Model)
	}
	if params.MaxTokens != defaultAnthropicMaxTokens {
		t.Errorf("max tokens = %d", params.MaxTokens)
	}
	if len(params.System) != 1 || len(params.Messages) != 2 {
		t.Errorf("system = %d messages = %d", len(params.System), len(params.Messages))
	}
}

type failingProvider struct {
	calls atomic.Int32
	err   error
}

func (f *failingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &ChatResponse{Content: "ok"}, nil
}

func (f *failingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	return nil, f.err
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	inner := &failingProvider{err: &APIError{StatusCode: http.StatusInternalServerError}}
	cfg := DefaultBreakerConfig()
	cfg.MinRequests = 3
	cfg.FailureThreshold = 0.5
	p := WithBreaker("test", inner, cfg)

	for i := 0; i < 3; i++ {
		if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := p.Chat(context.Background(), ChatRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if inner.calls.Load() != 3 {
		t.Errorf("inner calls = %d, want 3", inner.calls.Load())
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	inner := &failingProvider{err: &APIError{StatusCode: http.StatusBadRequest}}
	cfg := DefaultBreakerConfig()
	cfg.MinRequests = 1
	p := WithBreaker("test", inner, cfg)

	for i := 0; i < 5; i++ {
		_, err := p.Chat(context.Background(), ChatRequest{})
		if errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("breaker opened on client error after %d calls", i)
		}
	}
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	p := WithBreaker("test", &failingProvider{}, DefaultBreakerConfig())
	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil || resp.Content != "ok" {
		t.Fatalf("resp = %+v err = %v", resp, err)
	}
}
