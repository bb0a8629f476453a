package llm

import "context"

// vendor holds the defaults of a hosted or local OpenAI-compatible API.
type vendor struct {
	baseURL     string
	prefix      string
	model       string
	requiresKey bool
}

var vendors = map[string]vendor{
	"openai":     {baseURL: "https://api.openai.com", prefix: "/v1", model: "gpt-4o-mini", requiresKey: true},
	"groq":       {baseURL: "https://api.groq.com/openai", prefix: "/v1", model: "llama-3.3-70b-versatile", requiresKey: true},
	"xai":        {baseURL: "https://api.x.ai", prefix: "/v1", requiresKey: true},
	"openrouter": {baseURL: "https://openrouter.ai/api", prefix: "/v1", requiresKey: true},
	// Gemini's compatibility endpoint has no /v1 segment.
	"gemini":   {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", prefix: "", requiresKey: true},
	"lmstudio": {baseURL: "http://localhost:1234", prefix: "/v1"},
}

// vendorProvider is an OpenAI-compatible provider with vendor defaults
// applied.
type vendorProvider struct {
	name string
	base openAICompatClient
}

func newVendor(name string, v vendor, cfg Config) *vendorProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = v.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = v.model
	}
	return &vendorProvider{name: name, base: newOpenAICompatClientPrefix(cfg, v.prefix)}
}

func (p *vendorProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *vendorProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
