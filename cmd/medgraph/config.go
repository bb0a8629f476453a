package main

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/brunobiangulo/medgraph"
)

// providerKeys maps a provider to the config key holding its vendor API
// key, used when no explicit key is configured.
var providerKeys = map[string]string{
	"openai":     "openai-api-key",
	"anthropic":  "anthropic-api-key",
	"groq":       "groq-api-key",
	"xai":        "xai-api-key",
	"openrouter": "openrouter-api-key",
	"gemini":     "gemini-api-key",
}

// bindEnv maps MEDGRAPH_* variables onto config keys, plus the vendors'
// conventional variables.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("MEDGRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("neo4j-uri", "MEDGRAPH_NEO4J_URI", "NEO4J_URI")
	_ = v.BindEnv("neo4j-user", "MEDGRAPH_NEO4J_USER", "NEO4J_USER")
	_ = v.BindEnv("neo4j-password", "MEDGRAPH_NEO4J_PASSWORD", "NEO4J_PASSWORD")
	_ = v.BindEnv("openai-api-key", "OPENAI_API_KEY")
	_ = v.BindEnv("anthropic-api-key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("groq-api-key", "GROQ_API_KEY")
	_ = v.BindEnv("xai-api-key", "XAI_API_KEY")
	_ = v.BindEnv("openrouter-api-key", "OPENROUTER_API_KEY")
	_ = v.BindEnv("gemini-api-key", "GEMINI_API_KEY")
}

// loadConfig reads the --config file over the defaults and overlays the
// environment. Explicit settings always win over vendor key fallbacks.
func loadConfig(v *viper.Viper) (medgraph.Config, error) {
	cfg := medgraph.DefaultConfig()
	if path := v.GetString("config"); path != "" {
		loaded, err := medgraph.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	set := func(key string, dst *string) {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			*dst = s
		}
	}
	set("db", &cfg.Graph.DBPath)
	set("graph-backend", &cfg.Graph.Backend)
	set("neo4j-uri", &cfg.Graph.Neo4j.URI)
	set("neo4j-user", &cfg.Graph.Neo4j.User)
	set("neo4j-password", &cfg.Graph.Neo4j.Password)

	set("chat-provider", &cfg.Chat.Provider)
	set("chat-model", &cfg.Chat.Model)
	set("chat-base-url", &cfg.Chat.BaseURL)
	set("chat-api-key", &cfg.Chat.APIKey)
	set("embed-provider", &cfg.Embedding.Provider)
	set("embed-model", &cfg.Embedding.Model)
	set("embed-base-url", &cfg.Embedding.BaseURL)
	set("embed-api-key", &cfg.Embedding.APIKey)

	if url := strings.TrimSpace(v.GetString("redis-url")); url != "" {
		cfg.Cache.Enabled = true
		cfg.Cache.URL = url
	}

	if cfg.Chat.APIKey == "" {
		cfg.Chat.APIKey = vendorKey(v, cfg.Chat.Provider)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = vendorKey(v, cfg.Embedding.Provider)
	}
	return cfg, nil
}

func vendorKey(v *viper.Viper, provider string) string {
	key, ok := providerKeys[provider]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetString(key))
}
