package openvocab

import (
	"fmt"
	"os"
	"strings"
)

// ProviderConfig holds model provider configuration.
type ProviderConfig struct {
	Provider string // "google", "openrouter"
	Model    string // e.g. "gemini-2.5-flash", "openai/gpt-4o-mini"
	APIKey   string // empty = read from env
	BaseURL  string // optional URL override
}

// NewAdapter creates a model adapter from the given config.
func NewAdapter(cfg ProviderConfig) (Adapter, error) {
	switch strings.ToLower(cfg.Provider) {
	case "google":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			key = os.Getenv("GOOGLE_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("google provider requires GEMINI_API_KEY or GOOGLE_API_KEY env var")
		}
		model := cfg.Model
		if model == "" {
			model = "gemini-2.5-flash"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://generativelanguage.googleapis.com/v1beta"
		}
		return NewModelAdapter(&googleProvider{
			apiKey:  key,
			model:   model,
			baseURL: baseURL,
		}), nil

	case "openrouter":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENROUTER_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openrouter provider requires OPENROUTER_API_KEY env var")
		}
		model := cfg.Model
		if model == "" {
			model = "openai/gpt-4o-mini"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		return NewModelAdapter(&openrouterProvider{
			apiKey:  key,
			model:   model,
			baseURL: baseURL,
		}), nil

	case "mock":
		return NewMockAdapter(), nil

	default:
		return nil, fmt.Errorf("unknown model provider: %q (supported: google, openrouter, mock)", cfg.Provider)
	}
}

// ParseModelFlag parses a --llm flag value into a ProviderConfig.
// Format: "provider/model", e.g. "google/gemini-2.5-flash" or
// "openrouter/openai/gpt-4o-mini".
func ParseModelFlag(flag string) (ProviderConfig, error) {
	if flag == "" {
		return ProviderConfig{Provider: "google", Model: "gemini-2.5-flash"}, nil
	}
	if flag == "mock" {
		return ProviderConfig{Provider: "mock"}, nil
	}

	parts := strings.SplitN(flag, "/", 2)
	if len(parts) < 2 {
		return ProviderConfig{}, fmt.Errorf("invalid --llm format %q: expected provider/model (e.g., google/gemini-2.5-flash)", flag)
	}

	provider := strings.ToLower(parts[0])
	model := parts[1]

	switch provider {
	case "google", "openrouter":
		return ProviderConfig{Provider: provider, Model: model}, nil
	default:
		return ProviderConfig{}, fmt.Errorf("unknown provider %q in --llm flag (supported: google, openrouter, mock)", provider)
	}
}
