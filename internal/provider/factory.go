package provider

import (
	"fmt"
	"os"

	"kamishibai/internal/config"
)

// NewFromConfig resolves a Completer from configuration.
// Config file settings win; environment variables fill gaps
// (OPENAI_API_KEY then GEMINI_API_KEY).
func NewFromConfig(cfg *config.Config) (Completer, error) {
	kind := cfg.Provider.Kind
	apiKey := cfg.Provider.APIKey

	if apiKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			kind = "openai"
			apiKey = key
		} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			kind = "gemini"
			apiKey = key
		}
	}

	if apiKey == "" {
		return nil, fmt.Errorf("no provider API key found (set OPENAI_API_KEY or GEMINI_API_KEY, or provider.api_key in config)")
	}

	switch kind {
	case "openai", "":
		return NewOpenAIClientWithConfig(OpenAIConfig{
			APIKey:  apiKey,
			BaseURL: cfg.Provider.BaseURL,
			Model:   cfg.Provider.Model,
			Timeout: cfg.GetProviderTimeout(),
		}), nil
	case "gemini":
		return NewGeminiClient(apiKey, cfg.Provider.Model)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}
