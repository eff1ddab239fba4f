package gateway

import (
	"context"
	"fmt"
	"os"
	"time"

	"econoclass/internal/logging"
)

// Provider identifies an LLM backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
	ProviderMock      Provider = "mock"
)

// DetectProvider picks a provider from the environment. Priority order:
// ANTHROPIC_API_KEY, then OPENAI_API_KEY, then GEMINI_API_KEY.
func DetectProvider() (Provider, string, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return ProviderAnthropic, key, nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return ProviderOpenAI, key, nil
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return ProviderGemini, key, nil
	}
	return "", "", fmt.Errorf("no API key found: set ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY")
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	Provider Provider // empty means detect from environment
	APIKey   string   // empty means read from environment
	Model    string   // empty means provider default
	Timeout  time.Duration
}

// NewClient constructs an LLMClient for the requested (or detected)
// provider.
func NewClient(ctx context.Context, opts ClientOptions) (LLMClient, error) {
	provider := opts.Provider
	apiKey := opts.APIKey

	if provider == "" {
		var err error
		provider, apiKey, err = DetectProvider()
		if err != nil {
			return nil, err
		}
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	switch provider {
	case ProviderAnthropic:
		cfg := DefaultAnthropicConfig(envOr(apiKey, "ANTHROPIC_API_KEY"))
		cfg.Timeout = opts.Timeout
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		logging.Gateway("Using Anthropic provider (model=%s)", cfg.Model)
		return NewAnthropicClient(cfg), nil

	case ProviderOpenAI:
		cfg := DefaultOpenAIConfig(envOr(apiKey, "OPENAI_API_KEY"))
		cfg.Timeout = opts.Timeout
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		logging.Gateway("Using OpenAI provider (model=%s)", cfg.Model)
		return NewOpenAIClient(cfg), nil

	case ProviderGemini:
		cfg := DefaultGeminiConfig(envOr(apiKey, "GEMINI_API_KEY"))
		cfg.Timeout = opts.Timeout
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		logging.Gateway("Using Gemini provider (model=%s)", cfg.Model)
		return NewGeminiClient(ctx, cfg)

	case ProviderMock:
		logging.Gateway("Using mock provider (dry run)")
		return NewMockClient(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

func envOr(value, envKey string) string {
	if value != "" {
		return value
	}
	return os.Getenv(envKey)
}
