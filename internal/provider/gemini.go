package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"kamishibai/internal/logging"
	"kamishibai/internal/types"
)

// GeminiClient implements Completer over the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini-backed completer.
func NewGeminiClient(apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, types.NewProviderError(types.ProviderUnauthorized, 0, "Gemini API key is required", nil)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{client: client, model: model}, nil
}

func (c *GeminiClient) generateConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	return cfg
}

// classifyGenAI maps SDK errors to the provider taxonomy.
func classifyGenAI(err error) *types.ProviderError {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED"):
		return types.NewProviderError(types.ProviderRateLimited, 429, "rate limit exceeded", err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "PERMISSION_DENIED") || strings.Contains(msg, "API key"):
		return types.NewProviderError(types.ProviderUnauthorized, 0, "authorization rejected", err)
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "timeout"):
		return types.NewProviderError(types.ProviderTimeout, 0, "request timed out", err)
	default:
		return types.NewProviderError(types.ProviderInvalidResponse, 0, "provider failure", err)
	}
}

// Complete sends one generation request and returns the full text.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Result, error) {
	startTime := time.Now()
	logging.ProviderDebug("[Gemini] Complete: model=%s user_len=%d temp=%.2f", c.model, len(req.UserPrompt), req.Temperature)

	contents := []*genai.Content{
		genai.NewContentFromText(req.UserPrompt, genai.RoleUser),
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.generateConfig(req))
	if err != nil {
		perr := classifyGenAI(err)
		logging.ProviderError("[Gemini] Complete: %v", perr)
		return nil, perr
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, types.NewProviderError(types.ProviderInvalidResponse, 0, "no completion returned", nil)
	}

	result := &Result{Text: text}
	if resp.UsageMetadata != nil {
		result.Tokens = types.TokenCounts{
			Prompt:     int(resp.UsageMetadata.PromptTokenCount),
			Completion: int(resp.UsageMetadata.CandidatesTokenCount),
			Total:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	logging.Provider("[Gemini] Complete: completed in %v response_len=%d", time.Since(startTime), len(text))
	return result, nil
}

// CompleteStream sends one generation request with streaming enabled.
func (c *GeminiClient) CompleteStream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	logging.ProviderDebug("[Gemini] CompleteStream: starting streaming model=%s", c.model)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		startTime := time.Now()
		contents := []*genai.Content{
			genai.NewContentFromText(req.UserPrompt, genai.RoleUser),
		}

		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, c.generateConfig(req)) {
			if err != nil {
				perr := classifyGenAI(err)
				logging.ProviderError("[Gemini] CompleteStream: %v", perr)
				errorChan <- perr
				return
			}
			delta := resp.Text()
			if delta == "" {
				continue
			}
			select {
			case contentChan <- delta:
			case <-ctx.Done():
				errorChan <- types.NewProviderError(types.ProviderTimeout, 0, "stream cancelled", ctx.Err())
				return
			}
		}

		logging.Provider("[Gemini] CompleteStream: completed in %v", time.Since(startTime))
	}()

	return contentChan, errorChan
}

// GetModel returns the current model.
func (c *GeminiClient) GetModel() string {
	return c.model
}

var _ Completer = (*GeminiClient)(nil)
