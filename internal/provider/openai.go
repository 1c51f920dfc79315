package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"kamishibai/internal/logging"
	"kamishibai/internal/types"
)

// OpenAIClient implements Completer against any OpenAI-compatible
// chat-completions endpoint.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// OpenAIConfig holds configuration for the OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: 60 * time.Second,
	}
}

// NewOpenAIClient creates a client with default config.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return NewOpenAIClientWithConfig(DefaultOpenAIConfig(apiKey))
}

// NewOpenAIClientWithConfig creates a client with custom config.
func NewOpenAIClientWithConfig(config OpenAIConfig) *OpenAIClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		apiKey:  config.APIKey,
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// openaiMessage represents a chat message.
type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// openaiStreamOptions requests usage in the final stream chunk.
type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// openaiRequest represents the chat-completions request body.
type openaiRequest struct {
	Model         string               `json:"model"`
	Messages      []openaiMessage      `json:"messages"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   float64              `json:"temperature"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
}

// openaiResponse represents the chat-completions response body, for both
// full responses and stream chunks.
type openaiResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		Delta *struct { // For streaming
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta,omitempty"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// pace enforces a minimum interval between requests.
func (c *OpenAIClient) pace() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

// classifyTransport maps a transport error to a ProviderError.
func classifyTransport(err error) *types.ProviderError {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return types.NewProviderError(types.ProviderTimeout, 0, "request timed out", err)
	}
	var ue interface{ Timeout() bool }
	if errors.As(err, &ue) && ue.Timeout() {
		return types.NewProviderError(types.ProviderTimeout, 0, "request timed out", err)
	}
	return types.NewProviderError(types.ProviderInvalidResponse, 0, "transport failure", err)
}

// classifyStatus maps a non-200 HTTP status to a ProviderError.
func classifyStatus(status int, body string) *types.ProviderError {
	switch {
	case status == http.StatusTooManyRequests:
		return types.NewProviderError(types.ProviderRateLimited, status, "rate limit exceeded", nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewProviderError(types.ProviderUnauthorized, status, "authorization rejected", nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return types.NewProviderError(types.ProviderTimeout, status, "provider timed out", nil)
	default:
		return types.NewProviderError(types.ProviderInvalidResponse, status, strings.TrimSpace(body), nil)
	}
}

// Complete sends one chat-completion request and returns the full text.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Result, error) {
	// Auto-apply timeout if context has no deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	startTime := time.Now()
	logging.ProviderDebug("[OpenAI] Complete: model=%s system_len=%d user_len=%d temp=%.2f max_tokens=%d",
		c.model, len(req.SystemPrompt), len(req.UserPrompt), req.Temperature, req.MaxTokens)

	if c.apiKey == "" {
		logging.ProviderError("[OpenAI] Complete: API key not configured")
		return nil, types.NewProviderError(types.ProviderUnauthorized, 0, "API key not configured", nil)
	}

	c.pace()

	reqBody := openaiRequest{
		Model: c.model,
		Messages: []openaiMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		perr := classifyTransport(err)
		logging.ProviderError("[OpenAI] Complete: %v", perr)
		return nil, perr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewProviderError(types.ProviderInvalidResponse, resp.StatusCode, "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		perr := classifyStatus(resp.StatusCode, string(body))
		logging.ProviderError("[OpenAI] Complete: %v", perr)
		return nil, perr
	}

	var openaiResp openaiResponse
	if err := json.Unmarshal(body, &openaiResp); err != nil {
		return nil, types.NewProviderError(types.ProviderInvalidResponse, resp.StatusCode, "failed to parse response", err)
	}

	if openaiResp.Error != nil {
		return nil, types.NewProviderError(types.ProviderInvalidResponse, resp.StatusCode, openaiResp.Error.Message, nil)
	}

	if len(openaiResp.Choices) == 0 {
		logging.ProviderError("[OpenAI] Complete: no completion returned")
		return nil, types.NewProviderError(types.ProviderInvalidResponse, resp.StatusCode, "no completion returned", nil)
	}

	text := strings.TrimSpace(openaiResp.Choices[0].Message.Content)
	logging.Provider("[OpenAI] Complete: completed in %v response_len=%d tokens=%d",
		time.Since(startTime), len(text), openaiResp.Usage.TotalTokens)

	return &Result{
		Text: text,
		Tokens: types.TokenCounts{
			Prompt:     openaiResp.Usage.PromptTokens,
			Completion: openaiResp.Usage.CompletionTokens,
			Total:      openaiResp.Usage.TotalTokens,
		},
	}, nil
}

// CompleteStream sends one chat-completion request with streaming enabled.
// Returns channels of incremental content deltas.
func (c *OpenAIClient) CompleteStream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	logging.ProviderDebug("[OpenAI] CompleteStream: starting streaming model=%s", c.model)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		// Auto-apply timeout if context has no deadline
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
			defer cancel()
		}

		startTime := time.Now()

		if c.apiKey == "" {
			logging.ProviderError("[OpenAI] CompleteStream: API key not configured")
			errorChan <- types.NewProviderError(types.ProviderUnauthorized, 0, "API key not configured", nil)
			return
		}

		c.pace()

		reqBody := openaiRequest{
			Model: c.model,
			Messages: []openaiMessage{
				{Role: "system", Content: req.SystemPrompt},
				{Role: "user", Content: req.UserPrompt},
			},
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Stream:      true,
			StreamOptions: &openaiStreamOptions{
				IncludeUsage: true,
			},
		}

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			errorChan <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			errorChan <- fmt.Errorf("failed to create request: %w", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			perr := classifyTransport(err)
			logging.ProviderError("[OpenAI] CompleteStream: %v", perr)
			errorChan <- perr
			return
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			perr := classifyStatus(resp.StatusCode, string(body))
			logging.ProviderError("[OpenAI] CompleteStream: %v", perr)
			errorChan <- perr
			return
		}

		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		scanDone := make(chan struct{})
		scanErrChan := make(chan error, 1)

		go func() {
			defer close(scanDone)
			for scanner.Scan() {
				line := scanner.Text()
				if !strings.HasPrefix(line, "data:") {
					continue
				}
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if data == "" {
					continue
				}
				if data == "[DONE]" {
					return
				}

				var chunk openaiResponse
				if err := json.Unmarshal([]byte(data), &chunk); err != nil {
					continue
				}
				if chunk.Error != nil {
					scanErrChan <- types.NewProviderError(types.ProviderInvalidResponse, 0, chunk.Error.Message, nil)
					return
				}
				if len(chunk.Choices) > 0 && chunk.Choices[0].Delta != nil {
					delta := chunk.Choices[0].Delta.Content
					if delta != "" {
						select {
						case contentChan <- delta:
						case <-ctx.Done():
							return
						}
					}
				}
			}
			if err := scanner.Err(); err != nil {
				scanErrChan <- err
			}
		}()

		select {
		case <-scanDone:
			select {
			case err := <-scanErrChan:
				logging.ProviderError("[OpenAI] CompleteStream: stream error after %v: %v", time.Since(startTime), err)
				var perr *types.ProviderError
				if errors.As(err, &perr) {
					errorChan <- perr
				} else {
					errorChan <- types.NewProviderError(types.ProviderInvalidResponse, 0, "stream error", err)
				}
			default:
				logging.Provider("[OpenAI] CompleteStream: completed in %v", time.Since(startTime))
			}
		case <-ctx.Done():
			resp.Body.Close()
			<-scanDone
			logging.Get(logging.CategoryProvider).Warn("[OpenAI] CompleteStream: cancelled after %v", time.Since(startTime))
			errorChan <- types.NewProviderError(types.ProviderTimeout, 0, "stream cancelled", ctx.Err())
		}
	}()

	return contentChan, errorChan
}

// SetModel changes the model used for completions.
func (c *OpenAIClient) SetModel(model string) {
	c.model = model
}

// GetModel returns the current model.
func (c *OpenAIClient) GetModel() string {
	return c.model
}

var _ Completer = (*OpenAIClient)(nil)
