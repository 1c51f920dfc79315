// Package provider implements the completion-provider boundary: a single
// Complete/CompleteStream primitive over HTTP (OpenAI-compatible) or the
// Gemini API. All failures cross the boundary as *types.ProviderError; retry
// policy belongs to the callers, not to the clients here.
package provider

import (
	"context"

	"kamishibai/internal/types"
)

// Request is one completion request against the provider.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// Result is one non-streamed completion.
type Result struct {
	Text   string
	Tokens types.TokenCounts
}

// Completer is the outbound provider boundary. CompleteStream returns a
// content channel of incremental deltas and an error channel; both are closed
// when the stream finishes. At most one error is sent.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Result, error)
	CompleteStream(ctx context.Context, req Request) (<-chan string, <-chan error)
}
