// Package coordinator dispatches role-scoped completion requests to the
// provider boundary and scores generated content through the critic role.
// It carries no retry policy of its own; retries belong to the pipeline and
// the panel aggregator.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"kamishibai/internal/logging"
	"kamishibai/internal/provider"
	"kamishibai/internal/types"
)

// Coordinator issues completions against the provider on behalf of catalog
// roles. Safe for concurrent use.
type Coordinator struct {
	completer     provider.Completer
	baseMaxTokens int
}

// New creates a coordinator. baseMaxTokens is the per-completion token budget
// before role multipliers; <=0 falls back to 500.
func New(completer provider.Completer, baseMaxTokens int) *Coordinator {
	if baseMaxTokens <= 0 {
		baseMaxTokens = 500
	}
	return &Coordinator{
		completer:     completer,
		baseMaxTokens: baseMaxTokens,
	}
}

// requestFor builds the provider request for a role and user prompt.
func (c *Coordinator) requestFor(role *Role, userPrompt string) provider.Request {
	return provider.Request{
		SystemPrompt: role.PersonaPrompt,
		UserPrompt:   userPrompt,
		Temperature:  role.Temperature,
		MaxTokens:    c.baseMaxTokens * role.MaxTokenMult,
	}
}

// RequestCompletion issues one completion for the given role. Fails with
// *types.ProviderError on transport/rate-limit/timeout/auth conditions.
func (c *Coordinator) RequestCompletion(ctx context.Context, roleID, userPrompt string) (*types.Completion, error) {
	role, err := LookupRole(roleID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := c.completer.Complete(ctx, c.requestFor(role, userPrompt))
	if err != nil {
		return nil, err
	}

	latency := time.Since(start)
	logging.PipelineDebug("completion role=%s latency=%v tokens=%d", roleID, latency, result.Tokens.Total)

	return &types.Completion{
		Text:    result.Text,
		Tokens:  result.Tokens,
		Latency: latency,
	}, nil
}

// RequestCompletionStream issues one streamed completion for the given role.
// An unknown role id surfaces on the error channel before any content.
func (c *Coordinator) RequestCompletionStream(ctx context.Context, roleID, userPrompt string) (<-chan string, <-chan error) {
	role, err := LookupRole(roleID)
	if err != nil {
		contentChan := make(chan string)
		errorChan := make(chan error, 1)
		errorChan <- err
		close(contentChan)
		close(errorChan)
		return contentChan, errorChan
	}
	return c.completer.CompleteStream(ctx, c.requestFor(role, userPrompt))
}

// criticVerdict is the strict JSON shape requested from the critic.
type criticVerdict struct {
	Score       int      `json:"score"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// ScoreQuality runs the critic role over a piece of content and returns its
// verdict. Fail-closed: if the critic call fails or its output cannot be
// parsed as the requested JSON, the report carries a deterministic
// below-threshold score instead of an error. Never fail-open.
func (c *Coordinator) ScoreQuality(ctx context.Context, contentType, content string, criteria []string) types.QualityReport {
	timer := logging.StartTimer(logging.CategoryPipeline, "ScoreQuality")
	defer timer.Stop()

	prompt := buildCriticPrompt(contentType, content, criteria)

	completion, err := c.RequestCompletion(ctx, RoleQualityCritic, prompt)
	if err != nil {
		logging.Get(logging.CategoryPipeline).Warn("critic call failed, scoring closed: %v", err)
		return belowThresholdReport(fmt.Sprintf("critic unavailable: %v", err))
	}

	raw := extractJSON(completion.Text)
	var verdict criticVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		logging.Get(logging.CategoryPipeline).Warn("critic output unparsable, scoring closed: %v", err)
		return belowThresholdReport("critic output was not valid JSON")
	}

	// Clamp to the documented range; a confused critic stays in-bounds.
	if verdict.Score < 0 {
		verdict.Score = 0
	}
	if verdict.Score > 100 {
		verdict.Score = 100
	}

	return types.QualityReport{
		Score:       verdict.Score,
		Issues:      verdict.Issues,
		Suggestions: verdict.Suggestions,
	}
}

// belowThresholdReport is the deterministic fail-closed verdict.
func belowThresholdReport(cause string) types.QualityReport {
	return types.QualityReport{
		Score:  0,
		Issues: []string{cause},
	}
}

// buildCriticPrompt asks for strict JSON so parsing stays mechanical.
func buildCriticPrompt(contentType, content string, criteria []string) string {
	var sb strings.Builder
	sb.WriteString("Score the following ")
	sb.WriteString(contentType)
	sb.WriteString(" content for parents of young children.\n\n")

	if len(criteria) > 0 {
		sb.WriteString("Evaluation criteria:\n")
		for _, cr := range criteria {
			sb.WriteString("- ")
			sb.WriteString(cr)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Content:\n---\n")
	sb.WriteString(content)
	sb.WriteString("\n---\n\n")
	sb.WriteString(`Respond with ONLY a JSON object, no prose, in exactly this shape:
{"score": <integer 0-100>, "issues": ["..."], "suggestions": ["..."]}`)

	return sb.String()
}
