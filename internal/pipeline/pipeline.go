// Package pipeline orchestrates the coordinator, the tiered cache, and the
// static template registry into one content-acquisition algorithm with
// bounded retries. Provider failures and quality rejections are recovered
// here through the fallback chain; callers see them only as a provenance tag.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kamishibai/internal/cache"
	"kamishibai/internal/coordinator"
	"kamishibai/internal/logging"
	"kamishibai/internal/scenario"
	"kamishibai/internal/types"
)

// Options bounds the generation loop.
type Options struct {
	MaxAttempts      int           // rounds of generate+score, >= 1
	QualityThreshold int           // accept first round scoring >= this
	CacheTTL         time.Duration // TTL for accepted content
}

// DefaultOptions returns the standard bounds.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:      3,
		QualityThreshold: 80,
		CacheTTL:         24 * time.Hour,
	}
}

// sceneCriteria is what the critic is asked to judge scenes against.
var sceneCriteria = []string{
	"simple language a young child can follow",
	"one concrete moment, not a summary",
	"a gentle choice the parent can act on",
	"warm and non-judgmental tone",
}

var guideCriteria = []string{
	"practical steps a parent can take today",
	"covers preparation, the moment itself, and recovery",
	"warm and non-judgmental tone",
}

// approvalFallback is returned for answer feedback when the provider is
// unreachable. Fixed phrase, deliberately safe.
const approvalFallback = "いいですね。お子さんのペースに合わせたその関わり方を、ぜひ続けてみてください。"

// Pipeline is the content-acquisition algorithm. Safe for concurrent use.
type Pipeline struct {
	coord    *coordinator.Coordinator
	cache    *cache.TieredCache
	registry *scenario.Registry
	opts     Options
}

// New creates a pipeline. Options outside their documented ranges are
// clamped to the defaults.
func New(coord *coordinator.Coordinator, tc *cache.TieredCache, registry *scenario.Registry, opts Options) *Pipeline {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.QualityThreshold < 0 || opts.QualityThreshold > 100 {
		opts.QualityThreshold = 80
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	return &Pipeline{
		coord:    coord,
		cache:    tc,
		registry: registry,
		opts:     opts,
	}
}

// GetContent acquires content for one slot:
//  1. variation disabled: the static template, directly; no provider call,
//     no cache interaction.
//  2. variation on, not forced: cache lookup.
//  3. otherwise up to MaxAttempts rounds of generate+score; the first round
//     clearing the threshold is cached and returned.
//  4. no round clears: most recent still-valid cache entry, then the static
//     template. Both count as fallback-static.
//
// The only error is a slot with no static template when every other source
// has failed.
func (p *Pipeline) GetContent(ctx context.Context, req types.ContentRequest) (types.GeneratedContent, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, fmt.Sprintf("GetContent %s/%s", req.Category, req.InstanceKey))
	defer timer.Stop()

	if !req.VariationEnabled {
		// Static-by-configuration, not a failure path.
		body := p.staticBody(req)
		if body == "" {
			return types.GeneratedContent{}, fmt.Errorf("no static template for %s/%s", req.Category, req.InstanceKey)
		}
		logging.PipelineDebug("static content for %s/%s (variation disabled)", req.Category, req.InstanceKey)
		return types.GeneratedContent{
			Body:       body,
			Provenance: types.ProvenanceFallback,
			CreatedAt:  time.Now(),
		}, nil
	}

	key := types.CacheKey(req.Category, req.InstanceKey)

	if !req.ForceRegenerate {
		if payload, ok := p.cache.Get(ctx, key); ok {
			logging.PipelineDebug("cache hit for %s", key)
			return types.GeneratedContent{
				Body:       payload,
				Provenance: types.ProvenanceCached,
				CreatedAt:  time.Now(),
			}, nil
		}
	}

	content, err := p.generate(ctx, req)
	if err == nil {
		p.cache.Put(ctx, key, content.Body, p.opts.CacheTTL)
		return content, nil
	}
	logging.Pipeline("generation failed for %s, falling back: %v", key, err)

	// Fallback (a): the most recent still-valid cache entry, even when the
	// regular lookup was skipped by forceRegenerate.
	if payload, ok := p.cache.Get(ctx, key); ok {
		return types.GeneratedContent{
			Body:       payload,
			Provenance: types.ProvenanceFallback,
			CreatedAt:  time.Now(),
		}, nil
	}

	// Fallback (b): the static template.
	body := p.staticBody(req)
	if body == "" {
		return types.GeneratedContent{}, fmt.Errorf("content unavailable for %s/%s: %w", req.Category, req.InstanceKey, err)
	}
	return types.GeneratedContent{
		Body:       body,
		Provenance: types.ProvenanceFallback,
		CreatedAt:  time.Now(),
	}, nil
}

// generate runs the bounded generate+score loop. Only accepted content is
// returned; rejected attempts are discarded, never cached.
func (p *Pipeline) generate(ctx context.Context, req types.ContentRequest) (types.GeneratedContent, error) {
	roleID, prompt, criteria, err := p.generationPlan(req)
	if err != nil {
		return types.GeneratedContent{}, err
	}

	bestScore := 0
	var lastProviderErr error

	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		completion, err := p.coord.RequestCompletion(ctx, roleID, prompt)
		if err != nil {
			var perr *types.ProviderError
			if errors.As(err, &perr) {
				logging.Pipeline("attempt %d/%d: provider %s", attempt, p.opts.MaxAttempts, perr.Kind)
				lastProviderErr = err
				continue
			}
			return types.GeneratedContent{}, err
		}

		report := p.coord.ScoreQuality(ctx, string(req.Category), completion.Text, criteria)
		if report.MeetsThreshold(p.opts.QualityThreshold) {
			logging.Pipeline("attempt %d/%d accepted (score %d)", attempt, p.opts.MaxAttempts, report.Score)
			return types.GeneratedContent{
				Body:         completion.Text,
				QualityScore: report.Score,
				Provenance:   types.ProvenanceGenerated,
				CreatedAt:    time.Now(),
			}, nil
		}
		if report.Score > bestScore {
			bestScore = report.Score
		}
		logging.Pipeline("attempt %d/%d rejected (score %d < %d)", attempt, p.opts.MaxAttempts, report.Score, p.opts.QualityThreshold)
	}

	if lastProviderErr != nil && bestScore == 0 {
		return types.GeneratedContent{}, lastProviderErr
	}
	return types.GeneratedContent{}, &types.QualityRejected{
		BestScore: bestScore,
		Threshold: p.opts.QualityThreshold,
		Attempts:  p.opts.MaxAttempts,
	}
}

// generationPlan resolves role, prompt, and critic criteria per category.
func (p *Pipeline) generationPlan(req types.ContentRequest) (roleID, prompt string, criteria []string, err error) {
	switch req.Category {
	case types.CategoryScene:
		prompt, err = p.registry.ScenePrompt(req.InstanceKey)
		return coordinator.RoleScenarioGenerator, prompt, sceneCriteria, err
	case types.CategoryGuide:
		prompt, err = p.registry.GuidePrompt(req.InstanceKey)
		return coordinator.RoleGuideGenerator, prompt, guideCriteria, err
	default:
		return "", "", nil, fmt.Errorf("category %q has no generation plan", req.Category)
	}
}

// staticBody resolves the static template for a request.
func (p *Pipeline) staticBody(req types.ContentRequest) string {
	switch req.Category {
	case types.CategoryScene:
		return p.registry.StaticScene(req.InstanceKey)
	case types.CategoryGuide:
		return p.registry.StaticGuide(req.InstanceKey)
	default:
		return ""
	}
}

// GetGuide acquires the situational guide for an event through the same
// cache/fallback discipline as scenes.
func (p *Pipeline) GetGuide(ctx context.Context, eventID string, variation, force bool) (types.GeneratedContent, error) {
	return p.GetContent(ctx, types.ContentRequest{
		Category:         types.CategoryGuide,
		InstanceKey:      eventID,
		VariationEnabled: variation,
		ForceRegenerate:  force,
	})
}

// GetFeedback produces short encouraging feedback on a parent's free-text
// answer. Never cached: answers do not repeat, so keys would never hit.
// Provider failure falls back to a fixed approval phrase.
func (p *Pipeline) GetFeedback(ctx context.Context, eventID string, sceneIdx int, parentAnswer string) string {
	prompt := fmt.Sprintf(
		"Situation: %s, scene %d.\nThe parent answered:\n%q\n\nRespond to the parent in the language of their answer.",
		eventID, sceneIdx+1, parentAnswer)

	completion, err := p.coord.RequestCompletion(ctx, coordinator.RoleEvaluator, prompt)
	if err != nil {
		logging.Pipeline("feedback generation failed, using approval fallback: %v", err)
		return approvalFallback
	}
	return completion.Text
}
