package session

import (
	"context"
	"strings"
	"sync"

	"kamishibai/internal/logging"
	"kamishibai/internal/types"
)

// RenderCache memoizes produced content per epoch so that re-invocations of
// rendering logic within one logical screen state always see the same
// object. This is a hard invariant, not a hit-rate optimization: feedback
// shown against content A must never end up paired with a regenerated
// content B. Strictly per-session; never shared.
type RenderCache struct {
	mu      sync.Mutex
	entries map[string]types.GeneratedContent
}

// NewRenderCache creates an empty render cache.
func NewRenderCache() *RenderCache {
	return &RenderCache{
		entries: make(map[string]types.GeneratedContent),
	}
}

// epochKey builds the memoization key.
func epochKey(epochNS string, category types.Category, instanceKey string) string {
	return epochNS + "|" + string(category) + "|" + instanceKey
}

// GetOrCreate returns the memoized unit for (epochNS, category, instanceKey)
// if present; otherwise it invokes produce, memoizes the result, and returns
// it. Memoized hits are returned as-is regardless of any generation flags
// the caller carries.
func (rc *RenderCache) GetOrCreate(ctx context.Context, epochNS string, category types.Category, instanceKey string,
	produce func(context.Context) (types.GeneratedContent, error)) (types.GeneratedContent, error) {

	key := epochKey(epochNS, category, instanceKey)

	rc.mu.Lock()
	if content, ok := rc.entries[key]; ok {
		rc.mu.Unlock()
		logging.SessionDebug("render cache hit %s", key)
		return content, nil
	}
	rc.mu.Unlock()

	// Produce outside the lock: the only suspension point is the provider
	// boundary, and one session drives at most one acquisition at a time.
	content, err := produce(ctx)
	if err != nil {
		return types.GeneratedContent{}, err
	}

	rc.mu.Lock()
	// Same-epoch double production would break idempotence downstream, so
	// the first memoized unit always wins.
	if existing, ok := rc.entries[key]; ok {
		rc.mu.Unlock()
		return existing, nil
	}
	rc.entries[key] = content
	rc.mu.Unlock()

	logging.SessionDebug("render cache memoized %s (%s)", key, content.Provenance)
	return content, nil
}

// Invalidate bulk-removes every memoized key under the given epoch namespace
// prefix and returns how many were removed. Called from exactly two session
// transitions: advancing past an instance and resetting to selection.
func (rc *RenderCache) Invalidate(epochNSPrefix string) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	removed := 0
	for key := range rc.entries {
		if strings.HasPrefix(key, epochNSPrefix) {
			delete(rc.entries, key)
			removed++
		}
	}
	if removed > 0 {
		logging.SessionDebug("render cache invalidated %d entries under %s", removed, epochNSPrefix)
	}
	return removed
}

// Len returns the number of memoized entries.
func (rc *RenderCache) Len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.entries)
}
