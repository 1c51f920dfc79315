// Package types holds the domain types and error taxonomy shared across the
// generation core. Packages accept these types at their boundaries so that
// pipeline, cache, and panel code never depend on each other directly.
package types

import (
	"fmt"
	"sync"
	"time"
)

// Category classifies a content slot. Closed set.
type Category string

const (
	CategoryScene  Category = "scene"
	CategoryGuide  Category = "guide"
	CategoryAnswer Category = "answer"
)

// Provenance records where a returned content unit came from.
type Provenance string

const (
	ProvenanceGenerated Provenance = "generated"
	ProvenanceCached    Provenance = "cached"
	ProvenanceFallback  Provenance = "fallback-static"
)

// ContentRequest identifies one logical content slot and how to fill it.
// Immutable; created per call.
type ContentRequest struct {
	Category         Category
	InstanceKey      string // e.g. "toilet/2"
	VariationEnabled bool
	ForceRegenerate  bool
}

// GeneratedContent is one pedagogical text unit handed back to the caller.
// Ownership transfers to the caller; the pipeline may additionally persist
// it as a cache entry.
type GeneratedContent struct {
	Body         string     `json:"body"`
	QualityScore int        `json:"quality_score"`
	Provenance   Provenance `json:"provenance"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CacheEntry is the persisted representation of one cached content unit.
// At most one live entry exists per key. ExpiresAt is derived from
// CreatedAt+TTL; LastAccessedAt is bumped on every get and put.
type CacheEntry struct {
	Key            string    `json:"key"`
	Payload        string    `json:"payload"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Expired reports whether the entry is past its expiry at the given instant.
func (e CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// CacheKey builds the canonical cache key for a content slot.
// Variant discriminators (if any) are appended so that variant content
// never collides with the base slot.
func CacheKey(category Category, instanceKey string, discriminators ...string) string {
	key := fmt.Sprintf("%s:%s", category, instanceKey)
	for _, d := range discriminators {
		key += ":" + d
	}
	return key
}

// TokenCounts captures provider-reported token usage for one completion.
type TokenCounts struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Completion is the result of one provider round-trip.
type Completion struct {
	Text    string
	Tokens  TokenCounts
	Latency time.Duration
}

// QualityReport is the critic's verdict on a piece of generated content.
type QualityReport struct {
	Score       int      `json:"score"` // 0-100
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// MeetsThreshold reports whether the scored content clears the quality bar.
func (r QualityReport) MeetsThreshold(threshold int) bool {
	return r.Score >= threshold
}

// AggregationState tracks the lifecycle of one multi-role advisory run.
type AggregationState string

const (
	AggregationPending    AggregationState = "pending"
	AggregationRoleActive AggregationState = "role-active"
	AggregationComplete   AggregationState = "complete"
	AggregationFailed     AggregationState = "failed"
)

// AggregationSession records the role order and progress of one advisory
// request. Created per request, discarded when the response stream finishes.
// The producing goroutine keeps updating state and cursor while the stream
// runs, so both live behind a mutex and readers go through Status, Cursor
// and CurrentRole.
type AggregationSession struct {
	ID        string
	RoleOrder []string
	StartedAt time.Time

	mu     sync.Mutex
	cursor int
	state  AggregationState
}

// NewAggregationSession builds the bookkeeping record for one advisory run
// with its own copy of the role order.
func NewAggregationSession(id string, roleOrder []string) *AggregationSession {
	return &AggregationSession{
		ID:        id,
		RoleOrder: append([]string(nil), roleOrder...),
		StartedAt: time.Now(),
		state:     AggregationPending,
	}
}

// Status returns the current lifecycle state.
func (s *AggregationSession) Status() AggregationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetStatus records a lifecycle transition.
func (s *AggregationSession) SetStatus(state AggregationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Cursor returns the index of the role currently being worked.
func (s *AggregationSession) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// SetCursor moves the role cursor.
func (s *AggregationSession) SetCursor(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = i
}

// CurrentRole returns the role id at the cursor, or "" when exhausted.
func (s *AggregationSession) CurrentRole() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor < 0 || s.cursor >= len(s.RoleOrder) {
		return ""
	}
	return s.RoleOrder[s.cursor]
}
