package types

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestCacheKey(t *testing.T) {
	if got := CacheKey(CategoryScene, "toilet/2"); got != "scene:toilet/2" {
		t.Errorf("expected scene:toilet/2, got %q", got)
	}

	// Discriminators append in order.
	if got := CacheKey(CategoryGuide, "barber", "v2", "ja"); got != "guide:barber:v2:ja" {
		t.Errorf("expected guide:barber:v2:ja, got %q", got)
	}

	// Variant content must never collide with the base slot.
	if CacheKey(CategoryScene, "park/0") == CacheKey(CategoryScene, "park/0", "alt") {
		t.Error("discriminated key collided with base key")
	}
}

func TestCacheEntryExpired(t *testing.T) {
	now := time.Now()
	entry := CacheEntry{ExpiresAt: now}

	if entry.Expired(now) {
		t.Error("entry at exactly its expiry should not count as expired")
	}
	if !entry.Expired(now.Add(time.Nanosecond)) {
		t.Error("entry past its expiry should count as expired")
	}
	if entry.Expired(now.Add(-time.Hour)) {
		t.Error("entry before its expiry should not count as expired")
	}
}

func TestQualityReportMeetsThreshold(t *testing.T) {
	r := QualityReport{Score: 80}
	if !r.MeetsThreshold(80) {
		t.Error("score equal to threshold should pass")
	}
	if r.MeetsThreshold(81) {
		t.Error("score below threshold should fail")
	}
	if !(QualityReport{Score: 100}).MeetsThreshold(0) {
		t.Error("perfect score should pass any threshold")
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewProviderError(ProviderTimeout, 0, "request timed out", cause)

	var perr *ProviderError
	wrapped := fmt.Errorf("attempt 2: %w", err)
	if !errors.As(wrapped, &perr) {
		t.Fatal("errors.As failed to find ProviderError through wrapping")
	}
	if perr.Kind != ProviderTimeout {
		t.Errorf("expected kind timeout, got %s", perr.Kind)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is failed to reach the underlying cause")
	}
}

func TestProviderErrorMessage(t *testing.T) {
	withStatus := NewProviderError(ProviderRateLimited, 429, "slow down", nil)
	if msg := withStatus.Error(); msg != "provider rate_limited (status 429): slow down" {
		t.Errorf("unexpected message: %q", msg)
	}

	noStatus := NewProviderError(ProviderInvalidResponse, 0, "empty body", nil)
	if msg := noStatus.Error(); msg != "provider invalid_response: empty body" {
		t.Errorf("unexpected message: %q", msg)
	}
}

func TestCacheErrorUnwrap(t *testing.T) {
	cause := errors.New("database is locked")
	err := &CacheError{Op: "put", Key: "scene:toilet/0", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("CacheError should unwrap to its cause")
	}
}

func TestAggregationSessionCurrentRole(t *testing.T) {
	sess := NewAggregationSession("id", []string{"pediatrician", "synthesizer"})

	if sess.Status() != AggregationPending {
		t.Errorf("new session should be pending, got %s", sess.Status())
	}
	if got := sess.CurrentRole(); got != "pediatrician" {
		t.Errorf("expected pediatrician at cursor 0, got %q", got)
	}
	sess.SetCursor(1)
	if got := sess.CurrentRole(); got != "synthesizer" {
		t.Errorf("expected synthesizer at cursor 1, got %q", got)
	}
	sess.SetCursor(2)
	if got := sess.CurrentRole(); got != "" {
		t.Errorf("expected empty role when exhausted, got %q", got)
	}
}
