package types

import "fmt"

// ProviderErrorKind classifies transient provider/transport failures.
type ProviderErrorKind string

const (
	ProviderRateLimited     ProviderErrorKind = "rate_limited"
	ProviderTimeout         ProviderErrorKind = "timeout"
	ProviderInvalidResponse ProviderErrorKind = "invalid_response"
	ProviderUnauthorized    ProviderErrorKind = "unauthorized"
)

// ProviderError is the single failure shape crossing the completion-provider
// boundary. Callers never retry at the coordinator level; retry policy lives
// in the pipeline and the panel aggregator.
type ProviderError struct {
	Kind    ProviderErrorKind
	Status  int // HTTP status when applicable, 0 otherwise
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a ProviderError wrapping an underlying cause.
func NewProviderError(kind ProviderErrorKind, status int, msg string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Status: status, Message: msg, Err: err}
}

// QualityRejected reports that generation succeeded transport-wise but no
// attempt cleared the critic threshold. Fully recovered inside the pipeline's
// fallback chain; visible to callers only as a provenance tag.
type QualityRejected struct {
	BestScore int
	Threshold int
	Attempts  int
}

func (e *QualityRejected) Error() string {
	return fmt.Sprintf("quality gate rejected after %d attempts (best %d, threshold %d)",
		e.Attempts, e.BestScore, e.Threshold)
}

// CacheError reports a durable-store failure. The tiered cache degrades to
// fast-layer-only and logs it; a CacheError never fails a content request.
type CacheError struct {
	Op  string // "get", "put", "delete", "sweep", ...
	Key string
	Err error
}

func (e *CacheError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// ConsistencyViolation marks a break of the per-epoch idempotence invariant.
// It must never be reachable in correct code; no component branches on it.
// Defined so a detected violation has a precise shape in logs and tests.
type ConsistencyViolation struct {
	Epoch string
	Key   string
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf("render consistency violated: epoch %s key %s", e.Epoch, e.Key)
}
