package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"kamishibai/internal/cache"
	"kamishibai/internal/coordinator"
	"kamishibai/internal/pipeline"
	"kamishibai/internal/provider"
	"kamishibai/internal/scenario"
	"kamishibai/internal/store"
	"kamishibai/internal/types"
)

// countingCompleter returns a distinct accepted draft for every generation
// call, so repeated generation is observable at the session layer.
type countingCompleter struct {
	generations int
}

func (c *countingCompleter) Complete(ctx context.Context, req provider.Request) (*provider.Result, error) {
	// Critic calls carry the strict-JSON instruction; answer those with an
	// accepting verdict.
	if len(req.UserPrompt) > 0 && req.Temperature == 0.3 {
		return &provider.Result{Text: `{"score": 95, "issues": [], "suggestions": []}`}, nil
	}
	c.generations++
	return &provider.Result{Text: "draft " + time.Now().Format("15:04:05.000000000")}, nil
}

func (c *countingCompleter) CompleteStream(ctx context.Context, req provider.Request) (<-chan string, <-chan error) {
	contentChan := make(chan string)
	errorChan := make(chan error, 1)
	close(contentChan)
	close(errorChan)
	return contentChan, errorChan
}

func newTestSession(t *testing.T) (*Session, *countingCompleter) {
	t.Helper()

	st, err := store.NewStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	registry, err := scenario.NewRegistry("")
	if err != nil {
		t.Fatal(err)
	}

	completer := &countingCompleter{}
	coord := coordinator.New(completer, 500)
	p := pipeline.New(coord, cache.New(st, time.Hour, 100), registry, pipeline.DefaultOptions())
	return New(p), completer
}

func sceneReq(instanceKey string, force bool) types.ContentRequest {
	return types.ContentRequest{
		Category:         types.CategoryScene,
		InstanceKey:      instanceKey,
		VariationEnabled: true,
		ForceRegenerate:  force,
	}
}

func TestSessionContentIdempotentWithinEpoch(t *testing.T) {
	s, completer := newTestSession(t)
	ctx := context.Background()
	s.Select("toilet")

	first, err := s.GetContent(ctx, sceneReq("toilet/0", false))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		got, err := s.GetContent(ctx, sceneReq("toilet/0", false))
		if err != nil {
			t.Fatal(err)
		}
		if got.Body != first.Body || got.Provenance != first.Provenance {
			t.Fatalf("call %d returned a different unit within one epoch", i)
		}
	}
	if completer.generations != 1 {
		t.Errorf("expected 1 generation, got %d", completer.generations)
	}
}

// Even a force-regenerate request must return the memoized unit once one
// exists for the epoch; the flag only matters on first production.
func TestSessionForceFlagIgnoredOnMemoizedHit(t *testing.T) {
	s, completer := newTestSession(t)
	ctx := context.Background()
	s.Select("toilet")

	first, err := s.GetContent(ctx, sceneReq("toilet/0", false))
	if err != nil {
		t.Fatal(err)
	}
	forced, err := s.GetContent(ctx, sceneReq("toilet/0", true))
	if err != nil {
		t.Fatal(err)
	}
	if forced.Body != first.Body {
		t.Error("force flag regenerated within an unchanged epoch")
	}
	if completer.generations != 1 {
		t.Errorf("expected 1 generation, got %d", completer.generations)
	}
}

func TestAdvanceStartsFreshEpoch(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()
	s.Select("toilet")

	if _, err := s.GetContent(ctx, sceneReq("toilet/0", false)); err != nil {
		t.Fatal(err)
	}

	s.Advance()

	if _, idx := s.Current(); idx != 1 {
		t.Errorf("expected scene index 1 after advance, got %d", idx)
	}
	if key := s.CurrentInstanceKey(); key != "toilet/1" {
		t.Errorf("expected instance key toilet/1, got %q", key)
	}
	// The old epoch's memoized content is gone.
	if s.render.Len() != 0 {
		t.Errorf("advance left %d memoized entries", s.render.Len())
	}
}

// Re-entering an instance after reset is a fresh epoch: the memo from the
// earlier visit must not resurface (a force request now regenerates).
func TestResetThenRevisitIsFreshEpoch(t *testing.T) {
	s, completer := newTestSession(t)
	ctx := context.Background()

	s.Select("toilet")
	if _, err := s.GetContent(ctx, sceneReq("toilet/0", true)); err != nil {
		t.Fatal(err)
	}

	s.Reset()
	if key := s.CurrentInstanceKey(); key != "" {
		t.Errorf("expected empty instance key after reset, got %q", key)
	}

	s.Select("toilet")
	if _, err := s.GetContent(ctx, sceneReq("toilet/0", true)); err != nil {
		t.Fatal(err)
	}

	if completer.generations != 2 {
		t.Errorf("revisit after reset should regenerate, got %d generations", completer.generations)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	s1, _ := newTestSession(t)
	s2, _ := newTestSession(t)

	if s1.ID == s2.ID {
		t.Error("sessions share an id")
	}

	s1.Select("toilet")
	if _, err := s1.GetContent(context.Background(), sceneReq("toilet/0", false)); err != nil {
		t.Fatal(err)
	}
	if s2.render.Len() != 0 {
		t.Error("memoized content leaked across sessions")
	}
}

func TestNewAggregationRecordsRoleOrder(t *testing.T) {
	s, _ := newTestSession(t)

	order := []string{"pediatrician", "family_support"}
	agg := s.NewAggregation(order)

	if agg.Status() != types.AggregationPending {
		t.Errorf("expected pending state, got %s", agg.Status())
	}
	if agg.CurrentRole() != "pediatrician" {
		t.Errorf("expected cursor at first role, got %q", agg.CurrentRole())
	}

	// The session keeps its own copy of the order.
	order[0] = "mutated"
	if agg.RoleOrder[0] != "pediatrician" {
		t.Error("aggregation shares the caller's slice")
	}
}
