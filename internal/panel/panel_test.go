package panel

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"kamishibai/internal/coordinator"
	"kamishibai/internal/provider"
	"kamishibai/internal/types"
)

// roleBehavior scripts one persona's streaming behavior, matched by a
// substring of its persona prompt.
type roleBehavior struct {
	chunks []string
	err    error // sent after chunks, truncating the stream
}

type personaCompleter struct {
	behaviors map[string]roleBehavior // persona-prompt substring -> behavior
	fallback  roleBehavior
}

func (p *personaCompleter) behaviorFor(req provider.Request) roleBehavior {
	for substr, b := range p.behaviors {
		if strings.Contains(req.SystemPrompt, substr) {
			return b
		}
	}
	return p.fallback
}

func (p *personaCompleter) Complete(ctx context.Context, req provider.Request) (*provider.Result, error) {
	b := p.behaviorFor(req)
	if b.err != nil && len(b.chunks) == 0 {
		return nil, b.err
	}
	return &provider.Result{Text: strings.Join(b.chunks, "")}, nil
}

func (p *personaCompleter) CompleteStream(ctx context.Context, req provider.Request) (<-chan string, <-chan error) {
	b := p.behaviorFor(req)
	contentChan := make(chan string, len(b.chunks)+1)
	errorChan := make(chan error, 1)
	for _, chunk := range b.chunks {
		contentChan <- chunk
	}
	if b.err != nil {
		errorChan <- b.err
	}
	close(contentChan)
	close(errorChan)
	return contentChan, errorChan
}

// Persona-prompt substrings for the roles used in these tests.
const (
	psychMark = "clinical child psychologist"
	pedMark   = "pediatrician"
	synthMark = "merge several experts"
)

func newTestAggregator(behaviors map[string]roleBehavior, fallback roleBehavior) *Aggregator {
	completer := &personaCompleter{behaviors: behaviors, fallback: fallback}
	return New(coordinator.New(completer, 500))
}

func downErr() error {
	return types.NewProviderError(types.ProviderTimeout, 0, "down", nil)
}

func TestQuickStreamsSingleRole(t *testing.T) {
	defer goleak.VerifyNone(t,
		// Started by go.opencensus.io/stats/view's package init (pulled in
		// transitively); it can never be stopped by the code under test.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)

	a := newTestAggregator(map[string]roleBehavior{
		pedMark: {chunks: []string{"水分を", "とらせて"}},
	}, roleBehavior{chunks: []string{"generic"}})

	contentChan, errorChan, sess := a.Quick(context.Background(), "熱があります", "", coordinator.RolePediatrician)

	var sb strings.Builder
	for chunk := range contentChan {
		sb.WriteString(chunk)
	}
	if err, ok := <-errorChan; ok && err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sb.String() != "水分をとらせて" {
		t.Errorf("unexpected quick answer %q", sb.String())
	}

	// Quick keeps the same one-role bookkeeping the other modes do.
	if len(sess.RoleOrder) != 1 || sess.RoleOrder[0] != coordinator.RolePediatrician {
		t.Errorf("unexpected quick session role order %v", sess.RoleOrder)
	}
	if sess.Status() != types.AggregationComplete {
		t.Errorf("expected complete quick session, got %s", sess.Status())
	}
}

func TestQuickUnknownRoleFailsHard(t *testing.T) {
	defer goleak.VerifyNone(t,
		// Started by go.opencensus.io/stats/view's package init (pulled in
		// transitively); it can never be stopped by the code under test.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)

	a := newTestAggregator(nil, roleBehavior{chunks: []string{"x"}})
	contentChan, errorChan, sess := a.Quick(context.Background(), "q", "", "astrologer")

	for range contentChan {
		t.Error("expected no content for unknown role")
	}
	if err := <-errorChan; err == nil {
		t.Fatal("expected hard error for unknown role")
	}
	if sess.Status() != types.AggregationFailed {
		t.Errorf("expected failed quick session, got %s", sess.Status())
	}
}

func TestSequentialStrictEventOrder(t *testing.T) {
	defer goleak.VerifyNone(t,
		// Started by go.opencensus.io/stats/view's package init (pulled in
		// transitively); it can never be stopped by the code under test.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)

	a := newTestAggregator(map[string]roleBehavior{
		psychMark: {chunks: []string{"p1", "p2"}},
		pedMark:   {chunks: []string{"m1"}},
	}, roleBehavior{chunks: []string{"x"}})

	roleOrder := []string{coordinator.RoleClinicalPsychologist, coordinator.RolePediatrician}
	events, sess := a.Sequential(context.Background(), "question", "", roleOrder)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}

	want := []Event{
		{Kind: EventRoleStart, RoleID: coordinator.RoleClinicalPsychologist},
		{Kind: EventChunk, RoleID: coordinator.RoleClinicalPsychologist, Text: "p1"},
		{Kind: EventChunk, RoleID: coordinator.RoleClinicalPsychologist, Text: "p2"},
		{Kind: EventRoleEnd, RoleID: coordinator.RoleClinicalPsychologist},
		{Kind: EventRoleStart, RoleID: coordinator.RolePediatrician},
		{Kind: EventChunk, RoleID: coordinator.RolePediatrician, Text: "m1"},
		{Kind: EventRoleEnd, RoleID: coordinator.RolePediatrician},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("event stream mismatch (-want +got):\n%s", diff)
	}

	if sess.Status() != types.AggregationComplete {
		t.Errorf("expected complete session, got %s", sess.Status())
	}
}

// A role failing mid-stream truncates its own output only: role-end still
// fires and the remaining roles run to completion.
func TestSequentialFailingRoleIsIsolated(t *testing.T) {
	defer goleak.VerifyNone(t,
		// Started by go.opencensus.io/stats/view's package init (pulled in
		// transitively); it can never be stopped by the code under test.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)

	a := newTestAggregator(map[string]roleBehavior{
		psychMark: {chunks: []string{"partial"}, err: downErr()},
		pedMark:   {chunks: []string{"full answer"}},
	}, roleBehavior{chunks: []string{"x"}})

	roleOrder := []string{coordinator.RoleClinicalPsychologist, coordinator.RolePediatrician}
	events, sess := a.Sequential(context.Background(), "question", "", roleOrder)

	perRole := map[string][]EventKind{}
	for ev := range events {
		perRole[ev.RoleID] = append(perRole[ev.RoleID], ev.Kind)
	}

	psych := perRole[coordinator.RoleClinicalPsychologist]
	if psych[len(psych)-1] != EventRoleEnd {
		t.Error("failed role did not close with role-end")
	}

	ped := perRole[coordinator.RolePediatrician]
	wantPed := []EventKind{EventRoleStart, EventChunk, EventRoleEnd}
	if len(ped) != len(wantPed) {
		t.Fatalf("surviving role events: %v", ped)
	}
	for i := range wantPed {
		if ped[i] != wantPed[i] {
			t.Errorf("surviving role event %d = %s, want %s", i, ped[i], wantPed[i])
		}
	}

	if sess.Status() != types.AggregationComplete {
		t.Errorf("one surviving role should complete the session, got %s", sess.Status())
	}
}

func TestSequentialAllRolesFail(t *testing.T) {
	defer goleak.VerifyNone(t,
		// Started by go.opencensus.io/stats/view's package init (pulled in
		// transitively); it can never be stopped by the code under test.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)

	a := newTestAggregator(nil, roleBehavior{err: downErr()})

	roleOrder := []string{coordinator.RoleClinicalPsychologist, coordinator.RolePediatrician}
	events, sess := a.Sequential(context.Background(), "question", "", roleOrder)

	for ev := range events {
		if ev.Kind == EventChunk {
			t.Errorf("unexpected chunk from failed role %s", ev.RoleID)
		}
	}
	if sess.Status() != types.AggregationFailed {
		t.Errorf("expected failed session, got %s", sess.Status())
	}
}

// Status and cursor stay readable while the producer is still streaming;
// the values observed mid-stream are always coherent lifecycle states.
func TestSequentialStatusReadableMidStream(t *testing.T) {
	defer goleak.VerifyNone(t,
		// Started by go.opencensus.io/stats/view's package init (pulled in
		// transitively); it can never be stopped by the code under test.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)

	a := newTestAggregator(map[string]roleBehavior{
		psychMark: {chunks: []string{"p1"}},
		pedMark:   {chunks: []string{"m1"}},
	}, roleBehavior{chunks: []string{"x"}})

	roleOrder := []string{coordinator.RoleClinicalPsychologist, coordinator.RolePediatrician}
	events, sess := a.Sequential(context.Background(), "question", "", roleOrder)

	for range events {
		switch st := sess.Status(); st {
		case types.AggregationPending, types.AggregationRoleActive,
			types.AggregationComplete, types.AggregationFailed:
		default:
			t.Fatalf("incoherent mid-stream status %q", st)
		}
		if c := sess.Cursor(); c < 0 || c > len(roleOrder) {
			t.Fatalf("cursor %d out of range mid-stream", c)
		}
	}
	if sess.Status() != types.AggregationComplete {
		t.Errorf("expected complete session after close, got %s", sess.Status())
	}
	if sess.CurrentRole() != "" {
		t.Errorf("cursor should be exhausted after close, got %q", sess.CurrentRole())
	}
}

func TestComprehensiveSynthesizesSubset(t *testing.T) {
	defer goleak.VerifyNone(t,
		// Started by go.opencensus.io/stats/view's package init (pulled in
		// transitively); it can never be stopped by the code under test.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)

	var synthesisPrompt string
	completer := &capturingCompleter{
		inner: &personaCompleter{
			behaviors: map[string]roleBehavior{
				psychMark: {chunks: []string{"安心させることが大切です"}},
				pedMark:   {err: downErr()},
				synthMark: {chunks: []string{"まとめ: ", "安心させましょう"}},
			},
			fallback: roleBehavior{err: downErr()},
		},
		onStream: func(req provider.Request) {
			if strings.Contains(req.SystemPrompt, synthMark) {
				synthesisPrompt = req.UserPrompt
			}
		},
	}
	a := New(coordinator.New(completer, 500))

	roleOrder := []string{coordinator.RoleClinicalPsychologist, coordinator.RolePediatrician}
	contentChan, errorChan := a.Comprehensive(context.Background(), "夜泣きが続きます", "", roleOrder)

	var sb strings.Builder
	for chunk := range contentChan {
		sb.WriteString(chunk)
	}
	if err, ok := <-errorChan; ok && err != nil {
		t.Fatalf("subset failure must not fail the request: %v", err)
	}
	if sb.String() != "まとめ: 安心させましょう" {
		t.Errorf("unexpected synthesis %q", sb.String())
	}

	// The synthesis prompt carries the surviving expert's answer and name,
	// and nothing from the failed expert.
	if !strings.Contains(synthesisPrompt, "安心させることが大切です") {
		t.Error("synthesis prompt missing the surviving answer")
	}
	if !strings.Contains(synthesisPrompt, "Clinical Psychologist") {
		t.Error("synthesis prompt missing the surviving expert's name")
	}
	if strings.Contains(synthesisPrompt, "Pediatrician") {
		t.Error("failed expert leaked into the synthesis prompt")
	}
}

func TestComprehensiveAllRolesFailIsHardError(t *testing.T) {
	defer goleak.VerifyNone(t,
		// Started by go.opencensus.io/stats/view's package init (pulled in
		// transitively); it can never be stopped by the code under test.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)

	a := newTestAggregator(nil, roleBehavior{err: downErr()})

	roleOrder := []string{coordinator.RoleClinicalPsychologist, coordinator.RolePediatrician}
	contentChan, errorChan := a.Comprehensive(context.Background(), "question", "", roleOrder)

	for range contentChan {
		t.Error("expected no content when every role fails")
	}
	if err := <-errorChan; err == nil {
		t.Fatal("expected hard error when every role fails")
	}
}

// capturingCompleter wraps another completer and reports stream requests.
type capturingCompleter struct {
	inner    provider.Completer
	onStream func(provider.Request)
}

func (c *capturingCompleter) Complete(ctx context.Context, req provider.Request) (*provider.Result, error) {
	return c.inner.Complete(ctx, req)
}

func (c *capturingCompleter) CompleteStream(ctx context.Context, req provider.Request) (<-chan string, <-chan error) {
	if c.onStream != nil {
		c.onStream(req)
	}
	return c.inner.CompleteStream(ctx, req)
}
