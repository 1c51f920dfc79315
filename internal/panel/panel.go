// Package panel runs multi-role advisory completions and merges them into
// one of three response shapes: quick (one role, streamed), sequential
// (every role streamed in declared order), and comprehensive (all roles
// gathered, one synthesis streamed). It reuses the coordinator's completion
// primitive and adds failure isolation between roles.
package panel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kamishibai/internal/coordinator"
	"kamishibai/internal/logging"
	"kamishibai/internal/types"
)

// EventKind tags one element of a sequential event stream.
type EventKind string

const (
	EventRoleStart EventKind = "role-start"
	EventChunk     EventKind = "chunk"
	EventRoleEnd   EventKind = "role-end"
)

// Event is one element of a sequential advisory stream.
type Event struct {
	Kind   EventKind
	RoleID string
	Text   string
}

// Aggregator fans a question out to persona roles. Safe for concurrent use;
// each call creates its own AggregationSession.
type Aggregator struct {
	coord *coordinator.Coordinator
}

// New creates an aggregator over the coordinator.
func New(coord *coordinator.Coordinator) *Aggregator {
	return &Aggregator{coord: coord}
}

// newSession builds the per-run bookkeeping record.
func newSession(roleOrder []string) *types.AggregationSession {
	return types.NewAggregationSession(uuid.NewString(), roleOrder)
}

// buildExpertPrompt frames the question for one persona.
func buildExpertPrompt(question, qcontext string) string {
	var sb strings.Builder
	sb.WriteString("A parent asks:\n")
	sb.WriteString(question)
	if strings.TrimSpace(qcontext) != "" {
		sb.WriteString("\n\nContext about the family and situation:\n")
		sb.WriteString(qcontext)
	}
	sb.WriteString("\n\nAnswer from your own professional perspective, in the language of the question.")
	return sb.String()
}

// Quick streams a single designated role's answer chunk-by-chunk. The one
// case where a role failure is a hard failure for the caller. The returned
// session is the one-role bookkeeping record; it is settled once both
// channels close.
func (a *Aggregator) Quick(ctx context.Context, question, qcontext, roleID string) (<-chan string, <-chan error, *types.AggregationSession) {
	sess := newSession([]string{roleID})
	sess.SetStatus(types.AggregationRoleActive)
	logging.Panel("quick answer via %s (session %s)", roleID, sess.ID)

	out := make(chan string, 100)
	errs := make(chan error, 1)
	contentChan, errorChan := a.coord.RequestCompletionStream(ctx, roleID, buildExpertPrompt(question, qcontext))

	go func() {
		defer close(out)
		defer close(errs)
		for contentChan != nil || errorChan != nil {
			select {
			case chunk, ok := <-contentChan:
				if !ok {
					contentChan = nil
					continue
				}
				out <- chunk
			case err, ok := <-errorChan:
				if !ok {
					errorChan = nil
					continue
				}
				if err != nil {
					sess.SetStatus(types.AggregationFailed)
					errs <- err
					return
				}
			}
		}
		sess.SetStatus(types.AggregationComplete)
		sess.SetCursor(1)
	}()

	return out, errs, sess
}

// Sequential streams each role's answer fully before the next role begins.
// The stream is strictly role-start, chunk*, role-end per role in declared
// order, never interleaved. A role failing mid-stream truncates its output
// and emits role-end early; the remaining roles still run. The returned
// session's status and cursor are readable at any point while the stream
// runs and settle once the event channel closes.
func (a *Aggregator) Sequential(ctx context.Context, question, qcontext string, roleOrder []string) (<-chan Event, *types.AggregationSession) {
	events := make(chan Event)
	sess := newSession(roleOrder)
	prompt := buildExpertPrompt(question, qcontext)

	go func() {
		defer close(events)

		anySucceeded := false
		for i, roleID := range roleOrder {
			sess.SetCursor(i)
			sess.SetStatus(types.AggregationRoleActive)
			logging.Panel("sequential: role %d/%d %s", i+1, len(roleOrder), roleID)

			events <- Event{Kind: EventRoleStart, RoleID: roleID}

			contentChan, errorChan := a.coord.RequestCompletionStream(ctx, roleID, prompt)
			emitted := false
			failed := false

		stream:
			for contentChan != nil || errorChan != nil {
				select {
				case chunk, ok := <-contentChan:
					if !ok {
						contentChan = nil
						continue
					}
					emitted = true
					events <- Event{Kind: EventChunk, RoleID: roleID, Text: chunk}
				case err, ok := <-errorChan:
					if !ok {
						errorChan = nil
						continue
					}
					if err != nil {
						// Truncate this role, keep the panel going.
						logging.Get(logging.CategoryPanel).Warn("role %s failed mid-stream: %v", roleID, err)
						failed = true
						break stream
					}
				}
			}
			if emitted && !failed {
				anySucceeded = true
			}

			events <- Event{Kind: EventRoleEnd, RoleID: roleID}
		}

		if anySucceeded {
			sess.SetStatus(types.AggregationComplete)
		} else {
			sess.SetStatus(types.AggregationFailed)
		}
		sess.SetCursor(len(roleOrder))
		logging.Panel("sequential: finished session %s (%s)", sess.ID, sess.Status())
	}()

	return events, sess
}

// roleAnswer is one gathered expert answer for synthesis.
type roleAnswer struct {
	roleID string
	text   string
}

// Comprehensive obtains every role's answer first (internally concurrent;
// not observable), then streams a single synthesis completion built from
// the successful subset. All roles failing is a hard failure; a subset
// failing is tolerated.
func (a *Aggregator) Comprehensive(ctx context.Context, question, qcontext string, roleOrder []string) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		sess := newSession(roleOrder)
		sess.SetStatus(types.AggregationRoleActive)
		prompt := buildExpertPrompt(question, qcontext)

		answers := make([]roleAnswer, len(roleOrder))
		var mu sync.Mutex

		g, gctx := errgroup.WithContext(ctx)
		for i, roleID := range roleOrder {
			g.Go(func() error {
				completion, err := a.coord.RequestCompletion(gctx, roleID, prompt)
				if err != nil {
					// Isolated: a failed expert just contributes nothing.
					logging.Get(logging.CategoryPanel).Warn("role %s failed during gathering: %v", roleID, err)
					return nil
				}
				mu.Lock()
				answers[i] = roleAnswer{roleID: roleID, text: completion.Text}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait() // role errors are absorbed above

		succeeded := make([]roleAnswer, 0, len(answers))
		for _, ans := range answers {
			if ans.text != "" {
				succeeded = append(succeeded, ans)
			}
		}
		if len(succeeded) == 0 {
			sess.SetStatus(types.AggregationFailed)
			errorChan <- fmt.Errorf("all %d roles failed, nothing to synthesize", len(roleOrder))
			return
		}
		logging.Panel("comprehensive: %d/%d roles answered, synthesizing", len(succeeded), len(roleOrder))

		synthChan, synthErrChan := a.coord.RequestCompletionStream(ctx, coordinator.RoleSynthesizer,
			buildSynthesisPrompt(question, succeeded))

		for synthChan != nil || synthErrChan != nil {
			select {
			case chunk, ok := <-synthChan:
				if !ok {
					synthChan = nil
					continue
				}
				contentChan <- chunk
			case err, ok := <-synthErrChan:
				if !ok {
					synthErrChan = nil
					continue
				}
				if err != nil {
					sess.SetStatus(types.AggregationFailed)
					errorChan <- err
					return
				}
			}
		}

		sess.SetStatus(types.AggregationComplete)
		sess.SetCursor(len(roleOrder))
	}()

	return contentChan, errorChan
}

// buildSynthesisPrompt concatenates the successful answers as context.
func buildSynthesisPrompt(question string, answers []roleAnswer) string {
	var sb strings.Builder
	sb.WriteString("A parent asked:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nThe experts answered:\n")
	for _, ans := range answers {
		role, err := coordinator.LookupRole(ans.roleID)
		name := ans.roleID
		if err == nil {
			name = role.Name
		}
		sb.WriteString("\n--- ")
		sb.WriteString(name)
		sb.WriteString(" ---\n")
		sb.WriteString(ans.text)
		sb.WriteString("\n")
	}
	sb.WriteString("\nMerge these answers into one response for the parent, in the language of the question.")
	return sb.String()
}
