// Package session owns per-session mutable state: the progression cursor,
// the epoch counter, and the render-consistency cache. A Session is an
// explicit handle passed into content acquisition, never ambient global
// state, and is never shared across sessions.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"kamishibai/internal/logging"
	"kamishibai/internal/pipeline"
	"kamishibai/internal/types"
)

// Session tracks one user's progression through an event's scenes. The
// epoch counter advances on exactly two transitions, Advance and Reset,
// which are also the only points that invalidate the render cache.
type Session struct {
	ID string

	mu       sync.Mutex
	eventID  string
	sceneIdx int
	epoch    int

	render   *RenderCache
	pipeline *pipeline.Pipeline
}

// New creates a session over the given pipeline.
func New(p *pipeline.Pipeline) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		render:   NewRenderCache(),
		pipeline: p,
	}
	logging.Session("session %s created", s.ID)
	return s
}

// epochNamespace names the current epoch. The counter makes a revisited
// instance a fresh epoch rather than resurrecting old memoized content.
func (s *Session) epochNamespace() string {
	return fmt.Sprintf("epoch%d", s.epoch)
}

// Select enters an event at its first scene. Counts as an epoch transition
// of the reset kind when a previous instance was active.
func (s *Session) Select(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.render.Invalidate(s.epochNamespace() + "|")
	s.epoch++
	s.eventID = eventID
	s.sceneIdx = 0
	logging.Session("session %s selected event %s (epoch %d)", s.ID, eventID, s.epoch)
}

// Current returns the active event and scene index.
func (s *Session) Current() (eventID string, sceneIdx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventID, s.sceneIdx
}

// CurrentInstanceKey returns the instance key the user is looking at,
// or "" outside an event.
func (s *Session) CurrentInstanceKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%d", s.eventID, s.sceneIdx)
}

// GetContent acquires content for the current epoch. Within one epoch every
// call for the same (category, instanceKey) returns the identical unit,
// independent of the request's variation/force flags.
func (s *Session) GetContent(ctx context.Context, req types.ContentRequest) (types.GeneratedContent, error) {
	s.mu.Lock()
	ns := s.epochNamespace()
	s.mu.Unlock()

	return s.render.GetOrCreate(ctx, ns, req.Category, req.InstanceKey,
		func(ctx context.Context) (types.GeneratedContent, error) {
			return s.pipeline.GetContent(ctx, req)
		})
}

// Advance moves to the next scene. Epoch transition: memoized content for
// the instance being left is bulk-invalidated.
func (s *Session) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.render.Invalidate(s.epochNamespace() + "|")
	s.epoch++
	s.sceneIdx++
	logging.Session("session %s advanced to %s/%d (epoch %d)", s.ID, s.eventID, s.sceneIdx, s.epoch)
}

// Reset returns to the selection screen. Epoch transition.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.render.Invalidate(s.epochNamespace() + "|")
	s.epoch++
	s.eventID = ""
	s.sceneIdx = 0
	logging.Session("session %s reset (epoch %d)", s.ID, s.epoch)
}

// NewAggregation creates the bookkeeping record for one advisory run.
func (s *Session) NewAggregation(roleOrder []string) *types.AggregationSession {
	return types.NewAggregationSession(uuid.NewString(), roleOrder)
}
