// Package cache holds what the map currently shows so late subscribers can
// be brought up to date without replaying every instruction.
package cache

import (
	"sort"
	"sync"

	"github.com/transitlive/livemap/pkg/core"
)

// Marker is one drawn vehicle marker.
type Marker struct {
	Position core.Position
	Bearing  float64
	Style    core.MarkerStyle
}

// Scene mirrors the renderer's markers and trails.
type Scene struct {
	mu      sync.RWMutex
	markers map[string]Marker
	trails  map[string][]core.Position
}

// NewScene creates an empty scene.
func NewScene() *Scene {
	return &Scene{
		markers: make(map[string]Marker),
		trails:  make(map[string][]core.Position),
	}
}

// Apply folds instructions into the scene.
func (s *Scene) Apply(ins ...core.Instruction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range ins {
		switch in.Op {
		case core.OpPlaceMarker:
			s.markers[in.Identity] = Marker{Position: in.Position, Bearing: in.Bearing, Style: in.Style}
		case core.OpMoveMarker:
			m, ok := s.markers[in.Identity]
			if !ok {
				// a move without a place is ignored, as a renderer would
				continue
			}
			m.Position = in.Position
			m.Bearing = in.Bearing
			s.markers[in.Identity] = m
		case core.OpRemoveMarker:
			delete(s.markers, in.Identity)
		case core.OpSetTrail:
			s.trails[in.Identity] = append([]core.Position(nil), in.Trail...)
		case core.OpClearTrail:
			delete(s.trails, in.Identity)
		}
	}
}

// Get returns the marker of identity.
func (s *Scene) Get(identity string) (Marker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markers[identity]
	return m, ok
}

// Trail returns the drawn trail of identity, nil when none.
func (s *Scene) Trail(identity string) []core.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trails[identity]
	if !ok {
		return nil
	}
	return append([]core.Position(nil), t...)
}

// Len returns the number of markers.
func (s *Scene) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.markers)
}

// Instructions rebuilds the scene as place_marker and set_trail
// instructions, ordered by identity.
func (s *Scene) Instructions() []core.Instruction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.markers))
	for id := range s.markers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	trailIDs := make([]string, 0, len(s.trails))
	for id := range s.trails {
		trailIDs = append(trailIDs, id)
	}
	sort.Strings(trailIDs)

	out := make([]core.Instruction, 0, len(ids)+len(trailIDs))
	for _, id := range ids {
		m := s.markers[id]
		out = append(out, core.Instruction{
			Op:       core.OpPlaceMarker,
			Identity: id,
			Position: m.Position,
			Bearing:  m.Bearing,
			Style:    m.Style,
		})
	}
	for _, id := range trailIDs {
		out = append(out, core.Instruction{
			Op:       core.OpSetTrail,
			Identity: id,
			Trail:    append([]core.Position(nil), s.trails[id]...),
		})
	}
	return out
}
