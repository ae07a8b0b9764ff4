// Package renderer defines the map-drawing collaborator and applies
// instruction lists to it.
package renderer

import (
	"github.com/transitlive/livemap/pkg/core"
)

// Renderer draws vehicle markers and trails.
type Renderer interface {
	PlaceMarker(identity string, pos core.Position, bearing float64, style core.MarkerStyle)
	MoveMarker(identity string, pos core.Position, bearing float64)
	RemoveMarker(identity string)
	SetTrail(identity string, trail []core.Position)
	ClearTrail(identity string)
}

// BatchRenderer takes a whole instruction list at once. Apply prefers it
// over per-call dispatch.
type BatchRenderer interface {
	Renderer
	ApplyBatch(ins []core.Instruction)
}

// Apply executes instructions in order.
func Apply(r Renderer, ins []core.Instruction) {
	if r == nil || len(ins) == 0 {
		return
	}
	if b, ok := r.(BatchRenderer); ok {
		b.ApplyBatch(ins)
		return
	}
	for _, in := range ins {
		applyOne(r, in)
	}
}

func applyOne(r Renderer, in core.Instruction) {
	switch in.Op {
	case core.OpPlaceMarker:
		r.PlaceMarker(in.Identity, in.Position, in.Bearing, in.Style)
	case core.OpMoveMarker:
		r.MoveMarker(in.Identity, in.Position, in.Bearing)
	case core.OpRemoveMarker:
		r.RemoveMarker(in.Identity)
	case core.OpSetTrail:
		r.SetTrail(in.Identity, in.Trail)
	case core.OpClearTrail:
		r.ClearTrail(in.Identity)
	}
}
