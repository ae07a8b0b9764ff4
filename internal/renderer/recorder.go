package renderer

import (
	"sync"

	"github.com/transitlive/livemap/pkg/core"
)

// Recorder is a headless Renderer that keeps every call as an instruction.
type Recorder struct {
	mu    sync.Mutex
	calls []core.Instruction
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(in core.Instruction) {
	r.mu.Lock()
	r.calls = append(r.calls, in)
	r.mu.Unlock()
}

func (r *Recorder) PlaceMarker(id string, pos core.Position, bearing float64, style core.MarkerStyle) {
	r.add(core.Instruction{Op: core.OpPlaceMarker, Identity: id, Position: pos, Bearing: bearing, Style: style})
}

func (r *Recorder) MoveMarker(id string, pos core.Position, bearing float64) {
	r.add(core.Instruction{Op: core.OpMoveMarker, Identity: id, Position: pos, Bearing: bearing})
}

func (r *Recorder) RemoveMarker(id string) {
	r.add(core.Instruction{Op: core.OpRemoveMarker, Identity: id})
}

func (r *Recorder) SetTrail(id string, trail []core.Position) {
	r.add(core.Instruction{Op: core.OpSetTrail, Identity: id, Trail: append([]core.Position(nil), trail...)})
}

func (r *Recorder) ClearTrail(id string) {
	r.add(core.Instruction{Op: core.OpClearTrail, Identity: id})
}

// Instructions returns a copy of everything recorded.
func (r *Recorder) Instructions() []core.Instruction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Instruction(nil), r.calls...)
}

// Take returns the recorded instructions and forgets them.
func (r *Recorder) Take() []core.Instruction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.calls
	r.calls = nil
	return out
}
