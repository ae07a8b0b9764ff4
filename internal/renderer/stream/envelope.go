package stream

import (
	"encoding/json"
	"fmt"

	"github.com/transitlive/livemap/internal/geo"
	"github.com/transitlive/livemap/pkg/core"
)

// Message types sent to browsers.
const (
	TypeScene        = "scene"
	TypeInstructions = "instructions"
	TypeStatus       = "status"
)

// Command types accepted from browsers.
const (
	CommandSetActive  = "set_active"
	CommandToggleType = "toggle_type"
	CommandDismiss    = "dismiss"
)

// Envelope wraps all messages sent over the socket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a user action coming back from a browser.
type Command struct {
	Type        string `json:"type"`
	Identity    string `json:"identity,omitempty"`
	VehicleType string `json:"vehicleType,omitempty"`
	Active      bool   `json:"active"`
}

// Projection names the coordinate system positions are sent in.
type Projection string

const (
	EPSG4326 Projection = "4326"
	EPSG3857 Projection = "3857"
)

type batch struct {
	CRS          string            `json:"crs"`
	Instructions []wireInstruction `json:"instructions"`
}

// wireInstruction carries positions as [lat, lng] in EPSG:4326 and as
// [x, y] meters in EPSG:3857.
type wireInstruction struct {
	Op       core.Op           `json:"op"`
	Identity string            `json:"identity"`
	Position []float64         `json:"position,omitempty"`
	Bearing  float64           `json:"bearing,omitempty"`
	Style    *core.MarkerStyle `json:"style,omitempty"`
	Trail    [][]float64       `json:"trail,omitempty"`
}

func (p Projection) point(pos core.Position) []float64 {
	if p == EPSG3857 {
		xy := geo.WebMercator(pos)
		return []float64{xy.X, xy.Y}
	}
	return []float64{pos.Lat, pos.Lng}
}

func (p Projection) crs() string {
	if p == EPSG3857 {
		return "EPSG:3857"
	}
	return "EPSG:4326"
}

func (p Projection) wire(in core.Instruction) wireInstruction {
	w := wireInstruction{Op: in.Op, Identity: in.Identity}
	switch in.Op {
	case core.OpPlaceMarker:
		style := in.Style
		w.Style = &style
		fallthrough
	case core.OpMoveMarker:
		w.Position = p.point(in.Position)
		w.Bearing = in.Bearing
	case core.OpSetTrail:
		w.Trail = make([][]float64, 0, len(in.Trail))
		for _, pos := range in.Trail {
			w.Trail = append(w.Trail, p.point(pos))
		}
	}
	return w
}

func (p Projection) encode(msgType string, ins []core.Instruction) ([]byte, error) {
	b := batch{CRS: p.crs(), Instructions: make([]wireInstruction, 0, len(ins))}
	for _, in := range ins {
		b.Instructions = append(b.Instructions, p.wire(in))
	}
	return marshalEnvelope(msgType, b)
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}
