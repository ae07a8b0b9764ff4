package core

// Op is a render instruction kind.
type Op string

const (
	OpPlaceMarker  Op = "place_marker"
	OpMoveMarker   Op = "move_marker"
	OpRemoveMarker Op = "remove_marker"
	OpSetTrail     Op = "set_trail"
	OpClearTrail   Op = "clear_trail"
)

// Instruction tells a renderer what to change for one vehicle.
// Position/Bearing apply to marker ops, Trail to set_trail.
type Instruction struct {
	Op       Op          `json:"op"`
	Identity string      `json:"identity"`
	Position Position    `json:"position,omitempty"`
	Bearing  float64     `json:"bearing,omitempty"`
	Style    MarkerStyle `json:"style,omitempty"`
	Trail    []Position  `json:"trail,omitempty"`
}

// MarkerStyle carries what a renderer needs to draw a vehicle marker.
type MarkerStyle struct {
	Type  VehicleType `json:"type,omitempty"`
	Label string      `json:"label,omitempty"`
	Icon  string      `json:"icon,omitempty"`
	Color string      `json:"color,omitempty"`
}

var vehicleIcons = map[VehicleType]string{
	VehicleMetro:    "fa-train",
	VehicleTram:     "fa-train-tram",
	VehicleBus:      "fa-bus",
	VehicleNightBus: "fa-moon",
}

var vehicleColors = map[VehicleType]string{
	VehicleMetro:    "#c70f3e",
	VehicleTram:     "#f39200",
	VehicleBus:      "#0067b1",
	VehicleNightBus: "#1a1a1a",
}

const (
	defaultIcon  = "fa-car"
	defaultColor = "#666666"
)

// StyleFor derives the marker style of a record.
func StyleFor(r VehicleRecord) MarkerStyle {
	s := MarkerStyle{Type: r.Type, Label: r.Label, Icon: defaultIcon, Color: defaultColor}
	if icon, ok := vehicleIcons[r.Type]; ok {
		s.Icon = icon
	}
	if color, ok := vehicleColors[r.Type]; ok {
		s.Color = color
	}
	if s.Label == "" {
		s.Label = r.RouteID
	}
	return s
}
