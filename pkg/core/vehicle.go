// pkg/core/vehicle.go
package core

import (
	"math"
	"strings"
	"time"
)

// VehicleType is the normalized transit mode of a vehicle.
type VehicleType string

const (
	VehicleMetro    VehicleType = "metro"
	VehicleTram     VehicleType = "tram"
	VehicleBus      VehicleType = "bus"
	VehicleNightBus VehicleType = "nightbus"
	VehicleUnknown  VehicleType = "unknown"
)

// VehicleTypes lists every known type except unknown.
var VehicleTypes = []VehicleType{VehicleMetro, VehicleTram, VehicleBus, VehicleNightBus}

var vehicleTypeAliases = map[string]VehicleType{
	"metro":      VehicleMetro,
	"u-bahn":     VehicleMetro,
	"ptmetro":    VehicleMetro,
	"tram":       VehicleTram,
	"pttram":     VehicleTram,
	"bus":        VehicleBus,
	"ptbus":      VehicleBus,
	"nightbus":   VehicleNightBus,
	"night":      VehicleNightBus,
	"night_bus":  VehicleNightBus,
	"ptnightbus": VehicleNightBus,
}

// NormalizeVehicleType maps feed spellings ("U-Bahn", "ptTram", "night", ...)
// onto a VehicleType. Anything unrecognised is VehicleUnknown.
func NormalizeVehicleType(s string) VehicleType {
	if t, ok := vehicleTypeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return VehicleUnknown
}

// Position is a WGS84 coordinate in degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both components are finite and within range.
func (p Position) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// VehicleRecord is one vehicle as reported by a single snapshot.
// ID may be empty when the upstream feed does not supply one.
type VehicleRecord struct {
	ID          string      `json:"id,omitempty"`
	Type        VehicleType `json:"type"`
	Coordinates Position    `json:"coordinates"`
	Bearing     *float64    `json:"bearing,omitempty"`
	RouteID     string      `json:"routeId,omitempty"`
	Speed       *float64    `json:"speed,omitempty"`
	Label       string      `json:"label,omitempty"`
	Destination string      `json:"destination,omitempty"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

// BearingOrZero returns the record bearing normalized to [0,360), or 0 when absent.
func (r VehicleRecord) BearingOrZero() float64 {
	if r.Bearing == nil || math.IsNaN(*r.Bearing) || math.IsInf(*r.Bearing, 0) {
		return 0
	}
	b := math.Mod(*r.Bearing, 360)
	if b < 0 {
		b += 360
	}
	return b
}

// Snapshot is the set of records received at one point in time.
type Snapshot struct {
	Records    []VehicleRecord
	Rejected   []Rejection
	ReceivedAt time.Time
	// Partial marks a delta; absence of an identity does not mean removal.
	Partial bool
	// Removed lists identities a delta explicitly retires.
	Removed []string
}

// Rejection records why an input element never reached reconciliation.
type Rejection struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}
