// Package identity maps vehicle records onto stable tracking keys.
package identity

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/transitlive/livemap/pkg/core"
)

// DefaultGridDegrees is the derivation cell size, roughly 110m of latitude.
const DefaultGridDegrees = 0.001

const derivedPrefix = "derived:"

// ErrUnresolvable is returned when a record carries no id and nothing to derive one from.
var ErrUnresolvable = errors.New("vehicle identity cannot be resolved")

// Identity is the tracking key of a vehicle. Derived is set when the feed
// supplied no id and Key was synthesized from stable fields; Group then holds
// the type/route part shared by all derived keys of the same line.
type Identity struct {
	Key     string
	Derived bool
	Group   string
}

func (i Identity) String() string { return i.Key }

// Resolver turns a record into its identity.
type Resolver interface {
	Resolve(r core.VehicleRecord) (Identity, error)
}

// GridResolver returns explicit ids verbatim and derives the rest from
// type, route and the grid cell of the record's coordinates.
// The timestamp never takes part in derivation.
type GridResolver struct {
	GridDegrees float64
}

// NewGridResolver builds a GridResolver; non-positive grid sizes fall back to DefaultGridDegrees.
func NewGridResolver(gridDegrees float64) *GridResolver {
	if gridDegrees <= 0 || math.IsNaN(gridDegrees) || math.IsInf(gridDegrees, 0) {
		gridDegrees = DefaultGridDegrees
	}
	return &GridResolver{GridDegrees: gridDegrees}
}

// Resolve implements Resolver.
func (g *GridResolver) Resolve(r core.VehicleRecord) (Identity, error) {
	// Explicit ids are kept byte for byte; whitespace-only counts as absent.
	if strings.TrimSpace(r.ID) != "" {
		return Identity{Key: r.ID}, nil
	}
	if !r.Coordinates.Valid() {
		return Identity{}, fmt.Errorf("%w: no id and invalid coordinates", ErrUnresolvable)
	}
	route := strings.TrimSpace(r.RouteID)
	if (r.Type == "" || r.Type == core.VehicleUnknown) && route == "" {
		return Identity{}, fmt.Errorf("%w: no id, type or route", ErrUnresolvable)
	}

	group := GroupOf(r)
	grid := g.GridDegrees
	if grid <= 0 {
		grid = DefaultGridDegrees
	}
	latCell := int64(math.Floor(r.Coordinates.Lat / grid))
	lngCell := int64(math.Floor(r.Coordinates.Lng / grid))

	var b strings.Builder
	b.WriteString(derivedPrefix)
	b.WriteString(group)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(latCell, 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(lngCell, 10))
	return Identity{Key: b.String(), Derived: true, Group: group}, nil
}

// GroupOf returns the "type|route" part used to pair derived identities.
func GroupOf(r core.VehicleRecord) string {
	t := r.Type
	if t == "" {
		t = core.VehicleUnknown
	}
	return string(t) + "|" + strings.TrimSpace(r.RouteID)
}

// IsDerived reports whether key was synthesized by a GridResolver.
func IsDerived(key string) bool {
	return strings.HasPrefix(key, derivedPrefix)
}
