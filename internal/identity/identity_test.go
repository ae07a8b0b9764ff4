package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitlive/livemap/pkg/core"
)

func TestResolve_ExplicitIDVerbatim(t *testing.T) {
	r := NewGridResolver(0)
	id, err := r.Resolve(core.VehicleRecord{ID: "5A", Type: core.VehicleTram})
	require.NoError(t, err)
	assert.Equal(t, Identity{Key: "5A"}, id)
	assert.False(t, IsDerived(id.Key))
}

func TestResolve_ExplicitIDKeepsSurroundingSpace(t *testing.T) {
	r := NewGridResolver(0)
	id, err := r.Resolve(core.VehicleRecord{ID: " 5A ", Type: core.VehicleTram})
	require.NoError(t, err)
	assert.Equal(t, " 5A ", id.Key)
	assert.False(t, id.Derived)

	other, err := r.Resolve(core.VehicleRecord{ID: "5A", Type: core.VehicleTram})
	require.NoError(t, err)
	assert.NotEqual(t, id.Key, other.Key)
}

func TestResolve_BlankIDIsDerived(t *testing.T) {
	r := NewGridResolver(0.001)
	id, err := r.Resolve(core.VehicleRecord{
		ID:          " \t ",
		Type:        core.VehicleBus,
		RouteID:     "13A",
		Coordinates: core.Position{Lat: 48.2, Lng: 16.35},
	})
	require.NoError(t, err)
	assert.True(t, id.Derived)
	assert.True(t, IsDerived(id.Key))

	_, err = r.Resolve(core.VehicleRecord{ID: "   ", Type: core.VehicleBus, Coordinates: core.Position{Lat: 91}})
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestResolve_DerivedIgnoresLastUpdated(t *testing.T) {
	r := NewGridResolver(0.001)
	base := core.VehicleRecord{
		Type:        core.VehicleTram,
		RouteID:     "D",
		Coordinates: core.Position{Lat: 48.21012, Lng: 16.37034},
		LastUpdated: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	next := base
	next.LastUpdated = base.LastUpdated.Add(30 * time.Second)
	next.Coordinates = core.Position{Lat: 48.21018, Lng: 16.37041}

	a, err := r.Resolve(base)
	require.NoError(t, err)
	b, err := r.Resolve(next)
	require.NoError(t, err)

	assert.True(t, a.Derived)
	assert.True(t, IsDerived(a.Key))
	assert.Equal(t, "tram|D", a.Group)
	assert.Equal(t, a, b)
}

func TestResolve_DerivedDistinguishesRouteAndCell(t *testing.T) {
	r := NewGridResolver(0.001)
	rec := core.VehicleRecord{Type: core.VehicleBus, RouteID: "13A", Coordinates: core.Position{Lat: 48.2, Lng: 16.35}}

	a, err := r.Resolve(rec)
	require.NoError(t, err)

	otherRoute := rec
	otherRoute.RouteID = "14A"
	b, err := r.Resolve(otherRoute)
	require.NoError(t, err)
	assert.NotEqual(t, a.Key, b.Key)

	farAway := rec
	farAway.Coordinates.Lat += 0.01
	c, err := r.Resolve(farAway)
	require.NoError(t, err)
	assert.NotEqual(t, a.Key, c.Key)
	assert.Equal(t, a.Group, c.Group)
}

func TestResolve_Unresolvable(t *testing.T) {
	r := NewGridResolver(0)
	cases := map[string]core.VehicleRecord{
		"no fields":        {},
		"unknown no route": {Type: core.VehicleUnknown, Coordinates: core.Position{Lat: 48, Lng: 16}},
		"bad coordinates":  {Type: core.VehicleBus, RouteID: "13A", Coordinates: core.Position{Lat: 200, Lng: 16}},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(rec)
			assert.ErrorIs(t, err, ErrUnresolvable)
		})
	}
}

func TestNewGridResolver_DefaultsGrid(t *testing.T) {
	assert.Equal(t, DefaultGridDegrees, NewGridResolver(-1).GridDegrees)
	assert.Equal(t, 0.01, NewGridResolver(0.01).GridDegrees)
}
