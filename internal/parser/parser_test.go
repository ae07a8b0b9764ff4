package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitlive/livemap/pkg/core"
)

var fixedNow = time.Date(2025, 6, 26, 14, 0, 0, 0, time.UTC)

func newTestParser() *Parser {
	return New(nil).WithClock(func() time.Time { return fixedNow })
}

func TestParseSnapshot_BareArray(t *testing.T) {
	snap, err := newTestParser().ParseSnapshot([]byte(`[
		{"id":"5A","type":"tram","lat":48.21,"lng":16.37,"bearing":90,"routeId":"5","lastUpdated":"2025-06-26T13:59:58Z"},
		{"type":"bus","coordinates":[48.2, 16.4],"line":"13A","direction":"Hauptbahnhof","speed":"32.5"}
	]`))
	require.NoError(t, err)

	assert.Equal(t, fixedNow, snap.ReceivedAt)
	assert.False(t, snap.Partial)
	assert.Empty(t, snap.Rejected)
	require.Len(t, snap.Records, 2)

	tram := snap.Records[0]
	assert.Equal(t, "5A", tram.ID)
	assert.Equal(t, core.VehicleTram, tram.Type)
	assert.Equal(t, core.Position{Lat: 48.21, Lng: 16.37}, tram.Coordinates)
	require.NotNil(t, tram.Bearing)
	assert.Equal(t, 90.0, *tram.Bearing)
	assert.Equal(t, "5", tram.RouteID)
	assert.Equal(t, time.Date(2025, 6, 26, 13, 59, 58, 0, time.UTC), tram.LastUpdated)

	bus := snap.Records[1]
	assert.Empty(t, bus.ID)
	assert.Equal(t, core.VehicleBus, bus.Type)
	assert.Equal(t, "13A", bus.RouteID)
	assert.Equal(t, "Hauptbahnhof", bus.Destination)
	assert.Nil(t, bus.Bearing)
	require.NotNil(t, bus.Speed)
	assert.Equal(t, 32.5, *bus.Speed)
	assert.True(t, bus.LastUpdated.IsZero())
}

func TestParseSnapshot_ServerEnvelope(t *testing.T) {
	snap, err := newTestParser().ParseSnapshot([]byte(`{
		"timestamp": 1750946400000,
		"vehicles": [
			{"id":"metro_u4_001","type":"metro","line":"U4","lat":48.189,"lng":16.222,"timestamp":"2025-06-26T14:04:23.123456"},
			{"id":"night_bus_n25_001","type":"night_bus","line":"N25","lat":48.2089,"lng":16.3717}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, snap.Records, 2)

	assert.Equal(t, core.VehicleMetro, snap.Records[0].Type)
	assert.Equal(t, time.Date(2025, 6, 26, 14, 4, 23, 123456000, time.UTC), snap.Records[0].LastUpdated)

	assert.Equal(t, core.VehicleNightBus, snap.Records[1].Type)
	assert.Equal(t, time.UnixMilli(1750946400000).UTC(), snap.Records[1].LastUpdated)
}

func TestParseSnapshot_CoordinateForms(t *testing.T) {
	snap, err := newTestParser().ParseSnapshot([]byte(`[
		{"id":"a","type":"tram","coordinates":{"lat":48.1,"lon":16.1}},
		{"id":"b","type":"tram","coordinates":"48.2, 16.2"},
		{"id":"c","type":"tram","coordinates":["48.3","16.3"]},
		{"id":"d","type":"tram","lat":"48.4","lon":16.4}
	]`))
	require.NoError(t, err)
	require.Len(t, snap.Records, 4)
	assert.Equal(t, core.Position{Lat: 48.1, Lng: 16.1}, snap.Records[0].Coordinates)
	assert.Equal(t, core.Position{Lat: 48.2, Lng: 16.2}, snap.Records[1].Coordinates)
	assert.Equal(t, core.Position{Lat: 48.3, Lng: 16.3}, snap.Records[2].Coordinates)
	assert.Equal(t, core.Position{Lat: 48.4, Lng: 16.4}, snap.Records[3].Coordinates)
}

func TestParseSnapshot_RejectsBadElements(t *testing.T) {
	snap, err := newTestParser().ParseSnapshot([]byte(`[
		{"id":"ok","type":"tram","lat":48.21,"lng":16.37},
		"not an object",
		{"id":"nolng","type":"tram","lat":48.21},
		{"id":"range","type":"bus","coordinates":[91, 16.37]},
		{"id":7,"type":"bus","coordinates":[48.2]},
		{"id":"badlat","type":"bus","lat":"north","lng":16.3}
	]`))
	require.NoError(t, err)

	require.Len(t, snap.Records, 1)
	assert.Equal(t, "ok", snap.Records[0].ID)

	require.Len(t, snap.Rejected, 5)
	assert.Equal(t, 1, snap.Rejected[0].Index)
	assert.Equal(t, "nolng", snap.Rejected[1].ID)
	assert.Equal(t, "invalid coordinates", snap.Rejected[2].Reason)
	assert.Equal(t, "7", snap.Rejected[3].ID)
	assert.Equal(t, "badlat", snap.Rejected[4].ID)
}

func TestParseSnapshot_StructuralErrors(t *testing.T) {
	for name, payload := range map[string]string{
		"empty":        ``,
		"number":       `42`,
		"string":       `"vehicles"`,
		"no vehicles":  `{"status":"ok"}`,
		"bad vehicles": `{"vehicles":"none"}`,
		"truncated":    `[{"id":"5A"`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := newTestParser().ParseSnapshot([]byte(payload))
			assert.ErrorIs(t, err, ErrNotArray)
		})
	}
}

func TestParseSnapshot_EmptyArray(t *testing.T) {
	snap, err := newTestParser().ParseSnapshot([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
	assert.NotNil(t, snap.Records)
}

func TestParseMessage_Delta(t *testing.T) {
	msg, err := newTestParser().ParseMessage([]byte(`{
		"type":"delta",
		"vehicles":[{"id":"5A","type":"tram","lat":48.2105,"lng":16.37}],
		"removed":["6B", 42, ""]
	}`))
	require.NoError(t, err)

	assert.Equal(t, KindDelta, msg.Kind)
	assert.True(t, msg.Snapshot.Partial)
	assert.Equal(t, []string{"6B", "42"}, msg.Snapshot.Removed)
	require.Len(t, msg.Snapshot.Records, 1)
	assert.Equal(t, 48.2105, msg.Snapshot.Records[0].Coordinates.Lat)
}

func TestParseMessage_RemovalOnlyDelta(t *testing.T) {
	msg, err := newTestParser().ParseMessage([]byte(`{"type":"delta","removed":["5A"]}`))
	require.NoError(t, err)
	assert.Equal(t, KindDelta, msg.Kind)
	assert.Empty(t, msg.Snapshot.Records)
	assert.Equal(t, []string{"5A"}, msg.Snapshot.Removed)
}

func TestParseMessage_Snapshot(t *testing.T) {
	msg, err := newTestParser().ParseMessage([]byte(`{"type":"snapshot","vehicles":[]}`))
	require.NoError(t, err)
	assert.Equal(t, KindSnapshot, msg.Kind)
	assert.False(t, msg.Snapshot.Partial)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
		ok   bool
	}{
		{`"2025-06-26T14:00:00+02:00"`, time.Date(2025, 6, 26, 12, 0, 0, 0, time.UTC), true},
		{`"2025-06-26 14:00:00"`, time.Date(2025, 6, 26, 14, 0, 0, 0, time.UTC), true},
		{`1750946400`, time.Unix(1750946400, 0).UTC(), true},
		{`"1750946400000"`, time.UnixMilli(1750946400000).UTC(), true},
		{`null`, time.Time{}, false},
		{`"yesterday"`, time.Time{}, false},
		{`-5`, time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseTimestamp([]byte(tt.raw))
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.Equal(got), "want %v got %v", tt.want, got)
		})
	}
}

func TestLineType(t *testing.T) {
	tests := map[string]core.VehicleType{
		"U1":   core.VehicleMetro,
		"u6":   core.VehicleMetro,
		"N25":  core.VehicleNightBus,
		"13A":  core.VehicleBus,
		"59B":  core.VehicleBus,
		"49":   core.VehicleTram,
		"D":    core.VehicleTram,
		"":     core.VehicleUnknown,
		"WLB":  core.VehicleUnknown,
		"NAME": core.VehicleUnknown,
	}
	for line, want := range tests {
		assert.Equal(t, want, LineType(line), line)
	}
}
