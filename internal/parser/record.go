package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/transitlive/livemap/internal/geo"
	"github.com/transitlive/livemap/pkg/core"
)

var (
	errNotObject   = errors.New("element is not an object")
	errCoordinates = errors.New("invalid coordinates")
)

// rawRecord mirrors the loosely typed feed element, aliases included.
type rawRecord struct {
	ID          flexString      `json:"id"`
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
	Lat         *flexFloat      `json:"lat"`
	Lng         *flexFloat      `json:"lng"`
	Lon         *flexFloat      `json:"lon"`
	Bearing     *flexFloat      `json:"bearing"`
	RouteID     flexString      `json:"routeId"`
	Line        flexString      `json:"line"`
	Speed       *flexFloat      `json:"speed"`
	Label       string          `json:"label"`
	Destination string          `json:"destination"`
	Direction   string          `json:"direction"`
	LastUpdated json.RawMessage `json:"lastUpdated"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("not a number: %s", b)
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = flexFloat(n)
	return nil
}

func (f *flexFloat) ptr() *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}

// flexString accepts a JSON string or number; null stays empty.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = flexString(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("not a string: %s", b)
	}
	*s = flexString(n.String())
	return nil
}

// decodeRecord returns the record, or the partially decoded record (for its
// ID) and the reason it was rejected.
func decodeRecord(raw json.RawMessage) (core.VehicleRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return core.VehicleRecord{}, errNotObject
	}

	var r rawRecord
	if err := json.Unmarshal(trimmed, &r); err != nil {
		var probe struct {
			ID flexString `json:"id"`
		}
		_ = json.Unmarshal(trimmed, &probe)
		return core.VehicleRecord{ID: string(probe.ID)}, fmt.Errorf("decode vehicle: %w", err)
	}

	rec := core.VehicleRecord{
		ID:          string(r.ID),
		RouteID:     firstNonEmpty(string(r.RouteID), string(r.Line)),
		Bearing:     r.Bearing.ptr(),
		Speed:       r.Speed.ptr(),
		Label:       r.Label,
		Destination: firstNonEmpty(r.Destination, r.Direction),
	}

	rec.Type = core.NormalizeVehicleType(r.Type)
	if rec.Type == core.VehicleUnknown {
		rec.Type = LineType(rec.RouteID)
	}

	pos, err := r.position()
	if err != nil {
		return rec, err
	}
	rec.Coordinates = pos

	ts := r.LastUpdated
	if len(ts) == 0 {
		ts = r.Timestamp
	}
	rec.LastUpdated, _ = parseTimestamp(ts)

	return rec, nil
}

func (r rawRecord) position() (core.Position, error) {
	if len(r.Coordinates) > 0 && string(r.Coordinates) != "null" {
		return decodeCoordinates(r.Coordinates)
	}
	lng := r.Lng
	if lng == nil {
		lng = r.Lon
	}
	if r.Lat == nil || lng == nil {
		return core.Position{}, errCoordinates
	}
	p := core.Position{Lat: float64(*r.Lat), Lng: float64(*lng)}
	if !p.Valid() {
		return core.Position{}, errCoordinates
	}
	return p, nil
}

// decodeCoordinates accepts [lat, lng], {"lat":..,"lng":..} or "lat,lng".
func decodeCoordinates(raw json.RawMessage) (core.Position, error) {
	var p core.Position
	switch raw[0] {
	case '[':
		var pair []flexFloat
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			return core.Position{}, errCoordinates
		}
		p = core.Position{Lat: float64(pair[0]), Lng: float64(pair[1])}
	case '{':
		var obj struct {
			Lat *flexFloat `json:"lat"`
			Lng *flexFloat `json:"lng"`
			Lon *flexFloat `json:"lon"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return core.Position{}, errCoordinates
		}
		lng := obj.Lng
		if lng == nil {
			lng = obj.Lon
		}
		if obj.Lat == nil || lng == nil {
			return core.Position{}, errCoordinates
		}
		p = core.Position{Lat: float64(*obj.Lat), Lng: float64(*lng)}
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return core.Position{}, errCoordinates
		}
		parsed, err := geo.ParsePosition(s)
		if err != nil {
			return core.Position{}, errCoordinates
		}
		p = parsed
	default:
		return core.Position{}, errCoordinates
	}
	if !p.Valid() {
		return core.Position{}, errCoordinates
	}
	return p, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp reads RFC3339, a zone-less ISO time (taken as UTC) or a
// Unix epoch in seconds or milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		raw = json.RawMessage(s)
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n >= 1e12 {
		return time.UnixMilli(int64(n)).UTC(), true
	}
	return time.Unix(int64(n), 0).UTC(), true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
