package geo

import (
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/transitlive/livemap/pkg/core"
)

// EarthRadius is the mean earth radius in meters used by all great-circle math.
const EarthRadius = 6371000.0

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// normalizeLng wraps a longitude into [-180,180).
func normalizeLng(lng float64) float64 {
	return math.Mod(lng+540, 360) - 180
}

// ParsePosition parses a "lat,lng" string into a core.Position.
func ParsePosition(coords string) (core.Position, error) {
	parts := strings.Split(coords, ",")
	if len(parts) != 2 {
		return core.Position{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return core.Position{}, ErrInvalidCoordinates
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return core.Position{}, ErrInvalidCoordinates
	}
	p := core.Position{Lat: lat, Lng: lng}
	if !p.Valid() {
		return core.Position{}, ErrInvalidCoordinates
	}
	return p, nil
}

// Distance returns the haversine great-circle distance between a and b in meters.
// Invalid input yields 0 and a warning instead of an error.
func Distance(a, b core.Position) float64 {
	if !a.Valid() || !b.Valid() {
		slog.Warn("distance called with invalid coordinates", "a", a, "b", b)
		return 0
	}
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))
	d := EarthRadius * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	if math.IsNaN(d) || d < 0 {
		slog.Warn("distance produced invalid result, clamping to 0", "a", a, "b", b, "distance", d)
		return 0
	}
	return d
}

// Bearing returns the initial compass bearing from a to b in [0,360).
func Bearing(a, b core.Position) float64 {
	if !a.Valid() || !b.Valid() {
		slog.Warn("bearing called with invalid coordinates", "a", a, "b", b)
		return 0
	}
	lat1, lat2 := toRad(a.Lat), toRad(b.Lat)
	dLng := toRad(b.Lng - a.Lng)
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	brg := math.Mod(toDeg(math.Atan2(y, x))+360, 360)
	if brg >= 360 {
		brg = 0
	}
	return brg
}

// DestinationPoint projects start forward by distance meters along bearing degrees.
func DestinationPoint(start core.Position, distance, bearing float64) core.Position {
	if !start.Valid() || math.IsNaN(distance) || math.IsNaN(bearing) {
		slog.Warn("destination point called with invalid input", "start", start, "distance", distance, "bearing", bearing)
		return start
	}
	lat1, lng1 := toRad(start.Lat), toRad(start.Lng)
	brg := toRad(bearing)
	dR := distance / EarthRadius

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(dR) + math.Cos(lat1)*math.Sin(dR)*math.Cos(brg))
	lng2 := lng1 + math.Atan2(
		math.Sin(brg)*math.Sin(dR)*math.Cos(lat1),
		math.Cos(dR)-math.Sin(lat1)*math.Sin(lat2),
	)
	return core.Position{Lat: toDeg(lat2), Lng: normalizeLng(toDeg(lng2))}
}

// Midpoint returns the great-circle midpoint of a and b.
func Midpoint(a, b core.Position) core.Position {
	if !a.Valid() || !b.Valid() {
		slog.Warn("midpoint called with invalid coordinates", "a", a, "b", b)
		return core.Position{Lat: (a.Lat + b.Lat) / 2, Lng: (a.Lng + b.Lng) / 2}
	}
	lat1, lng1 := toRad(a.Lat), toRad(a.Lng)
	lat2 := toRad(b.Lat)
	dLng := toRad(b.Lng - a.Lng)

	bx := math.Cos(lat2) * math.Cos(dLng)
	by := math.Cos(lat2) * math.Sin(dLng)
	lat3 := math.Atan2(math.Sin(lat1)+math.Sin(lat2), math.Sqrt((math.Cos(lat1)+bx)*(math.Cos(lat1)+bx)+by*by))
	lng3 := lng1 + math.Atan2(by, math.Cos(lat1)+bx)
	return core.Position{Lat: toDeg(lat3), Lng: normalizeLng(toDeg(lng3))}
}

// PolygonCentroid averages points on the unit sphere. Invalid points are skipped;
// ok is false when no valid point remains.
func PolygonCentroid(points []core.Position) (centroid core.Position, ok bool) {
	var x, y, z float64
	n := 0
	for _, p := range points {
		if !p.Valid() {
			continue
		}
		lat, lng := toRad(p.Lat), toRad(p.Lng)
		x += math.Cos(lat) * math.Cos(lng)
		y += math.Cos(lat) * math.Sin(lng)
		z += math.Sin(lat)
		n++
	}
	if n == 0 {
		return core.Position{}, false
	}
	if n == 1 {
		for _, p := range points {
			if p.Valid() {
				return p, true
			}
		}
	}
	x /= float64(n)
	y /= float64(n)
	z /= float64(n)
	return core.Position{
		Lat: toDeg(math.Atan2(z, math.Sqrt(x*x+y*y))),
		Lng: toDeg(math.Atan2(y, x)),
	}, true
}
