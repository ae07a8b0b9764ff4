package geo

import (
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/transitlive/livemap/pkg/core"
)

// Bounds is an axis-aligned lat/lng box.
type Bounds struct {
	SW core.Position `json:"sw"`
	NE core.Position `json:"ne"`
}

// Center returns the arithmetic center of the box.
func (b Bounds) Center() core.Position {
	return core.Position{Lat: (b.SW.Lat + b.NE.Lat) / 2, Lng: (b.SW.Lng + b.NE.Lng) / 2}
}

// Envelope returns the simplefeatures envelope (x=lng, y=lat) of the valid points.
func Envelope(points []core.Position) geom.Envelope {
	pts := make([]geom.Point, 0, len(points))
	for _, p := range points {
		if p.Valid() {
			pts = append(pts, geom.XY{X: p.Lng, Y: p.Lat}.AsPoint())
		}
	}
	return geom.NewMultiPoint(pts).Envelope()
}

// BoundingBox returns the box containing every valid point.
// ok is false when there is no valid point.
func BoundingBox(points []core.Position) (bounds Bounds, ok bool) {
	minXY, maxXY, ok := Envelope(points).MinMaxXYs()
	if !ok {
		return Bounds{}, false
	}
	return Bounds{
		SW: core.Position{Lat: minXY.Y, Lng: minXY.X},
		NE: core.Position{Lat: maxXY.Y, Lng: maxXY.X},
	}, true
}

// TrailLength sums the great-circle length of consecutive trail segments in meters.
func TrailLength(points []core.Position) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

// WebMercator projects an EPSG:4326 position into EPSG:3857 meters.
func WebMercator(p core.Position) geom.XY {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(p.Lng, p.Lat, 0)
	return geom.XY{X: x, Y: y}
}
