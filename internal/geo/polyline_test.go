package geo

import (
	"math"
	"testing"

	"github.com/transitlive/livemap/pkg/core"
)

func TestBoundingBox(t *testing.T) {
	b, ok := BoundingBox([]core.Position{
		{Lat: 48.21, Lng: 16.37},
		{Lat: 48.19, Lng: 16.40},
		{Lat: math.NaN(), Lng: 0},
		{Lat: 48.25, Lng: 16.30},
	})
	if !ok {
		t.Fatal("expected bounds")
	}
	if b.SW.Lat != 48.19 || b.SW.Lng != 16.30 {
		t.Errorf("unexpected SW %+v", b.SW)
	}
	if b.NE.Lat != 48.25 || b.NE.Lng != 16.40 {
		t.Errorf("unexpected NE %+v", b.NE)
	}
	c := b.Center()
	if !approx(c.Lat, 48.22, 1e-9) || !approx(c.Lng, 16.35, 1e-9) {
		t.Errorf("unexpected center %+v", c)
	}
}

func TestBoundingBox_NoValidPoints(t *testing.T) {
	if _, ok := BoundingBox([]core.Position{{Lat: 100, Lng: 0}}); ok {
		t.Error("expected no bounds")
	}
	if _, ok := BoundingBox(nil); ok {
		t.Error("expected no bounds for nil")
	}
}

func TestTrailLength(t *testing.T) {
	pts := []core.Position{stephansplatz, karlsplatz, stephansplatz}
	want := 2 * Distance(stephansplatz, karlsplatz)
	if got := TrailLength(pts); !approx(got, want, 1e-6) {
		t.Errorf("expected %f, got %f", want, got)
	}
	if TrailLength(pts[:1]) != 0 {
		t.Error("expected zero length for single point")
	}
}

func TestWebMercator_Origin(t *testing.T) {
	xy := WebMercator(core.Position{Lat: 0, Lng: 0})
	if !approx(xy.X, 0, 1e-6) || !approx(xy.Y, 0, 1e-6) {
		t.Errorf("expected origin, got %+v", xy)
	}
	vienna := WebMercator(stephansplatz)
	// EPSG:3857 easting for 16.3731E is ~1822645m
	if !approx(vienna.X, 1822645, 100) {
		t.Errorf("unexpected easting %f", vienna.X)
	}
}
