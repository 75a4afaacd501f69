package geometry

import "math"

// Bounds is an axis-aligned bounding box used as a cheap pre-filter before
// the full polygon test.
type Bounds struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// BoundsOf returns the bounding box of the polygon's vertices.
func BoundsOf(p Polygon) Bounds {
	b := Bounds{
		MinLat: math.Inf(1),
		MinLon: math.Inf(1),
		MaxLat: math.Inf(-1),
		MaxLon: math.Inf(-1),
	}
	for _, v := range p {
		b.MinLat = math.Min(b.MinLat, v.Lat)
		b.MinLon = math.Min(b.MinLon, v.Lon)
		b.MaxLat = math.Max(b.MaxLat, v.Lat)
		b.MaxLon = math.Max(b.MaxLon, v.Lon)
	}
	return b
}

// Contains is inclusive on every side, matching the on-edge rule of
// Polygon.Contains.
func (b Bounds) Contains(pt Point) bool {
	return pt.Lat >= b.MinLat-epsilon && pt.Lat <= b.MaxLat+epsilon &&
		pt.Lon >= b.MinLon-epsilon && pt.Lon <= b.MaxLon+epsilon
}

// Shape pairs a polygon with its precomputed bounds.
type Shape struct {
	Polygon Polygon
	Bounds  Bounds
}

func NewShape(p Polygon) Shape {
	return Shape{Polygon: p, Bounds: BoundsOf(p)}
}

func (s Shape) Contains(pt Point) bool {
	if !s.Bounds.Contains(pt) {
		return false
	}
	return s.Polygon.Contains(pt)
}
