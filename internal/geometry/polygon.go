// Package geometry implements the planar polygon test used to decide which
// geofences contain a vehicle. Coordinates are treated as a flat (lat, lon)
// plane, which is adequate at city scale.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

// epsilon is the tolerance, in degrees, for the on-edge test.
const epsilon = 1e-12

var (
	ErrTooFewPoints     = errors.New("polygon must have at least 4 points (3 distinct vertices plus the closing point)")
	ErrTooFewDistinct   = errors.New("polygon must have at least 3 distinct vertices")
	ErrRingNotClosed    = errors.New("first and last coordinates must be identical")
	ErrCoordinateBounds = errors.New("coordinate out of range")
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// Polygon is a closed ring: the last vertex repeats the first.
type Polygon []Point

// FromPairs builds a polygon from [lat, lon] pairs as they arrive over the API.
func FromPairs(pairs [][2]float64) Polygon {
	p := make(Polygon, len(pairs))
	for i, c := range pairs {
		p[i] = Point{Lat: c[0], Lon: c[1]}
	}
	return p
}

// Pairs is the inverse of FromPairs.
func (p Polygon) Pairs() [][2]float64 {
	out := make([][2]float64, len(p))
	for i, v := range p {
		out[i] = [2]float64{v.Lat, v.Lon}
	}
	return out
}

// ValidPoint reports whether the coordinate is within WGS84 bounds.
func ValidPoint(pt Point) bool {
	return pt.Lat >= -90 && pt.Lat <= 90 && pt.Lon >= -180 && pt.Lon <= 180 &&
		!math.IsNaN(pt.Lat) && !math.IsNaN(pt.Lon)
}

// Validate checks the closed ring invariant. Stored geofences are always
// validated, so Contains never re-checks.
func (p Polygon) Validate() error {
	if len(p) < 4 {
		return ErrTooFewPoints
	}
	for i, v := range p {
		if !ValidPoint(v) {
			return fmt.Errorf("vertex %d (%v, %v): %w", i, v.Lat, v.Lon, ErrCoordinateBounds)
		}
	}
	if p[0] != p[len(p)-1] {
		return ErrRingNotClosed
	}

	distinct := make(map[Point]struct{}, len(p))
	for _, v := range p[:len(p)-1] {
		distinct[v] = struct{}{}
	}
	if len(distinct) < 3 {
		return ErrTooFewDistinct
	}
	return nil
}

// Contains reports whether pt lies inside the polygon using even-odd ray
// casting. Points on an edge or vertex count as inside so that a vehicle
// driving along a boundary does not flap between entry and exit.
func (p Polygon) Contains(pt Point) bool {
	n := len(p)
	if n < 3 {
		return false
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p[j], p[i]
		if onSegment(a, b, pt) {
			return true
		}
		// Half-open rule on latitude so a ray through a vertex counts once.
		if (b.Lat > pt.Lat) != (a.Lat > pt.Lat) {
			crossLon := (a.Lon-b.Lon)*(pt.Lat-b.Lat)/(a.Lat-b.Lat) + b.Lon
			if pt.Lon < crossLon {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b, pt Point) bool {
	cross := (b.Lon-a.Lon)*(pt.Lat-a.Lat) - (b.Lat-a.Lat)*(pt.Lon-a.Lon)
	if math.Abs(cross) > epsilon {
		return false
	}
	return pt.Lat >= math.Min(a.Lat, b.Lat)-epsilon && pt.Lat <= math.Max(a.Lat, b.Lat)+epsilon &&
		pt.Lon >= math.Min(a.Lon, b.Lon)-epsilon && pt.Lon <= math.Max(a.Lon, b.Lon)+epsilon
}
