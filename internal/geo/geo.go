// Package geo provides the normalized geometry representation shared by all
// portal drivers, plus point-in-polygon matching with a bounding-box
// prefilter.
package geo

import "math"

// Point is a WGS-84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies within WGS-84 bounds.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// GeometryType identifies the shape held by a Geometry.
type GeometryType string

const (
	TypePolygon      GeometryType = "Polygon"
	TypeMultiPolygon GeometryType = "MultiPolygon"
)

// Ring is a closed linear ring of [lon, lat] pairs.
type Ring [][2]float64

// Geometry is the single internal geometry shape. Polygons hold one ring
// list where the first ring is the outer boundary and subsequent rings are
// holes. MultiPolygons hold one ring list per polygon.
type Geometry struct {
	Type     GeometryType `json:"type"`
	Rings    []Ring       `json:"rings,omitempty"`    // Polygon
	Polygons [][]Ring     `json:"polygons,omitempty"` // MultiPolygon
}

// PointGeometry lifts a single coordinate into a degenerate polygon so the
// one matching path covers point-valued records too.
func PointGeometry(lat, lon float64) *Geometry {
	ring := Ring{{lon, lat}, {lon, lat}, {lon, lat}, {lon, lat}, {lon, lat}}
	return &Geometry{Type: TypePolygon, Rings: []Ring{ring}}
}

// BoundingBox is an axis-aligned lon/lat extent.
type BoundingBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// Contains reports whether the point lies inside the box (inclusive).
func (b BoundingBox) Contains(p Point) bool {
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon && p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// BBox computes the bounding box over every ring of the geometry. Returns
// false when the geometry has no coordinates.
func (g *Geometry) BBox() (BoundingBox, bool) {
	box := BoundingBox{MinLon: math.Inf(1), MinLat: math.Inf(1), MaxLon: math.Inf(-1), MaxLat: math.Inf(-1)}
	found := false
	visit := func(ring Ring) {
		for _, c := range ring {
			found = true
			if c[0] < box.MinLon {
				box.MinLon = c[0]
			}
			if c[0] > box.MaxLon {
				box.MaxLon = c[0]
			}
			if c[1] < box.MinLat {
				box.MinLat = c[1]
			}
			if c[1] > box.MaxLat {
				box.MaxLat = c[1]
			}
		}
	}
	switch g.Type {
	case TypePolygon:
		for _, ring := range g.Rings {
			visit(ring)
		}
	case TypeMultiPolygon:
		for _, poly := range g.Polygons {
			for _, ring := range poly {
				visit(ring)
			}
		}
	}
	return box, found
}

// PointInRing runs an even-odd ray cast of the point against one ring.
func PointInRing(p Point, ring Ring) bool {
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		intersects := (yi > p.Lat) != (yj > p.Lat) &&
			p.Lon < (xj-xi)*(p.Lat-yi)/(yj-yi+smallestEpsilon)+xi
		if intersects {
			inside = !inside
		}
	}
	return inside
}

// smallestEpsilon guards the ray-cast division against horizontal edges.
const smallestEpsilon = 2.220446049250313e-16

func pointInRings(p Point, rings []Ring) bool {
	if len(rings) == 0 {
		return false
	}
	if !PointInRing(p, rings[0]) {
		return false
	}
	// Subsequent rings are holes.
	for _, hole := range rings[1:] {
		if PointInRing(p, hole) {
			return false
		}
	}
	return true
}

// PointInGeometry reports whether the point falls inside the geometry,
// honoring the outer-ring/hole convention.
func PointInGeometry(p Point, g *Geometry) bool {
	if g == nil {
		return false
	}
	switch g.Type {
	case TypePolygon:
		return pointInRings(p, g.Rings)
	case TypeMultiPolygon:
		for _, poly := range g.Polygons {
			if pointInRings(p, poly) {
				return true
			}
		}
	}
	return false
}

// MissReason explains why a spatial join did not match.
type MissReason string

const (
	MissBBox     MissReason = "bbox_miss"
	MissGeometry MissReason = "geometry_miss"
)

// JoinResult is the outcome of a spatial join, carrying the miss reason so
// callers can distinguish prefilter rejections from true polygon misses.
type JoinResult struct {
	Matched bool
	Reason  MissReason
}

// Join tests the point against the geometry, evaluating the bounding-box
// prefilter before the precise polygon test.
func Join(p Point, g *Geometry) JoinResult {
	if g == nil {
		return JoinResult{Matched: false, Reason: MissGeometry}
	}
	if box, ok := g.BBox(); ok && !box.Contains(p) {
		return JoinResult{Matched: false, Reason: MissBBox}
	}
	if PointInGeometry(p, g) {
		return JoinResult{Matched: true}
	}
	return JoinResult{Matched: false, Reason: MissGeometry}
}

// MaxLocalJoinFeatures caps in-memory spatial filtering over downloaded
// catalog distributions.
const MaxLocalJoinFeatures = 500
