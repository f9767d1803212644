package geo

import (
	"github.com/rotisserie/eris"
	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// WKT renders the geometry as well-known text for query pushdown into
// portals that accept polygon filters.
func (g *Geometry) WKT() (string, error) {
	if g == nil {
		return "", eris.New("geo: nil geometry")
	}
	switch g.Type {
	case TypePolygon:
		poly, err := toGeomPolygon(g.Rings)
		if err != nil {
			return "", err
		}
		return wkt.Marshal(poly)
	case TypeMultiPolygon:
		multi := geom.NewMultiPolygon(geom.XY)
		for _, rings := range g.Polygons {
			poly, err := toGeomPolygon(rings)
			if err != nil {
				return "", err
			}
			if err := multi.Push(poly); err != nil {
				return "", eris.Wrap(err, "geo: build multipolygon")
			}
		}
		return wkt.Marshal(multi)
	}
	return "", eris.Errorf("geo: unsupported geometry type %q", g.Type)
}

func toGeomPolygon(rings []Ring) (*geom.Polygon, error) {
	if len(rings) == 0 {
		return nil, eris.New("geo: polygon has no rings")
	}
	coords := make([][]geom.Coord, 0, len(rings))
	for _, ring := range rings {
		closed := closeRing(ring)
		rc := make([]geom.Coord, 0, len(closed))
		for _, c := range closed {
			rc = append(rc, geom.Coord{c[0], c[1]})
		}
		coords = append(coords, rc)
	}
	poly, err := geom.NewPolygon(geom.XY).SetCoords(coords)
	if err != nil {
		return nil, eris.Wrap(err, "geo: build polygon")
	}
	return poly, nil
}

// closeRing appends the first coordinate when the ring is not closed.
func closeRing(ring Ring) Ring {
	if len(ring) == 0 {
		return ring
	}
	first, last := ring[0], ring[len(ring)-1]
	if first == last {
		return ring
	}
	out := make(Ring, len(ring)+1)
	copy(out, ring)
	out[len(ring)] = first
	return out
}
