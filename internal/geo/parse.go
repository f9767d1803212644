package geo

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

type geoJSONGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
	Geometry    json.RawMessage `json:"geometry"`
}

// FromGeoJSON converts a GeoJSON geometry (or a feature wrapping one) into
// the internal representation. Points are lifted into degenerate polygons.
func FromGeoJSON(raw json.RawMessage) (*Geometry, error) {
	if len(raw) == 0 {
		return nil, eris.New("geo: empty geojson")
	}
	var gj geoJSONGeometry
	if err := json.Unmarshal(raw, &gj); err != nil {
		return nil, eris.Wrap(err, "geo: decode geojson")
	}
	switch gj.Type {
	case "Feature":
		return FromGeoJSON(gj.Geometry)
	case "Point":
		var coord [2]float64
		if err := json.Unmarshal(gj.Coordinates, &coord); err != nil {
			return nil, eris.Wrap(err, "geo: decode point")
		}
		return PointGeometry(coord[1], coord[0]), nil
	case "Polygon":
		var rings []Ring
		if err := json.Unmarshal(gj.Coordinates, &rings); err != nil {
			return nil, eris.Wrap(err, "geo: decode polygon")
		}
		return &Geometry{Type: TypePolygon, Rings: rings}, nil
	case "MultiPolygon":
		var polys [][]Ring
		if err := json.Unmarshal(gj.Coordinates, &polys); err != nil {
			return nil, eris.Wrap(err, "geo: decode multipolygon")
		}
		return &Geometry{Type: TypeMultiPolygon, Polygons: polys}, nil
	}
	return nil, eris.Errorf("geo: unsupported geojson type %q", gj.Type)
}

// FromValue converts an already-decoded GeoJSON geometry value (as produced
// by decoding into map[string]any) into the internal representation.
func FromValue(v any) (*Geometry, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode value")
	}
	return FromGeoJSON(raw)
}

// FromEsriRings converts an Esri polygon geometry (rings of [x, y]) into the
// internal representation.
func FromEsriRings(rings [][][2]float64) *Geometry {
	out := make([]Ring, 0, len(rings))
	for _, ring := range rings {
		out = append(out, Ring(ring))
	}
	return &Geometry{Type: TypePolygon, Rings: out}
}

// PointFromRecord extracts a WGS-84 point from common record layouts: a
// GeoJSON point field, an Esri x/y pair, or split latitude/longitude
// columns. Returns false when no usable coordinate is present.
func PointFromRecord(rec map[string]any) (Point, bool) {
	for _, v := range rec {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t == "Point" {
			if coords, ok := m["coordinates"].([]any); ok && len(coords) >= 2 {
				lon, okLon := asFloat(coords[0])
				lat, okLat := asFloat(coords[1])
				if okLon && okLat {
					p := Point{Lat: lat, Lon: lon}
					if p.Valid() {
						return p, true
					}
				}
			}
		}
		// Esri point attributes.
		if x, okX := asFloat(m["x"]); okX {
			if y, okY := asFloat(m["y"]); okY {
				p := Point{Lat: y, Lon: x}
				if p.Valid() {
					return p, true
				}
			}
		}
	}
	latKeys := []string{"latitude", "lat", "y"}
	lonKeys := []string{"longitude", "lon", "lng", "long", "x"}
	var lat, lon float64
	var haveLat, haveLon bool
	for _, k := range latKeys {
		if v, ok := rec[k]; ok {
			if f, okF := asFloat(v); okF {
				lat, haveLat = f, true
				break
			}
		}
	}
	for _, k := range lonKeys {
		if v, ok := rec[k]; ok {
			if f, okF := asFloat(v); okF {
				lon, haveLon = f, true
				break
			}
		}
	}
	if haveLat && haveLon {
		p := Point{Lat: lat, Lon: lon}
		if p.Valid() {
			return p, true
		}
	}
	return Point{}, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		var f float64
		if err := json.Unmarshal([]byte(t), &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
