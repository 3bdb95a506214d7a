// pkg/mvt/decoder.go - Mapbox Vector Tile inspection
package mvt

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/valpere/tilecutter/pkg/geogrid"
)

var gzipMagic = []byte{0x1f, 0x8b}

// ErrEmptyTile is returned for zero-length tile data
var ErrEmptyTile = errors.New("empty tile data")

// LayerSummary describes one layer of a vector tile
type LayerSummary struct {
	Name       string         `json:"name"`
	Version    int            `json:"version"`
	Extent     int            `json:"extent"`
	Features   int            `json:"features"`
	Geometries map[string]int `json:"geometries"`
}

// Summary lists the layers of a vector tile sorted by name
type Summary struct {
	Compressed bool           `json:"compressed"`
	Layers     []LayerSummary `json:"layers"`
}

// Features returns the feature count over all layers
func (s *Summary) Features() int {
	n := 0
	for _, l := range s.Layers {
		n += l.Features
	}
	return n
}

// unmarshal decodes plain or gzipped MVT bytes
func unmarshal(data []byte) (mvt.Layers, bool, error) {
	if len(data) == 0 {
		return nil, false, ErrEmptyTile
	}

	if bytes.HasPrefix(data, gzipMagic) {
		layers, err := mvt.UnmarshalGzipped(data)
		if err != nil {
			return nil, true, fmt.Errorf("failed to unmarshal gzipped MVT data: %w", err)
		}
		return layers, true, nil
	}

	layers, err := mvt.Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal MVT data: %w", err)
	}
	return layers, false, nil
}

// Inspect counts the layers, features and geometry types of a vector tile
func Inspect(data []byte) (*Summary, error) {
	layers, compressed, err := unmarshal(data)
	if err != nil {
		return nil, err
	}

	s := &Summary{Compressed: compressed, Layers: make([]LayerSummary, 0, len(layers))}
	for _, layer := range layers {
		ls := LayerSummary{
			Name:       layer.Name,
			Version:    int(layer.Version),
			Extent:     int(layer.Extent),
			Features:   len(layer.Features),
			Geometries: make(map[string]int),
		}
		for _, f := range layer.Features {
			if f.Geometry == nil {
				continue
			}
			ls.Geometries[f.Geometry.GeoJSONType()]++
		}
		s.Layers = append(s.Layers, ls)
	}

	sort.Slice(s.Layers, func(i, j int) bool { return s.Layers[i].Name < s.Layers[j].Name })
	return s, nil
}

// DecodeGeoJSON projects a vector tile at the TMS address z/x/y to WGS84 and
// returns one feature collection. Each feature gets a "layer" property.
func DecodeGeoJSON(data []byte, z, x, y int) (*geojson.FeatureCollection, error) {
	layers, _, err := unmarshal(data)
	if err != nil {
		return nil, err
	}

	// maptile counts rows from the north
	t := maptile.New(uint32(x), uint32(geogrid.FlipRow(z, y)), maptile.Zoom(z))
	layers.ProjectToWGS84(t)

	fc := geojson.NewFeatureCollection()
	sort.Slice(layers, func(i, j int) bool { return layers[i].Name < layers[j].Name })
	for _, layer := range layers {
		for _, f := range layer.Features {
			if f.Geometry == nil {
				continue
			}
			if f.Properties == nil {
				f.Properties = geojson.Properties{}
			}
			f.Properties["layer"] = layer.Name
			fc.Append(f)
		}
	}

	return fc, nil
}
