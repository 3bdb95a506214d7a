// internal/source/export.go - ArcGIS dynamic map service export source
package source

import (
	"strconv"
	"strings"

	"github.com/valpere/tilecutter/internal/tile"
	"github.com/valpere/tilecutter/pkg/geogrid"
)

// exportDefaults are the ArcGIS MapServer export parameters sent unless overridden
var exportDefaults = Params{
	"bboxSR":           "4326",
	"layers":           "",
	"layerdefs":        "",
	"imageSR":          "",
	"format":           "png",
	"transparent":      "true",
	"dpi":              "",
	"time":             "",
	"layerTimeOptions": "",
	"f":                "image",
}

// ExportSource renders each tile through a MapServer /export request
type ExportSource struct {
	endpoint  string
	grid      geogrid.Grid
	overrides Params
	flipRows  bool
}

// NewExportSource creates an export source for a MapServer URL
func NewExportSource(serviceURL string, grid geogrid.Grid, overrides Params, flipRows bool) *ExportSource {
	endpoint := serviceURL
	path, query, hasQuery := strings.Cut(serviceURL, "?")
	if !strings.HasSuffix(strings.TrimRight(path, "/"), "/export") {
		endpoint = strings.TrimRight(path, "/") + "/export"
		if hasQuery {
			endpoint += "?" + query
		}
	}

	return &ExportSource{
		endpoint:  endpoint,
		grid:      grid,
		overrides: overrides.Clone(),
		flipRows:  flipRows,
	}
}

// BBox returns the geographic bbox string for a tile as xmin,ymin,xmax,ymax
func (s *ExportSource) BBox(c tile.Coordinate) string {
	b := s.grid.TileGeoBounds(c.Column, serviceRow(c, s.flipRows), c.Level)
	return formatFloats(b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y())
}

// Params returns the merged query parameters for a tile
func (s *ExportSource) Params(c tile.Coordinate) Params {
	size := strconv.Itoa(s.grid.TileSize)
	computed := Params{
		"bbox": s.BBox(c),
		"size": size + "," + size,
	}
	return MergeParams(exportDefaults, s.overrides, computed)
}

// TileURL implements Resolver
func (s *ExportSource) TileURL(c tile.Coordinate) string {
	return joinQuery(s.endpoint, s.Params(c).Encode())
}

// Name implements Resolver
func (s *ExportSource) Name() string {
	return TypeExport
}

// FlipRows reports whether rows are converted to the north-origin scheme
func (s *ExportSource) FlipRows() bool {
	return s.flipRows
}

func formatFloats(values ...float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}
