// internal/tile/enumerator.go - Tile coordinate enumeration over a geographic extent
package tile

import (
	"fmt"
	"iter"

	"github.com/paulmach/orb"

	"github.com/valpere/tilecutter/internal"
	"github.com/valpere/tilecutter/pkg/geogrid"
)

// Enumerator yields the tiles covering an extent for a range of zoom levels
type Enumerator struct {
	grid   geogrid.Grid
	zooms  ZoomRange
	extent orb.Bound
	ranges []TileRange
}

// NewEnumerator computes the per-zoom tile ranges for a geographic extent (X = lon, Y = lat).
// Latitudes beyond the Web Mercator limit are clamped; |lat| >= 90 is rejected.
func NewEnumerator(grid geogrid.Grid, zooms ZoomRange, extent orb.Bound) (*Enumerator, error) {
	if zooms.Min < 0 || zooms.Max > geogrid.MaxZoom || zooms.Min > zooms.Max {
		return nil, internal.NewError(internal.ErrorCodeValidation,
			fmt.Sprintf("invalid zoom range %d-%d", zooms.Min, zooms.Max), geogrid.ErrZoomOutOfRange)
	}

	extent = NormalizeBound(extent)
	if extent.Min.Y() <= -90 || extent.Max.Y() >= 90 {
		return nil, internal.NewError(internal.ErrorCodeDomain, "extent touches a pole", geogrid.ErrLatitudeOutOfRange)
	}
	extent = clampExtent(extent)

	e := &Enumerator{
		grid:   grid,
		zooms:  zooms,
		extent: extent,
		ranges: make([]TileRange, 0, zooms.Max-zooms.Min+1),
	}

	for z := zooms.Min; z <= zooms.Max; z++ {
		tr, err := e.rangeAt(z)
		if err != nil {
			return nil, err
		}
		e.ranges = append(e.ranges, tr)
	}

	return e, nil
}

// rangeAt converts the extent corners to tile indices at one zoom
func (e *Enumerator) rangeAt(zoom int) (TileRange, error) {
	minCol, minRow, err := e.grid.GeoToTile(e.extent.Min.Y(), e.extent.Min.X(), zoom)
	if err != nil {
		return TileRange{}, internal.NewError(internal.ErrorCodeDomain, "failed to convert extent corner", err)
	}

	maxCol, maxRow, err := e.grid.GeoToTile(e.extent.Max.Y(), e.extent.Max.X(), zoom)
	if err != nil {
		return TileRange{}, internal.NewError(internal.ErrorCodeDomain, "failed to convert extent corner", err)
	}

	minCol, maxCol = min(minCol, maxCol), max(minCol, maxCol)
	minRow, maxRow = min(minRow, maxRow), max(minRow, maxRow)

	// A corner on the grid's lower edge resolves to -1; never emit out-of-grid tiles
	last := geogrid.MaxIndex(zoom)
	return TileRange{
		Level:  zoom,
		MinCol: clampIndex(minCol, last),
		MaxCol: clampIndex(maxCol, last),
		MinRow: clampIndex(minRow, last),
		MaxRow: clampIndex(maxRow, last),
	}, nil
}

// Ranges returns one tile range per zoom level, ascending
func (e *Enumerator) Ranges() []TileRange {
	out := make([]TileRange, len(e.ranges))
	copy(out, e.ranges)
	return out
}

// Extent returns the clamped geographic extent being enumerated
func (e *Enumerator) Extent() orb.Bound {
	return e.extent
}

// Zooms returns the zoom range being enumerated
func (e *Enumerator) Zooms() ZoomRange {
	return e.zooms
}

// Count returns the total number of coordinates All yields
func (e *Enumerator) Count() int64 {
	var total int64
	for _, tr := range e.ranges {
		total += tr.Count()
	}
	return total
}

// All yields coordinates by zoom ascending, then row ascending, then column ascending.
// Each call starts a fresh pass.
func (e *Enumerator) All() iter.Seq[Coordinate] {
	return func(yield func(Coordinate) bool) {
		for _, tr := range e.ranges {
			for row := tr.MinRow; row <= tr.MaxRow; row++ {
				for col := tr.MinCol; col <= tr.MaxCol; col++ {
					if !yield(Coordinate{Level: tr.Level, Column: col, Row: row}) {
						return
					}
				}
			}
		}
	}
}

func clampExtent(b orb.Bound) orb.Bound {
	clamp := func(p orb.Point) orb.Point {
		return orb.Point{
			max(-180, min(180, p.X())),
			max(-geogrid.MaxLatitude, min(geogrid.MaxLatitude, p.Y())),
		}
	}
	return orb.Bound{Min: clamp(b.Min), Max: clamp(b.Max)}
}

func clampIndex(i, last int) int {
	return max(0, min(last, i))
}
