// pkg/geogrid/geogrid.go - Spherical Web Mercator tile grid math
package geogrid

import (
	"errors"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

const (
	// EarthRadius is the sphere radius used by Web Mercator, in meters
	EarthRadius = 6378137.0

	// OriginShift is half the projected world circumference
	OriginShift = math.Pi * EarthRadius

	// DefaultTileSize is the tile edge length in pixels used by common tile services
	DefaultTileSize = 256

	// MaxZoom is the deepest zoom level whose row and column indices fit the grid math
	MaxZoom = 30

	// MaxLatitude is the latitude at which the square Web Mercator world ends
	MaxLatitude = 85.05112877980659
)

// ErrLatitudeOutOfRange is returned for latitudes the projection cannot represent
var ErrLatitudeOutOfRange = errors.New("latitude must be strictly between -90 and 90 degrees")

// ErrZoomOutOfRange is returned for zoom levels outside [0, MaxZoom]
var ErrZoomOutOfRange = errors.New("zoom level out of range")

// Grid converts between geographic, projected, pixel and tile spaces for one tile size
type Grid struct {
	TileSize int
}

// Default is the 256px grid
var Default = New(DefaultTileSize)

// New creates a grid for the given tile size, falling back to DefaultTileSize for non-positive sizes
func New(tileSize int) Grid {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	return Grid{TileSize: tileSize}
}

// GeoToMeters projects a latitude/longitude pair to Web Mercator meters.
// The result is undefined at the poles, so |lat| >= 90 is rejected.
func GeoToMeters(lat, lon float64) (orb.Point, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat <= -90 || lat >= 90 {
		return orb.Point{}, ErrLatitudeOutOfRange
	}

	x := lon * OriginShift / 180.0
	y := math.Log(math.Tan((90+lat)*math.Pi/360.0)) / (math.Pi / 180.0)
	y = y * OriginShift / 180.0

	return orb.Point{x, y}, nil
}

// MetersToGeo is the inverse of GeoToMeters. The result is orb.Point{lon, lat}.
func MetersToGeo(p orb.Point) orb.Point {
	lon := (p.X() / OriginShift) * 180.0
	lat := (p.Y() / OriginShift) * 180.0
	lat = 180 / math.Pi * (2*math.Atan(math.Exp(lat*math.Pi/180.0)) - math.Pi/2.0)

	return orb.Point{lon, lat}
}

// InitialResolution returns meters per pixel at zoom 0
func (g Grid) InitialResolution() float64 {
	return 2 * math.Pi * EarthRadius / float64(g.TileSize)
}

// Resolution returns meters per pixel at the given zoom, measured at the equator
func (g Grid) Resolution(zoom int) float64 {
	return g.InitialResolution() / math.Pow(2, float64(zoom))
}

// MetersToPixels converts projected meters to pixel coordinates at the given zoom
func (g Grid) MetersToPixels(p orb.Point, zoom int) orb.Point {
	res := g.Resolution(zoom)
	return orb.Point{
		(p.X() + OriginShift) / res,
		(p.Y() + OriginShift) / res,
	}
}

// PixelsToMeters converts pixel coordinates at the given zoom back to projected meters
func (g Grid) PixelsToMeters(p orb.Point, zoom int) orb.Point {
	res := g.Resolution(zoom)
	return orb.Point{
		p.X()*res - OriginShift,
		p.Y()*res - OriginShift,
	}
}

// PixelsToTile returns the TMS tile containing a pixel.
// A pixel on a tile's upper edge belongs to that tile, so 0 maps to -1.
func (g Grid) PixelsToTile(px, py float64) (tx, ty int) {
	size := float64(g.TileSize)
	tx = int(math.Ceil(px/size)) - 1
	ty = int(math.Ceil(py/size)) - 1
	return tx, ty
}

// MetersToTile returns the TMS tile containing a projected point
func (g Grid) MetersToTile(p orb.Point, zoom int) (tx, ty int) {
	px := g.MetersToPixels(p, zoom)
	return g.PixelsToTile(px.X(), px.Y())
}

// GeoToTile returns the TMS tile containing a latitude/longitude pair
func (g Grid) GeoToTile(lat, lon float64, zoom int) (tx, ty int, err error) {
	if zoom < 0 || zoom > MaxZoom {
		return 0, 0, ErrZoomOutOfRange
	}

	m, err := GeoToMeters(lat, lon)
	if err != nil {
		return 0, 0, err
	}

	tx, ty = g.MetersToTile(m, zoom)
	return tx, ty, nil
}

// TileBounds returns the projected extent of a TMS tile
func (g Grid) TileBounds(tx, ty, zoom int) orb.Bound {
	size := float64(g.TileSize)
	min := g.PixelsToMeters(orb.Point{float64(tx) * size, float64(ty) * size}, zoom)
	max := g.PixelsToMeters(orb.Point{float64(tx+1) * size, float64(ty+1) * size}, zoom)
	return orb.Bound{Min: min, Max: max}
}

// TileGeoBounds returns the extent of a TMS tile in degrees (X = lon, Y = lat)
func (g Grid) TileGeoBounds(tx, ty, zoom int) orb.Bound {
	b := g.TileBounds(tx, ty, zoom)
	return orb.Bound{Min: MetersToGeo(b.Min), Max: MetersToGeo(b.Max)}
}

// MaxIndex returns the largest valid row or column index at the given zoom
func MaxIndex(zoom int) int {
	return (1 << uint(zoom)) - 1
}

// FlipRow converts a TMS row to the service (Google/XYZ) row and back
func FlipRow(zoom, row int) int {
	return MaxIndex(zoom) - row
}

// QuadKey encodes a TMS tile as a Bing-style quadkey of length zoom
func QuadKey(zoom, tx, ty int) string {
	ty = FlipRow(zoom, ty)

	var b strings.Builder
	b.Grow(zoom)
	for i := zoom; i > 0; i-- {
		digit := byte('0')
		mask := 1 << uint(i-1)
		if tx&mask != 0 {
			digit++
		}
		if ty&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}
	return b.String()
}
