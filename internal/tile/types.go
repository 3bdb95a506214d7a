// internal/tile/types.go - Tile crawl types
package tile

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"

	"github.com/valpere/tilecutter/pkg/geogrid"
)

// Coordinate addresses one tile in the TMS scheme (row 0 at the south edge)
type Coordinate struct {
	Level  int `json:"z"`
	Column int `json:"x"`
	Row    int `json:"y"`
}

// Image is a fetched tile payload waiting to be stored
type Image struct {
	Coordinate Coordinate
	Data       []byte
}

// Failure records a tile that could not be fetched
type Failure struct {
	Coordinate Coordinate `json:"coordinate"`
	URL        string     `json:"url"`
	Reason     string     `json:"reason"`
	Code       string     `json:"code,omitempty"`
	Time       time.Time  `json:"time"`
}

// ZoomRange is an inclusive range of zoom levels
type ZoomRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// TileRange represents the rectangle of tiles covering an extent at one zoom level
type TileRange struct {
	Level  int `json:"z"`
	MinCol int `json:"min_x"`
	MaxCol int `json:"max_x"`
	MinRow int `json:"min_y"`
	MaxRow int `json:"max_y"`
}

// Fetcher retrieves the raw bytes behind a resolved tile address
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// String returns a string representation of the tile coordinate
func (c Coordinate) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Level, c.Column, c.Row)
}

// ServiceRow returns the row in the north-origin scheme used by XYZ services
func (c Coordinate) ServiceRow() int {
	return geogrid.FlipRow(c.Level, c.Row)
}

// Count returns the number of tiles in the range
func (tr TileRange) Count() int64 {
	if tr.MaxCol < tr.MinCol || tr.MaxRow < tr.MinRow {
		return 0
	}
	return int64(tr.MaxCol-tr.MinCol+1) * int64(tr.MaxRow-tr.MinRow+1)
}

// NormalizeBound returns b with Min <= Max on both axes
func NormalizeBound(b orb.Bound) orb.Bound {
	return b.Min.Bound().Extend(b.Max)
}

// ValidateCoordinate ensures tile coordinates are within the grid
func ValidateCoordinate(c Coordinate) error {
	if c.Level < 0 || c.Level > geogrid.MaxZoom {
		return fmt.Errorf("invalid zoom level %d: must be between 0 and %d", c.Level, geogrid.MaxZoom)
	}

	maxIndex := geogrid.MaxIndex(c.Level)
	if c.Column < 0 || c.Column > maxIndex {
		return fmt.Errorf("invalid column %d for zoom %d: must be between 0 and %d", c.Column, c.Level, maxIndex)
	}

	if c.Row < 0 || c.Row > maxIndex {
		return fmt.Errorf("invalid row %d for zoom %d: must be between 0 and %d", c.Row, c.Level, maxIndex)
	}

	return nil
}
