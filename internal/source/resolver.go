// internal/source/resolver.go - Tile address resolution and the source factory
package source

import (
	"fmt"
	"strings"

	"github.com/valpere/tilecutter/internal"
	"github.com/valpere/tilecutter/internal/config"
	"github.com/valpere/tilecutter/internal/tile"
	"github.com/valpere/tilecutter/pkg/geogrid"
)

// Resolver turns a TMS tile coordinate into a fetchable address
type Resolver interface {
	TileURL(c tile.Coordinate) string
	Name() string
}

// Source type selectors
const (
	TypeTile       = "tile"
	TypeOSM        = "osm"
	TypeSubdomain  = "subdomain"
	TypeExport     = "export"
	TypeAGSDynamic = "agsdynamic"
	TypeWMS111     = "wms111"
	TypeWMS130     = "wms130"
)

// Types lists every accepted selector
var Types = []string{TypeTile, TypeOSM, TypeSubdomain, TypeExport, TypeAGSDynamic, TypeWMS111, TypeWMS130}

// DefaultSubdomains is used by subdomain sources configured without a list
var DefaultSubdomains = []string{"a", "b", "c"}

// Options configures a source variant
type Options struct {
	Type       string
	URL        string
	Params     Params
	Subdomains []string
	// FlipRows overrides the variant's own row scheme when non-nil
	FlipRows *bool
	TileSize int
}

// OptionsFromConfig builds resolver options from the application configuration
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	flip, err := cfg.FlipRowsOverride()
	if err != nil {
		return Options{}, internal.NewError(internal.ErrorCodeConfig, "invalid flip_rows", err)
	}

	return Options{
		Type:       cfg.Source.Type,
		URL:        cfg.Source.URL,
		Params:     ParseParams(cfg.Source.Params),
		Subdomains: cfg.Source.Subdomains,
		FlipRows:   flip,
		TileSize:   cfg.Source.TileSize,
	}, nil
}

// New creates the resolver selected by opts.Type
func New(opts Options) (Resolver, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, internal.NewError(internal.ErrorCodeConfig, "source URL cannot be empty", nil)
	}

	grid := geogrid.New(opts.TileSize)

	switch strings.ToLower(strings.TrimSpace(opts.Type)) {
	case TypeTile, TypeOSM:
		return NewTemplateSource(opts.URL, flipOr(opts.FlipRows, false)), nil
	case TypeSubdomain:
		return NewSubdomainSource(opts.URL, opts.Subdomains, flipOr(opts.FlipRows, true)), nil
	case TypeExport, TypeAGSDynamic:
		return NewExportSource(opts.URL, grid, opts.Params, flipOr(opts.FlipRows, false)), nil
	case TypeWMS111:
		return NewWMSSource(opts.URL, WMS111, grid, opts.Params, flipOr(opts.FlipRows, false)), nil
	case TypeWMS130:
		return NewWMSSource(opts.URL, WMS130, grid, opts.Params, flipOr(opts.FlipRows, false)), nil
	default:
		return nil, internal.NewError(internal.ErrorCodeConfig,
			fmt.Sprintf("unknown source type %q, must be one of %v", opts.Type, Types), nil)
	}
}

// serviceRow applies the north-origin flip once, only when the variant asks for it
func serviceRow(c tile.Coordinate, flip bool) int {
	if flip {
		return c.ServiceRow()
	}
	return c.Row
}

func flipOr(override *bool, def bool) bool {
	if override != nil {
		return *override
	}
	return def
}
