// internal/source/template.go - URL template tile sources
package source

import (
	"strconv"
	"strings"

	"github.com/valpere/tilecutter/internal/tile"
	"github.com/valpere/tilecutter/pkg/geogrid"
)

// OSMTemplate is the public OpenStreetMap tile server as a base URL
const OSMTemplate = "http://tile.openstreetmap.org"

// OSMSubdomainTemplate is the OpenStreetMap tile server spread over subdomains
const OSMSubdomainTemplate = "http://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"

// TemplateSource substitutes tile indices into a URL template.
// A template without placeholders is a base URL and gets /{level}/{column}/{row}.png.
type TemplateSource struct {
	template string
	flipRows bool
}

// NewTemplateSource creates a template source
func NewTemplateSource(template string, flipRows bool) *TemplateSource {
	if !hasPlaceholder(template) {
		template = strings.TrimRight(template, "/") + "/{level}/{column}/{row}.png"
	}
	return &TemplateSource{template: template, flipRows: flipRows}
}

// TileURL implements Resolver
func (s *TemplateSource) TileURL(c tile.Coordinate) string {
	return expand(s.template, c, serviceRow(c, s.flipRows), "")
}

// Name implements Resolver
func (s *TemplateSource) Name() string {
	return TypeTile
}

// FlipRows reports whether rows are converted to the north-origin scheme
func (s *TemplateSource) FlipRows() bool {
	return s.flipRows
}

// SubdomainSource spreads requests over several hosts.
// The host is picked from the native coordinate so a tile always maps to the same one.
type SubdomainSource struct {
	template   string
	subdomains []string
	flipRows   bool
}

// NewSubdomainSource creates a subdomain source; an empty list falls back to DefaultSubdomains
func NewSubdomainSource(template string, subdomains []string, flipRows bool) *SubdomainSource {
	if len(subdomains) == 0 {
		subdomains = DefaultSubdomains
	}
	if !hasPlaceholder(template) {
		template = strings.TrimRight(template, "/") + "/{level}/{column}/{row}.png"
	}

	return &SubdomainSource{
		template:   template,
		subdomains: append([]string(nil), subdomains...),
		flipRows:   flipRows,
	}
}

// Subdomain returns the host prefix used for a tile
func (s *SubdomainSource) Subdomain(c tile.Coordinate) string {
	i := (c.Level + c.Column + c.Row) % len(s.subdomains)
	if i < 0 {
		i += len(s.subdomains)
	}
	return s.subdomains[i]
}

// TileURL implements Resolver
func (s *SubdomainSource) TileURL(c tile.Coordinate) string {
	return expand(s.template, c, serviceRow(c, s.flipRows), s.Subdomain(c))
}

// Name implements Resolver
func (s *SubdomainSource) Name() string {
	return TypeSubdomain
}

// FlipRows reports whether rows are converted to the north-origin scheme
func (s *SubdomainSource) FlipRows() bool {
	return s.flipRows
}

var placeholders = []string{
	"{level}", "{z}", "{column}", "{x}", "{row}", "{y}", "{quadkey}", "{subdomain}", "{s}",
}

func hasPlaceholder(template string) bool {
	for _, p := range placeholders {
		if strings.Contains(template, p) {
			return true
		}
	}
	return false
}

func expand(template string, c tile.Coordinate, row int, subdomain string) string {
	level := strconv.Itoa(c.Level)
	column := strconv.Itoa(c.Column)
	rowStr := strconv.Itoa(row)

	r := strings.NewReplacer(
		"{level}", level,
		"{z}", level,
		"{column}", column,
		"{x}", column,
		"{row}", rowStr,
		"{y}", rowStr,
		"{quadkey}", geogrid.QuadKey(c.Level, c.Column, c.Row),
		"{subdomain}", subdomain,
		"{s}", subdomain,
	)
	return r.Replace(template)
}
