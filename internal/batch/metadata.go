// internal/batch/metadata.go - MBTiles metadata for a finished crawl
package batch

import (
	"strconv"

	"github.com/valpere/tilecutter/internal/tile"
)

// MetadataOptions carries the descriptive metadata values
type MetadataOptions struct {
	Name        string
	Description string
	Format      string
}

// BuildMetadata returns the MBTiles metadata rows for job
func BuildMetadata(job *Job, opts MetadataOptions) map[string]string {
	format := opts.Format
	if format == "" {
		format = tile.FormatPNG
	}

	b := job.Extent
	return map[string]string{
		"name":        opts.Name,
		"type":        "overlay",
		"version":     "1",
		"description": opts.Description,
		"format":      format,
		"bounds":      formatBounds(b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()),
		"minzoom":     strconv.Itoa(job.Zooms.Min),
		"maxzoom":     strconv.Itoa(job.Zooms.Max),
		"scheme":      "tms",
	}
}

func formatBounds(values ...float64) string {
	out := make([]byte, 0, 64)
	for i, v := range values {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendFloat(out, v, 'f', -1, 64)
	}
	return string(out)
}
