// internal/output/types.go - Failure report types
package output

import (
	"context"
	"fmt"
	"io"

	"github.com/valpere/tilecutter/internal/tile"
)

// Format represents the encodings supported for failure reports
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Writer receives per-tile failure records
type Writer interface {
	Write(ctx context.Context, failure tile.Failure) error
	Close() error
}

// Formatter encodes one failure record as a self-contained line
type Formatter interface {
	Format(failure tile.Failure) ([]byte, error)
}

// Destination represents an output destination (file, stdout, etc.)
type Destination interface {
	io.WriteCloser
	Name() string
}

// String returns a string representation of the format
func (f Format) String() string {
	return string(f)
}

// IsValid checks if the format is supported
func (f Format) IsValid() bool {
	switch f {
	case FormatJSON, FormatText:
		return true
	default:
		return false
	}
}

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	f := Format(s)
	if !f.IsValid() {
		return "", fmt.Errorf("invalid report format: %s", s)
	}
	return f, nil
}
