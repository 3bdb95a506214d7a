// internal/output/formatter.go - Failure record formatting
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valpere/tilecutter/internal/tile"
)

// JSONFormatter writes one JSON object per line
type JSONFormatter struct{}

// Format implements Formatter
func (JSONFormatter) Format(failure tile.Failure) ([]byte, error) {
	data, err := json.Marshal(failure)
	if err != nil {
		return nil, fmt.Errorf("failed to encode failure for %s: %w", failure.Coordinate, err)
	}
	return append(data, '\n'), nil
}

// TextFormatter writes tab-separated "z x y time reason" lines
type TextFormatter struct{}

// Format implements Formatter
func (TextFormatter) Format(failure tile.Failure) ([]byte, error) {
	c := failure.Coordinate
	reason := strings.ReplaceAll(failure.Reason, "\n", " ")
	line := fmt.Sprintf("%d\t%d\t%d\t%s\t%s\n", c.Level, c.Column, c.Row, failure.Time.UTC().Format(time.RFC3339), reason)
	return []byte(line), nil
}

// NewFormatter creates the formatter for a format
func NewFormatter(format Format) (Formatter, error) {
	switch format {
	case FormatJSON:
		return JSONFormatter{}, nil
	case FormatText:
		return TextFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
