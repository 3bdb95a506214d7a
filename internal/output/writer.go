// internal/output/writer.go - Failure report writers
package output

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/valpere/tilecutter/internal/tile"
)

// FileWriter appends failure records to a file, gzipped when the name ends in .gz
type FileWriter struct {
	mu          sync.Mutex
	formatter   Formatter
	destination Destination
}

// NewFileWriter creates a new file-based writer
func NewFileWriter(path string, format Format) (*FileWriter, error) {
	formatter, err := NewFormatter(format)
	if err != nil {
		return nil, fmt.Errorf("failed to create formatter: %w", err)
	}

	dest, err := newFileDestination(path, strings.HasSuffix(path, ".gz"))
	if err != nil {
		return nil, fmt.Errorf("failed to create file destination: %w", err)
	}

	return &FileWriter{
		formatter:   formatter,
		destination: dest,
	}, nil
}

// Write appends one failure record
func (w *FileWriter) Write(_ context.Context, failure tile.Failure) error {
	data, err := w.formatter.Format(failure)
	if err != nil {
		return fmt.Errorf("formatting failed: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.destination.Write(data); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// Name returns the report file path
func (w *FileWriter) Name() string {
	return w.destination.Name()
}

// Close flushes and closes the report file
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destination.Close()
}

// StreamWriter writes failure records to an already open stream such as stdout
type StreamWriter struct {
	mu        sync.Mutex
	formatter Formatter
	out       io.Writer
}

// NewStreamWriter creates a writer over out
func NewStreamWriter(out io.Writer, format Format) (*StreamWriter, error) {
	formatter, err := NewFormatter(format)
	if err != nil {
		return nil, fmt.Errorf("failed to create formatter: %w", err)
	}
	return &StreamWriter{formatter: formatter, out: out}, nil
}

// NewStdoutWriter creates a new stdout-based writer
func NewStdoutWriter(format Format) (*StreamWriter, error) {
	return NewStreamWriter(os.Stdout, format)
}

// Write writes one failure record
func (w *StreamWriter) Write(_ context.Context, failure tile.Failure) error {
	data, err := w.formatter.Format(failure)
	if err != nil {
		return fmt.Errorf("formatting failed: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.out.Write(data); err != nil {
		return fmt.Errorf("write to stream failed: %w", err)
	}
	return nil
}

// Close is a no-op; the stream is owned by the caller
func (w *StreamWriter) Close() error {
	return nil
}

// LogWriter reports failures through the structured logger
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a writer that logs each failure at warn level
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

// Write logs one failure record
func (w *LogWriter) Write(_ context.Context, failure tile.Failure) error {
	w.logger.Warn("tile fetch failed",
		zap.Stringer("tile", failure.Coordinate),
		zap.String("url", failure.URL),
		zap.String("code", failure.Code),
		zap.String("reason", failure.Reason))
	return nil
}

// Close flushes the logger
func (w *LogWriter) Close() error {
	_ = w.logger.Sync()
	return nil
}

// MultiWriter fans each record out to several writers
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter combines writers; nil entries are skipped
func NewMultiWriter(writers ...Writer) *MultiWriter {
	m := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			m.writers = append(m.writers, w)
		}
	}
	return m
}

// Write delivers the record to every writer and combines their errors
func (m *MultiWriter) Write(ctx context.Context, failure tile.Failure) error {
	var err error
	for _, w := range m.writers {
		err = multierr.Append(err, w.Write(ctx, failure))
	}
	return err
}

// Close closes every writer and combines their errors
func (m *MultiWriter) Close() error {
	var err error
	for _, w := range m.writers {
		err = multierr.Append(err, w.Close())
	}
	return err
}

// fileDestination implements the Destination interface for file output
type fileDestination struct {
	file   *os.File
	writer io.WriteCloser
	name   string
}

// newFileDestination creates a new file destination with optional compression
func newFileDestination(path string, compression bool) (*fileDestination, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	var writer io.WriteCloser = file
	if compression {
		writer = gzip.NewWriter(file)
	}

	return &fileDestination{
		file:   file,
		writer: writer,
		name:   path,
	}, nil
}

// Write implements io.Writer
func (d *fileDestination) Write(p []byte) (n int, err error) {
	return d.writer.Write(p)
}

// Close implements io.Closer
func (d *fileDestination) Close() error {
	if d.writer != d.file {
		if err := d.writer.Close(); err != nil {
			return multierr.Append(err, d.file.Close())
		}
	}
	return d.file.Close()
}

// Name returns the destination file path
func (d *fileDestination) Name() string {
	return d.name
}

// FormatForPath picks text for .txt reports and JSON lines otherwise
func FormatForPath(path string) Format {
	name := strings.TrimSuffix(strings.ToLower(path), ".gz")
	if strings.HasSuffix(name, ".txt") || strings.HasSuffix(name, ".tsv") {
		return FormatText
	}
	return FormatJSON
}

// NewWriter creates the report writer for a destination; "-" means stdout.
// An empty format picks one from the file name.
func NewWriter(destination, format string) (Writer, error) {
	f := FormatForPath(destination)
	if format != "" {
		var err error
		if f, err = ParseFormat(strings.ToLower(format)); err != nil {
			return nil, err
		}
	}

	if destination == "" || destination == "-" {
		return NewStdoutWriter(f)
	}
	return NewFileWriter(destination, f)
}
