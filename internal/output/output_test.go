// internal/output/output_test.go - Failure report writer tests
package output

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/valpere/tilecutter/internal/tile"
)

var sampleFailure = tile.Failure{
	Coordinate: tile.Coordinate{Level: 7, Column: 3, Row: 5},
	URL:        "http://example.com/7/3/5.png",
	Reason:     "HTTP 404: Not Found",
	Code:       "HTTP_STATUS_ERROR",
	Time:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
}

func TestJSONFormatter(t *testing.T) {
	data, err := JSONFormatter{}.Format(sampleFailure)
	require.NoError(t, err)
	require.True(t, bytes.HasSuffix(data, []byte("\n")))

	var decoded tile.Failure
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, sampleFailure, decoded)
	assert.Contains(t, string(data), `"coordinate":{"z":7,"x":3,"y":5}`)
}

func TestTextFormatter(t *testing.T) {
	f := sampleFailure
	f.Reason = "line one\nline two"
	data, err := TextFormatter{}.Format(f)
	require.NoError(t, err)
	assert.Equal(t, "7\t3\t5\t2024-05-01T12:00:00Z\tline one line two\n", string(data))
}

func TestFileWriterGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "failures.jsonl.gz")

	w, err := NewWriter(path, "")
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), sampleFailure))
	require.NoError(t, w.Write(context.Background(), sampleFailure))
	require.NoError(t, w.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	gz, err := gzip.NewReader(file)
	require.NoError(t, err)

	lines := 0
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var decoded tile.Failure
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
		assert.Equal(t, sampleFailure.Coordinate, decoded.Coordinate)
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 2, lines)
}

func TestFileWriterText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.txt")
	w, err := NewWriter(path, "")
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), sampleFailure))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "7\t3\t5\t"))
}

func TestNewWriterFormatOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.log")
	w, err := NewWriter(path, "TEXT")
	require.NoError(t, err)
	require.NoError(t, w.Write(context.Background(), sampleFailure))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "7\t3\t5\t"))

	_, err = NewWriter(path, "csv")
	assert.ErrorContains(t, err, "invalid report format: csv")
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatJSON, FormatForPath("failures.jsonl"))
	assert.Equal(t, FormatJSON, FormatForPath("failures.json.gz"))
	assert.Equal(t, FormatText, FormatForPath("failures.TXT"))
	assert.Equal(t, FormatText, FormatForPath("failures.tsv.gz"))
}

type failingWriter struct{ closed bool }

func (f *failingWriter) Write(context.Context, tile.Failure) error { return errors.New("boom") }
func (f *failingWriter) Close() error                              { f.closed = true; return nil }

func TestMultiWriter(t *testing.T) {
	var buf bytes.Buffer
	stream, err := NewStreamWriter(&buf, FormatJSON)
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	bad := &failingWriter{}

	m := NewMultiWriter(stream, nil, NewLogWriter(zap.New(core)), bad)
	err = m.Write(context.Background(), sampleFailure)
	require.Error(t, err)

	assert.Contains(t, buf.String(), `"reason":"HTTP 404: Not Found"`)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "7/3/5", logs.All()[0].ContextMap()["tile"])

	require.NoError(t, m.Close())
	assert.True(t, bad.closed)
}

func TestRedisWriter(t *testing.T) {
	addr := os.Getenv("TILECUTTER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TILECUTTER_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	key := "tilecutter:test:" + time.Now().Format("150405.000000")
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Del(ctx, key) })

	w := NewRedisWriterWithClient(client, key)
	require.NoError(t, w.Write(ctx, sampleFailure))

	n, err := w.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	raw, err := client.LIndex(ctx, key, 0).Result()
	require.NoError(t, err)
	var decoded tile.Failure
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.Equal(t, sampleFailure.URL, decoded.URL)
}
