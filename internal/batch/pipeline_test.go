// internal/batch/pipeline_test.go - Tests for the crawl pipeline
package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/tilecutter/internal"
	"github.com/valpere/tilecutter/internal/metrics"
	"github.com/valpere/tilecutter/internal/store"
	"github.com/valpere/tilecutter/internal/tile"
	"github.com/valpere/tilecutter/pkg/geogrid"
)

var testGrid = geogrid.Default

var world = orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}

type stubResolver struct{}

func (stubResolver) TileURL(c tile.Coordinate) string { return "stub://" + c.String() }
func (stubResolver) Name() string                     { return "stub" }

type fetchFunc func(ctx context.Context, url string) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

type recordingWriter struct {
	mu       sync.Mutex
	failures []tile.Failure
}

func (w *recordingWriter) Write(_ context.Context, f tile.Failure) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures = append(w.failures, f)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

type recordingReporter struct {
	mu        sync.Mutex
	batches   int
	failed    int
	completed int
	jobFailed int
}

func (r *recordingReporter) ReportProgress(*Job) error { return nil }

func (r *recordingReporter) ReportBatchComplete(_ *Job, _ store.BatchResult, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failed++
	} else {
		r.batches++
	}
	return nil
}

func (r *recordingReporter) ReportJobComplete(*Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	return nil
}

func (r *recordingReporter) ReportJobFailed(*Job, error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobFailed++
	return nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache.mbtiles"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig(batchSize int) *JobConfig {
	return &JobConfig{
		FetchConcurrency: 4,
		WriteConcurrency: 3,
		BatchSize:        batchSize,
		FetchTimeout:     time.Second,
		ProgressInterval: 10 * time.Millisecond,
	}
}

func TestPipelineDeduplicatesIdenticalTiles(t *testing.T) {
	s := openStore(t)
	fetcher := fetchFunc(func(context.Context, string) ([]byte, error) {
		return []byte("ocean"), nil
	})

	job := NewJob("dedup", tile.ZoomRange{Min: 1, Max: 1}, world, testConfig(50))
	reporter := &recordingReporter{}
	p := NewPipeline(stubResolver{}, fetcher, s, WithReporter(reporter))

	require.NoError(t, p.Process(context.Background(), job))
	assert.Equal(t, JobStatusCompleted, job.Status)

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Tiles)
	assert.Equal(t, int64(1), st.Images)

	snap := job.Progress.Snapshot()
	assert.Equal(t, int64(4), snap.TotalTiles)
	assert.Equal(t, int64(4), snap.Fetched)
	assert.Equal(t, int64(4), snap.Stored)
	assert.Equal(t, int64(1), snap.NewImages)
	assert.Equal(t, int64(3), snap.Deduplicated)
	assert.Equal(t, 1, reporter.completed)
}

func TestPipelineRecordsFailures(t *testing.T) {
	s := openStore(t)
	failing := tile.Coordinate{Level: 3, Column: 3, Row: 5}

	fetcher := fetchFunc(func(_ context.Context, url string) ([]byte, error) {
		if url == "stub://"+failing.String() {
			return nil, internal.NewError(internal.ErrorCodeHTTPStatus, "server returned 404", nil)
		}
		// Two distinct payloads alternate by URL length
		return []byte(fmt.Sprintf("img-%d", len(url)%2)), nil
	})

	failures := &recordingWriter{}
	m := metrics.New()
	job := NewJob("failures", tile.ZoomRange{Min: 3, Max: 3}, world, testConfig(10))
	p := NewPipeline(stubResolver{}, fetcher, s, WithFailureWriter(failures), WithMetrics(m))

	require.NoError(t, p.Process(context.Background(), job))

	require.Len(t, failures.failures, 1)
	f := failures.failures[0]
	assert.Equal(t, failing, f.Coordinate)
	assert.Equal(t, "stub://3/3/5", f.URL)
	assert.Equal(t, internal.ErrorCodeHTTPStatus, f.Code)

	ctx := context.Background()
	_, err := s.ReadTile(ctx, failing)
	assert.Equal(t, internal.ErrorCodeNotFound, internal.CodeOf(err))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(63), st.Tiles)
	assert.LessOrEqual(t, st.Images, int64(2))

	integrity, err := s.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, integrity.OK())

	snap := job.Progress.Snapshot()
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(63), snap.Fetched)
	assert.InDelta(t, 100.0, snap.CalculateProgress(), 1e-9)
}

func TestPipelineCancellationCommitsFetchedTiles(t *testing.T) {
	s := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int64
	fetcher := fetchFunc(func(_ context.Context, url string) ([]byte, error) {
		if calls.Add(1) == 10 {
			cancel()
		}
		return []byte(url), nil
	})

	job := NewJob("cancel", tile.ZoomRange{Min: 4, Max: 4}, world, testConfig(7))
	reporter := &recordingReporter{}
	p := NewPipeline(stubResolver{}, fetcher, s, WithReporter(reporter))

	err := p.Process(ctx, job)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, JobStatusCanceled, job.Status)
	assert.Equal(t, 1, reporter.jobFailed)

	snap := job.Progress.Snapshot()
	assert.Less(t, snap.Fetched, int64(256))
	assert.Equal(t, snap.Fetched, snap.Stored, "every fetched tile is committed")

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.Fetched, st.Tiles)
}

func TestPipelineRejectsBadZoomRange(t *testing.T) {
	s := openStore(t)
	job := NewJob("bad", tile.ZoomRange{Min: 5, Max: 2}, world, nil)
	p := NewPipeline(stubResolver{}, fetchFunc(func(context.Context, string) ([]byte, error) {
		t.Fatal("no fetch expected")
		return nil, nil
	}), s)

	err := p.Process(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, internal.ErrorCodeValidation, internal.CodeOf(err))
	assert.Equal(t, JobStatusFailed, job.Status)
}

func TestPipelineSmallBatchesManyWritersStoreOneImage(t *testing.T) {
	s := openStore(t)
	fetcher := fetchFunc(func(context.Context, string) ([]byte, error) {
		return []byte("land"), nil
	})

	cfg := testConfig(2)
	cfg.WriteConcurrency = 4
	job := NewJob("small-batches", tile.ZoomRange{Min: 3, Max: 3}, world, cfg)
	p := NewPipeline(stubResolver{}, fetcher, s)

	ctx := context.Background()
	require.NoError(t, p.Process(ctx, job))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(64), st.Tiles)
	assert.Equal(t, int64(1), st.Images)

	integrity, err := s.CheckIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, integrity.OK())

	snap := job.Progress.Snapshot()
	assert.Equal(t, int64(1), snap.NewImages)
	assert.Equal(t, int64(63), snap.Deduplicated)
}

func TestPipelineClampsExtentToGrid(t *testing.T) {
	s := openStore(t)
	fetcher := fetchFunc(func(context.Context, string) ([]byte, error) {
		return []byte("ice"), nil
	})

	polar := orb.Bound{Min: orb.Point{-10, -89}, Max: orb.Point{10, 89}}
	job := NewJob("polar", tile.ZoomRange{Min: 0, Max: 0}, polar, testConfig(10))
	p := NewPipeline(stubResolver{}, fetcher, s)
	require.NoError(t, p.Process(context.Background(), job))

	assert.Equal(t, -geogrid.MaxLatitude, job.Extent.Min.Y())
	assert.Equal(t, geogrid.MaxLatitude, job.Extent.Max.Y())

	md := BuildMetadata(job, MetadataOptions{Name: "polar"})
	assert.Equal(t, "-10,-85.05112877980659,10,85.05112877980659", md["bounds"])
}

func TestValidateJob(t *testing.T) {
	assert.Error(t, ValidateJob(nil))
	assert.Error(t, ValidateJob(&Job{Config: NewJobConfig()}))
	assert.Error(t, ValidateJob(&Job{ID: "x"}))

	job := &Job{ID: "x", Config: NewJobConfig()}
	require.NoError(t, ValidateJob(job))
	assert.NotNil(t, job.Progress)
}

type recordingCommitter struct {
	mu    sync.Mutex
	sizes []int
	fail  int
	calls int
}

func (c *recordingCommitter) CommitBatch(_ context.Context, b *store.Batch) (store.BatchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.fail {
		return store.BatchResult{}, errors.New("disk full")
	}
	c.sizes = append(c.sizes, b.Len())
	return store.BatchResult{Tiles: b.Len(), NewImages: len(b.Images)}, nil
}

func feed(n int, payload func(i int) []byte) <-chan tile.Image {
	ch := make(chan tile.Image, n)
	for i := 0; i < n; i++ {
		ch <- tile.Image{Coordinate: tile.Coordinate{Level: 10, Column: i, Row: 0}, Data: payload(i)}
	}
	close(ch)
	return ch
}

func TestBatchWriterFlushesLeftovers(t *testing.T) {
	c := &recordingCommitter{}
	w := NewBatchWriter(c, 3, 5, nil, nil, nil, nil)

	summary := w.Run(context.Background(), feed(23, func(i int) []byte { return []byte{byte(i)} }))

	total := 0
	for _, n := range c.sizes {
		assert.LessOrEqual(t, n, 5)
		total += n
	}
	assert.Equal(t, 23, total)
	assert.Equal(t, 23, summary.Tiles)
	assert.Equal(t, 23, summary.NewImages)
	assert.Equal(t, len(c.sizes), summary.Batches)
	assert.Zero(t, summary.FailedBatches)
}

func TestBatchWriterDeduplicatesWithinBatch(t *testing.T) {
	c := &recordingCommitter{}
	w := NewBatchWriter(c, 1, 10, nil, nil, nil, nil)

	summary := w.Run(context.Background(), feed(10, func(i int) []byte { return []byte{byte(i % 2)} }))
	assert.Equal(t, 10, summary.Tiles)
	assert.Equal(t, 2, summary.NewImages)
	assert.Equal(t, []int{10}, c.sizes)
}

func TestBatchWriterContinuesAfterCommitFailure(t *testing.T) {
	c := &recordingCommitter{fail: 1}
	job := NewJob("w", tile.ZoomRange{}, world, nil)
	reporter := &recordingReporter{}
	w := NewBatchWriter(c, 1, 4, nil, metrics.New(), job, reporter)

	summary := w.Run(context.Background(), feed(12, func(i int) []byte { return []byte{byte(i)} }))
	assert.Equal(t, 1, summary.FailedBatches)
	assert.Equal(t, 4, summary.DroppedTiles)
	assert.Equal(t, 8, summary.Tiles)
	assert.Equal(t, 2, summary.Batches)
	assert.Equal(t, int64(1), job.Progress.BatchesFailed.Load())
	assert.Equal(t, 1, reporter.failed)
	assert.Equal(t, 2, reporter.batches)
}

func TestDownloaderBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int64
	fetcher := fetchFunc(func(context.Context, string) ([]byte, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return []byte("x"), nil
	})

	e, err := tile.NewEnumerator(testGrid, tile.ZoomRange{Min: 0, Max: 2}, world)
	require.NoError(t, err)

	out := make(chan tile.Image)
	failures := make(chan tile.Failure)
	d := NewDownloader(stubResolver{}, fetcher, 3, time.Second, nil, nil, nil)
	go d.Run(context.Background(), e.All(), out, failures)

	got := 0
	for range out {
		got++
	}
	assert.Equal(t, 21, got)
	assert.LessOrEqual(t, peak.Load(), int64(3))
}

func TestDownloaderTimeoutIsFailure(t *testing.T) {
	fetcher := fetchFunc(func(ctx context.Context, _ string) ([]byte, error) {
		<-ctx.Done()
		return nil, internal.NewError(internal.ErrorCodeTimeout, "request timed out", ctx.Err())
	})

	e, err := tile.NewEnumerator(testGrid, tile.ZoomRange{Min: 0, Max: 0}, world)
	require.NoError(t, err)

	out := make(chan tile.Image, 1)
	failures := make(chan tile.Failure, 1)
	progress := NewJobProgress()
	d := NewDownloader(stubResolver{}, fetcher, 1, 5*time.Millisecond, nil, metrics.New(), progress)
	d.Run(context.Background(), e.All(), out, failures)

	_, open := <-out
	assert.False(t, open)
	f := <-failures
	assert.Equal(t, internal.ErrorCodeTimeout, f.Code)
	assert.Equal(t, int64(1), progress.Failed.Load())
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", ContentHash(nil))
	assert.Equal(t, ContentHash([]byte("a")), ContentHash([]byte("a")))
	assert.NotEqual(t, ContentHash([]byte("a")), ContentHash([]byte("b")))
}

func TestBuildMetadata(t *testing.T) {
	extent := orb.Bound{Min: orb.Point{-95.844727, 35.978006}, Max: orb.Point{-88.989258, 40.563895}}
	job := NewJob("m", tile.ZoomRange{Min: 7, Max: 10}, extent, nil)

	md := BuildMetadata(job, MetadataOptions{Name: "tilecache", Description: "roads"})
	assert.Equal(t, map[string]string{
		"name":        "tilecache",
		"type":        "overlay",
		"version":     "1",
		"description": "roads",
		"format":      "png",
		"bounds":      "-95.844727,35.978006,-88.989258,40.563895",
		"minzoom":     "7",
		"maxzoom":     "10",
		"scheme":      "tms",
	}, md)
}

func TestProgressSnapshot(t *testing.T) {
	snap := ProgressSnapshot{TotalTiles: 100, Fetched: 30, Failed: 10, Elapsed: 4 * time.Second}
	assert.Equal(t, int64(40), snap.Attempted())
	assert.InDelta(t, 40.0, snap.CalculateProgress(), 1e-9)
	assert.InDelta(t, 10.0, snap.Throughput(), 1e-9)
	assert.Equal(t, 6*time.Second, snap.EstimateCompletion())

	assert.Zero(t, ProgressSnapshot{}.CalculateProgress())
	assert.Zero(t, ProgressSnapshot{}.EstimateCompletion())
}

func TestJobStatusPredicates(t *testing.T) {
	job := NewJob("status", tile.ZoomRange{Min: 0, Max: 0}, world, nil)
	assert.False(t, job.IsRunning())
	assert.False(t, job.IsComplete())

	s := openStore(t)
	p := NewPipeline(stubResolver{}, fetchFunc(func(context.Context, string) ([]byte, error) {
		assert.True(t, job.IsRunning())
		return []byte("x"), nil
	}), s)
	require.NoError(t, p.Process(context.Background(), job))
	assert.False(t, job.IsRunning())
	assert.True(t, job.IsComplete())

	for _, status := range []JobStatus{JobStatusFailed, JobStatusCanceled} {
		job.Status = status
		assert.True(t, job.IsComplete(), status)
	}
}
