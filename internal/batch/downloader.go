// internal/batch/downloader.go - Bounded concurrent tile fetching
package batch

import (
	"context"
	"iter"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/valpere/tilecutter/internal"
	"github.com/valpere/tilecutter/internal/metrics"
	"github.com/valpere/tilecutter/internal/source"
	"github.com/valpere/tilecutter/internal/tile"
)

// Downloader resolves and fetches tiles with at most Concurrency requests in flight
type Downloader struct {
	resolver    source.Resolver
	fetcher     tile.Fetcher
	concurrency int
	timeout     time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics
	progress    *JobProgress
}

// NewDownloader creates a downloader. Metrics and progress may be nil.
func NewDownloader(resolver source.Resolver, fetcher tile.Fetcher, concurrency int, timeout time.Duration,
	logger *zap.Logger, m *metrics.Metrics, progress *JobProgress) *Downloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		resolver:    resolver,
		fetcher:     fetcher,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger,
		metrics:     m,
		progress:    progress,
	}
}

// Run fetches every coordinate of the sequence. Successful payloads go to out,
// failures to failures. out is closed once every started fetch has finished.
// Cancelling ctx stops new fetches; fetches already started run to completion
// under their own timeout.
func (d *Downloader) Run(ctx context.Context, coords iter.Seq[tile.Coordinate], out chan<- tile.Image, failures chan<- tile.Failure) {
	defer close(out)

	p := pool.New().WithMaxGoroutines(d.concurrency)
	detached := context.WithoutCancel(ctx)

	for c := range coords {
		if ctx.Err() != nil {
			d.logger.Info("fetching stopped", zap.Stringer("next_tile", c), zap.Error(ctx.Err()))
			break
		}
		p.Go(func() {
			d.fetch(detached, c, out, failures)
		})
	}

	p.Wait()
}

func (d *Downloader) fetch(ctx context.Context, c tile.Coordinate, out chan<- tile.Image, failures chan<- tile.Failure) {
	url := d.resolver.TileURL(c)

	fetchCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := d.fetcher.Fetch(fetchCtx, url)
	if d.metrics != nil {
		d.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		code := internal.CodeOf(err)
		if d.metrics != nil {
			d.metrics.IncFetchFailure(code)
		}
		if d.progress != nil {
			d.progress.Failed.Add(1)
		}
		d.logger.Debug("fetch failed", zap.Stringer("tile", c), zap.String("url", url), zap.Error(err))
		failures <- tile.Failure{
			Coordinate: c,
			URL:        url,
			Reason:     err.Error(),
			Code:       code,
			Time:       time.Now(),
		}
		return
	}

	if d.metrics != nil {
		d.metrics.TilesFetched.Inc()
	}
	if d.progress != nil {
		d.progress.Fetched.Add(1)
		d.progress.BytesFetched.Add(int64(len(data)))
	}
	out <- tile.Image{Coordinate: c, Data: data}
}
