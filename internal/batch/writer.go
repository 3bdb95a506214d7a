// internal/batch/writer.go - Batched, deduplicated persistence of fetched tiles
package batch

import (
	"context"
	"crypto/md5"
	"encoding/hex"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/valpere/tilecutter/internal/metrics"
	"github.com/valpere/tilecutter/internal/store"
	"github.com/valpere/tilecutter/internal/tile"
)

// ContentHash returns the hex MD5 digest used to address tile content
func ContentHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// WriteSummary totals what the write stage did
type WriteSummary struct {
	Tiles         int
	NewImages     int
	ReusedImages  int
	Batches       int
	FailedBatches int
	DroppedTiles  int
}

func (s *WriteSummary) add(o WriteSummary) {
	s.Tiles += o.Tiles
	s.NewImages += o.NewImages
	s.ReusedImages += o.ReusedImages
	s.Batches += o.Batches
	s.FailedBatches += o.FailedBatches
	s.DroppedTiles += o.DroppedTiles
}

// BatchWriter drains fetched tiles with a fixed number of workers, each
// committing a batch whenever it has collected batchSize tiles
type BatchWriter struct {
	committer   Committer
	concurrency int
	batchSize   int
	logger      *zap.Logger
	metrics     *metrics.Metrics
	job         *Job
	reporter    ProgressReporter
}

// NewBatchWriter creates a writer. Metrics, job and reporter may be nil.
func NewBatchWriter(committer Committer, concurrency, batchSize int, logger *zap.Logger,
	m *metrics.Metrics, job *Job, reporter ProgressReporter) *BatchWriter {
	if concurrency <= 0 {
		concurrency = 1
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchWriter{
		committer:   committer,
		concurrency: concurrency,
		batchSize:   batchSize,
		logger:      logger,
		metrics:     m,
		job:         job,
		reporter:    reporter,
	}
}

type workerResult struct {
	summary  WriteSummary
	leftover []tile.Image
}

// Run consumes in until it is closed. Partial batches left by the workers are
// merged and flushed in chunks of at most batchSize. Commits are not
// interrupted by ctx cancellation so a started batch always lands or rolls back.
func (w *BatchWriter) Run(ctx context.Context, in <-chan tile.Image) WriteSummary {
	commitCtx := context.WithoutCancel(ctx)

	p := pool.NewWithResults[workerResult]()
	for i := 0; i < w.concurrency; i++ {
		p.Go(func() workerResult {
			return w.work(commitCtx, in)
		})
	}

	var summary WriteSummary
	var leftover []tile.Image
	for _, r := range p.Wait() {
		summary.add(r.summary)
		leftover = append(leftover, r.leftover...)
	}

	for len(leftover) > 0 {
		n := min(w.batchSize, len(leftover))
		summary.add(w.commit(commitCtx, leftover[:n]))
		leftover = leftover[n:]
	}

	return summary
}

func (w *BatchWriter) work(ctx context.Context, in <-chan tile.Image) workerResult {
	var res workerResult
	buf := make([]tile.Image, 0, w.batchSize)

	for img := range in {
		if w.metrics != nil {
			w.metrics.QueueDepth.Set(float64(len(in)))
		}
		buf = append(buf, img)
		if len(buf) >= w.batchSize {
			res.summary.add(w.commit(ctx, buf))
			buf = make([]tile.Image, 0, w.batchSize)
		}
	}

	res.leftover = buf
	return res
}

// commit builds one store batch from images and persists it
func (w *BatchWriter) commit(ctx context.Context, images []tile.Image) WriteSummary {
	b := store.NewBatch(len(images))
	for _, img := range images {
		b.Add(img.Coordinate, ContentHash(img.Data), img.Data)
	}

	result, err := w.committer.CommitBatch(ctx, b)
	if w.reporter != nil && w.job != nil {
		if rerr := w.reporter.ReportBatchComplete(w.job, result, err); rerr != nil {
			w.logger.Debug("progress report failed", zap.Error(rerr))
		}
	}

	if err != nil {
		w.logger.Error("batch commit failed",
			zap.Int("tiles", b.Len()),
			zap.Stringer("first_tile", images[0].Coordinate),
			zap.Error(err))
		if w.metrics != nil {
			w.metrics.BatchFailures.Inc()
		}
		if w.job != nil {
			w.job.Progress.BatchesFailed.Add(1)
		}
		return WriteSummary{FailedBatches: 1, DroppedTiles: b.Len()}
	}

	reused := result.Tiles - result.NewImages
	if w.metrics != nil {
		w.metrics.BatchesCommitted.Inc()
		w.metrics.TilesStored.Add(float64(result.Tiles))
		w.metrics.ImagesStored.Add(float64(result.NewImages))
		w.metrics.ImagesDeduplicated.Add(float64(reused))
	}
	if w.job != nil {
		w.job.Progress.BatchesCommitted.Add(1)
		w.job.Progress.Stored.Add(int64(result.Tiles))
		w.job.Progress.NewImages.Add(int64(result.NewImages))
		w.job.Progress.Deduplicated.Add(int64(reused))
	}

	return WriteSummary{
		Tiles:        result.Tiles,
		NewImages:    result.NewImages,
		ReusedImages: result.ReusedImages,
		Batches:      1,
	}
}
