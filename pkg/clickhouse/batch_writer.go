package clickhouse

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/emirks/tercihify-chat/pkg/logger"
)

// FlushFunc performs the actual INSERT for one batch of rows.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriter accumulates rows in memory and flushes them to ClickHouse in batches.
// Single row inserts are expensive in ClickHouse, so every writer in this service goes through here.
type BatchWriter[T any] struct {
	flushFunc FlushFunc[T]
	buffer    []T
	mu        sync.Mutex
	log       *logger.Logger

	maxBatchSize  int
	maxAge        time.Duration
	maxRetained   int
	tableName     string
	flushedTotal  uint64
	failedFlushes uint64
	droppedTotal  uint64

	lastFlush time.Time
	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
}

// BatchWriterConfig contains configuration for BatchWriter
type BatchWriterConfig[T any] struct {
	FlushFunc    FlushFunc[T]
	TableName    string
	MaxBatchSize int           // Default: 500
	MaxAge       time.Duration // Default: 5s
	// MaxRetained caps how many rows of failed batches are kept for the next flush.
	// Zero drops failed batches.
	MaxRetained int
	Logger      *logger.Logger
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter[T any](cfg BatchWriterConfig[T]) *BatchWriter[T] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	return &BatchWriter[T]{
		flushFunc:    cfg.FlushFunc,
		buffer:       make([]T, 0, cfg.MaxBatchSize),
		maxBatchSize: cfg.MaxBatchSize,
		maxAge:       cfg.MaxAge,
		maxRetained:  cfg.MaxRetained,
		tableName:    cfg.TableName,
		lastFlush:    time.Now(),
		stopCh:       make(chan struct{}),
		log:          log.With("component", "batch_writer", "table", cfg.TableName),
	}
}

// Start begins the background flush ticker
func (bw *BatchWriter[T]) Start(ctx context.Context) {
	bw.mu.Lock()
	if bw.running {
		bw.mu.Unlock()
		return
	}
	bw.running = true
	bw.ticker = time.NewTicker(bw.maxAge)
	bw.mu.Unlock()

	bw.wg.Add(1)
	go bw.flushLoop(ctx)

	bw.log.Infow("Batch writer started", "max_batch_size", bw.maxBatchSize, "max_age", bw.maxAge)
}

// Add buffers a row and flushes synchronously once the buffer is full.
func (bw *BatchWriter[T]) Add(ctx context.Context, item T) error {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, item)
	shouldFlush := len(bw.buffer) >= bw.maxBatchSize
	bw.mu.Unlock()

	if shouldFlush {
		return bw.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered rows to ClickHouse
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}

	batch := bw.buffer
	bw.buffer = make([]T, 0, bw.maxBatchSize)
	bw.lastFlush = time.Now()
	bw.mu.Unlock()

	// Flush outside of lock to avoid blocking Add() calls
	start := time.Now()
	err := bw.flushFunc(ctx, batch)
	duration := time.Since(start)

	if err != nil {
		bw.retain(batch)
		bw.log.Errorw("Failed to flush batch",
			"rows", len(batch),
			"duration", duration,
			"error", err,
		)
		return err
	}

	bw.mu.Lock()
	bw.flushedTotal += uint64(len(batch))
	bw.mu.Unlock()

	bw.log.Debugf("Flushed %s rows to %s (took %v)", humanize.Comma(int64(len(batch))), bw.tableName, duration)
	return nil
}

// retain puts a failed batch back in front of the buffer, keeping at most maxRetained rows.
func (bw *BatchWriter[T]) retain(batch []T) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	bw.failedFlushes++
	keep := batch
	if len(keep) > bw.maxRetained {
		bw.droppedTotal += uint64(len(keep) - bw.maxRetained)
		keep = keep[len(keep)-bw.maxRetained:]
	}
	if len(keep) == 0 {
		return
	}

	merged := make([]T, 0, len(keep)+len(bw.buffer))
	merged = append(merged, keep...)
	merged = append(merged, bw.buffer...)
	bw.buffer = merged
}

func (bw *BatchWriter[T]) flushLoop(ctx context.Context) {
	defer bw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			bw.log.Info("Batch writer stopping, performing final flush")
			if err := bw.Flush(context.Background()); err != nil {
				bw.log.Errorf("Final flush failed: %v", err)
			}
			return

		case <-bw.stopCh:
			bw.log.Info("Batch writer received stop signal, performing final flush")
			if err := bw.Flush(context.Background()); err != nil {
				bw.log.Errorf("Final flush failed: %v", err)
			}
			return

		case <-bw.ticker.C:
			if bw.BufferSize() > 0 {
				if err := bw.Flush(ctx); err != nil {
					bw.log.Warnw("Periodic flush failed", "error", err)
				}
			}
		}
	}
}

// Stop flushes any remaining rows and waits for the flush loop to exit.
func (bw *BatchWriter[T]) Stop(ctx context.Context) error {
	bw.mu.Lock()
	if !bw.running {
		bw.mu.Unlock()
		return nil
	}
	bw.running = false
	bw.mu.Unlock()

	if bw.ticker != nil {
		bw.ticker.Stop()
	}
	close(bw.stopCh)

	done := make(chan struct{})
	go func() {
		bw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		bw.log.Info("Batch writer stopped gracefully")
		return nil
	case <-ctx.Done():
		bw.log.Warn("Batch writer stop timed out")
		return ctx.Err()
	}
}

// BufferSize returns the current buffer size (for monitoring)
func (bw *BatchWriter[T]) BufferSize() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// BatchWriterStats describes the writer for health and debug output
type BatchWriterStats struct {
	BufferSize    int
	LastFlushAge  time.Duration
	MaxBatchSize  int
	MaxAge        time.Duration
	Running       bool
	FlushedRows   uint64
	FailedFlushes uint64
	DroppedRows   uint64
}

// GetStats returns current statistics
func (bw *BatchWriter[T]) GetStats() BatchWriterStats {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	return BatchWriterStats{
		BufferSize:    len(bw.buffer),
		LastFlushAge:  time.Since(bw.lastFlush),
		MaxBatchSize:  bw.maxBatchSize,
		MaxAge:        bw.maxAge,
		Running:       bw.running,
		FlushedRows:   bw.flushedTotal,
		FailedFlushes: bw.failedFlushes,
		DroppedRows:   bw.droppedTotal,
	}
}
