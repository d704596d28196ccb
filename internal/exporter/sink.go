// Package exporter fans every event out to the required SQLite store
// (synchronous, spec.md's "persists every event to the store") and to
// zero or more optional batched telemetry sinks — ClickHouse for
// warehouse-style analytics, S3 for cold-storage archival — behind a
// common Sink interface.
//
// The batching mechanics (buffer, flush timer, bounded retries with
// backoff, written/failed/batch counters) are grounded on the teacher's
// internal/storage/batch_writer.go, generalized from a ClickHouse-only
// BatchWriter to any Sink.
package exporter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"edr-agent/internal/schema"
)

// Sink is a batched telemetry destination external to the core store.
type Sink interface {
	Name() string
	WriteBatch(ctx context.Context, events []schema.Event) error
	Close() error
}

// BatchConfig tunes a BatchExporter. Grounded on
// storage.BatchWriterConfig.
type BatchConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
}

// DefaultBatchConfig matches the teacher's DefaultBatchWriterConfig.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize:     1000,
		FlushInterval: 5 * time.Second,
		MaxRetries:    3,
		RetryDelay:    time.Second,
	}
}

// BatchExporter buffers events and flushes them to a Sink either when
// the buffer fills or on a timer, retrying failed flushes with linear
// backoff before counting them as dropped.
type BatchExporter struct {
	sink   Sink
	config BatchConfig

	mu     sync.Mutex
	buffer []schema.Event
	closed bool

	flushTimer *time.Timer

	written uint64
	failed  uint64
	batches uint64
}

// NewBatchExporter constructs a BatchExporter writing to sink.
func NewBatchExporter(sink Sink, cfg BatchConfig) *BatchExporter {
	be := &BatchExporter{
		sink:   sink,
		config: cfg,
		buffer: make([]schema.Event, 0, cfg.BatchSize),
	}
	be.flushTimer = time.AfterFunc(cfg.FlushInterval, be.timerFlush)
	return be
}

// Write buffers event, flushing immediately if the buffer is full.
func (be *BatchExporter) Write(event schema.Event) error {
	be.mu.Lock()
	defer be.mu.Unlock()

	if be.closed {
		return fmt.Errorf("exporter: sink %s is closed", be.sink.Name())
	}

	be.buffer = append(be.buffer, event)
	if len(be.buffer) >= be.config.BatchSize {
		return be.flushLocked()
	}
	return nil
}

func (be *BatchExporter) timerFlush() {
	be.mu.Lock()
	defer be.mu.Unlock()

	if be.closed {
		return
	}
	if len(be.buffer) > 0 {
		be.flushLocked()
	}
	be.flushTimer.Reset(be.config.FlushInterval)
}

func (be *BatchExporter) flushLocked() error {
	if len(be.buffer) == 0 {
		return nil
	}

	events := be.buffer
	be.buffer = make([]schema.Event, 0, be.config.BatchSize)

	var lastErr error
	for attempt := 0; attempt <= be.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(be.config.RetryDelay * time.Duration(attempt))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := be.sink.WriteBatch(ctx, events)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		atomic.AddUint64(&be.written, uint64(len(events)))
		atomic.AddUint64(&be.batches, 1)
		return nil
	}

	atomic.AddUint64(&be.failed, uint64(len(events)))
	return fmt.Errorf("exporter: sink %s failed after %d retries: %w", be.sink.Name(), be.config.MaxRetries, lastErr)
}

// Flush forces a flush of the current buffer.
func (be *BatchExporter) Flush() error {
	be.mu.Lock()
	defer be.mu.Unlock()
	return be.flushLocked()
}

// Close stops the flush timer, performs a final flush, and closes the
// underlying sink.
func (be *BatchExporter) Close() error {
	be.mu.Lock()
	be.closed = true
	be.mu.Unlock()

	be.flushTimer.Stop()
	flushErr := be.Flush()
	closeErr := be.sink.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Metrics reports batching counters.
type Metrics struct {
	Written uint64
	Failed  uint64
	Batches uint64
	Pending int
}

// Metrics returns a snapshot of this exporter's counters.
func (be *BatchExporter) Metrics() Metrics {
	be.mu.Lock()
	pending := len(be.buffer)
	be.mu.Unlock()

	return Metrics{
		Written: atomic.LoadUint64(&be.written),
		Failed:  atomic.LoadUint64(&be.failed),
		Batches: atomic.LoadUint64(&be.batches),
		Pending: pending,
	}
}
