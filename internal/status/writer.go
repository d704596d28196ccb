package status

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// RefreshInterval is the spec's "~2s" writer cadence.
const RefreshInterval = 2 * time.Second

// Writer owns the mmap'd backing file for the shared-status record and
// serializes updates to it.
type Writer struct {
	mu    sync.Mutex
	file  *os.File
	data  []byte
	start time.Time
}

// NewWriter creates (or truncates) the file at path to RecordSize bytes
// and maps it MAP_SHARED so writes are immediately visible to any reader
// that has the same file mapped.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("status: failed to open %s: %w", path, err)
	}
	if err := f.Truncate(RecordSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("status: failed to size %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, RecordSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("status: mmap failed: %w", err)
	}

	return &Writer{file: f, data: data, start: time.Now()}, nil
}

// Write encodes rec into the mapped region. EngineUptimeMs and
// LastUpdatedMs are stamped from the writer's own clock, overriding
// whatever the caller set, so every caller gets a consistent cadence.
func (w *Writer) Write(rec Record, now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec.EngineUptimeMs = uint64(now.Sub(w.start).Milliseconds())
	rec.LastUpdatedMs = uint64(now.UnixMilli())

	if err := Encode(rec, w.data); err != nil {
		return err
	}
	return unix.Msync(w.data, unix.MS_ASYNC)
}

// Close unmaps and closes the backing file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := unix.Munmap(w.data)
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Run refreshes the record every RefreshInterval by calling source and
// writing its result, until ctx is cancelled. Intended to be launched in
// its own goroutine by the supervising loop.
func (w *Writer) Run(ctx context.Context, source func() Record) {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()

	w.Write(source(), time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Write(source(), time.Now())
		}
	}
}
