package exporter

import (
	"context"
	"sync"
	"testing"
	"time"

	"edr-agent/internal/bus"
	"edr-agent/internal/risk"
	"edr-agent/internal/schema"
	"edr-agent/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

type fakeSink struct {
	mu     sync.Mutex
	writes [][]schema.Event
	closed bool
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) WriteBatch(ctx context.Context, events []schema.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, events)
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func TestExporter_PersistsEventToStore(t *testing.T) {
	st := openTestStore(t)
	b := bus.New(nil)
	ex := New(st, nil, nil)
	ex.Attach(b)

	b.Publish(schema.NewEvent(schema.KindProcessCreate, 100, "evil.exe", map[string]string{"image_path": "/tmp/evil.exe"}))

	count, err := st.EventCount()
	if err != nil {
		t.Fatalf("EventCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 persisted event, got %d", count)
	}
}

func TestExporter_RecordsCurrentRiskScore(t *testing.T) {
	st := openTestStore(t)
	scorer := risk.NewScorer()
	scorer.AddRisk(200, "test", 50)

	b := bus.New(nil)
	ex := New(st, scorer, nil)
	ex.Attach(b)

	b.Publish(schema.NewEvent(schema.KindProcessCreate, 200, "x.exe", nil))

	rows, err := st.QueryEventsJSON("pid = 200", 10, 0)
	if err != nil {
		t.Fatalf("QueryEventsJSON: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
}

func TestExporter_ForwardsToRegisteredSinks(t *testing.T) {
	st := openTestStore(t)
	b := bus.New(nil)
	ex := New(st, nil, nil)

	sink := &fakeSink{}
	be := NewBatchExporter(sink, BatchConfig{BatchSize: 1, FlushInterval: time.Hour, MaxRetries: 1, RetryDelay: 0})
	ex.AddSink(be)
	ex.Attach(b)

	b.Publish(schema.NewEvent(schema.KindFileCreate, 1, "x", map[string]string{"file_path": "/etc/passwd", "action": "CREATE"}))

	if got := sink.batchCount(); got != 1 {
		t.Fatalf("expected 1 batch flushed to sink, got %d", got)
	}

	if err := ex.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sink.closed {
		t.Error("expected sink to be closed")
	}
}
