package dispatch

import (
	"sync"
	"testing"
	"time"

	"zapdesk/internal/events"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]*events.Enriched
	keys    []string
}

func (r *flushRecorder) flush(connectionID, numero string, batch []*events.Enriched) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	r.keys = append(r.keys, connectionID+"|"+numero)
}

func (r *flushRecorder) snapshot() ([][]*events.Enriched, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]*events.Enriched{}, r.batches...), append([]string{}, r.keys...)
}

func TestFloodGroupsBurst(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewFloodAggregator(40*time.Millisecond, rec.flush)

	for i := 0; i < 3; i++ {
		agg.Append("conn-1", "5511999999999", &events.Enriched{Event: events.TypeMessagesUpsert})
	}

	time.Sleep(100 * time.Millisecond)
	batches, _ := rec.snapshot()
	if len(batches) != 1 {
		t.Fatalf("flushed %d batches, want 1", len(batches))
	}
	if len(batches[0]) != 3 {
		t.Errorf("batch size = %d, want 3", len(batches[0]))
	}
	if agg.Pending() != 0 {
		t.Errorf("pending buckets = %d after flush", agg.Pending())
	}
}

func TestFloodWindowReArms(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewFloodAggregator(60*time.Millisecond, rec.flush)

	agg.Append("conn-1", "5511999999999", &events.Enriched{})
	time.Sleep(35 * time.Millisecond)
	agg.Append("conn-1", "5511999999999", &events.Enriched{})
	time.Sleep(35 * time.Millisecond)

	// 70ms elapsed but the second append restarted the window.
	if batches, _ := rec.snapshot(); len(batches) != 0 {
		t.Fatalf("flushed early: %d batches", len(batches))
	}

	time.Sleep(60 * time.Millisecond)
	batches, _ := rec.snapshot()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("batches = %v, want one batch of 2", batches)
	}
}

func TestFloodKeysAreIsolated(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewFloodAggregator(30*time.Millisecond, rec.flush)

	agg.Append("conn-1", "5511999999999", &events.Enriched{})
	agg.Append("conn-1", "5511888888888", &events.Enriched{})
	agg.Append("conn-2", "5511999999999", &events.Enriched{})

	time.Sleep(90 * time.Millisecond)
	batches, keys := rec.snapshot()
	if len(batches) != 3 {
		t.Fatalf("flushed %d batches, want 3", len(batches))
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	for _, want := range []string{"conn-1|5511999999999", "conn-1|5511888888888", "conn-2|5511999999999"} {
		if !seen[want] {
			t.Errorf("missing flush for %s", want)
		}
	}
}

func TestFloodFlushAll(t *testing.T) {
	rec := &flushRecorder{}
	agg := NewFloodAggregator(time.Hour, rec.flush)

	agg.Append("conn-1", "5511999999999", &events.Enriched{})
	agg.Append("conn-1", "5511888888888", &events.Enriched{})
	agg.FlushAll()

	batches, _ := rec.snapshot()
	if len(batches) != 2 {
		t.Fatalf("flushed %d batches, want 2", len(batches))
	}
	if agg.Pending() != 0 {
		t.Errorf("pending buckets = %d after FlushAll", agg.Pending())
	}
}
