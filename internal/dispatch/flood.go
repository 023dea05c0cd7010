package dispatch

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"zapdesk/internal/events"
)

// FlushFunc receives a completed batch for one (connection, contact) pair.
type FlushFunc func(connectionID, numero string, batch []*events.Enriched)

type floodBucket struct {
	connectionID string
	numero       string
	events       []*events.Enriched
	timer        *time.Timer
}

// FloodAggregator coalesces message events per (connection, contact) into a
// single downstream batch. Every append restarts the window, so a contact
// typing in bursts produces one flush after they go quiet.
type FloodAggregator struct {
	mu      sync.Mutex
	window  time.Duration
	buckets map[string]*floodBucket
	flush   FlushFunc
}

// NewFloodAggregator builds an aggregator flushing each bucket window after
// its last append.
func NewFloodAggregator(window time.Duration, flush FlushFunc) *FloodAggregator {
	return &FloodAggregator{
		window:  window,
		buckets: make(map[string]*floodBucket),
		flush:   flush,
	}
}

// Append adds an event to the pair's bucket and re-arms its timer.
func (f *FloodAggregator) Append(connectionID, numero string, ev *events.Enriched) {
	key := connectionID + "|" + numero

	f.mu.Lock()
	bucket, ok := f.buckets[key]
	if !ok {
		bucket = &floodBucket{connectionID: connectionID, numero: numero}
		bucket.timer = time.AfterFunc(f.window, func() {
			f.flushKey(key)
		})
		f.buckets[key] = bucket
	} else {
		bucket.timer.Reset(f.window)
	}
	bucket.events = append(bucket.events, ev)
	size := len(bucket.events)
	f.mu.Unlock()

	log.Debug().
		Str("connectionID", connectionID).
		Str("numero", numero).
		Int("buffered", size).
		Msg("Event buffered for flood window")
}

// flushKey removes the bucket under lock, then delivers it. Removing first
// makes a racing timer fire a no-op.
func (f *FloodAggregator) flushKey(key string) {
	f.mu.Lock()
	bucket := f.buckets[key]
	delete(f.buckets, key)
	f.mu.Unlock()

	if bucket == nil || len(bucket.events) == 0 {
		return
	}
	f.flush(bucket.connectionID, bucket.numero, bucket.events)
}

// FlushAll drains every pending bucket immediately. Used on shutdown.
func (f *FloodAggregator) FlushAll() {
	f.mu.Lock()
	pending := f.buckets
	f.buckets = make(map[string]*floodBucket)
	f.mu.Unlock()

	for _, bucket := range pending {
		bucket.timer.Stop()
		if len(bucket.events) > 0 {
			f.flush(bucket.connectionID, bucket.numero, bucket.events)
		}
	}
}

// Pending returns the number of open buckets.
func (f *FloodAggregator) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buckets)
}
