package fanout

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// subscriber channels are buffered; a client that cannot keep up is dropped
// rather than allowed to stall the publisher.
const subscriberBuffer = 64

// Subscriber is one live event stream attached to a recipient key.
type Subscriber struct {
	key string
	ch  chan []byte
}

// Events is the stream of serialized events for this subscriber.
func (s *Subscriber) Events() <-chan []byte {
	return s.ch
}

// Broadcaster fans serialized events out to subscribers grouped by recipient
// key. Admins subscribe under their user id, attendants under the key of the
// connection they are scoped to.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

// NewBroadcaster builds an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers a new stream under key.
func (b *Broadcaster) Subscribe(key string) *Subscriber {
	sub := &Subscriber{key: key, ch: make(chan []byte, subscriberBuffer)}

	b.mu.Lock()
	set, ok := b.subs[key]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.subs[key] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	log.Debug().Str("key", key).Msg("Subscriber attached")
	return sub
}

// Unsubscribe detaches the stream and releases its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	if set, ok := b.subs[sub.key]; ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			close(sub.ch)
		}
		if len(set) == 0 {
			delete(b.subs, sub.key)
		}
	}
	b.mu.Unlock()
}

// Publish serializes the payload once and delivers it to every subscriber of
// every key. Subscribers with a full buffer are dropped.
func (b *Broadcaster) Publish(keys []string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to serialize event for fanout")
		return
	}

	var stale []*Subscriber
	b.mu.RLock()
	for _, key := range keys {
		for sub := range b.subs[key] {
			select {
			case sub.ch <- data:
			default:
				stale = append(stale, sub)
			}
		}
	}
	b.mu.RUnlock()

	for _, sub := range stale {
		log.Warn().Str("key", sub.key).Msg("Dropping slow subscriber")
		b.Unsubscribe(sub)
	}
}

// Subscribers reports how many streams are attached under key.
func (b *Broadcaster) Subscribers(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}
