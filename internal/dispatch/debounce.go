package dispatch

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Debounce tracks recent inbound message activity per (connection, contact).
// Contact-list churn events arriving inside the window after a message are
// noise and get suppressed.
type Debounce struct {
	marks *cache.Cache
}

// NewDebounce builds a tracker whose marks expire after window.
func NewDebounce(window time.Duration) *Debounce {
	return &Debounce{marks: cache.New(window, 2*window)}
}

func debounceKey(connectionID, numero string) string {
	return connectionID + "|" + numero
}

// Mark records message activity for the pair, restarting its window.
func (d *Debounce) Mark(connectionID, numero string) {
	d.marks.SetDefault(debounceKey(connectionID, numero), struct{}{})
}

// Suppressed reports whether the pair saw message activity inside the window.
func (d *Debounce) Suppressed(connectionID, numero string) bool {
	_, ok := d.marks.Get(debounceKey(connectionID, numero))
	return ok
}
