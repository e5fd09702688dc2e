package core

import (
	"context"
	"sync"
	"time"

	"pkt.systems/panelsync/schema"
	"pkt.systems/pslog"
)

// Tracker samples the host window offset and moves relative panels along
// with the window. Rebasing is local to this window and never broadcast.
type Tracker struct {
	host  Host
	store *Store
	log   pslog.Logger

	mu   sync.Mutex
	last schema.Point
}

// NewTracker seeds the tracker with the host's current offset.
func NewTracker(host Host, store *Store, logger pslog.Logger) *Tracker {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Tracker{
		host:  host,
		store: store,
		log:   logger,
		last:  host.Offset(),
	}
}

// Offset returns the last sampled window offset.
func (t *Tracker) Offset() schema.Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Sample reads the host offset once. When the window moved it records the new
// offset, rebases relative panels by the delta and returns the delta.
func (t *Tracker) Sample() (schema.Point, bool) {
	current := t.host.Offset()
	t.mu.Lock()
	delta := current.Sub(t.last)
	if delta.IsZero() {
		t.mu.Unlock()
		return schema.Point{}, false
	}
	t.last = current
	t.mu.Unlock()
	moved := t.store.Rebase(delta)
	t.log.Trace("window moved", "dx", delta.X, "dy", delta.Y, "rebased", len(moved))
	return delta, true
}

// Run samples every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sample()
		}
	}
}
