// Package eventbus is the in-process sync channel: a named, best-effort
// broadcast that drops messages for subscribers that fall behind.
package eventbus

import (
	"context"
	"sync"

	"pkt.systems/panelsync/schema"
	"pkt.systems/pslog"
)

// DefaultDepth is the per-subscriber buffer.
const DefaultDepth = 256

// Bus fanouts payloads to the subscribers of a channel name.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.ChannelName]map[chan []byte]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.ChannelName]map[chan []byte]struct{}),
		log:   logger,
		depth: DefaultDepth,
	}
}

// Subscribe registers a subscriber for the channel and returns a channel + cancel.
func (b *Bus) Subscribe(name schema.ChannelName) (<-chan []byte, func()) {
	if b == nil {
		ch := make(chan []byte)
		close(ch)
		return ch, func() {}
	}
	ch := make(chan []byte, b.depth)
	b.mu.Lock()
	chanSubs := b.subs[name]
	if chanSubs == nil {
		chanSubs = make(map[chan []byte]struct{})
		b.subs[name] = chanSubs
	}
	chanSubs[ch] = struct{}{}
	count := len(chanSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("channel", name).Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[name]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, name)
				}
			}
			b.mu.Unlock()
			close(ch)
			if b.log != nil {
				b.log.With("channel", name).Debug("eventbus unsubscribe")
			}
		})
	}
}

// Publish delivers payload to every current subscriber of the channel and
// returns how many received it. Subscribers share the payload; it must not
// be modified after publishing.
func (b *Bus) Publish(name schema.ChannelName, payload []byte) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	chanSubs := b.subs[name]
	subs := make([]chan []byte, 0, len(chanSubs))
	for sub := range chanSubs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	if len(subs) == 0 {
		return 0
	}
	delivered, dropped := 0, 0
	for _, sub := range subs {
		if b.send(name, sub, payload) {
			delivered++
		} else {
			dropped++
		}
	}
	if dropped > 0 && b.log != nil {
		b.log.With("channel", name).Trace("eventbus dropped", "count", dropped)
	}
	return delivered
}

// send guards against a subscriber cancelled between snapshot and delivery.
func (b *Bus) send(name schema.ChannelName, sub chan []byte, payload []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[name][sub]; !ok {
		return false
	}
	select {
	case sub <- payload:
		return true
	default:
		return false
	}
}

// Subscribers returns the number of subscribers on the channel.
func (b *Bus) Subscribers(name schema.ChannelName) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[name])
}
