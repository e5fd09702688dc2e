package eventbus

import (
	"context"
	"sync"

	"pkt.systems/panelsync/schema"
)

// Port is one window's handle on a bus channel. It implements core.Channel.
// Every listener on the channel receives a post, including the poster's own
// listeners; receivers filter their own messages by sender.
type Port struct {
	bus  *Bus
	name schema.ChannelName

	mu      sync.Mutex
	closed  bool
	cancels []func()
}

// Open returns a port on the named channel.
func (b *Bus) Open(name schema.ChannelName) *Port {
	return &Port{bus: b, name: name}
}

// Name returns the channel name.
func (p *Port) Name() schema.ChannelName {
	return p.name
}

// Post implements core.Channel.
func (p *Port) Post(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return schema.ErrChannelClosed
	}
	data := append([]byte(nil), payload...)
	p.bus.Publish(p.name, data)
	return nil
}

// Listen implements core.Channel.
func (p *Port) Listen() (<-chan []byte, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		ch := make(chan []byte)
		close(ch)
		return ch, func() {}
	}
	ch, cancel := p.bus.Subscribe(p.name)
	p.cancels = append(p.cancels, cancel)
	return ch, cancel
}

// Close implements core.Channel. It ends every listener opened on this port.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancels := p.cancels
	p.cancels = nil
	p.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	return nil
}
