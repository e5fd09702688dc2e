// Package redisbus carries sync messages over Redis pub/sub so windows in
// separate processes can share one panel session.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"pkt.systems/panelsync/internal/logx"
	"pkt.systems/panelsync/schema"
	"pkt.systems/pslog"
)

// KeyPrefix namespaces session channels in Redis.
const KeyPrefix = "panelsync:"

const listenDepth = 256

// Subscription is one live Redis subscription.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Broker is the slice of a pub/sub server the channel needs.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Options configures Dial.
type Options struct {
	Addr   string
	DB     int
	Name   schema.ChannelName
	Logger pslog.Logger
}

// Dial connects to Redis and returns a channel on opts.Name.
func Dial(ctx context.Context, opts Options) (*Channel, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	name, err := schema.NormalizeChannelName(string(opts.Name))
	if err != nil {
		return nil, fmt.Errorf("channel name %q: %w", opts.Name, err)
	}
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, DB: opts.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return New(ctx, NewBroker(client), name, opts.Logger), nil
}

// Channel implements core.Channel over a Broker.
type Channel struct {
	broker Broker
	topic  string
	log    pslog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	listeners map[int]func()
	nextID    int
}

// New returns a channel publishing on name through broker. The channel owns
// broker and closes it on Close.
func New(ctx context.Context, broker Broker, name schema.ChannelName, logger pslog.Logger) *Channel {
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	if name == "" {
		name = schema.DefaultChannelName
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Channel{
		broker:    broker,
		topic:     KeyPrefix + string(name),
		log:       logx.WithChannel(logger, name, "redis"),
		ctx:       runCtx,
		cancel:    cancel,
		listeners: make(map[int]func()),
	}
}

// Topic returns the Redis channel the session uses.
func (c *Channel) Topic() string {
	return c.topic
}

// Post implements core.Channel.
func (c *Channel) Post(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return schema.ErrChannelClosed
	}
	if err := c.broker.Publish(ctx, c.topic, payload); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Listen implements core.Channel. When the subscription cannot be
// established the returned channel is already closed.
func (c *Channel) Listen() (<-chan []byte, func()) {
	out := make(chan []byte, listenDepth)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(out)
		return out, func() {}
	}
	c.mu.Unlock()

	sub, err := c.broker.Subscribe(c.ctx, c.topic)
	if err != nil {
		c.log.Warn("redis subscribe failed", "topic", c.topic, "err", err)
		close(out)
		return out, func() {}
	}

	done := make(chan struct{})
	var once sync.Once
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
	if c.closed {
		c.mu.Unlock()
		cancel()
		close(out)
		return out, func() {}
	}
	c.listeners[id] = cancel
	c.mu.Unlock()

	go func() {
		defer close(out)
		messages := sub.Messages()
		for {
			select {
			case <-done:
				return
			case payload, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- payload:
				case <-done:
					return
				}
			}
		}
	}()
	c.log.Debug("redis subscribed", "topic", c.topic)
	return out, cancel
}

// Close implements core.Channel. It ends every listener and closes the broker.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancels := make([]func(), 0, len(c.listeners))
	for _, cancel := range c.listeners {
		cancels = append(cancels, cancel)
	}
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	c.cancel()
	return c.broker.Close()
}
