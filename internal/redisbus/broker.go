package redisbus

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

type clientBroker struct {
	client *redis.Client
}

// NewBroker adapts a go-redis client to Broker.
func NewBroker(client *redis.Client) Broker {
	return clientBroker{client: client}
}

func (b clientBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

func (b clientBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, topic)
	// wait for the subscribe confirmation so no publish is missed afterwards
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan []byte, listenDepth),
		done:   make(chan struct{}),
	}
	go sub.pump(pubsub.Channel())
	return sub, nil
}

func (b clientBroker) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) pump(messages <-chan *redis.Message) {
	defer close(s.out)
	for msg := range messages {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
