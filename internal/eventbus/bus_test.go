package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"pkt.systems/panelsync/schema"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("desk")
	defer cancel()

	if got := bus.Publish("desk", []byte("hi")); got != 1 {
		t.Fatalf("expected one delivery, got %d", got)
	}

	select {
	case got := <-ch:
		if string(got) != "hi" {
			t.Fatalf("unexpected payload: %q", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for payload")
	}
}

func TestPublishIsScopedToChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("desk")
	defer cancel()

	if got := bus.Publish("other", []byte("hi")); got != 0 {
		t.Fatalf("expected no deliveries on other channel, got %d", got)
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected payload from other channel: %q", got)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("desk")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
	if bus.Subscribers("desk") != 0 {
		t.Fatalf("expected no subscribers after cancel")
	}
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe("desk")
	defer cancel()

	bus.Publish("desk", []byte("first"))
	done := make(chan int)
	go func() {
		done <- bus.Publish("desk", []byte("second"))
	}()
	select {
	case delivered := <-done:
		if delivered != 0 {
			t.Fatalf("expected full subscriber to drop, got %d deliveries", delivered)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full channel")
	}
}

func TestPortEchoesToOwnListener(t *testing.T) {
	bus := New(nil)
	a := bus.Open("desk")
	b := bus.Open("desk")
	chA, cancelA := a.Listen()
	defer cancelA()
	chB, cancelB := b.Listen()
	defer cancelB()

	if err := a.Post(context.Background(), []byte("msg")); err != nil {
		t.Fatalf("post: %v", err)
	}
	for name, ch := range map[string]<-chan []byte{"a": chA, "b": chB} {
		select {
		case got := <-ch:
			if string(got) != "msg" {
				t.Fatalf("%s: unexpected payload %q", name, got)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("%s: timed out waiting for payload", name)
		}
	}
}

func TestPortCloseEndsListenersAndRejectsPost(t *testing.T) {
	bus := New(nil)
	port := bus.Open("desk")
	ch, _ := port.Listen()
	if err := port.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected listener closed")
	}
	if err := port.Post(context.Background(), []byte("x")); !errors.Is(err, schema.ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	late, _ := port.Listen()
	if _, ok := <-late; ok {
		t.Fatalf("expected listen after close to return a closed channel")
	}
}

func TestPostCopiesPayload(t *testing.T) {
	bus := New(nil)
	port := bus.Open("desk")
	ch, cancel := port.Listen()
	defer cancel()

	payload := []byte("abc")
	if err := port.Post(context.Background(), payload); err != nil {
		t.Fatalf("post: %v", err)
	}
	payload[0] = 'z'
	if got := <-ch; string(got) != "abc" {
		t.Fatalf("payload aliased caller buffer: %q", got)
	}
}
