package core

import (
	"context"

	"pkt.systems/panelsync/schema"
)

// Channel is the broadcast medium connecting the windows of a session. It is
// unordered, best-effort and at-most-once. Post may fail; Listen delivers raw
// payloads from other participants (and possibly this one) until cancelled or
// until the channel closes.
type Channel interface {
	Post(ctx context.Context, payload []byte) error
	Listen() (<-chan []byte, func())
	Close() error
}

// Codec converts sync messages to and from channel payloads.
type Codec interface {
	Encode(msg schema.Message) ([]byte, error)
	Decode(payload []byte) (schema.Message, error)
}
