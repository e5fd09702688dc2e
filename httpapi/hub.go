package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/panelsync/internal/codec"
	"pkt.systems/panelsync/internal/logx"
	"pkt.systems/panelsync/schema"
	"pkt.systems/pslog"
)

// Stream event types.
const (
	EventSnapshot = "snapshot"
	EventMessage  = "message"
	EventJoin     = "join"
	EventLeave    = "leave"
)

// StreamEvent is sent to SSE clients watching a channel.
type StreamEvent struct {
	Seq       uint64             `json:"seq"`
	Type      string             `json:"type"`
	Channel   schema.ChannelName `json:"channel"`
	Op        schema.Op          `json:"op,omitempty"`
	Sender    schema.WindowID    `json:"sender,omitempty"`
	PanelID   schema.PanelID     `json:"panel_id,omitempty"`
	Bytes     int                `json:"bytes,omitempty"`
	Malformed bool               `json:"malformed,omitempty"`
	Peers     int                `json:"peers"`
	Timestamp time.Time          `json:"timestamp"`
}

// ChannelStats summarizes one channel.
type ChannelStats struct {
	Channel schema.ChannelName `json:"channel"`
	Peers   int                `json:"peers"`
	Seq     uint64             `json:"seq"`
}

// Hub records relay traffic per channel and fans it out to stream clients.
type Hub struct {
	mu          sync.Mutex
	channels    map[schema.ChannelName]*channelHub
	historySize int
	codec       codec.Codec
	log         pslog.Logger
}

// NewHub constructs a hub with the given history size. Payloads are
// annotated with c; nil selects JSON.
func NewHub(historySize int, c codec.Codec, logger pslog.Logger) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	if c == nil {
		c = codec.JSON{}
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Hub{
		channels:    make(map[schema.ChannelName]*channelHub),
		historySize: historySize,
		codec:       c,
		log:         logger,
	}
}

// OnMessage records a payload relayed on name.
func (h *Hub) OnMessage(name schema.ChannelName, payload []byte) {
	event := StreamEvent{
		Type:      EventMessage,
		Channel:   name,
		Bytes:     len(payload),
		Timestamp: time.Now(),
	}
	msg, err := h.codec.Decode(payload)
	if err != nil {
		event.Malformed = true
	} else {
		event.Op = msg.Op
		event.Sender = msg.Sender
		if msg.Panel != nil {
			event.PanelID = msg.Panel.ID
		}
	}
	h.publish(name, event, 0)
}

// OnJoin records a peer joining name.
func (h *Hub) OnJoin(name schema.ChannelName) int {
	return h.publish(name, StreamEvent{Type: EventJoin, Channel: name, Timestamp: time.Now()}, 1)
}

// OnLeave records a peer leaving name.
func (h *Hub) OnLeave(name schema.ChannelName) int {
	return h.publish(name, StreamEvent{Type: EventLeave, Channel: name, Timestamp: time.Now()}, -1)
}

// Subscribe registers a stream subscriber for a channel.
func (h *Hub) Subscribe(name schema.ChannelName) (<-chan StreamEvent, func(), uint64, []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.getOrCreateLocked(name)
	sub := make(chan StreamEvent, 256)
	ch.subs[sub] = struct{}{}
	history := append([]StreamEvent(nil), ch.history...)
	seq := ch.seq
	log := h.channelLogger(name)
	log.Info("hub subscribe", "subs", len(ch.subs), "history", len(history))
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(ch.subs, sub)
			close(sub)
			remaining := len(ch.subs)
			h.mu.Unlock()
			log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return sub, unsub, seq, history
}

// Replay returns events on name after the provided seq.
func (h *Hub) Replay(name schema.ChannelName, after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.channels[name]
	if ch == nil {
		return nil
	}
	events := make([]StreamEvent, 0, len(ch.history))
	for _, event := range ch.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	h.channelLogger(name).Debug("hub replay", "after", after, "count", len(events))
	return events
}

// Stats returns one entry per channel that has seen traffic or peers.
func (h *Hub) Stats() []ChannelStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ChannelStats, 0, len(h.channels))
	for name, ch := range h.channels {
		out = append(out, ChannelStats{Channel: name, Peers: ch.peers, Seq: ch.seq})
	}
	return out
}

// Peers returns the number of relay peers joined to name.
func (h *Hub) Peers(name schema.ChannelName) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch := h.channels[name]; ch != nil {
		return ch.peers
	}
	return 0
}

func (h *Hub) publish(name schema.ChannelName, event StreamEvent, peerDelta int) int {
	h.mu.Lock()
	ch := h.getOrCreateLocked(name)
	ch.peers += peerDelta
	if ch.peers < 0 {
		ch.peers = 0
	}
	ch.seq++
	event.Seq = ch.seq
	event.Peers = ch.peers
	ch.history = append(ch.history, event)
	if len(ch.history) > h.historySize {
		ch.history = ch.history[len(ch.history)-h.historySize:]
	}
	subs := make([]chan StreamEvent, 0, len(ch.subs))
	for sub := range ch.subs {
		subs = append(subs, sub)
	}
	peers := ch.peers

	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()
	if dropped > 0 {
		h.channelLogger(name).Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
	return peers
}

func (h *Hub) getOrCreateLocked(name schema.ChannelName) *channelHub {
	ch := h.channels[name]
	if ch == nil {
		ch = &channelHub{
			subs: make(map[chan StreamEvent]struct{}),
		}
		h.channels[name] = ch
	}
	return ch
}

func (h *Hub) channelLogger(name schema.ChannelName) pslog.Logger {
	return logx.WithChannel(h.log, name, "relay")
}

type channelHub struct {
	seq     uint64
	peers   int
	history []StreamEvent
	subs    map[chan StreamEvent]struct{}
}
