package httpapi

import (
	"bytes"
	"strings"
	"testing"

	"pkt.systems/panelsync/internal/codec"
	"pkt.systems/panelsync/schema"
	"pkt.systems/pslog"
)

func encode(t *testing.T, msg schema.Message) []byte {
	t.Helper()
	data, err := codec.JSON{}.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestHubAnnotatesMessages(t *testing.T) {
	hub := NewHub(10, nil, nil)
	patch := schema.PositionPatch("p1", 10, 20)
	hub.OnMessage("desk", encode(t, schema.Message{Op: schema.OpUpdate, Panel: &patch, Sender: "w1"}))
	hub.OnMessage("desk", []byte("garbage"))

	events := hub.Replay("desk", 0)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	first := events[0]
	if first.Type != EventMessage || first.Op != schema.OpUpdate || first.Sender != "w1" || first.PanelID != "p1" || first.Seq != 1 {
		t.Fatalf("unexpected annotated event: %+v", first)
	}
	if !events[1].Malformed || events[1].Bytes != len("garbage") {
		t.Fatalf("expected malformed event, got %+v", events[1])
	}
}

func TestHubTracksPeers(t *testing.T) {
	hub := NewHub(10, nil, nil)
	if got := hub.OnJoin("desk"); got != 1 {
		t.Fatalf("expected 1 peer, got %d", got)
	}
	if got := hub.OnJoin("desk"); got != 2 {
		t.Fatalf("expected 2 peers, got %d", got)
	}
	if got := hub.OnLeave("desk"); got != 1 {
		t.Fatalf("expected 1 peer after leave, got %d", got)
	}
	if hub.Peers("desk") != 1 || hub.Peers("other") != 0 {
		t.Fatalf("unexpected peer counts")
	}
	stats := hub.Stats()
	if len(stats) != 1 || stats[0].Channel != "desk" || stats[0].Peers != 1 || stats[0].Seq != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHubReplayAfterSeqAndHistoryBound(t *testing.T) {
	hub := NewHub(3, nil, nil)
	for i := 0; i < 5; i++ {
		hub.OnMessage("desk", []byte("x"))
	}
	all := hub.Replay("desk", 0)
	if len(all) != 3 || all[0].Seq != 3 || all[2].Seq != 5 {
		t.Fatalf("unexpected bounded history: %+v", all)
	}
	after := hub.Replay("desk", 4)
	if len(after) != 1 || after[0].Seq != 5 {
		t.Fatalf("unexpected replay after 4: %+v", after)
	}
	if hub.Replay("missing", 0) != nil {
		t.Fatalf("expected nil replay for unknown channel")
	}
}

func TestHubSubscribeReceivesLiveEvents(t *testing.T) {
	hub := NewHub(10, nil, nil)
	hub.OnMessage("desk", []byte("before"))
	ch, unsub, seq, history := hub.Subscribe("desk")
	if seq != 1 || len(history) != 1 {
		t.Fatalf("unexpected subscribe state seq=%d history=%d", seq, len(history))
	}
	hub.OnMessage("desk", []byte("after"))
	event := <-ch
	if event.Seq != 2 {
		t.Fatalf("expected seq 2, got %d", event.Seq)
	}
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed subscription")
	}
}

func TestHubLogsToInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := pslog.NewWithOptions(&buf, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.InfoLevel,
	})
	hub := NewHub(10, nil, logger)
	_, unsub, _, _ := hub.Subscribe("desk")
	unsub()

	out := buf.String()
	for _, want := range []string{"hub subscribe", "hub unsubscribe", "desk", "relay"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected hub log to contain %q, got %q", want, out)
		}
	}
}
