package integration_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os/exec"
	"testing"
	"time"

	"pkt.systems/panelsync"
	"pkt.systems/panelsync/core"
	"pkt.systems/panelsync/httpapi"
	"pkt.systems/panelsync/internal/codec"
	"pkt.systems/panelsync/internal/wsbus"
	"pkt.systems/panelsync/schema"
)

func requireLong(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

func requireBrowser(t *testing.T) {
	t.Helper()
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "google-chrome-stable", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no chrome binary on PATH")
}

func startRelay(t *testing.T, wire string) panelsync.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server, err := panelsync.New(panelsync.ServerConfig{
		HTTP:  httpapi.Config{HistorySize: 64},
		Codec: wire,
	}, panelsync.WithListener(ln))
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("start relay: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return server
}

func openWindow(t *testing.T, relay panelsync.Server, wire string, offset schema.Point) (*core.Manager, *core.StaticHost) {
	t.Helper()
	ch, err := wsbus.Dial(context.Background(), wsbus.Options{
		URL:     "ws://" + relay.Addr() + "/ws",
		Name:    "board",
		Retries: -1,
	})
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	c, err := codec.ByName(wire)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	host := core.NewStaticHost(offset, schema.Size{Width: 800, Height: 600})
	mgr, err := core.NewManager(context.Background(), core.Config{
		Grid:         schema.DefaultGridConfig(),
		PollInterval: -1,
	}, core.Deps{Host: host, Channel: ch, Codec: c})
	if err != nil {
		_ = ch.Close()
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr, host
}

func waitFor(t *testing.T, timeout time.Duration, what string, ready func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !ready() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func channelPeers(t *testing.T, relay panelsync.Server, name string) int {
	t.Helper()
	resp, err := http.Get("http://" + relay.Addr() + "/api/channels")
	if err != nil {
		t.Fatalf("get channels: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var body struct {
		Channels []httpapi.ChannelStats `json:"channels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode channels: %v", err)
	}
	for _, stats := range body.Channels {
		if string(stats.Channel) == name {
			return stats.Peers
		}
	}
	return 0
}
