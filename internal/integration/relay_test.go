package integration_test

import (
	"testing"
	"time"

	"pkt.systems/panelsync/schema"
)

func TestWindowsConvergeOverRelay(t *testing.T) {
	requireLong(t)
	for _, wire := range []string{"json", "cbor"} {
		t.Run(wire, func(t *testing.T) {
			relay := startRelay(t, wire)
			a, _ := openWindow(t, relay, wire, schema.Point{})
			b, _ := openWindow(t, relay, wire, schema.Point{X: 400, Y: 300})
			c, _ := openWindow(t, relay, wire, schema.Point{X: 900, Y: 0})
			waitFor(t, 2*time.Second, "three peers", func() bool { return channelPeers(t, relay, "board") == 3 })

			id, err := a.CreatePanel(schema.KindAbsolute, 83, 47)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			waitFor(t, 2*time.Second, "create to replicate", func() bool {
				_, okB := b.Panel(id)
				_, okC := c.Panel(id)
				return okB && okC
			})
			if err := b.UpdatePanelPosition(id, 157, 203); err != nil {
				t.Fatalf("move: %v", err)
			}
			waitFor(t, 2*time.Second, "move to replicate", func() bool {
				p, _ := c.Panel(id)
				return p.X == 160 && p.Y == 200
			})
			if _, err := c.TogglePanelKind(id); err != nil {
				t.Fatalf("toggle: %v", err)
			}
			waitFor(t, 2*time.Second, "toggle to replicate", func() bool {
				pa, _ := a.Panel(id)
				pb, _ := b.Panel(id)
				return pa.Kind == schema.KindRelative && pb.Kind == schema.KindRelative
			})
			for _, m := range []interface{ Panel(schema.PanelID) (schema.Panel, bool) }{a, b, c} {
				p, _ := m.Panel(id)
				if p.X != 160 || p.Y != 200 || p.Width != 240 || p.Height != 180 {
					t.Fatalf("replicas diverged: %+v", p)
				}
			}
		})
	}
}

func TestWindowOffsetsStayLocal(t *testing.T) {
	requireLong(t)
	relay := startRelay(t, "json")
	a, hostA := openWindow(t, relay, "json", schema.Point{})
	b, _ := openWindow(t, relay, "json", schema.Point{})
	waitFor(t, 2*time.Second, "two peers", func() bool { return channelPeers(t, relay, "board") == 2 })

	id, err := a.CreatePanel(schema.KindRelative, 100, 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitFor(t, 2*time.Second, "create to replicate", func() bool {
		_, ok := b.Panel(id)
		return ok
	})
	hostA.MoveTo(schema.Point{X: 10, Y: -5})
	if _, moved := a.Tracker().Sample(); !moved {
		t.Fatalf("expected window move")
	}
	pa, _ := a.Panel(id)
	if pa.X != 110 || pa.Y != 95 {
		t.Fatalf("expected local rebase to (110,95), got (%v,%v)", pa.X, pa.Y)
	}
	time.Sleep(50 * time.Millisecond)
	pb, _ := b.Panel(id)
	if pb.X != 100 || pb.Y != 100 {
		t.Fatalf("expected remote replica untouched, got (%v,%v)", pb.X, pb.Y)
	}
}
