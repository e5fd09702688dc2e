package core

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"pkt.systems/panelsync/internal/codec"
	"pkt.systems/panelsync/internal/eventbus"
	"pkt.systems/panelsync/schema"
)

var testViewport = schema.Size{Width: 1280, Height: 720}

func newTestManager(t *testing.T, channel Channel, host *StaticHost) *Manager {
	t.Helper()
	if host == nil {
		host = NewStaticHost(schema.Point{}, testViewport)
	}
	mgr, err := NewManager(context.Background(), Config{
		Grid:         schema.DefaultGridConfig(),
		PollInterval: -1,
	}, Deps{Host: host, Channel: channel})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func newManagerPair(t *testing.T) (*Manager, *Manager, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(nil)
	a := newTestManager(t, bus.Open(schema.DefaultChannelName), nil)
	b := newTestManager(t, bus.Open(schema.DefaultChannelName), nil)
	return a, b, bus
}

func waitFor(t *testing.T, timeout time.Duration, ready func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ready() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for condition")
}

func TestManagerCreateSnapsPositionAndKeepsSize(t *testing.T) {
	mgr := newTestManager(t, nil, nil)
	id, err := mgr.CreatePanel(schema.KindAbsolute, 100, 100, WithSize(200, 150))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	panel, ok := mgr.Panel(id)
	if !ok {
		t.Fatalf("expected panel %s", id)
	}
	if panel.X != 100 || panel.Y != 100 || panel.Width != 200 || panel.Height != 150 {
		t.Fatalf("unexpected panel after create: %+v", panel)
	}

	if err := mgr.UpdatePanelSize(id, 83, 47); err != nil {
		t.Fatalf("resize: %v", err)
	}
	panel, _ = mgr.Panel(id)
	if panel.Width != 80 || panel.Height != 40 {
		t.Fatalf("expected 80x40 after resize, got %vx%v", panel.Width, panel.Height)
	}
	if panel.X != 100 || panel.Y != 100 {
		t.Fatalf("resize moved panel: %+v", panel)
	}

	if err := mgr.UpdatePanelPosition(id, 93, 12); err != nil {
		t.Fatalf("move: %v", err)
	}
	panel, _ = mgr.Panel(id)
	if panel.X != 100 || panel.Y != 20 || panel.Width != 80 {
		t.Fatalf("unexpected panel after move: %+v", panel)
	}
}

func TestManagerCreateDefaultsAndValidation(t *testing.T) {
	mgr := newTestManager(t, nil, nil)
	id, err := mgr.CreatePanel(schema.KindRelative, 0, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	panel, _ := mgr.Panel(id)
	if panel.Width != DefaultPanelSize.Width || panel.Height != DefaultPanelSize.Height {
		t.Fatalf("expected default size, got %+v", panel)
	}
	tiny, _ := mgr.CreatePanel(schema.KindAbsolute, 0, 0, WithSize(3, 3))
	panel, _ = mgr.Panel(tiny)
	if panel.Width != 20 || panel.Height != 20 {
		t.Fatalf("expected size floored at one grid unit, got %+v", panel)
	}
	if _, err := mgr.CreatePanel("sideways", 0, 0); !errors.Is(err, schema.ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestManagerRejectsNonFiniteGeometry(t *testing.T) {
	mgr := newTestManager(t, nil, nil)
	if _, err := mgr.CreatePanel(schema.KindAbsolute, math.NaN(), 0); !errors.Is(err, schema.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry for NaN x, got %v", err)
	}
	if _, err := mgr.CreatePanel(schema.KindAbsolute, 0, 0, WithSize(math.Inf(1), 100)); !errors.Is(err, schema.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry for infinite width, got %v", err)
	}
	if len(mgr.Panels()) != 0 {
		t.Fatalf("rejected creates must not insert panels")
	}

	id, err := mgr.CreatePanel(schema.KindAbsolute, 40, 40)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mgr.UpdatePanelPosition(id, 0, math.Inf(-1)); !errors.Is(err, schema.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry on move, got %v", err)
	}
	if err := mgr.UpdatePanelSize(id, math.NaN(), 100); !errors.Is(err, schema.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry on resize, got %v", err)
	}
	panel, _ := mgr.Panel(id)
	if panel.X != 40 || panel.Y != 40 || panel.Width != DefaultPanelSize.Width {
		t.Fatalf("rejected updates changed panel: %+v", panel)
	}
}

func TestManagerCreateIDsAreUnique(t *testing.T) {
	mgr := newTestManager(t, nil, nil)
	seen := make(map[schema.PanelID]struct{})
	for i := 0; i < 100; i++ {
		id, err := mgr.CreatePanel(schema.KindAbsolute, 0, 0)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
	if len(mgr.Panels()) != 100 {
		t.Fatalf("expected 100 panels, got %d", len(mgr.Panels()))
	}
}

func TestManagerUnknownPanel(t *testing.T) {
	mgr := newTestManager(t, nil, nil)
	if err := mgr.UpdatePanelPosition("missing", 0, 0); !errors.Is(err, schema.ErrPanelNotFound) {
		t.Fatalf("expected ErrPanelNotFound on move, got %v", err)
	}
	if err := mgr.UpdatePanelSize("missing", 20, 20); !errors.Is(err, schema.ErrPanelNotFound) {
		t.Fatalf("expected ErrPanelNotFound on resize, got %v", err)
	}
	if _, err := mgr.TogglePanelKind("missing"); !errors.Is(err, schema.ErrPanelNotFound) {
		t.Fatalf("expected ErrPanelNotFound on toggle, got %v", err)
	}
}

func TestManagerToggleChangesOnlyKind(t *testing.T) {
	a, b, _ := newManagerPair(t)
	styles := map[string]any{"background": "#222"}
	id, err := a.CreatePanel(schema.KindAbsolute, 40, 60, WithSize(200, 160), WithContent("notes"), WithStyles(styles))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before, _ := a.Panel(id)
	waitFor(t, time.Second, func() bool {
		_, ok := b.Panel(id)
		return ok
	})

	kind, err := a.TogglePanelKind(id)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if kind != schema.KindRelative {
		t.Fatalf("expected relative, got %s", kind)
	}
	after, _ := a.Panel(id)
	if after.Kind != schema.KindRelative {
		t.Fatalf("expected kind flipped, got %s", after.Kind)
	}
	after.Kind = before.Kind
	if after.X != before.X || after.Y != before.Y || after.Width != before.Width || after.Height != before.Height ||
		after.ContentID != before.ContentID || after.Styles["background"] != "#222" {
		t.Fatalf("toggle changed more than kind: before %+v after %+v", before, after)
	}

	waitFor(t, time.Second, func() bool {
		remote, _ := b.Panel(id)
		return remote.Kind == schema.KindRelative
	})
	remote, _ := b.Panel(id)
	if remote.X != 40 || remote.Y != 60 || remote.Width != 200 || remote.Height != 160 || remote.ContentID != "notes" {
		t.Fatalf("remote toggle changed more than kind: %+v", remote)
	}
}

func TestManagersConverge(t *testing.T) {
	a, b, _ := newManagerPair(t)

	id, err := a.CreatePanel(schema.KindAbsolute, 100, 100, WithSize(200, 150))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := a.UpdatePanelPosition(id, 200, 220); err != nil {
		t.Fatalf("move: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		_, ok := b.Panel(id)
		return ok
	})
	if err := b.UpdatePanelSize(id, 83, 47); err != nil {
		t.Fatalf("resize on b: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		pa, _ := a.Panel(id)
		pb, _ := b.Panel(id)
		return pa.X == 200 && pa.Y == 220 && pa.Width == 80 && pa.Height == 40 &&
			pb.X == 200 && pb.Y == 220 && pb.Width == 80 && pb.Height == 40
	})
	if a.Degraded() || b.Degraded() {
		t.Fatalf("expected both managers connected")
	}
}

func TestManagerGridConfigReplicates(t *testing.T) {
	a, b, _ := newManagerPair(t)
	size := 40.0
	mode := schema.SnapLocal
	next, err := a.UpdateGridConfig(schema.GridConfigPatch{Size: &size, Mode: &mode})
	if err != nil {
		t.Fatalf("update grid: %v", err)
	}
	if next.Size != 40 || next.Mode != schema.SnapLocal || !next.Enabled || next.Type != schema.GridPixel {
		t.Fatalf("unexpected merged grid: %+v", next)
	}
	waitFor(t, time.Second, func() bool {
		return b.GridConfig() == next
	})

	bad := -5.0
	if _, err := a.UpdateGridConfig(schema.GridConfigPatch{Size: &bad}); !errors.Is(err, schema.ErrInvalidGrid) {
		t.Fatalf("expected ErrInvalidGrid, got %v", err)
	}
	if a.GridConfig() != next {
		t.Fatalf("invalid patch changed grid: %+v", a.GridConfig())
	}
}

func TestManagerIgnoresOwnAndMalformedMessages(t *testing.T) {
	bus := eventbus.New(nil)
	mgr := newTestManager(t, bus.Open(schema.DefaultChannelName), nil)

	// a create from this window's own id must not land twice
	echo := createMessage(testPanel("echo", schema.KindAbsolute, 0, 0), mgr.WindowID())
	payload, err := codec.JSON{}.Encode(echo)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	bus.Publish(schema.DefaultChannelName, payload)
	bus.Publish(schema.DefaultChannelName, []byte("{not json"))
	bus.Publish(schema.DefaultChannelName, []byte(`{"op":"update","sender":"w9"}`))

	other, err := codec.JSON{}.Encode(createMessage(testPanel("other", schema.KindAbsolute, 0, 0), "w9"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	bus.Publish(schema.DefaultChannelName, other)
	waitFor(t, time.Second, func() bool {
		_, ok := mgr.Panel("other")
		return ok
	})
	if _, ok := mgr.Panel("echo"); ok {
		t.Fatalf("expected own message to be filtered")
	}
}

func TestManagerRebaseStaysLocal(t *testing.T) {
	bus := eventbus.New(nil)
	hostA := NewStaticHost(schema.Point{}, testViewport)
	a := newTestManager(t, bus.Open(schema.DefaultChannelName), hostA)
	b := newTestManager(t, bus.Open(schema.DefaultChannelName), nil)

	rel, _ := a.CreatePanel(schema.KindRelative, 100, 100)
	abs, _ := a.CreatePanel(schema.KindAbsolute, 100, 100)
	waitFor(t, time.Second, func() bool { return len(b.Panels()) == 2 })

	hostA.MoveTo(schema.Point{X: 10, Y: -5})
	delta, moved := a.Tracker().Sample()
	if !moved || delta.X != 10 || delta.Y != -5 {
		t.Fatalf("expected delta (10,-5), got %+v moved=%v", delta, moved)
	}
	if _, moved := a.Tracker().Sample(); moved {
		t.Fatalf("expected no delta on unchanged offset")
	}
	pr, _ := a.Panel(rel)
	if pr.X != 110 || pr.Y != 95 {
		t.Fatalf("expected relative panel at (110,95), got (%v,%v)", pr.X, pr.Y)
	}
	pa, _ := a.Panel(abs)
	if pa.X != 100 || pa.Y != 100 {
		t.Fatalf("expected absolute panel unchanged, got (%v,%v)", pa.X, pa.Y)
	}

	// a later broadcast flushes the channel; the rebase must not have travelled
	marker, _ := a.CreatePanel(schema.KindAbsolute, 0, 0)
	waitFor(t, time.Second, func() bool {
		_, ok := b.Panel(marker)
		return ok
	})
	remote, _ := b.Panel(rel)
	if remote.X != 100 || remote.Y != 100 {
		t.Fatalf("rebase was broadcast: remote at (%v,%v)", remote.X, remote.Y)
	}
}

func TestManagerTrackerLoopRebases(t *testing.T) {
	host := NewStaticHost(schema.Point{}, testViewport)
	mgr, err := NewManager(context.Background(), Config{PollInterval: time.Millisecond}, Deps{Host: host})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer mgr.Close()
	id, _ := mgr.CreatePanel(schema.KindRelative, 100, 100)
	host.MoveTo(schema.Point{X: 40, Y: 20})
	waitFor(t, time.Second, func() bool {
		panel, _ := mgr.Panel(id)
		return panel.X == 140 && panel.Y == 120
	})
}

func TestManagerDegradedWithoutChannel(t *testing.T) {
	mgr := newTestManager(t, nil, nil)
	if !mgr.Degraded() {
		t.Fatalf("expected degraded without channel")
	}
	id, err := mgr.CreatePanel(schema.KindAbsolute, 0, 0)
	if err != nil {
		t.Fatalf("create in degraded mode: %v", err)
	}
	if err := mgr.UpdatePanelPosition(id, 40, 40); err != nil {
		t.Fatalf("move in degraded mode: %v", err)
	}
}

type flakyChannel struct {
	mu      sync.Mutex
	fail    bool
	posts   int
	payload chan []byte
}

func newFlakyChannel() *flakyChannel {
	return &flakyChannel{payload: make(chan []byte)}
}

func (c *flakyChannel) setFail(fail bool) {
	c.mu.Lock()
	c.fail = fail
	c.mu.Unlock()
}

func (c *flakyChannel) Post(context.Context, []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts++
	if c.fail {
		return errors.New("post failed")
	}
	return nil
}

func (c *flakyChannel) Listen() (<-chan []byte, func()) {
	return c.payload, func() {}
}

func (c *flakyChannel) Close() error { return nil }

func TestManagerDegradesAndRecoversOnPostErrors(t *testing.T) {
	ch := newFlakyChannel()
	ch.setFail(true)
	mgr := newTestManager(t, ch, nil)
	if mgr.Degraded() {
		t.Fatalf("expected connected at start")
	}
	id, err := mgr.CreatePanel(schema.KindAbsolute, 0, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitFor(t, time.Second, mgr.Degraded)

	// local state keeps working
	if err := mgr.UpdatePanelPosition(id, 60, 60); err != nil {
		t.Fatalf("move while degraded: %v", err)
	}
	ch.setFail(false)
	if err := mgr.UpdatePanelPosition(id, 80, 80); err != nil {
		t.Fatalf("move: %v", err)
	}
	waitFor(t, time.Second, func() bool { return !mgr.Degraded() })
}

func TestManagerCloseIsIdempotent(t *testing.T) {
	bus := eventbus.New(nil)
	mgr, err := NewManager(context.Background(), Config{}, Deps{
		Host:    NewStaticHost(schema.Point{}, testViewport),
		Channel: bus.Open(schema.DefaultChannelName),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	changes, _ := mgr.Subscribe()
	if err := mgr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, ok := <-changes; ok {
		t.Fatalf("expected subscriptions closed")
	}
	if bus.Subscribers(schema.DefaultChannelName) != 0 {
		t.Fatalf("expected channel listener released")
	}
	if _, err := mgr.CreatePanel(schema.KindAbsolute, 0, 0); !errors.Is(err, schema.ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
}

func TestNewManagerRequiresHost(t *testing.T) {
	if _, err := NewManager(context.Background(), Config{}, Deps{}); err == nil {
		t.Fatalf("expected error without host")
	}
	bad := schema.GridConfig{Enabled: true, Size: 0}
	if _, err := NewManager(context.Background(), Config{Grid: bad}, Deps{Host: NewStaticHost(schema.Point{}, testViewport)}); !errors.Is(err, schema.ErrInvalidGrid) {
		t.Fatalf("expected ErrInvalidGrid, got %v", err)
	}
}

func TestManagerRenderProjectsIntoViewport(t *testing.T) {
	host := NewStaticHost(schema.Point{X: 40, Y: 20}, testViewport)
	mgr := newTestManager(t, nil, host)
	abs, _ := mgr.CreatePanel(schema.KindAbsolute, 100, 100, WithContent("clock"))
	rel, _ := mgr.CreatePanel(schema.KindRelative, 200, 200)

	out := mgr.Render(func(id schema.ContentID) any { return "body:" + string(id) })
	if len(out) != 2 || out[0].Panel.ID != abs || out[1].Panel.ID != rel {
		t.Fatalf("unexpected render order: %+v", out)
	}
	if out[0].Left != 60 || out[0].Top != 80 || out[0].Position != PositionFixed || out[0].ZIndex != StackingOrder {
		t.Fatalf("unexpected absolute render: %+v", out[0])
	}
	if out[0].Content != "body:clock" {
		t.Fatalf("unexpected content: %v", out[0].Content)
	}
	if out[1].Position != PositionAbsolute || out[1].Left != 160 || out[1].Top != 180 {
		t.Fatalf("unexpected relative render: %+v", out[1])
	}
}
