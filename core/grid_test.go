package core

import (
	"testing"

	"pkt.systems/panelsync/schema"
)

func pixelGrid(size float64) schema.GridConfig {
	return schema.GridConfig{Enabled: true, Type: schema.GridPixel, Size: size, Mode: schema.SnapShared}
}

func TestSnapPixelRoundsToNearestLine(t *testing.T) {
	snap := NewSnapper(pixelGrid(20))
	ctx := SnapContext{Viewport: schema.Size{Width: 800, Height: 600}}
	cases := []struct {
		in, want float64
	}{
		{83, 80},
		{47, 40},
		{90, 100},
		{100, 100},
		{-7, 0},
		{-13, -20},
	}
	for _, tc := range cases {
		if got := snap.Snap(tc.in, schema.AxisX, ctx); got != tc.want {
			t.Fatalf("snap %v: expected %v, got %v", tc.in, tc.want, got)
		}
	}
}

func TestSnapIsIdempotent(t *testing.T) {
	configs := []schema.GridConfig{
		pixelGrid(20),
		pixelGrid(7),
		{Enabled: true, Type: schema.GridPercentage, Size: 10, Mode: schema.SnapShared},
		{Enabled: true, Type: schema.GridPercentage, Size: 3, Mode: schema.SnapLocal},
		{Enabled: true, Type: schema.GridPixel, Size: 25, Mode: schema.SnapLocal},
	}
	ctx := SnapContext{Offset: schema.Point{X: 13, Y: -9}, Viewport: schema.Size{Width: 1280, Height: 720}}
	for _, cfg := range configs {
		snap := NewSnapper(cfg)
		for _, v := range []float64{0, 1, 17.5, 83, 333.3, -41, 999} {
			for _, axis := range []schema.Axis{schema.AxisX, schema.AxisY} {
				once := snap.Snap(v, axis, ctx)
				twice := snap.Snap(once, axis, ctx)
				if once != twice {
					t.Fatalf("%+v axis %d: snap(%v)=%v but snap(snap)=%v", cfg, axis, v, once, twice)
				}
				size := snap.SnapSize(v, axis, ctx)
				if again := snap.SnapSize(size, axis, ctx); again != size {
					t.Fatalf("%+v axis %d: snapSize(%v)=%v but snapSize(snapSize)=%v", cfg, axis, v, size, again)
				}
			}
		}
	}
}

func TestSnapDisabledIsIdentity(t *testing.T) {
	cfg := pixelGrid(20)
	cfg.Enabled = false
	snap := NewSnapper(cfg)
	ctx := SnapContext{}
	if got := snap.Snap(83.25, schema.AxisX, ctx); got != 83.25 {
		t.Fatalf("expected identity, got %v", got)
	}
	if got := snap.SnapSize(0.25, schema.AxisX, ctx); got != 1 {
		t.Fatalf("expected size floored at 1px, got %v", got)
	}
	if got := snap.SnapSize(150, schema.AxisY, ctx); got != 150 {
		t.Fatalf("expected size kept, got %v", got)
	}
}

func TestSnapSizeNeverBelowOneUnit(t *testing.T) {
	snap := NewSnapper(pixelGrid(20))
	ctx := SnapContext{}
	if got := snap.SnapSize(5, schema.AxisX, ctx); got != 20 {
		t.Fatalf("expected one unit, got %v", got)
	}
	if got := snap.SnapSize(-40, schema.AxisY, ctx); got != 20 {
		t.Fatalf("expected one unit for negative size, got %v", got)
	}
	if got := snap.SnapSize(150, schema.AxisY, ctx); got != 160 {
		t.Fatalf("expected 160, got %v", got)
	}
	if got := snap.FloorSize(150, schema.AxisY, ctx); got != 150 {
		t.Fatalf("expected floor to keep 150, got %v", got)
	}
	if got := snap.FloorSize(5, schema.AxisY, ctx); got != 20 {
		t.Fatalf("expected floor to raise to 20, got %v", got)
	}
}

func TestSnapPercentageUsesViewport(t *testing.T) {
	snap := NewSnapper(schema.GridConfig{Enabled: true, Type: schema.GridPercentage, Size: 10, Mode: schema.SnapShared})
	ctx := SnapContext{Viewport: schema.Size{Width: 800, Height: 600}}
	if got := snap.Snap(83, schema.AxisX, ctx); got != 80 {
		t.Fatalf("expected 80 on x, got %v", got)
	}
	if got := snap.Snap(47, schema.AxisY, ctx); got != 60 {
		t.Fatalf("expected 60 on y, got %v", got)
	}
	if got := snap.Unit(schema.AxisX, ctx); got != 80 {
		t.Fatalf("expected unit 80, got %v", got)
	}
	// no viewport to measure against leaves values alone
	if got := snap.Snap(83, schema.AxisX, SnapContext{}); got != 83 {
		t.Fatalf("expected identity without viewport, got %v", got)
	}
}

func TestSnapLocalAnchorsToWindowOrigin(t *testing.T) {
	cfg := pixelGrid(20)
	cfg.Mode = schema.SnapLocal
	snap := NewSnapper(cfg)
	ctx := SnapContext{Offset: schema.Point{X: 5, Y: 7}}
	got := snap.SnapPoint(schema.Point{X: 83, Y: 47}, ctx)
	if got.X != 85 || got.Y != 47 {
		t.Fatalf("expected (85,47), got %+v", got)
	}
	local := ToLocal(got, ctx.Offset)
	if local.X != 80 || local.Y != 40 {
		t.Fatalf("expected local (80,40), got %+v", local)
	}
}

func TestTransformRoundTrip(t *testing.T) {
	offset := schema.Point{X: 120, Y: -30}
	desktop := schema.Point{X: 400, Y: 250}
	local := ToLocal(desktop, offset)
	if local.X != 280 || local.Y != 280 {
		t.Fatalf("unexpected local point: %+v", local)
	}
	if back := ToDesktop(local, offset); back != desktop {
		t.Fatalf("expected round trip to %+v, got %+v", desktop, back)
	}
}
