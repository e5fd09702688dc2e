package core

import (
	"math"

	"pkt.systems/panelsync/schema"
)

// minExtent keeps sizes positive when the grid is disabled.
const minExtent = 1

// SnapContext carries the per-window inputs of a snap. It is built from the
// host on every call; the viewport can change between calls.
type SnapContext struct {
	Offset   schema.Point
	Viewport schema.Size
}

// Snapper quantizes coordinates and sizes to a grid.
type Snapper struct {
	cfg schema.GridConfig
}

// NewSnapper returns a snapper for cfg.
func NewSnapper(cfg schema.GridConfig) Snapper {
	return Snapper{cfg: cfg}
}

// Config returns the grid configuration the snapper applies.
func (s Snapper) Config() schema.GridConfig {
	return s.cfg
}

// Snap quantizes a desktop coordinate on axis.
func (s Snapper) Snap(value float64, axis schema.Axis, ctx SnapContext) float64 {
	if !s.cfg.Enabled || s.cfg.Size <= 0 {
		return value
	}
	origin := 0.0
	if s.cfg.Mode == schema.SnapLocal {
		origin = ctx.Offset.On(axis)
	}
	rel, ok := s.quantize(value-origin, axis, ctx)
	if !ok {
		return value
	}
	return rel + origin
}

// SnapSize quantizes an extent on axis, never returning less than one grid unit.
func (s Snapper) SnapSize(value float64, axis schema.Axis, ctx SnapContext) float64 {
	if !s.cfg.Enabled || s.cfg.Size <= 0 {
		return math.Max(value, minExtent)
	}
	unit := s.Unit(axis, ctx)
	q, ok := s.quantize(value, axis, ctx)
	if !ok {
		return math.Max(value, minExtent)
	}
	if q < unit {
		return unit
	}
	return q
}

// FloorSize raises an extent to at least one grid unit without quantizing it.
func (s Snapper) FloorSize(value float64, axis schema.Axis, ctx SnapContext) float64 {
	return math.Max(value, s.Unit(axis, ctx))
}

// Unit returns the size of one grid step on axis in pixels.
func (s Snapper) Unit(axis schema.Axis, ctx SnapContext) float64 {
	if !s.cfg.Enabled || s.cfg.Size <= 0 {
		return minExtent
	}
	if s.cfg.Type == schema.GridPercentage {
		extent := ctx.Viewport.On(axis)
		if extent <= 0 {
			return minExtent
		}
		return s.cfg.Size * extent / 100
	}
	return s.cfg.Size
}

// SnapPoint snaps both components of a desktop position.
func (s Snapper) SnapPoint(p schema.Point, ctx SnapContext) schema.Point {
	return schema.Point{
		X: s.Snap(p.X, schema.AxisX, ctx),
		Y: s.Snap(p.Y, schema.AxisY, ctx),
	}
}

// SnapExtent snaps both components of a size.
func (s Snapper) SnapExtent(size schema.Size, ctx SnapContext) schema.Size {
	return schema.Size{
		Width:  s.SnapSize(size.Width, schema.AxisX, ctx),
		Height: s.SnapSize(size.Height, schema.AxisY, ctx),
	}
}

func (s Snapper) quantize(value float64, axis schema.Axis, ctx SnapContext) (float64, bool) {
	if s.cfg.Type == schema.GridPercentage {
		extent := ctx.Viewport.On(axis)
		if extent <= 0 {
			return 0, false
		}
		pct := value / extent * 100
		return roundTo(pct, s.cfg.Size) * extent / 100, true
	}
	return roundTo(value, s.cfg.Size), true
}

func roundTo(value, step float64) float64 {
	return math.Round(value/step) * step
}
