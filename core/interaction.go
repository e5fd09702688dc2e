package core

import (
	"math"
	"sync"

	"pkt.systems/panelsync/internal/logx"
	"pkt.systems/panelsync/schema"
)

// PointerEvent is a pointer sample in window-local (client) coordinates.
type PointerEvent struct {
	Client schema.Point
}

// PointerHandler receives the pointer stream of an active gesture.
type PointerHandler interface {
	PointerMove(ev PointerEvent)
	PointerUp(ev PointerEvent)
	Blur()
}

// InputSurface attaches window-wide pointer listeners for the duration of a
// gesture. The returned release detaches them.
type InputSurface interface {
	Capture(handler PointerHandler) (release func())
}

// GestureState is the state of a panel's interaction controller.
type GestureState int

const (
	// Idle means no gesture is active.
	Idle GestureState = iota
	// Dragging means pointer moves reposition the panel.
	Dragging
	// Resizing means pointer moves resize the panel.
	Resizing
)

func (s GestureState) String() string {
	switch s {
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	default:
		return "idle"
	}
}

// Controller turns pointer input on one panel into position and size updates.
type Controller struct {
	m       *Manager
	id      schema.PanelID
	surface InputSurface
	handle  float64

	mu        sync.Mutex
	state     GestureState
	grab      schema.Point
	start     schema.Point
	startSize schema.Size
	release   func()
}

// Controller returns an interaction controller for panel id that attaches its
// gesture listeners to surface.
func (m *Manager) Controller(id schema.PanelID, surface InputSurface) *Controller {
	return &Controller{
		m:       m,
		id:      id,
		surface: surface,
		handle:  m.cfg.ResizeHandle,
	}
}

// State returns the current gesture state.
func (c *Controller) State() GestureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PointerDown starts a resize when ev hits the resize handle, otherwise a
// drag. It reports the resulting state and whether a gesture started.
func (c *Controller) PointerDown(ev PointerEvent) (GestureState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return c.state, false
	}
	panel, ok := c.m.Panel(c.id)
	if !ok {
		return Idle, false
	}
	offset := c.m.host.Offset()
	origin, size := LocalRect(panel, offset)
	if !inside(ev.Client, origin, size) {
		return Idle, false
	}
	pointer := ToDesktop(ev.Client, offset)
	if c.onHandle(ev.Client, origin, size) {
		c.state = Resizing
		c.start = pointer
		c.startSize = size
	} else {
		c.state = Dragging
		c.grab = pointer.Sub(panel.Position())
	}
	if c.surface != nil {
		c.release = c.surface.Capture(c)
	}
	logx.WithPanel(c.m.log, c.id).Trace("gesture start", "state", c.state.String())
	return c.state, true
}

// PointerMove implements PointerHandler.
func (c *Controller) PointerMove(ev PointerEvent) {
	c.mu.Lock()
	state := c.state
	grab, start, startSize := c.grab, c.start, c.startSize
	c.mu.Unlock()

	pointer := ToDesktop(ev.Client, c.m.host.Offset())
	var err error
	switch state {
	case Dragging:
		pos := pointer.Sub(grab)
		err = c.m.UpdatePanelPosition(c.id, pos.X, pos.Y)
	case Resizing:
		snap, sctx := c.m.Snapper()
		delta := pointer.Sub(start)
		width := math.Max(startSize.Width+delta.X, snap.Unit(schema.AxisX, sctx))
		height := math.Max(startSize.Height+delta.Y, snap.Unit(schema.AxisY, sctx))
		err = c.m.UpdatePanelSize(c.id, width, height)
	default:
		return
	}
	if err != nil {
		logx.WithPanel(c.m.log, c.id).Debug("gesture aborted", "state", state.String(), "err", err)
		c.end()
	}
}

// PointerUp implements PointerHandler. Without an active gesture it is a no-op.
func (c *Controller) PointerUp(PointerEvent) {
	c.end()
}

// Blur implements PointerHandler; losing focus ends the gesture like a pointer up.
func (c *Controller) Blur() {
	c.end()
}

func (c *Controller) end() {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return
	}
	state := c.state
	c.state = Idle
	release := c.release
	c.release = nil
	c.mu.Unlock()
	if release != nil {
		release()
	}
	logx.WithPanel(c.m.log, c.id).Trace("gesture end", "state", state.String())
}

func (c *Controller) onHandle(p, origin schema.Point, size schema.Size) bool {
	right := origin.X + size.Width
	bottom := origin.Y + size.Height
	return p.X >= right-c.handle && p.X <= right && p.Y >= bottom-c.handle && p.Y <= bottom
}

func inside(p, origin schema.Point, size schema.Size) bool {
	return p.X >= origin.X && p.X <= origin.X+size.Width && p.Y >= origin.Y && p.Y <= origin.Y+size.Height
}
