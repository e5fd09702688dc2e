package core

import (
	"sync"

	"pkt.systems/panelsync/schema"
)

// Host exposes the hosting window's geometry.
type Host interface {
	// Offset returns the desktop position of the window's content area.
	Offset() schema.Point
	// Viewport returns the current inner extent of the window.
	Viewport() schema.Size
}

// StaticHost is a Host whose geometry is set explicitly. Headless windows and
// tests drive it directly.
type StaticHost struct {
	mu       sync.Mutex
	offset   schema.Point
	viewport schema.Size
}

// NewStaticHost returns a host at offset with the given viewport.
func NewStaticHost(offset schema.Point, viewport schema.Size) *StaticHost {
	return &StaticHost{offset: offset, viewport: viewport}
}

// Offset implements Host.
func (h *StaticHost) Offset() schema.Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offset
}

// Viewport implements Host.
func (h *StaticHost) Viewport() schema.Size {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.viewport
}

// MoveTo sets the window offset.
func (h *StaticHost) MoveTo(offset schema.Point) {
	h.mu.Lock()
	h.offset = offset
	h.mu.Unlock()
}

// ResizeTo sets the viewport extent.
func (h *StaticHost) ResizeTo(viewport schema.Size) {
	h.mu.Lock()
	h.viewport = viewport
	h.mu.Unlock()
}
