package core

import "pkt.systems/panelsync/schema"

// ContentRenderer produces the host's body for a content id.
type ContentRenderer func(id schema.ContentID) any

// Position modes a host applies to rendered panels.
const (
	PositionFixed    = "fixed"
	PositionAbsolute = "absolute"
)

// RenderedPanel is a panel projected into this window's viewport.
type RenderedPanel struct {
	Panel    schema.Panel
	Left     float64
	Top      float64
	Position string
	ZIndex   int
	Content  any
}

// Render projects the live panel set, in insertion order, into window-local
// coordinates using the tracked offset. render may be nil.
func (m *Manager) Render(render ContentRenderer) []RenderedPanel {
	offset := m.tracker.Offset()
	panels := m.store.List()
	out := make([]RenderedPanel, 0, len(panels))
	for _, panel := range panels {
		local := ToLocal(panel.Position(), offset)
		mode := PositionFixed
		if panel.Kind == schema.KindRelative {
			mode = PositionAbsolute
		}
		var content any
		if render != nil {
			content = render(panel.ContentID)
		}
		out = append(out, RenderedPanel{
			Panel:    panel,
			Left:     local.X,
			Top:      local.Y,
			Position: mode,
			ZIndex:   StackingOrder,
			Content:  content,
		})
	}
	return out
}
