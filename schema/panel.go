package schema

// Panel is the unit of replicated state.
type Panel struct {
	ID        PanelID        `json:"id"`
	Kind      Kind           `json:"kind"`
	X         float64        `json:"x"`
	Y         float64        `json:"y"`
	Width     float64        `json:"width"`
	Height    float64        `json:"height"`
	ContentID ContentID      `json:"contentId,omitempty"`
	Styles    map[string]any `json:"styles,omitempty"`
}

// Position returns the desktop position of the panel origin.
func (p Panel) Position() Point {
	return Point{X: p.X, Y: p.Y}
}

// Size returns the panel extent.
func (p Panel) Size() Size {
	return Size{Width: p.Width, Height: p.Height}
}

// Clone returns a copy that shares no style maps with p.
func (p Panel) Clone() Panel {
	p.Styles = cloneStyles(p.Styles)
	return p
}

// Patch returns a patch carrying every field of p.
func (p Panel) Patch() PanelPatch {
	kind := p.Kind
	x, y := p.X, p.Y
	w, h := p.Width, p.Height
	patch := PanelPatch{
		ID:     p.ID,
		Kind:   &kind,
		X:      &x,
		Y:      &y,
		Width:  &w,
		Height: &h,
		Styles: cloneStyles(p.Styles),
	}
	if p.ContentID != "" {
		content := p.ContentID
		patch.ContentID = &content
	}
	return patch
}

// PanelPatch carries a subset of panel fields. Nil fields are left untouched
// when the patch is applied.
type PanelPatch struct {
	ID        PanelID        `json:"id"`
	Kind      *Kind          `json:"kind,omitempty"`
	X         *float64       `json:"x,omitempty"`
	Y         *float64       `json:"y,omitempty"`
	Width     *float64       `json:"width,omitempty"`
	Height    *float64       `json:"height,omitempty"`
	ContentID *ContentID     `json:"contentId,omitempty"`
	Styles    map[string]any `json:"styles,omitempty"`
}

// PositionPatch builds the patch sent for a position update.
func PositionPatch(id PanelID, x, y float64) PanelPatch {
	return PanelPatch{ID: id, X: &x, Y: &y}
}

// SizePatch builds the patch sent for a resize.
func SizePatch(id PanelID, width, height float64) PanelPatch {
	return PanelPatch{ID: id, Width: &width, Height: &height}
}

// HasPosition reports whether both coordinates are present.
func (p PanelPatch) HasPosition() bool {
	return p.X != nil && p.Y != nil
}

// HasSize reports whether both extents are present.
func (p PanelPatch) HasSize() bool {
	return p.Width != nil && p.Height != nil
}

// Apply copies the fields carried by the patch onto panel. The id is never changed.
func (p PanelPatch) Apply(panel *Panel) {
	if panel == nil {
		return
	}
	if p.Kind != nil {
		panel.Kind = *p.Kind
	}
	if p.X != nil {
		panel.X = *p.X
	}
	if p.Y != nil {
		panel.Y = *p.Y
	}
	if p.Width != nil {
		panel.Width = *p.Width
	}
	if p.Height != nil {
		panel.Height = *p.Height
	}
	if p.ContentID != nil {
		panel.ContentID = *p.ContentID
	}
	if p.Styles != nil {
		panel.Styles = cloneStyles(p.Styles)
	}
}

// Panel materializes a full panel from a create patch.
func (p PanelPatch) Panel() (Panel, error) {
	if p.ID == "" || p.Kind == nil || !p.Kind.Valid() || !p.HasPosition() || !p.HasSize() {
		return Panel{}, ErrInvalidMessage
	}
	panel := Panel{ID: p.ID}
	p.Apply(&panel)
	return panel, nil
}

func cloneStyles(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneStyles(v)
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
