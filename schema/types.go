package schema

// PanelID identifies a panel for the lifetime of a shared session.
type PanelID string

// WindowID identifies one window participating in a session.
type WindowID string

// ContentID references host-supplied panel content. The core never interprets it.
type ContentID string

// ChannelName names a broadcast channel shared by the windows of a session.
type ChannelName string

// DefaultChannelName is the channel every window joins unless configured otherwise.
const DefaultChannelName ChannelName = "panel-management"

// Kind selects the coordinate frame a panel is reconciled in.
type Kind string

const (
	// KindAbsolute panels stay fixed on the physical screen.
	KindAbsolute Kind = "absolute"
	// KindRelative panels follow the window that currently anchors them.
	KindRelative Kind = "relative"
)

// Toggle returns the opposite kind.
func (k Kind) Toggle() Kind {
	if k == KindRelative {
		return KindAbsolute
	}
	return KindRelative
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindAbsolute || k == KindRelative
}

// Axis selects the horizontal or vertical component of a coordinate.
type Axis int

const (
	// AxisX is the horizontal axis.
	AxisX Axis = iota
	// AxisY is the vertical axis.
	AxisY
)

// Point is a position in either desktop or window-local space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p translated by d.
func (p Point) Add(d Point) Point {
	return Point{X: p.X + d.X, Y: p.Y + d.Y}
}

// Sub returns p - d.
func (p Point) Sub(d Point) Point {
	return Point{X: p.X - d.X, Y: p.Y - d.Y}
}

// IsZero reports whether both components are zero.
func (p Point) IsZero() bool {
	return p.X == 0 && p.Y == 0
}

// On returns the component on the given axis.
func (p Point) On(axis Axis) float64 {
	if axis == AxisY {
		return p.Y
	}
	return p.X
}

// Size is a width/height extent.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// On returns the extent on the given axis.
func (s Size) On(axis Axis) float64 {
	if axis == AxisY {
		return s.Height
	}
	return s.Width
}
