package schema

// GridType selects the unit of the grid step.
type GridType string

const (
	// GridPixel steps in desktop pixels.
	GridPixel GridType = "pixel"
	// GridPercentage steps in percent of the current viewport extent.
	GridPercentage GridType = "percentage"
)

// SnapMode selects the origin grid lines are anchored to.
type SnapMode string

const (
	// SnapShared anchors grid lines to the physical screen.
	SnapShared SnapMode = "shared"
	// SnapLocal anchors grid lines to each window's own viewport.
	SnapLocal SnapMode = "local"
)

// DefaultGridSize matches the demo host configuration.
const DefaultGridSize = 20

// GridConfig is the process-wide, replicated snapping configuration.
type GridConfig struct {
	Enabled bool     `json:"enabled"`
	Type    GridType `json:"type"`
	Size    float64  `json:"size"`
	Mode    SnapMode `json:"mode,omitempty"`
}

// DefaultGridConfig returns an enabled 20px shared grid.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		Enabled: true,
		Type:    GridPixel,
		Size:    DefaultGridSize,
		Mode:    SnapShared,
	}
}

// GridConfigPatch carries a partial grid configuration.
type GridConfigPatch struct {
	Enabled *bool
	Type    *GridType
	Size    *float64
	Mode    *SnapMode
}

// Merge returns cfg with the fields present in patch replaced.
func (cfg GridConfig) Merge(patch GridConfigPatch) GridConfig {
	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}
	if patch.Type != nil {
		cfg.Type = *patch.Type
	}
	if patch.Size != nil {
		cfg.Size = *patch.Size
	}
	if patch.Mode != nil {
		cfg.Mode = *patch.Mode
	}
	return cfg
}

// NormalizeGridConfig validates cfg and fills an empty type or mode.
func NormalizeGridConfig(cfg GridConfig) (GridConfig, error) {
	if cfg.Type == "" {
		cfg.Type = GridPixel
	}
	if cfg.Mode == "" {
		cfg.Mode = SnapShared
	}
	switch cfg.Type {
	case GridPixel, GridPercentage:
	default:
		return GridConfig{}, ErrInvalidGrid
	}
	switch cfg.Mode {
	case SnapShared, SnapLocal:
	default:
		return GridConfig{}, ErrInvalidGrid
	}
	if !Finite(cfg.Size) {
		return GridConfig{}, ErrInvalidGrid
	}
	if cfg.Size <= 0 {
		if cfg.Enabled {
			return GridConfig{}, ErrInvalidGrid
		}
		cfg.Size = DefaultGridSize
	}
	if cfg.Type == GridPercentage && cfg.Size > 100 {
		return GridConfig{}, ErrInvalidGrid
	}
	return cfg, nil
}
