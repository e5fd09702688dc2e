package schema

import (
	"fmt"
	"math"
)

// Op identifies a sync message operation.
type Op string

const (
	// OpCreate announces a new panel.
	OpCreate Op = "create"
	// OpUpdate patches the position field group (and kind on toggle).
	OpUpdate Op = "update"
	// OpResize patches the size field group.
	OpResize Op = "resize"
	// OpGridConfig replaces the replicated grid configuration.
	OpGridConfig Op = "gridConfig"
)

// Message is one broadcast on the sync channel.
type Message struct {
	Op     Op          `json:"op"`
	Panel  *PanelPatch `json:"panel,omitempty"`
	Config *GridConfig `json:"config,omitempty"`
	Sender WindowID    `json:"sender"`
}

// Validate checks the message carries what its op requires.
func (m Message) Validate() error {
	if m.Sender == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	}
	switch m.Op {
	case OpCreate:
		if m.Panel == nil {
			return fmt.Errorf("%w: create without panel", ErrInvalidMessage)
		}
		if _, err := m.Panel.Panel(); err != nil {
			return fmt.Errorf("%w: incomplete create panel", ErrInvalidMessage)
		}
		if err := checkPosition(m.Panel); err != nil {
			return err
		}
		if err := checkSize(m.Panel); err != nil {
			return err
		}
	case OpUpdate:
		if m.Panel == nil || m.Panel.ID == "" {
			return fmt.Errorf("%w: update without panel id", ErrInvalidMessage)
		}
		if m.Panel.Kind != nil && !m.Panel.Kind.Valid() {
			return fmt.Errorf("%w: %w", ErrInvalidMessage, ErrInvalidKind)
		}
		if err := checkPosition(m.Panel); err != nil {
			return err
		}
	case OpResize:
		if m.Panel == nil || m.Panel.ID == "" {
			return fmt.Errorf("%w: resize without panel id", ErrInvalidMessage)
		}
		if !m.Panel.HasSize() {
			return fmt.Errorf("%w: resize without size", ErrInvalidMessage)
		}
		if err := checkSize(m.Panel); err != nil {
			return err
		}
	case OpGridConfig:
		if m.Config == nil {
			return fmt.Errorf("%w: gridConfig without config", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidMessage, m.Op)
	}
	return nil
}

// Finite reports whether v is neither NaN nor an infinity.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func checkPosition(p *PanelPatch) error {
	if (p.X != nil && !Finite(*p.X)) || (p.Y != nil && !Finite(*p.Y)) {
		return fmt.Errorf("%w: non-finite position", ErrInvalidMessage)
	}
	return nil
}

func checkSize(p *PanelPatch) error {
	for _, v := range []*float64{p.Width, p.Height} {
		if v == nil {
			continue
		}
		if !Finite(*v) || *v <= 0 {
			return fmt.Errorf("%w: size must be finite and positive", ErrInvalidMessage)
		}
	}
	return nil
}
