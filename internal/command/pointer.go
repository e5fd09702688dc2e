package command

import (
	"errors"
	"fmt"
	"sync"

	"pkt.systems/panelsync/core"
	"pkt.systems/panelsync/schema"
)

var errNoGesture = errors.New("no active gesture (press a panel first)")

// pointerSurface is the console input surface. While a gesture is captured,
// drag, release and blur lines are delivered to its handler.
type pointerSurface struct {
	mu      sync.Mutex
	handler core.PointerHandler
}

func (s *pointerSurface) Capture(handler core.PointerHandler) func() {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		if s.handler == handler {
			s.handler = nil
		}
		s.mu.Unlock()
	}
}

func (s *pointerSurface) active() core.PointerHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

func clientPoint(args []string, usage string) (core.PointerEvent, error) {
	nums, _, err := leadingNumbers(args, 2)
	if err != nil {
		return core.PointerEvent{}, err
	}
	if len(nums) != 2 || len(args) != 2 {
		return core.PointerEvent{}, errors.New(usage)
	}
	return core.PointerEvent{Client: schema.Point{X: nums[0], Y: nums[1]}}, nil
}

func (h *Handler) handlePress(cmd Command) error {
	const usage = "usage: press <id> <x> <y>"
	if len(cmd.Args) != 3 {
		return errors.New(usage)
	}
	if h.pointer.active() != nil {
		return fmt.Errorf("gesture on %s in progress (release first)", h.gesture)
	}
	id, err := h.resolve(cmd.Args[0])
	if err != nil {
		return err
	}
	ev, err := clientPoint(cmd.Args[1:], usage)
	if err != nil {
		return err
	}
	state, ok := h.m.Controller(id, h.pointer).PointerDown(ev)
	if !ok {
		return fmt.Errorf("press at (%g,%g) missed panel %s", ev.Client.X, ev.Client.Y, id)
	}
	h.gesture = id
	return h.printf("%s %s\n", state, id)
}

func (h *Handler) handleDrag(cmd Command) error {
	handler := h.pointer.active()
	if handler == nil {
		return errNoGesture
	}
	ev, err := clientPoint(cmd.Args, "usage: drag <x> <y>")
	if err != nil {
		return err
	}
	handler.PointerMove(ev)
	if h.pointer.active() == nil {
		return fmt.Errorf("gesture on %s aborted", h.gesture)
	}
	panel, ok := h.m.Panel(h.gesture)
	if !ok {
		return fmt.Errorf("panel %q: %w", h.gesture, schema.ErrPanelNotFound)
	}
	return h.printf("%s at (%g,%g) %gx%g\n", panel.ID, panel.X, panel.Y, panel.Width, panel.Height)
}

func (h *Handler) handleRelease(cmd Command) error {
	handler := h.pointer.active()
	if handler == nil {
		return errNoGesture
	}
	var ev core.PointerEvent
	if len(cmd.Args) > 0 {
		var err error
		if ev, err = clientPoint(cmd.Args, "usage: release [<x> <y>]"); err != nil {
			return err
		}
	}
	handler.PointerUp(ev)
	return h.printf("released %s\n", h.gesture)
}

func (h *Handler) handleBlur() error {
	handler := h.pointer.active()
	if handler == nil {
		return h.printf("blur (no gesture)\n")
	}
	handler.Blur()
	return h.printf("blurred %s\n", h.gesture)
}
