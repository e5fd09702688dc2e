// Package command implements the line console a headless window is driven
// through.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"pkt.systems/panelsync/core"
	"pkt.systems/panelsync/internal/logx"
	"pkt.systems/panelsync/schema"
)

// ErrQuit is returned by Handle for the quit command.
var ErrQuit = errors.New("quit")

// Geometry lets the console move and resize a window it controls.
type Geometry interface {
	MoveTo(offset schema.Point)
	ResizeTo(viewport schema.Size)
}

// HandlerConfig configures console behavior.
type HandlerConfig struct {
	// Geometry enables the offset and viewport commands. Nil when the window
	// geometry belongs to a real browser.
	Geometry            Geometry
	DisableAuditLogging bool
}

// Handler routes console commands to a panel manager.
type Handler struct {
	m   *core.Manager
	out io.Writer
	cfg HandlerConfig

	pointer *pointerSurface
	gesture schema.PanelID
}

// NewHandler constructs a handler writing replies to out.
func NewHandler(m *core.Manager, out io.Writer, cfg HandlerConfig) *Handler {
	if out == nil {
		out = io.Discard
	}
	return &Handler{m: m, out: out, cfg: cfg, pointer: &pointerSurface{}}
}

// Handle executes one console line. It reports whether the line was a
// command.
func (h *Handler) Handle(ctx context.Context, input string) (bool, error) {
	if ctx == nil {
		return false, errors.New("missing context")
	}
	cmd, ok := Parse(input)
	if !ok {
		return false, nil
	}
	log := logx.WindowLogger(ctx, h.m.WindowID())
	if !h.cfg.DisableAuditLogging {
		log.Debug("audit command", "command", cmd.Raw)
	}
	log = log.With("command", cmd.Name, "args", len(cmd.Args))
	var err error
	switch cmd.Name {
	case "":
		err = fmt.Errorf("invalid command")
	case "help":
		err = h.handleHelp()
	case "create", "new":
		err = h.handleCreate(cmd)
	case "move":
		err = h.handleMove(cmd)
	case "resize":
		err = h.handleResize(cmd)
	case "toggle":
		err = h.handleToggle(cmd)
	case "press":
		err = h.handlePress(cmd)
	case "drag":
		err = h.handleDrag(cmd)
	case "release":
		err = h.handleRelease(cmd)
	case "blur":
		err = h.handleBlur()
	case "grid":
		err = h.handleGrid(cmd)
	case "list", "ls":
		err = h.handleList()
	case "render":
		err = h.handleRender()
	case "offset":
		err = h.handleOffset(cmd)
	case "viewport":
		err = h.handleViewport(cmd)
	case "status":
		err = h.handleStatus()
	case "quit", "exit":
		return true, ErrQuit
	default:
		err = fmt.Errorf("unknown command %q (try help)", cmd.Name)
	}
	if err != nil {
		log.Debug("command rejected", "err", err)
	}
	return true, err
}

const helpText = `commands:
  create [absolute|relative] <x> <y> [<w> <h>] [content]
  move <id> <x> <y>
  resize <id> <w> <h>
  toggle <id>
  press <id> <x> <y>  (window coordinates; the bottom-right corner resizes)
  drag <x> <y> | release [<x> <y>] | blur
  grid [on|off] [pixel|percentage] [size] [shared|local]
  list | render | status
  offset <x> <y>      (headless windows)
  viewport <w> <h>    (headless windows)
  quit
`

func (h *Handler) handleHelp() error {
	_, err := io.WriteString(h.out, helpText)
	return err
}

func (h *Handler) handleCreate(cmd Command) error {
	args := cmd.Args
	kind := schema.KindAbsolute
	if len(args) > 0 {
		if parsed, err := schema.NormalizeKind(args[0]); err == nil {
			kind = parsed
			args = args[1:]
		}
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: create [absolute|relative] <x> <y> [<w> <h>] [content]")
	}
	nums, rest, err := leadingNumbers(args, 4)
	if err != nil {
		return err
	}
	if len(nums) != 2 && len(nums) != 4 {
		return fmt.Errorf("usage: create [absolute|relative] <x> <y> [<w> <h>] [content]")
	}
	var opts []core.CreateOption
	if len(nums) == 4 {
		opts = append(opts, core.WithSize(nums[2], nums[3]))
	}
	if len(rest) > 0 {
		opts = append(opts, core.WithContent(schema.ContentID(strings.Join(rest, " "))))
	}
	id, err := h.m.CreatePanel(kind, nums[0], nums[1], opts...)
	if err != nil {
		return err
	}
	panel, _ := h.m.Panel(id)
	return h.printf("created %s %s at (%g,%g) %gx%g\n", id, panel.Kind, panel.X, panel.Y, panel.Width, panel.Height)
}

func (h *Handler) handleMove(cmd Command) error {
	if len(cmd.Args) != 3 {
		return fmt.Errorf("usage: move <id> <x> <y>")
	}
	id, err := h.resolve(cmd.Args[0])
	if err != nil {
		return err
	}
	nums, _, err := leadingNumbers(cmd.Args[1:], 2)
	if err != nil {
		return err
	}
	if len(nums) != 2 {
		return fmt.Errorf("usage: move <id> <x> <y>")
	}
	if err := h.m.UpdatePanelPosition(id, nums[0], nums[1]); err != nil {
		return err
	}
	panel, _ := h.m.Panel(id)
	return h.printf("moved %s to (%g,%g)\n", id, panel.X, panel.Y)
}

func (h *Handler) handleResize(cmd Command) error {
	if len(cmd.Args) != 3 {
		return fmt.Errorf("usage: resize <id> <w> <h>")
	}
	id, err := h.resolve(cmd.Args[0])
	if err != nil {
		return err
	}
	nums, _, err := leadingNumbers(cmd.Args[1:], 2)
	if err != nil {
		return err
	}
	if len(nums) != 2 {
		return fmt.Errorf("usage: resize <id> <w> <h>")
	}
	if err := h.m.UpdatePanelSize(id, nums[0], nums[1]); err != nil {
		return err
	}
	panel, _ := h.m.Panel(id)
	return h.printf("resized %s to %gx%g\n", id, panel.Width, panel.Height)
}

func (h *Handler) handleToggle(cmd Command) error {
	if len(cmd.Args) != 1 {
		return fmt.Errorf("usage: toggle <id>")
	}
	id, err := h.resolve(cmd.Args[0])
	if err != nil {
		return err
	}
	kind, err := h.m.TogglePanelKind(id)
	if err != nil {
		return err
	}
	return h.printf("toggled %s to %s\n", id, kind)
}

func (h *Handler) handleGrid(cmd Command) error {
	if len(cmd.Args) == 0 {
		return h.printGrid(h.m.GridConfig())
	}
	var patch schema.GridConfigPatch
	for _, arg := range cmd.Args {
		switch strings.ToLower(arg) {
		case "on", "enable", "enabled":
			v := true
			patch.Enabled = &v
			continue
		case "off", "disable", "disabled":
			v := false
			patch.Enabled = &v
			continue
		}
		if gridType, err := schema.NormalizeGridType(arg); err == nil {
			patch.Type = &gridType
			continue
		}
		if mode, err := schema.NormalizeSnapMode(arg); err == nil {
			patch.Mode = &mode
			continue
		}
		size, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("grid: unrecognized argument %q", arg)
		}
		patch.Size = &size
	}
	cfg, err := h.m.UpdateGridConfig(patch)
	if err != nil {
		return err
	}
	return h.printGrid(cfg)
}

func (h *Handler) printGrid(cfg schema.GridConfig) error {
	state := "off"
	if cfg.Enabled {
		state = "on"
	}
	return h.printf("grid %s %s %g %s\n", state, cfg.Type, cfg.Size, cfg.Mode)
}

func (h *Handler) handleList() error {
	panels := h.m.Panels()
	if len(panels) == 0 {
		return h.printf("no panels\n")
	}
	tw := tabwriter.NewWriter(h.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tKIND\tX\tY\tW\tH\tCONTENT")
	for _, p := range panels {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%g\t%g\t%g\t%g\t%s\n", p.ID, p.Kind, p.X, p.Y, p.Width, p.Height, p.ContentID)
	}
	return tw.Flush()
}

func (h *Handler) handleRender() error {
	rendered := h.m.Render(nil)
	if len(rendered) == 0 {
		return h.printf("no panels\n")
	}
	tw := tabwriter.NewWriter(h.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tPOSITION\tLEFT\tTOP\tW\tH\tZ")
	for _, rp := range rendered {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%g\t%g\t%g\t%g\t%d\n", rp.Panel.ID, rp.Position, rp.Left, rp.Top, rp.Panel.Width, rp.Panel.Height, rp.ZIndex)
	}
	return tw.Flush()
}

func (h *Handler) handleOffset(cmd Command) error {
	if h.cfg.Geometry == nil {
		return fmt.Errorf("offset: window geometry is not controllable")
	}
	if len(cmd.Args) == 0 {
		offset := h.m.Tracker().Offset()
		return h.printf("offset (%g,%g)\n", offset.X, offset.Y)
	}
	nums, _, err := leadingNumbers(cmd.Args, 2)
	if err != nil || len(nums) != 2 || len(cmd.Args) != 2 {
		return fmt.Errorf("usage: offset <x> <y>")
	}
	h.cfg.Geometry.MoveTo(schema.Point{X: nums[0], Y: nums[1]})
	delta, moved := h.m.Tracker().Sample()
	if !moved {
		return h.printf("offset unchanged\n")
	}
	return h.printf("offset (%g,%g) moved by (%g,%g)\n", nums[0], nums[1], delta.X, delta.Y)
}

func (h *Handler) handleViewport(cmd Command) error {
	if h.cfg.Geometry == nil {
		return fmt.Errorf("viewport: window geometry is not controllable")
	}
	nums, _, err := leadingNumbers(cmd.Args, 2)
	if err != nil || len(nums) != 2 || len(cmd.Args) != 2 || nums[0] < 0 || nums[1] < 0 {
		return fmt.Errorf("usage: viewport <w> <h>")
	}
	h.cfg.Geometry.ResizeTo(schema.Size{Width: nums[0], Height: nums[1]})
	return h.printf("viewport %gx%g\n", nums[0], nums[1])
}

func (h *Handler) handleStatus() error {
	state := "connected"
	if h.m.Degraded() {
		state = "degraded"
	}
	offset := h.m.Tracker().Offset()
	if err := h.printf("window %s %s panels=%d offset=(%g,%g)\n", h.m.WindowID(), state, len(h.m.Panels()), offset.X, offset.Y); err != nil {
		return err
	}
	return h.printGrid(h.m.GridConfig())
}

// resolve matches a full panel id or a unique prefix of one.
func (h *Handler) resolve(ref string) (schema.PanelID, error) {
	if _, ok := h.m.Panel(schema.PanelID(ref)); ok {
		return schema.PanelID(ref), nil
	}
	var match schema.PanelID
	for _, p := range h.m.Panels() {
		if !strings.HasPrefix(string(p.ID), ref) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("panel id %q is ambiguous", ref)
		}
		match = p.ID
	}
	if match == "" {
		return "", fmt.Errorf("panel %q: %w", ref, schema.ErrPanelNotFound)
	}
	return match, nil
}

func (h *Handler) printf(format string, args ...any) error {
	_, err := fmt.Fprintf(h.out, format, args...)
	return err
}

// leadingNumbers parses up to limit leading numeric args and returns the rest.
func leadingNumbers(args []string, limit int) ([]float64, []string, error) {
	out := make([]float64, 0, limit)
	i := 0
	for ; i < len(args) && len(out) < limit; i++ {
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			break
		}
		if !schema.Finite(v) {
			return nil, args, fmt.Errorf("%q: %w", args[i], schema.ErrInvalidGeometry)
		}
		out = append(out, v)
	}
	if len(out) == 0 && len(args) > 0 {
		return nil, args, fmt.Errorf("expected a number, got %q", args[0])
	}
	return out, args[i:], nil
}
