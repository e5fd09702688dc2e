package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/panelsync/internal/codec"
	"pkt.systems/panelsync/internal/logx"
	"pkt.systems/panelsync/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultPollInterval is the offset sampling period.
	DefaultPollInterval = 8 * time.Millisecond
	// DefaultResizeHandle is the edge length of the bottom-right resize handle.
	DefaultResizeHandle = 15
	// DefaultOutboxDepth bounds broadcasts waiting for the channel.
	DefaultOutboxDepth = 256
	// StackingOrder is the fixed z-index every panel renders at.
	StackingOrder = 1000
)

// DefaultPanelSize is used when CreatePanel is given no size.
var DefaultPanelSize = schema.Size{Width: 240, Height: 180}

// Config controls a Manager.
type Config struct {
	// WindowID overrides the generated sender identity.
	WindowID schema.WindowID
	Grid     schema.GridConfig
	// PollInterval is the offset sampling period. Zero selects the default;
	// a negative value disables the background loop so Tracker().Sample is
	// driven by the caller.
	PollInterval time.Duration
	ResizeHandle float64
	DefaultSize  schema.Size
	OutboxDepth  int
}

// Manager is one window's panel session: it owns the replica, the offset
// tracker and the channel subscription, and releases all of them on Close.
type Manager struct {
	cfg     Config
	id      schema.WindowID
	host    Host
	channel Channel
	codec   Codec
	log     pslog.Logger

	mu      sync.Mutex
	grid    schema.GridConfig
	store   *Store
	tracker *Tracker

	outbox     chan []byte
	degraded   atomic.Bool
	closed     atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
	stopListen func()
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewManager constructs a manager and starts its tracker, receive and send
// loops. The manager owns deps.Channel and closes it on Close.
func NewManager(ctx context.Context, cfg Config, deps Deps) (*Manager, error) {
	if deps.Host == nil {
		return nil, errors.New("host is required")
	}
	grid, err := schema.NormalizeGridConfig(cfg.Grid)
	if err != nil {
		return nil, err
	}
	cfg.Grid = grid
	if cfg.WindowID == "" {
		cfg.WindowID = NewWindowID()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ResizeHandle <= 0 {
		cfg.ResizeHandle = DefaultResizeHandle
	}
	if cfg.DefaultSize.Width <= 0 || cfg.DefaultSize.Height <= 0 {
		cfg.DefaultSize = DefaultPanelSize
	}
	if cfg.OutboxDepth <= 0 {
		cfg.OutboxDepth = DefaultOutboxDepth
	}
	if deps.Codec == nil {
		deps.Codec = codec.JSON{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	logger = logx.WithWindow(logger, cfg.WindowID)

	runCtx, cancel := context.WithCancel(ctx)
	store := NewStore(logger)
	m := &Manager{
		cfg:     cfg,
		id:      cfg.WindowID,
		host:    deps.Host,
		channel: deps.Channel,
		codec:   deps.Codec,
		log:     logger,
		grid:    grid,
		store:   store,
		tracker: NewTracker(deps.Host, store, logger),
		outbox:  make(chan []byte, cfg.OutboxDepth),
		ctx:     runCtx,
		cancel:  cancel,
	}

	if m.channel == nil {
		m.degraded.Store(true)
		logger.Warn("sync channel unavailable; running local only")
	} else {
		payloads, stop := m.channel.Listen()
		m.stopListen = stop
		m.wg.Add(2)
		go m.receiveLoop(payloads)
		go m.sendLoop()
	}
	if cfg.PollInterval > 0 {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.tracker.Run(runCtx, cfg.PollInterval)
		}()
	}
	logger.Info("panel manager started", "grid_type", grid.Type, "grid_size", grid.Size, "grid_mode", grid.Mode, "poll_ms", cfg.PollInterval.Milliseconds())
	return m, nil
}

// WindowID returns this window's sender identity.
func (m *Manager) WindowID() schema.WindowID {
	return m.id
}

// Store returns the local replica.
func (m *Manager) Store() *Store {
	return m.store
}

// Tracker returns the window offset tracker.
func (m *Manager) Tracker() *Tracker {
	return m.tracker
}

// Degraded reports whether synchronization is currently local only.
func (m *Manager) Degraded() bool {
	return m.degraded.Load()
}

// CreateOption customizes CreatePanel.
type CreateOption func(*createRequest)

type createRequest struct {
	size    schema.Size
	content schema.ContentID
	styles  map[string]any
}

// WithSize sets the initial panel size.
func WithSize(width, height float64) CreateOption {
	return func(r *createRequest) { r.size = schema.Size{Width: width, Height: height} }
}

// WithContent sets the host content reference.
func WithContent(id schema.ContentID) CreateOption {
	return func(r *createRequest) { r.content = id }
}

// WithStyles sets the opaque style overlay.
func WithStyles(styles map[string]any) CreateOption {
	return func(r *createRequest) { r.styles = styles }
}

// CreatePanel inserts a new panel at desktop (x, y) and broadcasts it.
// The position is snapped; the initial size is kept as requested but never
// below one grid unit. Size is therefore not necessarily a grid multiple
// until the first resize snaps it. Non-finite input fails with
// schema.ErrInvalidGeometry.
func (m *Manager) CreatePanel(kind schema.Kind, x, y float64, opts ...CreateOption) (schema.PanelID, error) {
	if !kind.Valid() {
		return "", schema.ErrInvalidKind
	}
	req := createRequest{size: m.cfg.DefaultSize}
	for _, opt := range opts {
		opt(&req)
	}
	if err := checkFinite("create panel", x, y, req.size.Width, req.size.Height); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return "", schema.ErrManagerClosed
	}
	snap, sctx := m.snapperLocked()
	pos := snap.SnapPoint(schema.Point{X: x, Y: y}, sctx)
	panel := schema.Panel{
		ID:        NewPanelID(),
		Kind:      kind,
		X:         pos.X,
		Y:         pos.Y,
		Width:     snap.FloorSize(req.size.Width, schema.AxisX, sctx),
		Height:    snap.FloorSize(req.size.Height, schema.AxisY, sctx),
		ContentID: req.content,
		Styles:    req.styles,
	}
	m.store.Insert(panel, SourceLocal)
	patch := panel.Patch()
	m.broadcastLocked(schema.Message{Op: schema.OpCreate, Panel: &patch})
	logx.WithPanel(m.log, panel.ID).Debug("panel created", "kind", kind, "x", panel.X, "y", panel.Y, "width", panel.Width, "height", panel.Height)
	return panel.ID, nil
}

// UpdatePanelPosition snaps and moves a panel, touching only its position.
func (m *Manager) UpdatePanelPosition(id schema.PanelID, x, y float64) error {
	if err := checkFinite("update position", x, y); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return schema.ErrManagerClosed
	}
	snap, sctx := m.snapperLocked()
	pos := snap.SnapPoint(schema.Point{X: x, Y: y}, sctx)
	patch := schema.PositionPatch(id, pos.X, pos.Y)
	if _, ok := m.store.Patch(schema.OpUpdate, patch, SourceLocal); !ok {
		return fmt.Errorf("update position %s: %w", id, schema.ErrPanelNotFound)
	}
	m.broadcastLocked(schema.Message{Op: schema.OpUpdate, Panel: &patch})
	logx.WithPanel(m.log, id).Trace("panel moved", "x", pos.X, "y", pos.Y)
	return nil
}

// UpdatePanelSize snaps and resizes a panel, touching only its size.
func (m *Manager) UpdatePanelSize(id schema.PanelID, width, height float64) error {
	if err := checkFinite("update size", width, height); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return schema.ErrManagerClosed
	}
	snap, sctx := m.snapperLocked()
	size := snap.SnapExtent(schema.Size{Width: width, Height: height}, sctx)
	patch := schema.SizePatch(id, size.Width, size.Height)
	if _, ok := m.store.Patch(schema.OpResize, patch, SourceLocal); !ok {
		return fmt.Errorf("update size %s: %w", id, schema.ErrPanelNotFound)
	}
	m.broadcastLocked(schema.Message{Op: schema.OpResize, Panel: &patch})
	logx.WithPanel(m.log, id).Trace("panel resized", "width", size.Width, "height", size.Height)
	return nil
}

func checkFinite(op string, values ...float64) error {
	for _, v := range values {
		if !schema.Finite(v) {
			return fmt.Errorf("%s: %w", op, schema.ErrInvalidGeometry)
		}
	}
	return nil
}

// TogglePanelKind flips a panel between absolute and relative. Coordinates
// are kept as-is; only their interpretation changes.
func (m *Manager) TogglePanelKind(id schema.PanelID) (schema.Kind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return "", schema.ErrManagerClosed
	}
	current, ok := m.store.Get(id)
	if !ok {
		return "", fmt.Errorf("toggle %s: %w", id, schema.ErrPanelNotFound)
	}
	kind := current.Kind.Toggle()
	if _, ok := m.store.Patch(schema.OpUpdate, schema.PanelPatch{ID: id, Kind: &kind}, SourceLocal); !ok {
		return "", fmt.Errorf("toggle %s: %w", id, schema.ErrPanelNotFound)
	}
	// styles are assumed stable across toggles and stay off the wire
	patch := schema.PositionPatch(id, current.X, current.Y)
	patch.Kind = &kind
	m.broadcastLocked(schema.Message{Op: schema.OpUpdate, Panel: &patch})
	logx.WithPanel(m.log, id).Debug("panel kind toggled", "kind", kind)
	return kind, nil
}

// UpdateGridConfig merges patch into the grid configuration and broadcasts
// the result.
func (m *Manager) UpdateGridConfig(patch schema.GridConfigPatch) (schema.GridConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return schema.GridConfig{}, schema.ErrManagerClosed
	}
	next, err := schema.NormalizeGridConfig(m.grid.Merge(patch))
	if err != nil {
		return m.grid, err
	}
	m.grid = next
	m.store.notify(Change{Op: schema.OpGridConfig, Source: SourceLocal})
	cfg := next
	m.broadcastLocked(schema.Message{Op: schema.OpGridConfig, Config: &cfg})
	m.log.Info("grid config updated", "enabled", next.Enabled, "type", next.Type, "size", next.Size, "mode", next.Mode)
	return next, nil
}

// GridConfig returns the active grid configuration.
func (m *Manager) GridConfig() schema.GridConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grid
}

// Panels returns the live panel set in insertion order.
func (m *Manager) Panels() []schema.Panel {
	return m.store.List()
}

// Panel returns one panel.
func (m *Manager) Panel(id schema.PanelID) (schema.Panel, bool) {
	return m.store.Get(id)
}

// Subscribe registers for store change notifications.
func (m *Manager) Subscribe() (<-chan Change, func()) {
	return m.store.Subscribe()
}

// Close stops polling, releases the channel subscription, closes the channel
// and ends store subscriptions. It is safe to call more than once.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.cancel()
		if m.stopListen != nil {
			m.stopListen()
		}
		if m.channel != nil {
			err = m.channel.Close()
		}
		m.wg.Wait()
		m.store.Close()
		m.log.Info("panel manager closed")
	})
	return err
}

// Snapper returns a snapper for the active grid together with the current
// host geometry.
func (m *Manager) Snapper() (Snapper, SnapContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapperLocked()
}

func (m *Manager) snapperLocked() (Snapper, SnapContext) {
	return NewSnapper(m.grid), SnapContext{Offset: m.host.Offset(), Viewport: m.host.Viewport()}
}

func (m *Manager) broadcastLocked(msg schema.Message) {
	if m.channel == nil {
		return
	}
	msg.Sender = m.id
	data, err := m.codec.Encode(msg)
	if err != nil {
		m.log.Warn("sync encode failed", "op", msg.Op, "err", err)
		return
	}
	select {
	case m.outbox <- data:
	default:
		m.log.Warn("sync outbox full; message dropped", "op", msg.Op)
	}
}

func (m *Manager) sendLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case data := <-m.outbox:
			if err := m.channel.Post(m.ctx, data); err != nil {
				if m.ctx.Err() != nil {
					return
				}
				m.markDegraded(err)
				continue
			}
			m.markConnected()
		}
	}
}

func (m *Manager) receiveLoop(payloads <-chan []byte) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case payload, ok := <-payloads:
			if !ok {
				if m.ctx.Err() == nil {
					m.markDegraded(schema.ErrChannelClosed)
				}
				return
			}
			m.handlePayload(payload)
		}
	}
}

func (m *Manager) handlePayload(payload []byte) {
	msg, err := m.codec.Decode(payload)
	if err != nil {
		m.log.Warn("sync payload malformed", "bytes", len(payload), "err", err)
		return
	}
	if msg.Sender == m.id {
		return
	}
	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return
	}
	grid, outcome := ApplyRemote(m.store, m.grid, msg)
	m.grid = grid
	m.mu.Unlock()

	log := m.log.With("op", msg.Op, "sender", msg.Sender)
	if msg.Panel != nil {
		log = logx.WithPanel(log, msg.Panel.ID)
	}
	switch outcome {
	case Applied:
		log.Trace("sync apply ok")
	case Duplicate, UnknownTarget:
		log.Debug("sync apply dropped", "reason", outcome.String())
	case Rejected:
		log.Warn("sync apply rejected", "reason", outcome.String())
	}
}

func (m *Manager) markDegraded(err error) {
	if m.degraded.CompareAndSwap(false, true) {
		m.log.Warn("sync channel unavailable; running local only", "err", err)
	}
}

func (m *Manager) markConnected() {
	if m.degraded.CompareAndSwap(true, false) {
		m.log.Info("sync channel recovered")
	}
}
