package core

import (
	"context"
	"sync"

	"pkt.systems/panelsync/schema"
	"pkt.systems/pslog"
)

// ChangeSource identifies what caused a store change.
type ChangeSource string

const (
	// SourceLocal marks mutations made by this window.
	SourceLocal ChangeSource = "local"
	// SourceRemote marks mutations replayed from another window.
	SourceRemote ChangeSource = "remote"
	// SourceRebase marks relative panels moved with their window.
	SourceRebase ChangeSource = "rebase"
)

// Change notifies subscribers that the store was mutated. Subscribers
// re-read state; a change carries no field values.
type Change struct {
	Op     schema.Op
	Panels []schema.PanelID
	Source ChangeSource
}

// Store is one window's replica of the panel set, kept in insertion order.
type Store struct {
	mu     sync.Mutex
	panels map[schema.PanelID]*schema.Panel
	order  []schema.PanelID
	subs   map[chan Change]struct{}
	closed bool
	log    pslog.Logger
	depth  int
}

// NewStore constructs an empty store.
func NewStore(logger pslog.Logger) *Store {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Store{
		panels: make(map[schema.PanelID]*schema.Panel),
		subs:   make(map[chan Change]struct{}),
		log:    logger,
		depth:  64,
	}
}

// Insert adds panel unless its id is already present. It reports whether the
// panel was inserted.
func (s *Store) Insert(panel schema.Panel, source ChangeSource) bool {
	s.mu.Lock()
	if _, ok := s.panels[panel.ID]; ok {
		s.mu.Unlock()
		return false
	}
	stored := panel.Clone()
	s.panels[panel.ID] = &stored
	s.order = append(s.order, panel.ID)
	s.mu.Unlock()
	s.notify(Change{Op: schema.OpCreate, Panels: []schema.PanelID{panel.ID}, Source: source})
	return true
}

// Patch applies the fields carried by patch to an existing panel and returns
// the result. Unknown ids are left alone.
func (s *Store) Patch(op schema.Op, patch schema.PanelPatch, source ChangeSource) (schema.Panel, bool) {
	s.mu.Lock()
	panel, ok := s.panels[patch.ID]
	if !ok {
		s.mu.Unlock()
		return schema.Panel{}, false
	}
	patch.Apply(panel)
	out := panel.Clone()
	s.mu.Unlock()
	s.notify(Change{Op: op, Panels: []schema.PanelID{patch.ID}, Source: source})
	return out, true
}

// Rebase moves every relative panel by delta and returns the ids it moved.
func (s *Store) Rebase(delta schema.Point) []schema.PanelID {
	if delta.IsZero() {
		return nil
	}
	s.mu.Lock()
	moved := make([]schema.PanelID, 0, len(s.order))
	for _, id := range s.order {
		panel := s.panels[id]
		if panel.Kind != schema.KindRelative {
			continue
		}
		panel.X += delta.X
		panel.Y += delta.Y
		moved = append(moved, id)
	}
	s.mu.Unlock()
	if len(moved) > 0 {
		s.notify(Change{Op: schema.OpUpdate, Panels: moved, Source: SourceRebase})
	}
	return moved
}

// Get returns a copy of the panel with id.
func (s *Store) Get(id schema.PanelID) (schema.Panel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	panel, ok := s.panels[id]
	if !ok {
		return schema.Panel{}, false
	}
	return panel.Clone(), true
}

// List returns copies of all panels in insertion order.
func (s *Store) List() []schema.Panel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Panel, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.panels[id].Clone())
	}
	return out
}

// Len returns the number of panels.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Subscribe registers for change notifications and returns a channel + cancel.
// Notifications are dropped when the subscriber falls behind.
func (s *Store) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, s.depth)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	count := len(s.subs)
	s.mu.Unlock()
	s.log.Debug("store subscribe", "subs", count)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
}

// Close ends every subscription.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}

func (s *Store) notify(change Change) {
	s.mu.Lock()
	dropped := 0
	for sub := range s.subs {
		select {
		case sub <- change:
		default:
			dropped++
		}
	}
	s.mu.Unlock()
	if dropped > 0 {
		s.log.Trace("store change dropped", "op", change.Op, "count", dropped)
	}
}
