package core

import "pkt.systems/panelsync/schema"

// Outcome reports what applying a remote message did.
type Outcome int

const (
	// Applied means the message mutated local state.
	Applied Outcome = iota
	// Duplicate means a create named an id that already exists.
	Duplicate
	// UnknownTarget means a patch named an id that is not known locally.
	UnknownTarget
	// Rejected means the message failed validation.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case UnknownTarget:
		return "unknown_target"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ApplyRemote folds a message received from another window into store and
// grid, returning the resulting grid configuration.
//
// create inserts only when the id is absent, so the first create for an id
// wins. update and resize patch only the fields they carry, and are dropped
// when the target is unknown; no panel is inferred from a partial patch.
// gridConfig replaces the grid outright.
func ApplyRemote(store *Store, grid schema.GridConfig, msg schema.Message) (schema.GridConfig, Outcome) {
	if err := msg.Validate(); err != nil {
		return grid, Rejected
	}
	switch msg.Op {
	case schema.OpCreate:
		panel, err := msg.Panel.Panel()
		if err != nil {
			return grid, Rejected
		}
		if !store.Insert(panel, SourceRemote) {
			return grid, Duplicate
		}
		return grid, Applied
	case schema.OpUpdate:
		// position group plus kind; size and styles never travel on update
		patch := schema.PanelPatch{ID: msg.Panel.ID, X: msg.Panel.X, Y: msg.Panel.Y, Kind: msg.Panel.Kind}
		if _, ok := store.Patch(schema.OpUpdate, patch, SourceRemote); !ok {
			return grid, UnknownTarget
		}
		return grid, Applied
	case schema.OpResize:
		patch := schema.PanelPatch{ID: msg.Panel.ID, Width: msg.Panel.Width, Height: msg.Panel.Height}
		if _, ok := store.Patch(schema.OpResize, patch, SourceRemote); !ok {
			return grid, UnknownTarget
		}
		return grid, Applied
	case schema.OpGridConfig:
		next, err := schema.NormalizeGridConfig(*msg.Config)
		if err != nil {
			return grid, Rejected
		}
		store.notify(Change{Op: schema.OpGridConfig, Source: SourceRemote})
		return next, Applied
	default:
		return grid, Rejected
	}
}
