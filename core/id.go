package core

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"

	"pkt.systems/panelsync/schema"
)

// NewPanelID returns a time-ordered, collision resistant panel id.
func NewPanelID() schema.PanelID {
	return schema.PanelID(newID("panel"))
}

// NewWindowID returns a fresh per-window sender identity.
func NewWindowID() schema.WindowID {
	return schema.WindowID(newID("window"))
}

func newID(prefix string) string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return prefix + "-unknown"
	}
	return prefix + "-" + hex.EncodeToString(buf[:])
}
