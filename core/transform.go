package core

import "pkt.systems/panelsync/schema"

// ToLocal projects a desktop coordinate into the viewport of a window whose
// content area sits at offset on the desktop.
func ToLocal(desktop, offset schema.Point) schema.Point {
	return desktop.Sub(offset)
}

// ToDesktop maps a viewport coordinate back onto the desktop.
func ToDesktop(local, offset schema.Point) schema.Point {
	return local.Add(offset)
}

// LocalRect returns the panel's origin in window-local coordinates.
func LocalRect(panel schema.Panel, offset schema.Point) (schema.Point, schema.Size) {
	return ToLocal(panel.Position(), offset), panel.Size()
}
