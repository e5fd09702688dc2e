package schema

import "errors"

var (
	// ErrPanelNotFound indicates the target panel is not known locally.
	ErrPanelNotFound = errors.New("panel not found")
	// ErrInvalidKind indicates an unknown panel kind.
	ErrInvalidKind = errors.New("invalid panel kind")
	// ErrInvalidGrid indicates an invalid grid configuration.
	ErrInvalidGrid = errors.New("invalid grid config")
	// ErrInvalidGeometry indicates a non-finite coordinate or extent.
	ErrInvalidGeometry = errors.New("invalid panel geometry")
	// ErrInvalidMessage indicates a malformed sync message.
	ErrInvalidMessage = errors.New("invalid sync message")
	// ErrChannelClosed indicates the sync channel is no longer usable.
	ErrChannelClosed = errors.New("sync channel closed")
	// ErrManagerClosed indicates the panel manager was torn down.
	ErrManagerClosed = errors.New("panel manager closed")
)
