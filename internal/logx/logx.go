package logx

import (
	"context"

	"pkt.systems/panelsync/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	windowKey contextKey = iota
	channelKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithWindow annotates the logger with the window id.
func WithWindow(log pslog.Logger, windowID schema.WindowID) pslog.Logger {
	if windowID != "" {
		log = log.With("window", windowID)
	}
	return log
}

// WithPanel annotates the logger with a panel id.
func WithPanel(log pslog.Logger, panelID schema.PanelID) pslog.Logger {
	if panelID != "" {
		log = log.With("panel", panelID)
	}
	return log
}

// WithChannel annotates the logger with a channel name and backend.
func WithChannel(log pslog.Logger, name schema.ChannelName, backend string) pslog.Logger {
	if name != "" {
		log = log.With("channel", name)
	}
	if backend != "" {
		log = log.With("backend", backend)
	}
	return log
}

// WindowLogger returns the context logger annotated with the window id,
// skipping the field when the context already carries it.
func WindowLogger(ctx context.Context, windowID schema.WindowID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if current, ok := ctx.Value(windowKey).(schema.WindowID); ok && current == windowID {
		return log
	}
	return WithWindow(log, windowID)
}

// ContextWithWindowLogger attaches the logger and window marker to the context.
func ContextWithWindowLogger(ctx context.Context, log pslog.Logger, windowID schema.WindowID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	if windowID == "" {
		return ctx
	}
	return context.WithValue(ctx, windowKey, windowID)
}

// ContextWithChannel stores the channel marker on the context.
func ContextWithChannel(ctx context.Context, name schema.ChannelName) context.Context {
	if ctx == nil || name == "" {
		return ctx
	}
	return context.WithValue(ctx, channelKey, name)
}

// ChannelFromContext returns the channel marker, if any.
func ChannelFromContext(ctx context.Context) (schema.ChannelName, bool) {
	if ctx == nil {
		return "", false
	}
	name, ok := ctx.Value(channelKey).(schema.ChannelName)
	return name, ok && name != ""
}
