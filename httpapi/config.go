package httpapi

// Config defines relay server settings.
type Config struct {
	Addr     string
	BasePath string
	// HistorySize bounds the per-channel traffic history replayed to stream
	// clients that reconnect with Last-Event-ID.
	HistorySize int
	// ReadLimit caps a single websocket frame in bytes.
	ReadLimit int64
	// AllowedOrigins lists extra origins allowed to open /ws. Empty means
	// same-origin only; "*" allows any origin.
	AllowedOrigins []string
}
