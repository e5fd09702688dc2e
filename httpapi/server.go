// Package httpapi serves the websocket relay that lets windows in separate
// processes share a sync channel, plus a read-only SSE tap of the traffic.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/panelsync/internal/eventbus"
	"pkt.systems/panelsync/internal/logx"
	"pkt.systems/panelsync/internal/version"
	"pkt.systems/panelsync/schema"
)

const defaultReadLimit = 64 << 10

// Server serves the relay endpoints.
type Server struct {
	cfg      Config
	bus      *eventbus.Bus
	hub      *Hub
	upgrader websocket.Upgrader
	basePath string
}

// NewServer constructs a relay server fanning out over bus and recording
// traffic in hub.
func NewServer(cfg Config, bus *eventbus.Bus, hub *Hub) *Server {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	if bus == nil {
		bus = eventbus.New(nil)
	}
	if hub == nil {
		hub = NewHub(cfg.HistorySize, nil, nil)
	}
	s := &Server{
		cfg:      cfg,
		bus:      bus,
		hub:      hub,
		basePath: normalizeBasePath(cfg.BasePath),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Hub returns the traffic hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("/api/stream", s.handleStream)
	mux.HandleFunc("/api/channels", s.handleChannels)
	mux.HandleFunc("/api/healthz", s.handleHealthz)

	handler := withRequestLogging(mux, lookupChannel)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	return root
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name, err := channelParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.Ctx(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))

	ch, unsubscribe, seq, _ := s.hub.Subscribe(name)
	defer unsubscribe()

	_ = writeSSEvent(w, StreamEvent{
		Type:      EventSnapshot,
		Channel:   name,
		Peers:     s.hub.Peers(name),
		Timestamp: time.Now(),
	})
	replayCount := 0
	if lastID > 0 {
		for _, event := range s.hub.Replay(name, lastID) {
			if event.Seq > seq {
				break
			}
			_ = writeSSEvent(w, event)
			replayCount++
		}
	}
	flusher.Flush()

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount)
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats := s.hub.Stats()
	sort.Slice(stats, func(i, j int) bool { return stats[i].Channel < stats[j].Channel })
	writeJSON(w, http.StatusOK, map[string]any{"channels": stats})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Current()})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func lookupChannel(r *http.Request) schema.ChannelName {
	if r == nil || r.URL == nil {
		return ""
	}
	name, err := schema.NormalizeChannelName(r.URL.Query().Get("channel"))
	if err != nil {
		return ""
	}
	return name
}

func channelParam(r *http.Request) (schema.ChannelName, error) {
	raw := r.URL.Query().Get("channel")
	name, err := schema.NormalizeChannelName(raw)
	if err != nil {
		return "", fmt.Errorf("invalid channel %q", raw)
	}
	return name, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
