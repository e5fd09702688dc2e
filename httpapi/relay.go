package httpapi

import (
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"pkt.systems/panelsync/internal/logx"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// handleWebsocket joins the connection to ?channel= on the bus. Every frame a
// peer sends is published to all peers on the channel, the sender included;
// windows drop their own messages by sender id.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	name, err := channelParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log := logx.Ctx(r.Context())
	ctx := r.Context()

	// subscribe before the handshake completes so a peer never misses
	// traffic posted right after its dial returns
	port := s.bus.Open(name)
	payloads, _ := port.Listen()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = port.Close()
		log.Warn("relay upgrade failed", "err", err)
		return
	}
	peers := s.hub.OnJoin(name)
	log.Info("relay peer joined", "peers", peers)

	done := make(chan struct{})
	go s.writePump(conn, payloads, done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	conn.SetReadLimit(s.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("relay peer read failed", "err", err)
			}
			break
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		s.hub.OnMessage(name, data)
		if err := port.Post(ctx, data); err != nil {
			log.Debug("relay publish failed", "err", err)
			break
		}
	}

	_ = port.Close()
	<-done
	_ = conn.Close()
	peers = s.hub.OnLeave(name)
	log.Info("relay peer left", "peers", peers)
}

func (s *Server) writePump(conn *websocket.Conn, payloads <-chan []byte, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-payloads:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(frameType(payload), payload); err != nil {
				_ = conn.Close()
				drain(payloads)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				drain(payloads)
				return
			}
		}
	}
}

// frameType sends JSON payloads as text frames and anything else (CBOR) as binary.
func frameType(payload []byte) int {
	if utf8.Valid(payload) {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}

func drain(payloads <-chan []byte) {
	for range payloads {
	}
}
