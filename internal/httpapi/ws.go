package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"go.klb.dev/clipstash/internal/hub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Access is gated by the bearer token, not by origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWatch streams events as JSON text frames until the client goes
// away. The first frame is the store snapshot.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	p := hub.NewStreamPeer("ws", r.RemoteAddr, source(r, r.URL.Query().Get("source")))
	s.hub.Register(r.Context(), p)
	defer s.hub.Unregister(p)

	// The read side only serves control frames and notices the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug("websocket read failed", "peer", p.ID(), "err", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case ev := <-p.Events():
			b, err := ev.Encode()
			if err != nil {
				s.log.Error("event encode failed", "err", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.log.Debug("websocket write failed", "peer", p.ID(), "err", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
