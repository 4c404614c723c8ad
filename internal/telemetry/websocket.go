package telemetry

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/meaviz/internal/logging"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWS pushes every published frame to a websocket client as JSON text.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Field{Key: "err", Value: err})
		return
	}
	defer conn.Close()

	log := h.logger.With(logging.Field{Key: "remote", Value: r.RemoteAddr})
	log.Debug("websocket client connected")

	ch, cancel := h.Subscribe()
	defer cancel()

	// The client never sends data; reading only surfaces the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("websocket read failed", logging.Field{Key: "err", Value: err})
				}
				return
			}
		}
	}()

	send := func(frame Frame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			log.Debug("websocket write failed", logging.Field{Key: "err", Value: err})
			return false
		}
		return true
	}

	if frame, ok := h.Latest(); ok && !send(frame) {
		return
	}
	for {
		select {
		case frame, ok := <-ch:
			if !ok || !send(frame) {
				return
			}
		case <-closed:
			log.Debug("websocket client disconnected")
			return
		case <-r.Context().Done():
			return
		}
	}
}
