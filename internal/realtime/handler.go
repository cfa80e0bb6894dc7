package realtime

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is consumed by a local UI on another port
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades the request and attaches the connection to the hub
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		client := newClient(conn, h, "client-"+uuid.New().String()[:8])
		if !h.register(client) {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			conn.Close()
			return
		}
		h.logger.Debug("websocket client connected", "client_id", client.ID)

		go client.writePump()
		go client.readPump()
	}
}
