package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades the request and pumps hub frames for the ?channel= scopes to the socket.
func Handler(hub *realtime.Hub, log *logger.Logger) http.Handler {
	log = log.With("component", "WSHandler")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var scopes []string
		for _, c := range r.URL.Query()["channel"] {
			if c = strings.TrimSpace(c); c != "" {
				scopes = append(scopes, c)
			}
		}
		if len(scopes) == 0 {
			http.Error(w, "missing channel", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "error", err)
			return
		}
		client := hub.NewClient()
		for _, s := range scopes {
			hub.AddChannel(client, s)
		}
		go readPump(conn, hub, client)
		writePump(conn, client)
	})
}

// readPump only watches for the peer going away; clients never send frames.
func readPump(conn *websocket.Conn, hub *realtime.Hub, client *realtime.Client) {
	defer hub.CloseClient(client)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, client *realtime.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.Outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
