package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// liveStatsInterval is how often the live feed pushes a snapshot.
const liveStatsInterval = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The admin surface is not origin-sensitive.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleLiveStats upgrades the connection and streams the aggregated
// statistics snapshot until the client goes away.
func (s *Server) handleLiveStats(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Drain control frames so pings and the close handshake work.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(liveStatsInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.statsSnapshot()); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		}
	}
}
