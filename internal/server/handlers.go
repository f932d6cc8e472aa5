// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and room occupancy statistics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const statsTimeout = 2 * time.Second

// WebSocketHandler upgrades GET requests to WebSocket, assigns the connection
// a fresh id, registers it with the hub and starts its pumps.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(hub.log),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warn("websocket upgrade failed", "remoteAddr", r.RemoteAddr, "error", err)
			return
		}

		client := NewClient(chat.ConnID(uuid.NewString()), conn, hub, r.RemoteAddr)
		if err := hub.Connect(client.ID(), client); err != nil {
			hub.log.Warn("refusing connection", "remoteAddr", r.RemoteAddr, "error", err)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}

		// Registration is queued ahead of anything the read pump submits.
		client.start()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Room chat server is running!")
}

// StatsHandler reports the number of live connections and the occupancy of
// every room as JSON.
func StatsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
		defer cancel()

		stats, err := hub.Stats(ctx)
		if err != nil {
			hub.log.Warn("stats unavailable", "error", err)
			http.Error(w, "Stats unavailable", http.StatusServiceUnavailable)
			return
		}
		if stats.Rooms == nil {
			stats.Rooms = []chat.Occupancy{}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats); err != nil {
			hub.log.Warn("error writing stats response", "error", err)
		}
	}
}
