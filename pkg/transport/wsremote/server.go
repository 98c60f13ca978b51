package wsremote

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub tracks every connected client and broadcasts collection-change
// notifications to all of them, mirroring the teacher's
// ChangeStreamManager/ChangeStreamConnection split (one map of live
// connections protected by a mutex, individually closeable).
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Handler upgrades the HTTP request to a websocket and keeps the
// connection registered with the Hub until it disconnects. Mount it at
// whatever path the client dials (e.g. "/_ws/changes").
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("wsremote: upgrade failed: %v", err)
			return
		}
		c := &client{conn: conn}

		h.mu.Lock()
		h.clients[c] = struct{}{}
		h.mu.Unlock()

		defer func() {
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			conn.Close()
		}()

		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		pingTicker := time.NewTicker(pingInterval)
		defer pingTicker.Stop()
		go func() {
			for range pingTicker.C {
				c.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}()

		// The client never sends application frames; this loop only
		// exists to detect disconnects (a failed read unblocks it).
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

// Broadcast notifies every connected client that collectionName changed.
func (h *Hub) Broadcast(collectionName string) {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	msg := Message{CollectionName: collectionName}
	for _, c := range clients {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.conn.WriteJSON(msg)
		c.writeMu.Unlock()
		if err != nil {
			log.Printf("wsremote: broadcast to client failed: %v", err)
		}
	}
}

// Close disconnects every currently-connected client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}
