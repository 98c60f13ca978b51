// Package wsremote is a concrete, reusable registerRemoteChange transport
// over a plain websocket connection: the server side broadcasts one JSON
// {"collectionName": "..."} frame per remote mutation, and the client
// side decodes that frame and invokes a sync manager's onChange callback.
// It is not one of the cloud backends the spec excludes from scope
// (Firebase/Supabase/Appwrite/HTTP push services) — it is a
// transport-agnostic helper that exercises pkg/syncmanager's
// registerRemoteChange contract end-to-end, the same role the teacher's
// pkg/server/handlers/websocket.go plays for its own change-stream push.
package wsremote

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader mirrors the teacher's default-settings upgrader: generous
// buffers, origins unrestricted (left to the embedding HTTP server to
// lock down via its own middleware).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the one frame shape this transport ever sends: a
// notification that collectionName changed remotely.
type Message struct {
	CollectionName string `json:"collectionName"`
}

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)
