package api

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 5 * time.Second
	sendBuffer   = 32
)

// hubClient serializes writes to one websocket connection through its own
// goroutine, so a slow viewer never holds up the hub or other calls' streams.
type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *hubClient) writeLoop() {
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			_ = c.conn.Close()
			return
		}
	}
}

// Hub fans call events and audio out to the websocket clients watching each
// call.
type Hub struct {
	mu      sync.Mutex
	clients map[uuid.UUID]map[*websocket.Conn]*hubClient
}

func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]map[*websocket.Conn]*hubClient)}
}

func (h *Hub) Add(callID uuid.UUID, conn *websocket.Conn) {
	c := &hubClient{conn: conn, send: make(chan []byte, sendBuffer)}
	go c.writeLoop()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[callID] == nil {
		h.clients[callID] = make(map[*websocket.Conn]*hubClient)
	}
	h.clients[callID][conn] = c
}

func (h *Hub) Remove(callID uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(callID, conn)
}

// Broadcast sends v as JSON to every client watching the call. The send is
// buffered and non-blocking; a client that cannot keep up is dropped rather
// than allowed to pace everyone else.
func (h *Hub) Broadcast(callID uuid.UUID, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("marshal ws payload for call %s: %v", callID, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, c := range h.clients[callID] {
		select {
		case c.send <- data:
		default:
			log.Printf("dropping slow stream client for call %s", callID)
			_ = conn.Close()
			h.dropLocked(callID, conn)
		}
	}
}

func (h *Hub) dropLocked(callID uuid.UUID, conn *websocket.Conn) {
	conns, ok := h.clients[callID]
	if !ok {
		return
	}
	if c, ok := conns[conn]; ok {
		close(c.send)
		delete(conns, conn)
	}
	if len(conns) == 0 {
		delete(h.clients, callID)
	}
}
