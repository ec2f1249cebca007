// internal/websocket/hub.go
package websocket

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub maintains the set of connected dashboard clients and broadcasts
// reading and alert envelopes to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.logger.Printf("websocket client registered: %s", client.Conn.RemoteAddr())
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.logger.Printf("websocket client unregistered: %s", client.Conn.RemoteAddr())
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// Client blocked or gone, drop it.
					h.logger.Printf("websocket client %s send buffer full, removing", client.Conn.RemoteAddr())
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// RegisterClient safely registers a new client with the hub.
func (h *Hub) RegisterClient(client *Client) {
	h.register <- client
}

func (h *Hub) send(kind string, payload any) {
	messageBytes, err := json.Marshal(map[string]any{"type": kind, "payload": payload})
	if err != nil {
		h.logger.Printf("error marshalling %s broadcast: %v", kind, err)
		return
	}
	select {
	case h.broadcast <- messageBytes:
	default:
		// Broadcast queue full; the live feed is best-effort.
	}
}

// BroadcastReading pushes an accepted reading to all clients.
func (h *Hub) BroadcastReading(reading any) {
	h.send("reading", reading)
}

// BroadcastAlert pushes a raised alert to all clients.
func (h *Hub) BroadcastAlert(alert any) {
	h.send("alert", alert)
}
