// Package hub fans dashboard data out to websocket subscribers. The
// server runs one hub per feed: scene updates travel as JSON text
// frames, camera output as binary JPEG frames. Subscribers that
// cannot keep up are dropped rather than allowed to stall a feed.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/cobotics/go-cobot/internal/log"
)

// Message is one outbound frame.
type Message struct {
	Binary bool
	Data   []byte
}

// Hub owns the subscriber set for one feed and serializes all
// membership changes and broadcasts through its Run loop.
type Hub struct {
	name string // feed name for logging

	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}

	mu      sync.RWMutex // guards clients for outside readers
	running bool
}

// New creates a hub for the named feed.
func New(name string) *Hub {
	return &Hub{
		name:       name,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run is the hub loop. Call in a goroutine; it exits on Stop.
func (h *Hub) Run() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.running = false
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Debug("websocket client connected", "hub", h.name, "total", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Debug("websocket client disconnected", "hub", h.name, "remaining", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Full send buffer means the reader stalled.
					close(client.send)
					delete(h.clients, client)
					log.Warn("dropped slow websocket client", "hub", h.name)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop halts the hub loop and closes all client channels.
func (h *Hub) Stop() {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if running {
		close(h.stop)
	}
}

// Broadcast queues msg for every subscriber. Never blocks; if the
// feed backlog is full the message is dropped, newer data supersedes
// it anyway.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		log.Warn("broadcast channel full, dropping message", "hub", h.name)
	}
}

// BroadcastJSON encodes v and broadcasts it as a text frame.
func (h *Hub) BroadcastJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(Message{Data: data})
	return nil
}

// BroadcastBinary broadcasts raw bytes, used for JPEG camera frames.
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(Message{Binary: true, Data: data})
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning reports whether the hub loop is active.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}
