package sse

import (
	"encoding/json"
	"sync"
	"time"

	"factory-safety-go/internal/tracking"

	log "github.com/sirupsen/logrus"
)

// Client is a single connected dashboard client: a channel of messages
// destined for it.
type Client chan []byte

// Hub manages the set of connected dashboard clients and broadcasts tracking
// events to them.
type Hub struct {
	clients    map[Client]bool
	broadcast  chan []byte
	register   chan Client
	unregister chan Client
	mu         sync.Mutex
}

// event is the envelope for all pushed messages.
type event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// CycleData is pushed after every processed frame.
type CycleData struct {
	SourceID string             `json:"source_id"`
	Sessions []tracking.Summary `json:"sessions"`
}

// NewHub creates a new hub. Run must be started in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan Client),
		unregister: make(chan Client),
	}
}

// Run processes client registration and broadcasts until the process exits.
func (h *Hub) Run() {
	log.Info("SSE hub started")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Debugf("SSE client registered, total: %d", len(h.clients))
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()
			log.Debugf("SSE client unregistered, total: %d", len(h.clients))
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- message:
				default:
					// Slow client: drop the message rather than block the hub.
					log.Warn("SSE client channel full, skipping message")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client Client) {
	h.unregister <- client
}

// BroadcastCycle pushes the per-frame cycle result to all clients.
func (h *Hub) BroadcastCycle(sourceID string, sessions []tracking.Summary) {
	h.send("cycle", CycleData{SourceID: sourceID, Sessions: sessions})
}

// NotifyVisit implements audit.Notifier: pushes a finalized visit.
func (h *Hub) NotifyVisit(visit tracking.Visit) {
	h.send("visit", visit)
}

func (h *Hub) send(eventType string, data interface{}) {
	payload, err := json.Marshal(event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
	if err != nil {
		log.WithError(err).Errorf("Failed to marshal SSE %s event", eventType)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		log.Warn("SSE broadcast channel full, message dropped")
	}
}
