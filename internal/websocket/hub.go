package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/vidvault/api/internal/model"
)

// SnapshotFunc reports the current progress of an item's job, so a client
// subscribing mid-run gets immediate state instead of waiting for the next
// pipeline stage boundary.
type SnapshotFunc func(itemID string) (model.WSProgressMessage, bool)

// Client is one WebSocket subscriber to a stored item's progress.
type Client struct {
	ItemID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// Hub fans pipeline progress out to WebSocket subscribers, grouped by the
// stored item they watch.
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *outbound

	// Snapshot, when set, is consulted on every new subscription.
	Snapshot SnapshotFunc

	mu sync.RWMutex
}

type outbound struct {
	ItemID  string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *outbound, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.ItemID] == nil {
				h.clients[client.ItemID] = make(map[*Client]bool)
			}
			h.clients[client.ItemID][client] = true
			h.mu.Unlock()
			log.Printf("Client subscribed to item %s", client.ItemID)

			if h.Snapshot != nil {
				if msg, ok := h.Snapshot(client.ItemID); ok {
					if data, err := json.Marshal(msg); err == nil {
						select {
						case client.Send <- data:
						default:
						}
					}
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.ItemID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.ItemID)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("Client unsubscribed from item %s", client.ItemID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[msg.ItemID]; ok {
				for client := range clients {
					select {
					case client.Send <- msg.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastProgress sends a pipeline progress update to the item's subscribers.
func (h *Hub) BroadcastProgress(itemID, phase string, progress float64, message string) {
	h.send(itemID, model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		JobID:    itemID,
		Phase:    phase,
		Progress: progress,
		Message:  message,
	})
}

// BroadcastComplete announces that the item reached ready.
func (h *Hub) BroadcastComplete(itemID string, result interface{}) {
	h.send(itemID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  itemID,
		Result: result,
	})
}

// BroadcastError announces a failed pipeline run.
func (h *Hub) BroadcastError(itemID string, code, message string) {
	h.send(itemID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: itemID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

func (h *Hub) send(itemID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal websocket message: %v", err)
		return
	}
	h.broadcast <- &outbound{ItemID: itemID, Message: data}
}

// HandleConnection handles a WebSocket connection
func (h *Hub) HandleConnection(c *websocket.Conn, itemID string) {
	client := &Client{
		ItemID: itemID,
		Conn:   c,
		Send:   make(chan []byte, 256),
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		// Handle client messages (ping/pong)
		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			client.Send <- data
		}
	}
}
