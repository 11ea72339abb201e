package websocket

import (
	"context"
	"sync"

	"github.com/adi-253/classroomx/backend/internal/metrics"
	"go.uber.org/zap"
)

// Hub maintains the set of active clients per chat.
// Message fan-out happens in the change feed, so the hub only tracks who is
// connected and closes everyone on shutdown.
type Hub struct {
	// chats maps the route token to the clients viewing it
	chats map[string]map[*Client]bool

	// register requests from clients
	register chan *Client

	// unregister requests from clients
	unregister chan *Client

	// done is closed when Run returns
	done chan struct{}

	// mutex for thread-safe reads of chats
	mu sync.RWMutex

	log *zap.Logger
}

// NewHub creates a new Hub instance
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		chats:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.With(zap.String("component", "hub")),
	}
}

// Run starts the hub's main event loop until ctx is cancelled.
// This should be called in a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// registerClient adds a client to a chat
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.chats[client.Token] == nil {
		h.chats[client.Token] = make(map[*Client]bool)
	}
	h.chats[client.Token][client] = true
	metrics.SocketClients.Inc()

	h.log.Info("client joined",
		zap.String("chat", client.Token),
		zap.String("user", client.UserID),
		zap.Int("total", len(h.chats[client.Token])))
}

// unregisterClient removes a client from a chat
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.chats[client.Token]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	client.closeSend()
	metrics.SocketClients.Dec()

	h.log.Info("client left",
		zap.String("chat", client.Token),
		zap.String("user", client.UserID),
		zap.Int("remaining", len(clients)))

	// Clean up empty chats
	if len(clients) == 0 {
		delete(h.chats, client.Token)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for token, clients := range h.chats {
		for client := range clients {
			client.closeSend()
			metrics.SocketClients.Dec()
		}
		delete(h.chats, token)
	}
	h.log.Info("hub stopped")
}

// ClientCount returns the number of connected clients viewing a chat
func (h *Hub) ClientCount(token string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chats[token])
}
