package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/adi-253/classroomx/backend/internal/auth"
	"github.com/adi-253/classroomx/backend/internal/chat"
	"github.com/adi-253/classroomx/backend/internal/notify"
	"github.com/adi-253/classroomx/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow connections from any origin (CORS handled by middleware)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatOpener starts chat sessions and alert listeners for a user.
type ChatOpener interface {
	Open(ctx context.Context, token string, sess auth.Session) *services.Session
	ListenAlerts(ctx context.Context, sess auth.Session) (chat.Stream, error)
}

// Handler handles WebSocket connections
type Handler struct {
	hub      *Hub
	chats    ChatOpener
	notifier *notify.Service
	log      *zap.Logger

	// one notification listener per user, shared by all their sockets
	alertsMu sync.Mutex
	alerts   map[string]*alertListener
}

type alertListener struct {
	refs   int
	stream chat.Stream
	cancel context.CancelFunc
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, chats ChatOpener, notifier *notify.Service, log *zap.Logger) *Handler {
	return &Handler{
		hub:      hub,
		chats:    chats,
		notifier: notifier,
		log:      log.With(zap.String("component", "ws")),
		alerts:   make(map[string]*alertListener),
	}
}

// ServeWS handles WebSocket upgrade requests at /ws/chats/{id}
// {id} may be the class channel alias. The access token comes from the
// Authorization header or the access_token query param.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "id")
	if token == "" {
		http.Error(w, "chat ID required", http.StatusBadRequest)
		return
	}
	sess, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	// The socket outlives this handler call.
	ctx := context.WithoutCancel(r.Context())
	session := h.chats.Open(ctx, token, sess)
	client := NewClient(ctx, h.hub, conn, token, sess.UserID, session, h.log)
	if !h.hub.Register(client) {
		session.Close()
		conn.Close()
		return
	}
	h.log.Info("socket opened",
		zap.String("chat", token),
		zap.String("user", sess.UserID),
		zap.Int("viewers", h.hub.ClientCount(token)))

	toasts, unsubscribe := h.notifier.Subscribe(sess.UserID)
	h.acquireAlerts(sess)
	cleanup := func() {
		unsubscribe()
		h.releaseAlerts(sess.UserID)
	}

	// Start pumps in separate goroutines
	go client.WritePump()
	go client.Forward(toasts)
	go client.ReadPump(cleanup)
}

// acquireAlerts takes a reference on the user's notification listener and
// starts it on first use. The realtime handshake runs outside alertsMu.
func (h *Handler) acquireAlerts(sess auth.Session) {
	h.alertsMu.Lock()
	if l, ok := h.alerts[sess.UserID]; ok {
		l.refs++
		h.alertsMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &alertListener{refs: 1, cancel: cancel}
	h.alerts[sess.UserID] = l
	h.alertsMu.Unlock()

	stream, err := h.chats.ListenAlerts(ctx, sess)
	if err != nil {
		// Chat still works without alerts.
		h.log.Warn("notification listener unavailable", zap.String("user", sess.UserID), zap.Error(err))
		return
	}

	h.alertsMu.Lock()
	defer h.alertsMu.Unlock()
	if l.refs == 0 {
		// every socket left during the handshake
		stream.Close()
		return
	}
	l.stream = stream
}

func (h *Handler) releaseAlerts(userID string) {
	h.alertsMu.Lock()
	defer h.alertsMu.Unlock()

	l, ok := h.alerts[userID]
	if !ok {
		return
	}
	l.refs--
	if l.refs > 0 {
		return
	}
	delete(h.alerts, userID)
	l.cancel()
	if l.stream != nil {
		l.stream.Close()
	}
}
