package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/adi-253/classroomx/backend/internal/chat"
	"github.com/adi-253/classroomx/backend/internal/notify"
	"github.com/adi-253/classroomx/backend/internal/services"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 16 * 1024

	// Outbound frames buffered per client
	sendBuffer = 64
)

// Frame types.
const (
	FrameView         = "view"
	FrameToast        = "toast"
	FrameDraft        = "draft"
	FrameSend         = "send"
	FrameReact        = "react"
	FrameTogglePicker = "toggle_picker"
	FrameRetry        = "retry"
)

// Frame is the envelope of every message in both directions
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outFrame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ContentPayload is the payload of draft and send frames
type ContentPayload struct {
	Content string `json:"content"`
}

// ReactPayload is the payload of react and toggle_picker frames
type ReactPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji,omitempty"`
}

// ViewPayload is what the chat screen renders: the conversation view plus
// the local composer and picker state.
type ViewPayload struct {
	chat.View
	HeaderStatus string                          `json:"header_status"`
	Draft        string                          `json:"draft"`
	Uploading    bool                            `json:"uploading"`
	Picker       string                          `json:"picker,omitempty"`
	Reactions    map[string][]chat.ReactionCount `json:"reactions"`
	Quick        []string                        `json:"quick_reactions"`
}

// Client represents a single WebSocket connection showing one chat
type Client struct {
	hub *Hub

	// WebSocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send   chan []byte
	sendMu sync.Mutex
	closed bool

	// Route token of the chat and the viewing user
	Token  string
	UserID string

	session *services.Session
	ctx     context.Context
	cancel  context.CancelFunc

	viewMu sync.Mutex
	view   chat.View

	log *zap.Logger
}

// NewClient creates a new Client instance
func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn, token, userID string, session *services.Session, log *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		Token:   token,
		UserID:  userID,
		session: session,
		ctx:     ctx,
		cancel:  cancel,
		view:    chat.View{Token: token, Status: chat.StatusConnecting},
		log:     log.With(zap.String("chat", token), zap.String("user", userID)),
	}
}

// ReadPump pumps commands from the WebSocket connection into the chat session
// This runs in its own goroutine per client; when it returns the session is torn down.
func (c *Client) ReadPump(cleanup func()) {
	defer func() {
		c.cancel()
		c.hub.Unregister(c)
		c.closeSend()
		c.conn.Close()
		if err := c.session.Close(); err != nil {
			c.log.Warn("session close failed", zap.Error(err))
		}
		if cleanup != nil {
			cleanup()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.log.Warn("malformed frame", zap.Error(err))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("read error", zap.Error(err))
			}
			return
		}
		c.handle(frame)
	}
}

// handle applies one command and answers with a fresh view.
func (c *Client) handle(frame Frame) {
	ctx := c.ctx
	switch frame.Type {
	case FrameDraft:
		var p ContentPayload
		if !c.decode(frame, &p) {
			return
		}
		c.session.Composer.SetDraft(ctx, p.Content)

	case FrameSend:
		var p ContentPayload
		if !c.decode(frame, &p) {
			return
		}
		if p.Content == "" {
			p.Content = c.session.Composer.Draft()
		}
		if err := c.session.Composer.Send(ctx, p.Content, ""); err != nil && !errors.Is(err, chat.ErrEmptyMessage) {
			c.log.Warn("send failed", zap.Error(err))
		}

	case FrameReact:
		var p ReactPayload
		if !c.decode(frame, &p) {
			return
		}
		// Reactions fail silently; the overlay has logged it.
		_ = c.session.Reactions.React(ctx, p.MessageID, p.Emoji)

	case FrameTogglePicker:
		var p ReactPayload
		if !c.decode(frame, &p) {
			return
		}
		c.session.Reactions.Toggle(p.MessageID)

	case FrameRetry:
		c.session.Conversation.Retry()
		return

	default:
		c.log.Debug("unknown frame", zap.String("type", frame.Type))
		return
	}
	c.pushView()
}

func (c *Client) decode(frame Frame, v interface{}) bool {
	if len(frame.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(frame.Payload, v); err != nil {
		c.log.Warn("malformed payload", zap.String("type", frame.Type), zap.Error(err))
		return false
	}
	return true
}

// Forward pushes conversation views and toasts to the peer until the
// client is closed.
func (c *Client) Forward(toasts <-chan notify.Toast) {
	updates := c.session.Conversation.Updates()
	for {
		select {
		case <-c.ctx.Done():
			return
		case v := <-updates:
			c.viewMu.Lock()
			c.view = v
			c.viewMu.Unlock()
			c.pushView()
		case t, ok := <-toasts:
			if !ok {
				toasts = nil
				continue
			}
			c.push(outFrame{Type: FrameToast, Payload: t})
		}
	}
}

func (c *Client) pushView() {
	c.viewMu.Lock()
	v := c.view
	c.viewMu.Unlock()

	uploading := c.session.Composer.Uploading()
	reactions := make(map[string][]chat.ReactionCount, len(v.Messages))
	for _, m := range v.Messages {
		if len(m.Reactions) > 0 {
			reactions[m.ID] = chat.Aggregate(m.Reactions)
		}
	}
	c.push(outFrame{Type: FrameView, Payload: ViewPayload{
		View:         v,
		HeaderStatus: v.HeaderStatus(uploading),
		Draft:        c.session.Composer.Draft(),
		Uploading:    uploading,
		Picker:       c.session.Reactions.Open(),
		Reactions:    reactions,
		Quick:        chat.QuickReactions,
	}})
}

// push queues a frame. A client that cannot keep up is disconnected.
func (c *Client) push(f outFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.log.Error("encode frame", zap.String("type", f.Type), zap.Error(err))
		return
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("send buffer full, dropping client")
		c.closed = true
		close(c.send)
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// WritePump pumps frames to the WebSocket connection
// This runs in its own goroutine per client
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed by the hub or ReadPump
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Send each frame separately so the peer can parse them one by one
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
