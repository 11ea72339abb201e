package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adi-253/classroomx/backend/internal/config"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a frame to the realtime server
	writeWait = 10 * time.Second

	// Send heartbeats with this period (Phoenix drops sockets silent for 60s)
	heartbeatPeriod = 25 * time.Second

	// Time allowed for the server to acknowledge a channel join
	joinTimeout = 10 * time.Second

	// Maximum frame size accepted from the server
	maxFrameSize = 1 << 20

	// Buffered change events per channel
	changeBuffer = 64
)

// EventType is a postgres change kind.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// Binding selects the row changes a channel receives.
type Binding struct {
	Event  EventType `json:"event"`
	Schema string    `json:"schema"`
	Table  string    `json:"table"`
	Filter string    `json:"filter,omitempty"`
}

// Change is one row-level event. Record holds the new row snapshot as sent
// by the server, which never includes joined fields.
type Change struct {
	Table           string          `json:"table"`
	Type            EventType       `json:"type"`
	CommitTimestamp string          `json:"commit_timestamp"`
	Record          json.RawMessage `json:"record"`
	OldRecord       json.RawMessage `json:"old_record"`
}

// Decode unmarshals the new row snapshot into v.
func (c Change) Decode(v interface{}) error {
	if len(c.Record) == 0 {
		return fmt.Errorf("%s %s change carries no record", c.Type, c.Table)
	}
	return json.Unmarshal(c.Record, v)
}

// Realtime dials Supabase Realtime channels.
type Realtime struct {
	endpoint  string
	dialer    *websocket.Dialer
	heartbeat time.Duration
	log       *zap.Logger
}

// NewRealtime creates a change-feed client for the configured project.
func NewRealtime(cfg *config.Config, log *zap.Logger) *Realtime {
	return &Realtime{
		endpoint: realtimeURL(cfg.SupabaseURL, cfg.SupabaseKey),
		dialer: &websocket.Dialer{
			HandshakeTimeout: joinTimeout,
		},
		heartbeat: heartbeatPeriod,
		log:       log.With(zap.String("component", "realtime")),
	}
}

// realtimeURL maps https://<project> to wss://<project>/realtime/v1/websocket.
func realtimeURL(base, apiKey string) string {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String()
}

// envelope is a Phoenix frame as received.
type envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

// frame is a Phoenix frame as sent.
type frame struct {
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Ref     string      `json:"ref"`
	JoinRef string      `json:"join_ref,omitempty"`
}

type joinConfig struct {
	Broadcast struct {
		Self bool `json:"self"`
	} `json:"broadcast"`
	Presence struct {
		Key string `json:"key"`
	} `json:"presence"`
	PostgresChanges []Binding `json:"postgres_changes"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changePayload struct {
	Data Change `json:"data"`
}

// Channel is one joined realtime topic. Changes are delivered in the order
// the server sends them; Close unsubscribes.
type Channel struct {
	topic     string
	joinRef   string
	conn      *websocket.Conn
	heartbeat time.Duration
	changes   chan Change
	done      chan struct{}
	closeOnce sync.Once
	ref       atomic.Uint64
	log       *zap.Logger
}

// Subscribe opens a socket, joins topic with the given postgres_changes
// bindings and waits for the server to acknowledge the join.
func (rt *Realtime) Subscribe(ctx context.Context, topic, accessToken string, bindings []Binding) (*Channel, error) {
	conn, _, err := rt.dialer.DialContext(ctx, rt.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime dial: %w", err)
	}

	ch := &Channel{
		topic:     "realtime:" + topic,
		conn:      conn,
		heartbeat: rt.heartbeat,
		changes:   make(chan Change, changeBuffer),
		done:      make(chan struct{}),
		log:       rt.log.With(zap.String("topic", topic)),
	}
	ch.joinRef = ch.nextRef()

	if err := ch.join(ctx, accessToken, bindings); err != nil {
		conn.Close()
		return nil, fmt.Errorf("realtime join %s: %w", topic, err)
	}

	go ch.writePump()
	go ch.readPump()

	ch.log.Debug("channel joined", zap.Int("bindings", len(bindings)))
	return ch, nil
}

func (ch *Channel) join(ctx context.Context, accessToken string, bindings []Binding) error {
	stop := context.AfterFunc(ctx, func() { ch.conn.Close() })
	defer stop()

	deadline := time.Now().Add(joinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	payload := joinPayload{AccessToken: accessToken}
	payload.Config.PostgresChanges = bindings

	ch.conn.SetWriteDeadline(deadline)
	if err := ch.conn.WriteJSON(frame{
		Topic:   ch.topic,
		Event:   "phx_join",
		Payload: payload,
		Ref:     ch.joinRef,
		JoinRef: ch.joinRef,
	}); err != nil {
		return err
	}

	ch.conn.SetReadDeadline(deadline)
	for {
		var env envelope
		if err := ch.conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if env.Event != "phx_reply" || env.Ref == nil || *env.Ref != ch.joinRef {
			continue
		}

		var reply replyPayload
		if err := json.Unmarshal(env.Payload, &reply); err != nil {
			return fmt.Errorf("malformed join reply: %w", err)
		}
		if reply.Status != "ok" {
			return fmt.Errorf("join rejected: %s", string(reply.Response))
		}
		ch.conn.SetReadDeadline(time.Time{})
		return nil
	}
}

// Topic returns the full realtime topic name.
func (ch *Channel) Topic() string { return ch.topic }

// Changes delivers row events until the channel closes.
func (ch *Channel) Changes() <-chan Change { return ch.changes }

// Close leaves the topic and closes the socket. It is safe to call more than once.
func (ch *Channel) Close() error {
	ch.closeOnce.Do(func() { close(ch.done) })
	return nil
}

func (ch *Channel) nextRef() string {
	return strconv.FormatUint(ch.ref.Add(1), 10)
}

// readPump pumps frames from the socket to the changes channel
// This runs in its own goroutine per channel
func (ch *Channel) readPump() {
	defer func() {
		close(ch.changes)
		ch.conn.Close()
		ch.closeOnce.Do(func() { close(ch.done) })
	}()

	ch.conn.SetReadLimit(maxFrameSize)

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			select {
			case <-ch.done:
			default:
				ch.log.Warn("realtime read failed", zap.Error(err))
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			ch.log.Warn("malformed realtime frame", zap.Error(err))
			continue
		}

		switch env.Event {
		case "postgres_changes":
			var p changePayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				ch.log.Warn("malformed postgres_changes payload", zap.Error(err))
				continue
			}
			select {
			case ch.changes <- p.Data:
			case <-ch.done:
				return
			}
		case "phx_error", "phx_close":
			if env.Topic == ch.topic {
				ch.log.Warn("channel closed by server", zap.String("event", env.Event))
				return
			}
		case "system":
			ch.log.Debug("system message", zap.ByteString("payload", env.Payload))
		}
	}
}

// writePump owns all socket writes after the join: heartbeats and the final leave
// This runs in its own goroutine per channel
func (ch *Channel) writePump() {
	ticker := time.NewTicker(ch.heartbeat)
	defer func() {
		ticker.Stop()
		ch.conn.Close()
	}()

	for {
		select {
		case <-ticker.C:
			if err := ch.write(frame{Topic: "phoenix", Event: "heartbeat", Payload: struct{}{}, Ref: ch.nextRef()}); err != nil {
				ch.log.Warn("heartbeat failed", zap.Error(err))
				ch.closeOnce.Do(func() { close(ch.done) })
				return
			}
		case <-ch.done:
			_ = ch.write(frame{Topic: ch.topic, Event: "phx_leave", Payload: struct{}{}, Ref: ch.nextRef(), JoinRef: ch.joinRef})
			ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ch.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (ch *Channel) write(f frame) error {
	ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ch.conn.WriteJSON(f)
}
