package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/adi-253/classroomx/backend/internal/auth"
	"github.com/adi-253/classroomx/backend/internal/metrics"
	"github.com/adi-253/classroomx/backend/internal/models"
	"github.com/adi-253/classroomx/backend/internal/supabase"
	"go.uber.org/zap"
)

// Status is the connection state of a conversation.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOnline     Status = "online"
	StatusError      Status = "error"
)

// View is the in-memory projection of one open chat.
type View struct {
	Token        string               `json:"token"`
	ChatID       string               `json:"chat_id,omitempty"`
	Status       Status               `json:"status"`
	Error        string               `json:"error,omitempty"`
	Header       *models.ChatHeader   `json:"header,omitempty"`
	Participants []models.Participant `json:"participants"`
	Messages     []models.Message     `json:"messages"`
	Typing       []string             `json:"typing"`
}

// HeaderStatus is the line under the chat name.
func (v View) HeaderStatus(uploading bool) string {
	switch {
	case uploading:
		return "Sending…"
	case len(v.Typing) > 0:
		return v.Typing[0] + " is typing…"
	default:
		return "Active now"
	}
}

// Message returns the held message with id, if any.
func (v View) Message(id string) (models.Message, bool) {
	for _, m := range v.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

// clone copies the slices a conversation mutates in place. Reaction slices
// are replaced rather than appended to, so they can be shared.
func (v View) clone() View {
	v.Participants = slices.Clone(v.Participants)
	v.Messages = slices.Clone(v.Messages)
	v.Typing = slices.Clone(v.Typing)
	if v.Header != nil {
		h := *v.Header
		v.Header = &h
	}
	return v
}

// Config holds the collaborators of a Conversation.
type Config struct {
	Resolver *Resolver
	Store    ConversationStore
	Feed     ChangeFeed
	Session  auth.Session
	Log      *zap.Logger

	// ConnectTimeout bounds initialization. Zero waits indefinitely.
	ConnectTimeout time.Duration
}

type initResult struct {
	attempt  int
	chatID   string
	details  *Details
	messages []models.Message
	stream   Stream
	err      error
}

type fetchResult struct {
	attempt int
	id      string
	msg     *models.Message
	err     error
}

type typingResult struct {
	attempt int
	seq     uint64
	names   []string
	err     error
}

// Conversation is the state machine of one open chat. A single goroutine
// owns the view; gateway calls run on helper goroutines and report back to
// it. The conversation context doubles as the liveness flag: once it is
// cancelled nothing further is applied.
type Conversation struct {
	token string
	cfg   Config
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	updates   chan View
	retries   chan struct{}
	snapshots chan chan View
	inits     chan initResult
	fetched   chan fetchResult
	typists   chan typingResult

	chatID atomic.Value

	// Owned by run.
	view        View
	attempt     int
	initCancel  context.CancelFunc
	timeout     <-chan time.Time
	stream      Stream
	changes     <-chan supabase.Change
	ids         map[string]struct{}
	inflight    map[string]struct{}
	typingSeq   uint64
	typingShown uint64
}

// Open starts a conversation for the route token and begins initialization
// in the background. Close must be called to release it.
func Open(ctx context.Context, cfg Config, token string) *Conversation {
	ctx, cancel := context.WithCancel(ctx)
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	c := &Conversation{
		token:      token,
		cfg:        cfg,
		log:        log.With(zap.String("component", "conversation"), zap.String("token", token)),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		updates:    make(chan View, 1),
		retries:    make(chan struct{}, 1),
		snapshots:  make(chan chan View),
		inits:      make(chan initResult),
		fetched:    make(chan fetchResult),
		typists:    make(chan typingResult),
		initCancel: func() {},
	}
	c.chatID.Store("")

	metrics.Conversations.Inc()
	go c.run()
	return c
}

// Updates delivers the latest view after every change. Views that are not
// received in time are replaced by newer ones.
func (c *Conversation) Updates() <-chan View { return c.updates }

// Done is closed once the conversation has stopped.
func (c *Conversation) Done() <-chan struct{} { return c.done }

// ChatID returns the resolved chat ID, or "" before resolution.
func (c *Conversation) ChatID() string {
	return c.chatID.Load().(string)
}

// Snapshot returns a copy of the current view.
func (c *Conversation) Snapshot(ctx context.Context) (View, error) {
	if c.ctx.Err() != nil {
		return View{}, ErrClosed
	}
	reply := make(chan View, 1)
	select {
	case c.snapshots <- reply:
	case <-c.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-c.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// Retry restarts initialization from scratch. It only has an effect in the
// error state.
func (c *Conversation) Retry() {
	select {
	case c.retries <- struct{}{}:
	default:
	}
}

// Close tears the conversation down, unsubscribes and waits for it to stop.
func (c *Conversation) Close() error {
	c.cancel()
	<-c.done
	return nil
}

func (c *Conversation) run() {
	defer close(c.done)
	defer metrics.Conversations.Dec()
	defer func() {
		c.initCancel()
		c.unsubscribe()
	}()

	c.start()
	for {
		select {
		case <-c.ctx.Done():
			return
		case res := <-c.inits:
			c.handleInit(res)
		case <-c.timeout:
			c.handleTimeout()
		case change, ok := <-c.changes:
			if !ok {
				c.handleLost()
				continue
			}
			c.handleChange(change)
		case res := <-c.fetched:
			c.handleFetched(res)
		case res := <-c.typists:
			c.handleTypists(res)
		case <-c.retries:
			if c.alive() && c.view.Status == StatusError {
				c.log.Info("retrying initialization")
				c.start()
			}
		case reply := <-c.snapshots:
			reply <- c.view.clone()
		}
	}
}

func (c *Conversation) alive() bool {
	return c.ctx.Err() == nil
}

// start resets the view and launches a fresh initialization attempt.
func (c *Conversation) start() {
	c.initCancel()
	c.unsubscribe()

	c.attempt++
	c.ids = make(map[string]struct{})
	c.inflight = make(map[string]struct{})
	c.typingSeq, c.typingShown = 0, 0
	c.view = View{
		Token:        c.token,
		ChatID:       c.ChatID(),
		Status:       StatusConnecting,
		Participants: []models.Participant{},
		Messages:     []models.Message{},
		Typing:       []string{},
	}

	ictx, cancel := context.WithCancel(c.ctx)
	c.initCancel = cancel
	c.timeout = nil
	if c.cfg.ConnectTimeout > 0 {
		c.timeout = time.After(c.cfg.ConnectTimeout)
	}

	go c.initialize(ictx, c.attempt)
	c.publish()
}

func (c *Conversation) initialize(ctx context.Context, attempt int) {
	res := initResult{attempt: attempt}
	res.err = func() error {
		chatID, err := c.cfg.Resolver.Resolve(ctx, c.token)
		if err != nil {
			return err
		}
		res.chatID = chatID

		details, err := c.cfg.Resolver.Load(ctx, chatID, c.cfg.Session)
		if err != nil {
			return err
		}
		res.details = details

		msgs, err := c.cfg.Store.ListMessages(ctx, chatID)
		if err != nil {
			return &InitError{Stage: StageMessages, Err: err}
		}
		res.messages = msgs

		stream, err := c.cfg.Feed.Subscribe(ctx, Topic(chatID), Bindings(chatID))
		if err != nil {
			return &InitError{Stage: StageConnection, Err: err}
		}
		res.stream = stream
		return nil
	}()

	select {
	case c.inits <- res:
	case <-ctx.Done():
		if res.stream != nil {
			res.stream.Close()
		}
	}
}

func (c *Conversation) handleInit(res initResult) {
	if !c.alive() || res.attempt != c.attempt {
		if res.stream != nil {
			res.stream.Close()
		}
		return
	}
	c.timeout = nil
	c.initCancel()

	if res.chatID != "" {
		c.chatID.Store(res.chatID)
		c.view.ChatID = res.chatID
	}
	if res.err != nil {
		metrics.Initializations.WithLabelValues(metrics.OutcomeError).Inc()
		c.fail(res.err)
		return
	}

	header := res.details.Header
	c.view.Header = &header
	c.view.Participants = res.details.Participants
	for _, m := range res.messages {
		if m.DeletedAt == nil {
			c.insert(m)
		}
	}
	c.stream = res.stream
	c.changes = res.stream.Changes()
	c.view.Status = StatusOnline

	metrics.Initializations.WithLabelValues(metrics.OutcomeOK).Inc()
	c.log.Info("conversation online", zap.String("chat", res.chatID), zap.Int("messages", len(c.view.Messages)))
	c.publish()
}

func (c *Conversation) handleTimeout() {
	if !c.alive() || c.view.Status != StatusConnecting {
		return
	}
	// Invalidate the running attempt so its late result is dropped.
	c.attempt++
	c.fail(&InitError{
		Stage: StageConnection,
		Err:   fmt.Errorf("timed out after %s", c.cfg.ConnectTimeout),
	})
}

func (c *Conversation) handleLost() {
	c.changes = nil
	if !c.alive() || c.view.Status != StatusOnline {
		return
	}
	c.fail(&InitError{Stage: StageConnection, Err: errors.New("realtime connection lost")})
}

func (c *Conversation) fail(err error) {
	c.initCancel()
	c.timeout = nil
	c.unsubscribe()
	c.view.Status = StatusError
	c.view.Error = err.Error()
	c.log.Error("conversation failed", zap.Error(err))
	c.publish()
}

func (c *Conversation) unsubscribe() {
	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			c.log.Warn("unsubscribe failed", zap.Error(err))
		}
	}
	c.stream = nil
	c.changes = nil
}

func (c *Conversation) handleChange(change supabase.Change) {
	if !c.alive() {
		return
	}
	switch change.Table {
	case tableMessages:
		c.onMessageEvent(change)
	case tableReactions:
		c.onReactionEvent(change)
	case tableTyping:
		c.onTypingEvent()
	default:
		metrics.ChangeEvents.WithLabelValues(change.Table, metrics.OutcomeIgnored).Inc()
	}
}

// onMessageEvent re-reads the inserted message with its joins instead of
// using the partial row in the event.
func (c *Conversation) onMessageEvent(change supabase.Change) {
	if change.Type != supabase.EventInsert {
		metrics.ChangeEvents.WithLabelValues(tableMessages, metrics.OutcomeIgnored).Inc()
		return
	}
	var row struct {
		ID     string `json:"id"`
		ChatID string `json:"chat_id"`
	}
	if err := change.Decode(&row); err != nil || row.ID == "" {
		c.log.Warn("malformed message event", zap.Error(err))
		metrics.ChangeEvents.WithLabelValues(tableMessages, metrics.OutcomeIgnored).Inc()
		return
	}
	if row.ChatID != "" && row.ChatID != c.view.ChatID {
		metrics.ChangeEvents.WithLabelValues(tableMessages, metrics.OutcomeIgnored).Inc()
		return
	}
	if _, held := c.ids[row.ID]; held {
		metrics.ChangeEvents.WithLabelValues(tableMessages, metrics.OutcomeDuplicate).Inc()
		return
	}
	if _, pending := c.inflight[row.ID]; pending {
		metrics.ChangeEvents.WithLabelValues(tableMessages, metrics.OutcomeDuplicate).Inc()
		return
	}

	c.inflight[row.ID] = struct{}{}
	go c.fetchMessage(c.attempt, row.ID)
}

func (c *Conversation) fetchMessage(attempt int, id string) {
	msg, err := c.cfg.Store.GetMessage(c.ctx, id)
	select {
	case c.fetched <- fetchResult{attempt: attempt, id: id, msg: msg, err: err}:
	case <-c.ctx.Done():
	}
}

func (c *Conversation) handleFetched(res fetchResult) {
	if !c.alive() || res.attempt != c.attempt {
		return
	}
	delete(c.inflight, res.id)

	if res.err != nil {
		c.log.Warn("message re-fetch failed", zap.String("message", res.id), zap.Error(res.err))
		metrics.ChangeEvents.WithLabelValues(tableMessages, metrics.OutcomeError).Inc()
		return
	}
	if res.msg.ChatID != c.view.ChatID || res.msg.DeletedAt != nil {
		metrics.ChangeEvents.WithLabelValues(tableMessages, metrics.OutcomeIgnored).Inc()
		return
	}
	if !c.insert(*res.msg) {
		metrics.ChangeEvents.WithLabelValues(tableMessages, metrics.OutcomeDuplicate).Inc()
		return
	}
	metrics.ChangeEvents.WithLabelValues(tableMessages, metrics.OutcomeApplied).Inc()
	c.publish()
}

// insert places m in (created_at, id) order unless its ID is already held.
func (c *Conversation) insert(m models.Message) bool {
	if _, held := c.ids[m.ID]; held {
		return false
	}
	if m.Reactions == nil {
		m.Reactions = []models.Reaction{}
	}
	i, _ := slices.BinarySearchFunc(c.view.Messages, m, compareMessages)
	c.view.Messages = slices.Insert(c.view.Messages, i, m)
	c.ids[m.ID] = struct{}{}
	return true
}

func compareMessages(a, b models.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

func (c *Conversation) onReactionEvent(change supabase.Change) {
	if change.Type != supabase.EventInsert {
		metrics.ChangeEvents.WithLabelValues(tableReactions, metrics.OutcomeIgnored).Inc()
		return
	}
	var r models.Reaction
	if err := change.Decode(&r); err != nil || r.ID == "" {
		c.log.Warn("malformed reaction event", zap.Error(err))
		metrics.ChangeEvents.WithLabelValues(tableReactions, metrics.OutcomeIgnored).Inc()
		return
	}

	for i := range c.view.Messages {
		m := &c.view.Messages[i]
		if m.ID != r.MessageID {
			continue
		}
		if m.HasReaction(r.ID) {
			metrics.ChangeEvents.WithLabelValues(tableReactions, metrics.OutcomeDuplicate).Inc()
			return
		}
		// Copy on write: published views may share the old slice.
		m.Reactions = append(slices.Clip(m.Reactions), r)
		metrics.ChangeEvents.WithLabelValues(tableReactions, metrics.OutcomeApplied).Inc()
		c.publish()
		return
	}
	metrics.ChangeEvents.WithLabelValues(tableReactions, metrics.OutcomeIgnored).Inc()
}

// onTypingEvent re-derives the whole typing set; rows expire without
// events of their own, so patching would keep stale typists around.
func (c *Conversation) onTypingEvent() {
	c.typingSeq++
	go c.fetchTypists(c.attempt, c.typingSeq, c.view.ChatID)
}

func (c *Conversation) fetchTypists(attempt int, seq uint64, chatID string) {
	res := typingResult{attempt: attempt, seq: seq}
	typists, err := c.cfg.Store.ListTypists(c.ctx, chatID, c.cfg.Session.UserID)
	if err != nil {
		res.err = err
	} else {
		res.names = make([]string, 0, len(typists))
		for _, t := range typists {
			res.names = append(res.names, t.Name())
		}
	}
	select {
	case c.typists <- res:
	case <-c.ctx.Done():
	}
}

func (c *Conversation) handleTypists(res typingResult) {
	if !c.alive() || res.attempt != c.attempt {
		return
	}
	if res.seq <= c.typingShown {
		metrics.ChangeEvents.WithLabelValues(tableTyping, metrics.OutcomeStale).Inc()
		return
	}
	if res.err != nil {
		c.log.Warn("typing re-fetch failed", zap.Error(res.err))
		metrics.ChangeEvents.WithLabelValues(tableTyping, metrics.OutcomeError).Inc()
		return
	}
	c.typingShown = res.seq
	c.view.Typing = res.names
	metrics.ChangeEvents.WithLabelValues(tableTyping, metrics.OutcomeApplied).Inc()
	c.publish()
}

// publish offers the current view, replacing one nobody has read yet.
func (c *Conversation) publish() {
	v := c.view.clone()
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- v:
	default:
	}
}
