package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/adi-253/classroomx/backend/internal/auth"
	"github.com/adi-253/classroomx/backend/internal/models"
	"github.com/adi-253/classroomx/backend/internal/notify"
	"github.com/adi-253/classroomx/backend/internal/supabase"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

var self = auth.Session{UserID: "u-self", Email: "self@example.com", AccessToken: "token"}

func strPtr(s string) *string { return &s }

// fakeStore is an in-memory gateway. Errors set on it are returned by the
// matching operation; hooks let tests interleave calls.
type fakeStore struct {
	mu sync.Mutex

	chats     []*models.Chat
	messages  map[string]models.Message
	typists   []models.Typist
	joined    []models.NewParticipant
	inserted  []models.NewMessage
	reactions []models.NewReaction
	upserts   []models.TypingIndicator
	deletes   []string
	typingOps []string
	uploads   map[string][]byte
	nextID    int

	findErr, createErr, getChatErr, joinErr error
	listErr, getMsgErr, typistsErr          error
	insertErr, upsertErr, deleteErr         error
	uploadErr, reactErr                     error

	findCalls, getMsgCalls, typistsCalls int
	typistsExclude                       string

	findHook  func(call int)
	listGate  chan struct{}
	typistsFn func(call int) ([]models.Typist, error)
	onInsert  func(models.Message)
	onDelete  func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: make(map[string]models.Message),
		uploads:  make(map[string][]byte),
	}
}

func (s *fakeStore) addChat(c models.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc := c
	s.chats = append(s.chats, &cc)
}

func (s *fakeStore) addMessage(m models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
}

func (s *fakeStore) setTypists(ts ...models.Typist) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typists = ts
}

func (s *fakeStore) set(fn func(s *fakeStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *fakeStore) snapshot(fn func(s *fakeStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *fakeStore) FindChatByName(ctx context.Context, name string) (*models.Chat, error) {
	s.mu.Lock()
	s.findCalls++
	call := s.findCalls
	hook := s.findHook
	s.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, c := range s.chats {
		if c.Name != nil && *c.Name == name {
			cc := *c
			return &cc, nil
		}
	}
	return nil, fmt.Errorf("find chat %q: %w", name, supabase.ErrNotFound)
}

func (s *fakeStore) CreateChat(ctx context.Context, name string, kind models.ChatKind) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	for _, c := range s.chats {
		if c.Kind == models.ChatKindGroup && c.Name != nil && *c.Name == name {
			return nil, &supabase.APIError{Status: 409, Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
	}
	s.nextID++
	c := &models.Chat{ID: fmt.Sprintf("chat-%d", s.nextID), Name: strPtr(name), Kind: kind, CreatedAt: t0}
	s.chats = append(s.chats, c)
	cc := *c
	return &cc, nil
}

func (s *fakeStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getChatErr != nil {
		return nil, s.getChatErr
	}
	for _, c := range s.chats {
		if c.ID == id {
			cc := *c
			return &cc, nil
		}
	}
	return nil, fmt.Errorf("get chat %s: %w", id, supabase.ErrNotFound)
}

func (s *fakeStore) AddParticipant(ctx context.Context, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joinErr != nil {
		return s.joinErr
	}
	s.joined = append(s.joined, models.NewParticipant{ChatID: chatID, UserID: userID})
	return nil
}

func (s *fakeStore) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	s.mu.Lock()
	gate := s.listGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := []models.Message{}
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getMsgCalls++
	if s.getMsgErr != nil {
		return nil, s.getMsgErr
	}
	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("get message %s: %w", id, supabase.ErrNotFound)
	}
	return &m, nil
}

func (s *fakeStore) ListTypists(ctx context.Context, chatID, excludeUserID string) ([]models.Typist, error) {
	s.mu.Lock()
	s.typistsCalls++
	call := s.typistsCalls
	s.typistsExclude = excludeUserID
	fn := s.typistsFn
	s.mu.Unlock()
	if fn != nil {
		return fn(call)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.typistsErr != nil {
		return nil, s.typistsErr
	}
	out := []models.Typist{}
	for _, t := range s.typists {
		if t.UserID != excludeUserID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertMessage(ctx context.Context, msg models.NewMessage) error {
	s.mu.Lock()
	if s.insertErr != nil {
		defer s.mu.Unlock()
		return s.insertErr
	}
	s.nextID++
	s.inserted = append(s.inserted, msg)
	content := msg.Content
	stored := models.Message{
		ID:        fmt.Sprintf("msg-%d", s.nextID),
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Content:   &content,
		MediaURL:  msg.MediaURL,
		Kind:      msg.Kind,
		CreatedAt: t0.Add(time.Duration(s.nextID) * time.Minute),
		Reactions: []models.Reaction{},
	}
	s.messages[stored.ID] = stored
	hook := s.onInsert
	s.mu.Unlock()

	if hook != nil {
		hook(stored)
	}
	return nil
}

func (s *fakeStore) InsertReaction(ctx context.Context, r models.NewReaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reactErr != nil {
		return s.reactErr
	}
	s.reactions = append(s.reactions, r)
	return nil
}

func (s *fakeStore) UpsertTyping(ctx context.Context, ind models.TypingIndicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts = append(s.upserts, ind)
	s.typingOps = append(s.typingOps, "upsert")
	return nil
}

func (s *fakeStore) DeleteTyping(ctx context.Context, chatID, userID string) error {
	s.mu.Lock()
	hook := s.onDelete
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletes = append(s.deletes, chatID+"/"+userID)
	s.typingOps = append(s.typingOps, "delete")
	return nil
}

func (s *fakeStore) Upload(ctx context.Context, bucket, path, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.uploads[bucket+"/"+path] = data
	return nil
}

func (s *fakeStore) PublicURL(bucket, path string) string {
	return "https://cdn.test/" + bucket + "/" + path
}

func (s *fakeStore) deleteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deletes)
}

// fakeStream is a subscription whose events are pushed by the test.
type fakeStream struct {
	changes chan supabase.Change

	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Changes() <-chan supabase.Change { return s.changes }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) push(c supabase.Change) { s.changes <- c }

// drop simulates the realtime socket going away.
func (s *fakeStream) drop() { close(s.changes) }

type subscription struct {
	topic    string
	bindings []supabase.Binding
	stream   *fakeStream
}

type fakeFeed struct {
	mu   sync.Mutex
	subs []subscription
	err  error
}

func (f *fakeFeed) Subscribe(ctx context.Context, topic string, bindings []supabase.Binding) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeStream{changes: make(chan supabase.Change, 32)}
	f.subs = append(f.subs, subscription{topic: topic, bindings: bindings, stream: s})
	return s, nil
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeFeed) last(t *testing.T) subscription {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.subs, "no subscription")
	return f.subs[len(f.subs)-1]
}

type toast struct {
	message string
	kind    notify.Kind
}

type fakeNotifier struct {
	mu     sync.Mutex
	toasts []toast
}

func (n *fakeNotifier) Notify(message string, kind notify.Kind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, toast{message, kind})
}

func (n *fakeNotifier) all() []toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]toast(nil), n.toasts...)
}

type fixedChat string

func (c fixedChat) ChatID() string { return string(c) }

func change(table string, typ supabase.EventType, record any) supabase.Change {
	raw, err := json.Marshal(record)
	if err != nil {
		panic(err)
	}
	return supabase.Change{Table: table, Type: typ, Record: raw}
}

func messageInsert(id, chatID string) supabase.Change {
	return change(tableMessages, supabase.EventInsert, map[string]string{"id": id, "chat_id": chatID})
}

func reactionInsert(id, messageID, emoji string) supabase.Change {
	return change(tableReactions, supabase.EventInsert, models.Reaction{ID: id, MessageID: messageID, UserID: "u-other", Emoji: emoji})
}

func typingChange(typ supabase.EventType) supabase.Change {
	return change(tableTyping, typ, map[string]string{"chat_id": "c1", "user_id": "u-other"})
}

func textMessage(id, chatID string, at time.Duration) models.Message {
	return models.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  "u-other",
		Content:   strPtr("hello " + id),
		Kind:      models.MessageKindText,
		CreatedAt: t0.Add(at),
		Reactions: []models.Reaction{},
	}
}

func openConversation(t *testing.T, store *fakeStore, feed *fakeFeed, token string) *Conversation {
	t.Helper()
	conv := Open(context.Background(), Config{
		Resolver: NewResolver(store, "class-group", "Class Group", zap.NewNop()),
		Store:    store,
		Feed:     feed,
		Session:  self,
		Log:      zap.NewNop(),
	}, token)
	t.Cleanup(func() { conv.Close() })
	return conv
}

func waitView(t *testing.T, conv *Conversation, cond func(View) bool) View {
	t.Helper()
	var (
		mu   sync.Mutex
		last View
	)
	require.Eventually(t, func() bool {
		v, err := conv.Snapshot(context.Background())
		if err != nil {
			return false
		}
		mu.Lock()
		last = v
		mu.Unlock()
		return cond(v)
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	return last
}

func isOnline(v View) bool { return v.Status == StatusOnline }

func messageIDs(v View) []string {
	ids := make([]string, 0, len(v.Messages))
	for _, m := range v.Messages {
		ids = append(ids, m.ID)
	}
	return ids
}

var authorSession = auth.Session{UserID: "u-author", AccessToken: "author-token"}
