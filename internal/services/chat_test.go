package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adi-253/classroomx/backend/internal/auth"
	"github.com/adi-253/classroomx/backend/internal/chat"
	"github.com/adi-253/classroomx/backend/internal/config"
	"github.com/adi-253/classroomx/backend/internal/models"
	"github.com/adi-253/classroomx/backend/internal/notify"
	"github.com/adi-253/classroomx/backend/internal/supabase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu        sync.Mutex
	chats     map[string]*models.Chat
	inserted  []models.NewMessage
	reactions []models.NewReaction
	uploads   []string
	insertErr error
}

func newMemStore() *memStore {
	name := "Class Group"
	return &memStore{chats: map[string]*models.Chat{
		"class": {ID: "class", Name: &name, Kind: models.ChatKindGroup},
	}}
}

func (m *memStore) FindChatByName(ctx context.Context, name string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chats {
		if c.DisplayName() == name {
			return c, nil
		}
	}
	return nil, supabase.ErrNotFound
}

func (m *memStore) CreateChat(ctx context.Context, name string, kind models.ChatKind) (*models.Chat, error) {
	return nil, errors.New("read only")
}

func (m *memStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.chats[id]; ok {
		return c, nil
	}
	return nil, supabase.ErrNotFound
}

func (m *memStore) AddParticipant(ctx context.Context, chatID, userID string) error { return nil }

func (m *memStore) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	return []models.Message{}, nil
}

func (m *memStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return nil, supabase.ErrNotFound
}

func (m *memStore) ListTypists(ctx context.Context, chatID, excludeUserID string) ([]models.Typist, error) {
	return nil, nil
}

func (m *memStore) InsertMessage(ctx context.Context, msg models.NewMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, msg)
	return nil
}

func (m *memStore) UpsertTyping(ctx context.Context, ind models.TypingIndicator) error { return nil }

func (m *memStore) DeleteTyping(ctx context.Context, chatID, userID string) error { return nil }

func (m *memStore) InsertReaction(ctx context.Context, r models.NewReaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, r)
	return nil
}

func (m *memStore) Upload(ctx context.Context, bucket, path, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, bucket+"/"+path)
	return nil
}

func (m *memStore) PublicURL(bucket, path string) string {
	return "https://cdn.test/" + bucket + "/" + path
}

type refusingRealtime struct{}

func (refusingRealtime) Subscribe(ctx context.Context, topic, accessToken string, bindings []supabase.Binding) (*supabase.Channel, error) {
	return nil, errors.New("realtime unavailable")
}

func testConfig() *config.Config {
	return &config.Config{
		ClassChannelAlias: "class-group",
		ClassChannelName:  "Class Group",
		MediaBucket:       "post-media",
		TypingQuietPeriod: time.Hour,
		ConnectTimeout:    time.Second,
	}
}

var ada = auth.Session{UserID: "ada", AccessToken: "jwt"}

func newTestService(db *memStore) (*ChatService, *notify.Service) {
	n := notify.NewService(zap.NewNop())
	return NewChatService(func(string) Store { return db }, refusingRealtime{}, n, testConfig(), zap.NewNop()), n
}

func TestServiceSendResolvesAlias(t *testing.T) {
	db := newMemStore()
	svc, _ := newTestService(db)

	require.NoError(t, svc.Send(context.Background(), "class-group", ada, "hello"))
	require.Len(t, db.inserted, 1)
	assert.Equal(t, "class", db.inserted[0].ChatID)
	assert.Equal(t, "ada", db.inserted[0].SenderID)
}

func TestServiceSendFailureToastsUser(t *testing.T) {
	db := newMemStore()
	db.insertErr = errors.New("offline")
	svc, n := newTestService(db)
	toasts, stop := n.Subscribe("ada")
	defer stop()

	require.Error(t, svc.Send(context.Background(), "class", ada, "hello"))
	toast := <-toasts
	assert.Equal(t, "Send failed: offline", toast.Message)
	assert.Equal(t, notify.KindError, toast.Kind)
}

func TestServiceUpload(t *testing.T) {
	db := newMemStore()
	svc, _ := newTestService(db)

	url, err := svc.Upload(context.Background(), "class", ada, "notes.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)
	require.Len(t, db.uploads, 1)
	assert.True(t, strings.HasPrefix(db.uploads[0], "post-media/chat/class/ada/"))
	assert.Equal(t, "https://cdn.test/"+db.uploads[0], url)
	require.Len(t, db.inserted, 1)
	assert.Equal(t, models.MessageKindImage, db.inserted[0].Kind)
}

func TestServiceReact(t *testing.T) {
	db := newMemStore()
	svc, _ := newTestService(db)

	require.NoError(t, svc.React(context.Background(), ada, "m1", "👍"))
	assert.Equal(t, []models.NewReaction{{MessageID: "m1", UserID: "ada", Emoji: "👍"}}, db.reactions)
	assert.ErrorIs(t, svc.React(context.Background(), auth.Session{}, "m1", "👍"), chat.ErrNotAuthenticated)
}

func TestServiceSnapshot(t *testing.T) {
	svc, _ := newTestService(newMemStore())

	v, err := svc.Snapshot(context.Background(), "class-group", ada)
	require.NoError(t, err)
	assert.Equal(t, "class", v.ChatID)
	assert.Equal(t, "Class Group", v.Header.Name)
}

func TestServiceOpenSurfacesFeedFailure(t *testing.T) {
	svc, _ := newTestService(newMemStore())
	sess := svc.Open(context.Background(), "class", ada)
	defer sess.Close()

	var v chat.View
	require.Eventually(t, func() bool {
		var err error
		v, err = sess.Conversation.Snapshot(context.Background())
		return err == nil && v.Status != chat.StatusConnecting
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, chat.StatusError, v.Status)
	assert.Equal(t, "Connection Error: realtime unavailable", v.Error)
}

func TestServiceListenAlertsFailure(t *testing.T) {
	svc, _ := newTestService(newMemStore())
	_, err := svc.ListenAlerts(context.Background(), ada)
	assert.ErrorContains(t, err, "realtime unavailable")
}

func TestServiceScopesStoreToCaller(t *testing.T) {
	db := newMemStore()
	var (
		mu     sync.Mutex
		tokens []string
	)
	stores := func(accessToken string) Store {
		mu.Lock()
		defer mu.Unlock()
		tokens = append(tokens, accessToken)
		return db
	}
	svc := NewChatService(stores, refusingRealtime{}, notify.NewService(zap.NewNop()), testConfig(), zap.NewNop())
	grace := auth.Session{UserID: "grace", AccessToken: "grace-jwt"}

	_, err := svc.Snapshot(context.Background(), "class", ada)
	require.NoError(t, err)
	require.NoError(t, svc.Send(context.Background(), "class", grace, "hi"))
	require.NoError(t, svc.React(context.Background(), ada, "m1", "👍"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"jwt", "grace-jwt", "jwt"}, tokens)
}

func TestUserStoresSendCallerToken(t *testing.T) {
	var (
		mu    sync.Mutex
		auths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auths = append(auths, r.Method+" "+r.URL.Path+" "+r.Header.Get("Authorization"))
		mu.Unlock()
		switch {
		case r.Method != http.MethodGet:
			w.WriteHeader(http.StatusCreated)
		case r.URL.Path == "/rest/v1/chats":
			w.Write([]byte(`[{"id":"dm","name":null,"type":"1to1","created_at":"2026-10-19T10:00:00Z","chat_participants":[{"chat_id":"dm","user_id":"alice"},{"chat_id":"dm","user_id":"bob"}]}]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	db := supabase.NewClient(&config.Config{SupabaseURL: srv.URL, SupabaseKey: "service-role"}, zap.NewNop())
	svc := NewChatService(UserStores(db), refusingRealtime{}, notify.NewService(zap.NewNop()), testConfig(), zap.NewNop())

	_, err := svc.Snapshot(context.Background(), "dm", auth.Session{UserID: "mallory", AccessToken: "mallory-jwt"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, auths)
	for _, a := range auths {
		assert.True(t, strings.HasSuffix(a, " Bearer mallory-jwt"), a)
	}
}
