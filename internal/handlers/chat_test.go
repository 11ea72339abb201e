package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adi-253/classroomx/backend/internal/auth"
	"github.com/adi-253/classroomx/backend/internal/chat"
	"github.com/adi-253/classroomx/backend/internal/models"
	"github.com/adi-253/classroomx/backend/internal/supabase"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubChats struct {
	view     chat.View
	err      error
	sent     []string
	uploaded map[string]string
	reacted  []string
	lastSess auth.Session
}

func (s *stubChats) Snapshot(ctx context.Context, token string, sess auth.Session) (chat.View, error) {
	s.lastSess = sess
	return s.view, s.err
}

func (s *stubChats) Send(ctx context.Context, token string, sess auth.Session, content string) error {
	s.lastSess = sess
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, token+":"+content)
	return nil
}

func (s *stubChats) Upload(ctx context.Context, token string, sess auth.Session, filename string, r io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	data, _ := io.ReadAll(r)
	if s.uploaded == nil {
		s.uploaded = map[string]string{}
	}
	s.uploaded[filename] = string(data)
	return "https://cdn.test/" + filename, nil
}

func (s *stubChats) React(ctx context.Context, sess auth.Session, messageID, emoji string) error {
	if s.err != nil {
		return s.err
	}
	s.reacted = append(s.reacted, messageID+":"+emoji)
	return nil
}

func newRouter(chats ChatAPI) http.Handler {
	h := NewChatHandler(chats, zap.NewNop())
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), auth.Session{UserID: "ada"})))
		})
	})
	r.Get("/health", HealthCheck)
	r.Get("/api/chats/{id}", h.GetChat)
	r.Post("/api/chats/{id}/messages", h.SendMessage)
	r.Post("/api/chats/{id}/media", h.UploadMedia)
	r.Post("/api/messages/{id}/reactions", h.AddReaction)
	return r
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	rec := do(t, newRouter(&stubChats{}), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestGetChat(t *testing.T) {
	chats := &stubChats{view: chat.View{Token: "class-group", ChatID: "c1", Status: chat.StatusOnline, Messages: []models.Message{}}}
	rec := do(t, newRouter(chats), httptest.NewRequest(http.MethodGet, "/api/chats/class-group", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var v chat.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "c1", v.ChatID)
	assert.Equal(t, "ada", chats.lastSess.UserID)
}

func TestGetChatErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&chat.InitError{Stage: chat.StageDetails, Err: supabase.ErrNotFound}, http.StatusNotFound},
		{&chat.InitError{Stage: chat.StageMessages, Err: errors.New("boom")}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		rec := do(t, newRouter(&stubChats{err: tc.err}), httptest.NewRequest(http.MethodGet, "/api/chats/c1", nil))
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Contains(t, rec.Body.String(), `"error"`)
	}
}

func TestSendMessage(t *testing.T) {
	chats := &stubChats{}
	req := httptest.NewRequest(http.MethodPost, "/api/chats/c1/messages", strings.NewReader(`{"content":"hello"}`))
	rec := do(t, newRouter(chats), req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"c1:hello"}, chats.sent)
}

func TestSendMessageValidation(t *testing.T) {
	rec := do(t, newRouter(&stubChats{}), httptest.NewRequest(http.MethodPost, "/api/chats/c1/messages", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, newRouter(&stubChats{err: chat.ErrEmptyMessage}), httptest.NewRequest(http.MethodPost, "/api/chats/c1/messages", strings.NewReader(`{"content":""}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, newRouter(&stubChats{err: chat.ErrNotAuthenticated}), httptest.NewRequest(http.MethodPost, "/api/chats/c1/messages", strings.NewReader(`{"content":"x"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadMedia(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "board.png")
	require.NoError(t, err)
	fw.Write([]byte("pixels"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chats/c1/media", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	chats := &stubChats{}
	rec := do(t, newRouter(chats), req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp models.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://cdn.test/board.png", resp.URL)
	assert.Equal(t, "pixels", chats.uploaded["board.png"])
}

func TestUploadMediaRequiresFile(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/chats/c1/media", strings.NewReader("nope"))
	rec := do(t, newRouter(&stubChats{}), req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddReaction(t *testing.T) {
	chats := &stubChats{}
	req := httptest.NewRequest(http.MethodPost, "/api/messages/m1/reactions", strings.NewReader(`{"emoji":"🔥"}`))
	rec := do(t, newRouter(chats), req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"m1:🔥"}, chats.reacted)

	rec = do(t, newRouter(&stubChats{err: chat.ErrEmptyReaction}), httptest.NewRequest(http.MethodPost, "/api/messages/m1/reactions", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
