package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/adi-253/classroomx/backend/internal/auth"
	"github.com/adi-253/classroomx/backend/internal/chat"
	"github.com/adi-253/classroomx/backend/internal/models"
	"github.com/adi-253/classroomx/backend/internal/supabase"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxUploadSize caps multipart uploads.
const maxUploadSize = 10 << 20

// ChatAPI is the chat service as seen by the REST handlers.
type ChatAPI interface {
	Snapshot(ctx context.Context, token string, sess auth.Session) (chat.View, error)
	Send(ctx context.Context, token string, sess auth.Session, content string) error
	Upload(ctx context.Context, token string, sess auth.Session, filename string, r io.Reader) (string, error)
	React(ctx context.Context, sess auth.Session, messageID, emoji string) error
}

// ChatHandler contains HTTP handlers for chat operations.
// All handlers expect auth.Middleware to have run and return JSON responses.
type ChatHandler struct {
	chats ChatAPI
	log   *zap.Logger
}

// NewChatHandler creates a new ChatHandler instance.
func NewChatHandler(chats ChatAPI, log *zap.Logger) *ChatHandler {
	return &ChatHandler{chats: chats, log: log.With(zap.String("component", "chat_handler"))}
}

// GetChat handles GET /api/chats/{id}
// Returns the chat header, participants and message history. {id} may be
// the class channel alias.
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "id")
	if token == "" {
		writeError(w, http.StatusBadRequest, "chat ID is required")
		return
	}

	view, err := h.chats.Snapshot(r.Context(), token, session(r))
	if err != nil {
		h.fail(w, "load chat", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SendMessage handles POST /api/chats/{id}/messages
// The message is not returned; it reaches every open conversation through
// the change feed.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "id")
	if token == "" {
		writeError(w, http.StatusBadRequest, "chat ID is required")
		return
	}

	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.chats.Send(r.Context(), token, session(r), req.Content); err != nil {
		h.fail(w, "send message", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// UploadMedia handles POST /api/chats/{id}/media
// Expects a multipart form with a "file" field.
func (h *ChatHandler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "id")
	if token == "" {
		writeError(w, http.StatusBadRequest, "chat ID is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	url, err := h.chats.Upload(r.Context(), token, session(r), header.Filename, file)
	if err != nil {
		h.fail(w, "upload media", err)
		return
	}
	writeJSON(w, http.StatusCreated, models.UploadResponse{URL: url})
}

// AddReaction handles POST /api/messages/{id}/reactions
func (h *ChatHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	if messageID == "" {
		writeError(w, http.StatusBadRequest, "message ID is required")
		return
	}

	var req models.ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.chats.React(r.Context(), session(r), messageID, req.Emoji); err != nil {
		h.fail(w, "add reaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// session returns the authenticated session, or a zero one that the chat
// core rejects with ErrNotAuthenticated.
func session(r *http.Request) auth.Session {
	sess, _ := auth.FromContext(r.Context())
	return sess
}

// fail maps an error to a status code and writes it.
func (h *ChatHandler) fail(w http.ResponseWriter, op string, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrEmptyReaction), errors.Is(err, chat.ErrEmptyToken):
		status = http.StatusBadRequest
	case errors.Is(err, chat.ErrNotAuthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, supabase.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		h.log.Error(op+" failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

// writeJSON is a helper function to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
