package chat

import (
	"context"
	"errors"

	"github.com/adi-253/classroomx/backend/internal/auth"
	"github.com/adi-253/classroomx/backend/internal/models"
	"github.com/adi-253/classroomx/backend/internal/supabase"
	"go.uber.org/zap"
)

const (
	fallbackMemberName = "Chat Member"
	fallbackGroupName  = "Group Chat"
)

// Resolver maps route tokens to chats and loads their details.
type Resolver struct {
	store ChatStore
	alias string
	name  string
	log   *zap.Logger
}

// NewResolver creates a resolver where alias names the shared class channel
// stored under name.
func NewResolver(store ChatStore, alias, name string, log *zap.Logger) *Resolver {
	return &Resolver{
		store: store,
		alias: alias,
		name:  name,
		log:   log.With(zap.String("component", "resolver")),
	}
}

// Resolve returns the chat ID for token. The class channel alias is looked
// up by name and created on first use; any other token is already an ID.
func (r *Resolver) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", &InitError{Stage: StageConnection, Err: ErrEmptyToken}
	}
	if token != r.alias {
		return token, nil
	}

	chat, err := r.store.FindChatByName(ctx, r.name)
	if err == nil {
		return chat.ID, nil
	}
	if !errors.Is(err, supabase.ErrNotFound) {
		r.log.Error("class channel lookup failed", zap.Error(err))
		return "", &InitError{Stage: StageConnection, Err: err}
	}

	r.log.Info("class channel not found, creating", zap.String("name", r.name))
	chat, err = r.store.CreateChat(ctx, r.name, models.ChatKindGroup)
	if err == nil {
		return chat.ID, nil
	}

	// Another caller created it between our read and insert.
	if errors.Is(err, supabase.ErrConflict) {
		r.log.Info("class channel created concurrently, re-reading", zap.String("name", r.name))
		chat, rerr := r.store.FindChatByName(ctx, r.name)
		if rerr == nil {
			return chat.ID, nil
		}
		err = rerr
	}

	r.log.Error("class channel creation failed", zap.Error(err))
	return "", &InitError{Stage: StageCreate, Err: err}
}

// Details is a chat with its participants and the derived header.
type Details struct {
	Chat         *models.Chat
	Participants []models.Participant
	Header       models.ChatHeader

	// Joined is set when the session user was added as a participant.
	Joined bool
}

// Load fetches the chat with its participants and auto-joins the session
// user. A failed auto-join is logged and otherwise ignored.
func (r *Resolver) Load(ctx context.Context, chatID string, sess auth.Session) (*Details, error) {
	chat, err := r.store.GetChat(ctx, chatID)
	if err != nil {
		r.log.Error("chat details fetch failed", zap.String("chat", chatID), zap.Error(err))
		return nil, &InitError{Stage: StageDetails, Err: err}
	}

	participants := withRoles(chat.Participants)
	d := &Details{
		Chat:         chat,
		Participants: participants,
		Header:       Header(chat, sess.UserID),
	}

	if sess.Authenticated() && !isParticipant(participants, sess.UserID) {
		if err := r.store.AddParticipant(ctx, chatID, sess.UserID); err != nil {
			r.log.Warn("auto-join failed", zap.String("chat", chatID), zap.String("user", sess.UserID), zap.Error(err))
		} else {
			r.log.Info("auto-joined chat", zap.String("chat", chatID), zap.String("user", sess.UserID))
			d.Joined = true
		}
	}
	return d, nil
}

// Header derives what the conversation screen shows at the top: the other
// participant of a 1-to-1 chat, or the group's name.
func Header(chat *models.Chat, selfID string) models.ChatHeader {
	if chat.Kind != models.ChatKindOneToOne {
		name := chat.DisplayName()
		if name == "" {
			name = fallbackGroupName
		}
		return models.ChatHeader{Name: name, Kind: models.ChatKindGroup}
	}

	h := models.ChatHeader{Name: fallbackMemberName, Kind: models.ChatKindOneToOne}
	for _, p := range chat.Participants {
		if p.UserID == selfID || p.Profile == nil {
			continue
		}
		if p.Profile.Name != "" {
			h.Name = p.Profile.Name
		}
		h.AvatarURL = p.Profile.AvatarURL
		break
	}
	return h
}

// withRoles copies ps so every member carries a profile with a role.
// Members without one are shown as students.
func withRoles(ps []models.Participant) []models.Participant {
	out := make([]models.Participant, len(ps))
	for i, p := range ps {
		prof := models.Profile{ID: p.UserID}
		if p.Profile != nil {
			prof = *p.Profile
		}
		role := p.Profile.RoleOrDefault()
		prof.Role = &role
		p.Profile = &prof
		out[i] = p
	}
	return out
}

func isParticipant(ps []models.Participant, userID string) bool {
	for _, p := range ps {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
