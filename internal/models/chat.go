package models

import "time"

// ChatKind distinguishes direct conversations from group channels.
type ChatKind string

const (
	ChatKindOneToOne ChatKind = "1to1"
	ChatKindGroup    ChatKind = "group"
)

// Chat is a persisted conversation. Name is nil for most 1-to-1 chats.
type Chat struct {
	// ID is the unique identifier for the chat
	ID string `json:"id"`

	// Name is the stored display name, used as the header of group chats
	Name *string `json:"name"`

	// Kind never changes after creation
	Kind ChatKind `json:"type"`

	CreatedAt time.Time `json:"created_at"`

	// Participants is only populated when the chat is read with its members joined
	Participants []Participant `json:"chat_participants,omitempty"`
}

// DisplayName returns the stored name or an empty string.
func (c *Chat) DisplayName() string {
	if c.Name == nil {
		return ""
	}
	return *c.Name
}

// Profile is the public snapshot of a user that is joined onto participants,
// message senders and post authors.
type Profile struct {
	ID        string  `json:"id,omitempty"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url"`
	Role      *string `json:"role,omitempty"`
}

// RoleOrDefault returns the profile role, falling back to "Student".
func (p *Profile) RoleOrDefault() string {
	if p == nil || p.Role == nil || *p.Role == "" {
		return "Student"
	}
	return *p.Role
}

// Participant links a user to a chat. Unique per (chat, user).
type Participant struct {
	ChatID  string   `json:"chat_id,omitempty"`
	UserID  string   `json:"user_id"`
	Profile *Profile `json:"profiles,omitempty"`
}

// ChatHeader is what the conversation screen shows at the top: the other
// participant for 1-to-1 chats, the chat name for groups.
type ChatHeader struct {
	Name      string   `json:"name"`
	AvatarURL *string  `json:"avatar_url,omitempty"`
	Kind      ChatKind `json:"type"`
}

// NewChat is the insert shape for the chats table.
type NewChat struct {
	Name string   `json:"name"`
	Kind ChatKind `json:"type"`
}

// NewParticipant is the insert shape for the chat_participants table.
type NewParticipant struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}
