package models

import "time"

// MessageKind tells the client how to render a message.
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindImage MessageKind = "image"
	MessageKindPost  MessageKind = "post"
)

// ImagePlaceholder is stored as the content of an image sent without a caption.
const ImagePlaceholder = "📷 Image"

// Message is a chat message as read back with its joins: sender profile,
// reactions and the shared post, if any.
type Message struct {
	// ID is the unique identifier for this message
	ID string `json:"id"`

	// ChatID is the chat this message belongs to
	ChatID string `json:"chat_id"`

	// SenderID is the author's user ID
	SenderID string `json:"sender_id"`

	Content  *string     `json:"content"`
	MediaURL *string     `json:"media_url"`
	Kind     MessageKind `json:"message_type"`

	// CreatedAt orders messages within a chat
	CreatedAt time.Time `json:"created_at"`

	// DeletedAt is the soft-delete marker
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	Sender      *Profile     `json:"sender,omitempty"`
	Reactions   []Reaction   `json:"message_reactions"`
	SharedPosts []SharedPost `json:"shared_posts,omitempty"`
}

// HasReaction reports whether a reaction with the given ID is already attached.
func (m *Message) HasReaction(id string) bool {
	for _, r := range m.Reactions {
		if r.ID == id {
			return true
		}
	}
	return false
}

// SharedPost links a message to a feed post.
type SharedPost struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
	Post   *Post  `json:"posts,omitempty"`
}

// Post is the subset of a feed post shown in a shared-post preview.
type Post struct {
	ID      string   `json:"id"`
	Content string   `json:"content"`
	UserID  string   `json:"user_id"`
	Author  *Profile `json:"profiles,omitempty"`
}

// Reaction is one emoji reaction. A user may react to the same message more
// than once.
type Reaction struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id,omitempty"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// NewMessage is the insert shape for the messages table.
type NewMessage struct {
	ChatID   string      `json:"chat_id"`
	SenderID string      `json:"sender_id"`
	Content  string      `json:"content"`
	MediaURL *string     `json:"media_url"`
	Kind     MessageKind `json:"message_type"`
}

// NewReaction is the insert shape for the message_reactions table.
type NewReaction struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// TypingIndicator is the ephemeral "is typing" row, keyed by (chat, user).
type TypingIndicator struct {
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Typist is a typing indicator read back with the typist's profile.
type Typist struct {
	UserID  string   `json:"user_id"`
	Profile *Profile `json:"profiles,omitempty"`
}

// Name returns the typist's display name.
func (t Typist) Name() string {
	if t.Profile == nil {
		return ""
	}
	return t.Profile.Name
}
