package chat

import (
	"context"

	"github.com/adi-253/classroomx/backend/internal/models"
	"github.com/adi-253/classroomx/backend/internal/notify"
	"github.com/adi-253/classroomx/backend/internal/supabase"
)

// ChatStore reads and creates chats and their participants.
type ChatStore interface {
	FindChatByName(ctx context.Context, name string) (*models.Chat, error)
	CreateChat(ctx context.Context, name string, kind models.ChatKind) (*models.Chat, error)
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	AddParticipant(ctx context.Context, chatID, userID string) error
}

// ConversationStore is what a Conversation reads while it is open.
type ConversationStore interface {
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListTypists(ctx context.Context, chatID, excludeUserID string) ([]models.Typist, error)
}

type MessageWriter interface {
	InsertMessage(ctx context.Context, msg models.NewMessage) error
}

type TypingWriter interface {
	UpsertTyping(ctx context.Context, ind models.TypingIndicator) error
	DeleteTyping(ctx context.Context, chatID, userID string) error
}

type ReactionWriter interface {
	InsertReaction(ctx context.Context, r models.NewReaction) error
}

// MediaStore is object storage with public URLs.
type MediaStore interface {
	Upload(ctx context.Context, bucket, path, contentType string, data []byte) error
	PublicURL(bucket, path string) string
}

// Stream is a live change subscription. Close unsubscribes; after it the
// Changes channel is eventually closed.
type Stream interface {
	Changes() <-chan supabase.Change
	Close() error
}

// ChangeFeed opens change subscriptions. ctx bounds the subscription
// handshake only; the stream lives until it is closed.
type ChangeFeed interface {
	Subscribe(ctx context.Context, topic string, bindings []supabase.Binding) (Stream, error)
}

// Notifier shows a transient message to the current user.
type Notifier interface {
	Notify(message string, kind notify.Kind)
}

// Table names on the change feed.
const (
	tableMessages  = "messages"
	tableReactions = "message_reactions"
	tableTyping    = "typing_indicators"
)

// Topic is the realtime topic a conversation subscribes to.
func Topic(chatID string) string {
	return "chat:" + chatID
}

// Bindings are the three change streams a conversation consumes: message
// inserts and typing changes for the chat, and every reaction change.
// Reactions cannot be filtered by chat, so they are matched to held
// messages on arrival.
func Bindings(chatID string) []supabase.Binding {
	filter := "chat_id=eq." + chatID
	return []supabase.Binding{
		{Event: supabase.EventInsert, Schema: "public", Table: tableMessages, Filter: filter},
		{Event: supabase.EventAll, Schema: "public", Table: tableReactions},
		{Event: supabase.EventAll, Schema: "public", Table: tableTyping, Filter: filter},
	}
}
