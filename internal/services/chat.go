package services

import (
	"context"
	"fmt"
	"io"

	"github.com/adi-253/classroomx/backend/internal/auth"
	"github.com/adi-253/classroomx/backend/internal/chat"
	"github.com/adi-253/classroomx/backend/internal/config"
	"github.com/adi-253/classroomx/backend/internal/notify"
	"github.com/adi-253/classroomx/backend/internal/supabase"
	"go.uber.org/zap"
)

// Store is everything the chat core reads and writes. *supabase.Client
// satisfies it.
type Store interface {
	chat.ChatStore
	chat.ConversationStore
	chat.MessageWriter
	chat.TypingWriter
	chat.ReactionWriter
	chat.MediaStore
}

// StoreFor returns the Store that acts for the user holding accessToken.
type StoreFor func(accessToken string) Store

// UserStores scopes db to each caller's access token, so row level security
// bounds what a user can read and write.
func UserStores(db *supabase.Client) StoreFor {
	return func(accessToken string) Store {
		return db.AsUser(accessToken)
	}
}

// Subscriber opens realtime channels on behalf of a user.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, accessToken string, bindings []supabase.Binding) (*supabase.Channel, error)
}

// realtimeFeed subscribes with the session's access token, so row level
// security decides which changes the user sees.
type realtimeFeed struct {
	rt    Subscriber
	token string
}

func (f realtimeFeed) Subscribe(ctx context.Context, topic string, bindings []supabase.Binding) (chat.Stream, error) {
	ch, err := f.rt.Subscribe(ctx, topic, f.token, bindings)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// resolvedChat is a chat ID known up front.
type resolvedChat string

func (c resolvedChat) ChatID() string { return string(c) }

// ChatService handles all chat-related business logic.
// It wires the chat core to the gateway, the change feed and the
// notification service for one user at a time.
type ChatService struct {
	stores   StoreFor
	realtime Subscriber
	notifier *notify.Service
	cfg      *config.Config
	log      *zap.Logger
}

// NewChatService creates a new ChatService instance.
func NewChatService(stores StoreFor, rt Subscriber, notifier *notify.Service, cfg *config.Config, log *zap.Logger) *ChatService {
	return &ChatService{
		stores:   stores,
		realtime: rt,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With(zap.String("component", "chat_service")),
	}
}

func (s *ChatService) resolver(db Store) *chat.Resolver {
	return chat.NewResolver(db, s.cfg.ClassChannelAlias, s.cfg.ClassChannelName, s.log)
}

// Session is one user's open chat screen: the live conversation plus the
// composer and reaction overlay writing into it.
type Session struct {
	Conversation *chat.Conversation
	Composer     *chat.Composer
	Reactions    *chat.ReactionOverlay
}

// Close flushes the composer and tears the conversation down.
func (s *Session) Close() error {
	s.Composer.Close()
	return s.Conversation.Close()
}

// Open starts a live conversation for token. The caller must Close it.
func (s *ChatService) Open(ctx context.Context, token string, sess auth.Session) *Session {
	db := s.stores(sess.AccessToken)
	conv := chat.Open(ctx, chat.Config{
		Resolver:       s.resolver(db),
		Store:          db,
		Feed:           realtimeFeed{rt: s.realtime, token: sess.AccessToken},
		Session:        sess,
		Log:            s.log,
		ConnectTimeout: s.cfg.ConnectTimeout,
	}, token)

	return &Session{
		Conversation: conv,
		Composer:     s.composer(db, conv, sess),
		Reactions:    chat.NewReactionOverlay(db, sess, s.log),
	}
}

func (s *ChatService) composer(db Store, chatID chat.ChatIDSource, sess auth.Session) *chat.Composer {
	return chat.NewComposer(chat.ComposerConfig{
		Messages:    db,
		Typing:      db,
		Media:       db,
		Chat:        chatID,
		Session:     sess,
		Notifier:    s.notifier.For(sess.UserID),
		Log:         s.log,
		Bucket:      s.cfg.MediaBucket,
		MaxWidth:    s.cfg.MediaMaxWidth,
		QuietPeriod: s.cfg.TypingQuietPeriod,
	})
}

// Snapshot reads the chat behind token once, without subscribing.
func (s *ChatService) Snapshot(ctx context.Context, token string, sess auth.Session) (chat.View, error) {
	db := s.stores(sess.AccessToken)
	return chat.Fetch(ctx, s.resolver(db), db, sess, token)
}

// Send posts a text message to the chat behind token.
func (s *ChatService) Send(ctx context.Context, token string, sess auth.Session, content string) error {
	db := s.stores(sess.AccessToken)
	chatID, err := s.resolver(db).Resolve(ctx, token)
	if err != nil {
		return err
	}
	c := s.composer(db, resolvedChat(chatID), sess)
	defer c.Close()
	return c.Send(ctx, content, "")
}

// Upload stores a file in the chat behind token and sends it as an image
// message. It returns the public URL.
func (s *ChatService) Upload(ctx context.Context, token string, sess auth.Session, filename string, r io.Reader) (string, error) {
	db := s.stores(sess.AccessToken)
	chatID, err := s.resolver(db).Resolve(ctx, token)
	if err != nil {
		return "", err
	}
	c := s.composer(db, resolvedChat(chatID), sess)
	defer c.Close()
	return c.UploadAndSend(ctx, filename, r)
}

// React adds a reaction to a message.
func (s *ChatService) React(ctx context.Context, sess auth.Session, messageID, emoji string) error {
	return chat.NewReactionOverlay(s.stores(sess.AccessToken), sess, s.log).React(ctx, messageID, emoji)
}

// ListenAlerts forwards the user's new notification rows as toasts until
// the returned stream is closed.
func (s *ChatService) ListenAlerts(ctx context.Context, sess auth.Session) (chat.Stream, error) {
	ch, err := s.realtime.Subscribe(ctx, "notifications:"+sess.UserID, sess.AccessToken,
		[]supabase.Binding{notify.NotificationBinding(sess.UserID)})
	if err != nil {
		return nil, fmt.Errorf("subscribe to notifications: %w", err)
	}
	go s.notifier.Forward(ctx, sess.UserID, ch.Changes())
	return ch, nil
}
