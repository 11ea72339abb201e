package chat

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/adi-253/classroomx/backend/internal/auth"
	"github.com/adi-253/classroomx/backend/internal/media"
	"github.com/adi-253/classroomx/backend/internal/metrics"
	"github.com/adi-253/classroomx/backend/internal/models"
	"github.com/adi-253/classroomx/backend/internal/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// typingDeleteTimeout bounds the delete issued when a typing pulse expires.
const typingDeleteTimeout = 10 * time.Second

// DefaultQuietPeriod is how long a typing indicator outlives the last keystroke.
const DefaultQuietPeriod = 3 * time.Second

// ChatIDSource reports the chat a composer writes to, "" while unresolved.
type ChatIDSource interface {
	ChatID() string
}

// ComposerConfig holds the collaborators of a Composer.
type ComposerConfig struct {
	Messages MessageWriter
	Typing   TypingWriter
	Media    MediaStore
	Chat     ChatIDSource
	Session  auth.Session
	Notifier Notifier
	Log      *zap.Logger

	Bucket      string
	MaxWidth    uint
	QuietPeriod time.Duration
}

// Composer submits outbound messages and typing pulses for one user in one
// chat. Messages are never echoed locally; they appear through the change
// feed like everyone else's.
type Composer struct {
	cfg ComposerConfig
	log *zap.Logger

	// typingMu orders typing writes so an expiry delete never lands after a
	// newer pulse's upsert. Taken before mu.
	typingMu sync.Mutex

	mu          sync.Mutex
	draft       string
	uploading   bool
	typingTimer *time.Timer
	typingChat  string
	typingGen   uint64
	closed      bool
}

// NewComposer creates a composer.
func NewComposer(cfg ComposerConfig) *Composer {
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = DefaultQuietPeriod
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{
		cfg: cfg,
		log: log.With(zap.String("component", "composer"), zap.String("user", cfg.Session.UserID)),
	}
}

// Draft returns the current input text.
func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Uploading reports whether an upload is in progress.
func (c *Composer) Uploading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploading
}

// SetDraft records the input text and pulses the typing indicator.
func (c *Composer) SetDraft(ctx context.Context, text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
	c.PulseTyping(ctx)
}

// Send inserts a message. A text send clears the draft before the write and
// puts the text back if the write fails. With a media URL and no caption the
// message is stored as an image placeholder and the draft is left alone.
func (c *Composer) Send(ctx context.Context, content, mediaURL string) error {
	content = strings.TrimSpace(content)
	if content == "" && mediaURL == "" {
		return ErrEmptyMessage
	}
	if !c.cfg.Session.Authenticated() {
		return ErrNotAuthenticated
	}
	chatID := c.cfg.Chat.ChatID()
	if chatID == "" {
		return ErrChatNotResolved
	}

	textSend := mediaURL == ""
	if textSend {
		c.mu.Lock()
		c.draft = ""
		c.mu.Unlock()
	}

	msg := models.NewMessage{
		ChatID:   chatID,
		SenderID: c.cfg.Session.UserID,
		Content:  content,
		Kind:     models.MessageKindText,
	}
	if mediaURL != "" {
		msg.MediaURL = &mediaURL
		msg.Kind = models.MessageKindImage
		if msg.Content == "" {
			msg.Content = models.ImagePlaceholder
		}
	}

	err := c.cfg.Messages.InsertMessage(ctx, msg)
	metrics.Writes.WithLabelValues("send", metrics.Outcome(err)).Inc()
	if err != nil {
		c.log.Error("send failed", zap.String("chat", chatID), zap.Error(err))
		c.notify("Send failed: "+err.Error(), notify.KindError)
		if textSend {
			c.mu.Lock()
			c.draft = content
			c.mu.Unlock()
		}
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// UploadAndSend stores the file under the chat and sender, then sends its
// public URL as an image message. It returns the URL.
func (c *Composer) UploadAndSend(ctx context.Context, filename string, r io.Reader) (string, error) {
	if !c.cfg.Session.Authenticated() {
		return "", ErrNotAuthenticated
	}
	chatID := c.cfg.Chat.ChatID()
	if chatID == "" {
		return "", ErrChatNotResolved
	}

	c.setUploading(true)
	defer c.setUploading(false)

	url, err := c.upload(ctx, chatID, filename, r)
	metrics.Writes.WithLabelValues("upload", metrics.Outcome(err)).Inc()
	if err != nil {
		c.log.Error("upload failed", zap.String("chat", chatID), zap.String("file", filename), zap.Error(err))
		c.notify("Upload failed", notify.KindError)
		return "", err
	}
	return url, c.Send(ctx, "", url)
}

func (c *Composer) upload(ctx context.Context, chatID, filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}

	ext := media.Extension(filename)
	if scaled, err := media.Downscale(data, ext, c.cfg.MaxWidth); err != nil {
		c.log.Warn("image downscale skipped", zap.String("file", filename), zap.Error(err))
	} else {
		data = scaled
	}

	path := fmt.Sprintf("chat/%s/%s/%s.%s", chatID, c.cfg.Session.UserID, uuid.NewString(), ext)
	if err := c.cfg.Media.Upload(ctx, c.cfg.Bucket, path, media.ContentType(ext), data); err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return c.cfg.Media.PublicURL(c.cfg.Bucket, path), nil
}

func (c *Composer) setUploading(v bool) {
	c.mu.Lock()
	c.uploading = v
	c.mu.Unlock()
}

// PulseTyping marks the user as typing and re-arms the quiet-period timer
// that deletes the indicator. Failures are logged only.
func (c *Composer) PulseTyping(ctx context.Context) {
	chatID := c.cfg.Chat.ChatID()
	if chatID == "" || !c.cfg.Session.Authenticated() {
		return
	}

	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.typingGen++
	gen := c.typingGen
	c.mu.Unlock()

	err := c.cfg.Typing.UpsertTyping(ctx, models.TypingIndicator{
		ChatID:    chatID,
		UserID:    c.cfg.Session.UserID,
		UpdatedAt: time.Now().UTC(),
	})
	metrics.Writes.WithLabelValues("typing_upsert", metrics.Outcome(err)).Inc()
	if err != nil {
		c.log.Warn("typing upsert failed", zap.String("chat", chatID), zap.Error(err))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if err == nil {
			c.deleteTyping(chatID)
		}
		return
	}
	if gen != c.typingGen {
		// A newer pulse owns the timer.
		c.mu.Unlock()
		return
	}
	c.typingChat = chatID
	c.typingTimer = time.AfterFunc(c.cfg.QuietPeriod, func() { c.expireTyping(gen) })
	c.mu.Unlock()
}

func (c *Composer) expireTyping(gen uint64) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	c.mu.Lock()
	if gen != c.typingGen || c.typingTimer == nil {
		c.mu.Unlock()
		return
	}
	c.typingTimer = nil
	chatID := c.typingChat
	c.mu.Unlock()

	c.deleteTyping(chatID)
}

// deleteTyping must be called with typingMu held.
func (c *Composer) deleteTyping(chatID string) {
	ctx, cancel := context.WithTimeout(context.Background(), typingDeleteTimeout)
	defer cancel()

	err := c.cfg.Typing.DeleteTyping(ctx, chatID, c.cfg.Session.UserID)
	metrics.Writes.WithLabelValues("typing_delete", metrics.Outcome(err)).Inc()
	if err != nil {
		c.log.Warn("typing delete failed", zap.String("chat", chatID), zap.Error(err))
	}
}

// Close stops the composer. A pending typing indicator is deleted now
// instead of when its timer would have fired.
func (c *Composer) Close() error {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.typingTimer != nil
	if pending {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.typingGen++
	chatID := c.typingChat
	c.mu.Unlock()

	if pending {
		c.deleteTyping(chatID)
	}
	return nil
}

func (c *Composer) notify(message string, kind notify.Kind) {
	if c.cfg.Notifier != nil {
		c.cfg.Notifier.Notify(message, kind)
	}
}
