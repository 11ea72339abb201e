package chat

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/adi-253/classroomx/backend/internal/auth"
	"github.com/adi-253/classroomx/backend/internal/metrics"
	"github.com/adi-253/classroomx/backend/internal/models"
	"go.uber.org/zap"
)

// QuickReactions are the emoji offered by the picker.
var QuickReactions = []string{"👍", "❤️", "😂", "😮", "😢", "🔥"}

// ReactionOverlay tracks the single open reaction picker and submits
// reactions. Reactions are best effort: failures are logged, not shown.
type ReactionOverlay struct {
	store   ReactionWriter
	session auth.Session
	log     *zap.Logger

	mu   sync.Mutex
	open string
}

// NewReactionOverlay creates an overlay with no picker open.
func NewReactionOverlay(store ReactionWriter, sess auth.Session, log *zap.Logger) *ReactionOverlay {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReactionOverlay{
		store:   store,
		session: sess,
		log:     log.With(zap.String("component", "reactions")),
	}
}

// Toggle opens the picker of messageID, closing any other, or closes it if
// it is already open. It returns the message whose picker is now open.
func (o *ReactionOverlay) Toggle(messageID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.open == messageID {
		o.open = ""
	} else {
		o.open = messageID
	}
	return o.open
}

// Open returns the message whose picker is open, or "".
func (o *ReactionOverlay) Open() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open
}

// React adds emoji to messageID and closes the picker on success.
func (o *ReactionOverlay) React(ctx context.Context, messageID, emoji string) error {
	if !o.session.Authenticated() {
		return ErrNotAuthenticated
	}
	if emoji == "" {
		return ErrEmptyReaction
	}

	err := o.store.InsertReaction(ctx, models.NewReaction{
		MessageID: messageID,
		UserID:    o.session.UserID,
		Emoji:     emoji,
	})
	metrics.Writes.WithLabelValues("react", metrics.Outcome(err)).Inc()
	if err != nil {
		o.log.Warn("reaction failed", zap.String("message", messageID), zap.String("emoji", emoji), zap.Error(err))
		return fmt.Errorf("add reaction: %w", err)
	}

	o.mu.Lock()
	o.open = ""
	o.mu.Unlock()
	return nil
}

// ReactionCount is one emoji and how many times it was used on a message.
type ReactionCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// Label renders the emoji, with the count only when it is above one.
func (rc ReactionCount) Label() string {
	if rc.Count > 1 {
		return rc.Emoji + " " + strconv.Itoa(rc.Count)
	}
	return rc.Emoji
}

// Aggregate groups reactions by emoji in first-seen order. The same user
// reacting twice counts twice.
func Aggregate(reactions []models.Reaction) []ReactionCount {
	counts := make([]ReactionCount, 0, len(reactions))
	index := make(map[string]int, len(reactions))
	for _, r := range reactions {
		if i, ok := index[r.Emoji]; ok {
			counts[i].Count++
			continue
		}
		index[r.Emoji] = len(counts)
		counts = append(counts, ReactionCount{Emoji: r.Emoji, Count: 1})
	}
	return counts
}
