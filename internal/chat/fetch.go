package chat

import (
	"context"
	"slices"

	"github.com/adi-253/classroomx/backend/internal/auth"
	"github.com/adi-253/classroomx/backend/internal/models"
)

// Fetch builds a one-off view of the chat behind token without subscribing
// to changes. It runs the same steps as a conversation's initialization,
// including the auto-join.
func Fetch(ctx context.Context, r *Resolver, store ConversationStore, sess auth.Session, token string) (View, error) {
	chatID, err := r.Resolve(ctx, token)
	if err != nil {
		return View{}, err
	}
	details, err := r.Load(ctx, chatID, sess)
	if err != nil {
		return View{}, err
	}
	msgs, err := store.ListMessages(ctx, chatID)
	if err != nil {
		return View{}, &InitError{Stage: StageMessages, Err: err}
	}

	seen := make(map[string]struct{}, len(msgs))
	held := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup || m.DeletedAt != nil {
			continue
		}
		seen[m.ID] = struct{}{}
		if m.Reactions == nil {
			m.Reactions = []models.Reaction{}
		}
		held = append(held, m)
	}
	slices.SortFunc(held, compareMessages)

	header := details.Header
	return View{
		Token:        token,
		ChatID:       chatID,
		Status:       StatusOnline,
		Header:       &header,
		Participants: details.Participants,
		Messages:     held,
		Typing:       []string{},
	}, nil
}
