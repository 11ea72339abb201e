package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/adi-253/classroomx/backend/internal/models"
)

// messageWithJoins embeds everything the conversation view renders.
const messageWithJoins = "*," +
	"sender:sender_id(name,avatar_url)," +
	"message_reactions(id,message_id,emoji,user_id)," +
	"shared_posts(id,post_id,posts(id,content,user_id,profiles(name,avatar_url)))"

// ListMessages returns the non-deleted messages of a chat, oldest first.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	q := url.Values{}
	q.Set("select", messageWithJoins)
	q.Set("chat_id", eq(chatID))
	q.Set("deleted_at", "is.null")
	q.Set("order", "created_at.asc")

	messages := []models.Message{}
	if err := c.selectRows(ctx, "messages", q, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// GetMessage re-reads one message with its full joins.
func (c *Client) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	q := url.Values{}
	q.Set("select", messageWithJoins)
	q.Set("id", eq(id))

	var messages []models.Message
	if err := c.selectRows(ctx, "messages", q, &messages); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return &messages[0], nil
}

// InsertMessage stores an outbound message. The stored row reaches clients
// through the change feed, not through this call.
func (c *Client) InsertMessage(ctx context.Context, msg models.NewMessage) error {
	_, err := c.doRequest(ctx, request{
		method: http.MethodPost,
		table:  "messages",
		body:   []models.NewMessage{msg},
		prefer: "return=minimal",
	})
	return err
}

// InsertReaction stores one emoji reaction.
func (c *Client) InsertReaction(ctx context.Context, r models.NewReaction) error {
	_, err := c.doRequest(ctx, request{
		method: http.MethodPost,
		table:  "message_reactions",
		body:   r,
		prefer: "return=minimal",
	})
	return err
}
