package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/adi-253/classroomx/backend/internal/models"
)

const chatWithParticipants = "*,chat_participants(user_id,profiles(id,name,avatar_url,role))"

// FindChatByName returns the first chat with the given name, or ErrNotFound.
func (c *Client) FindChatByName(ctx context.Context, name string) (*models.Chat, error) {
	q := url.Values{}
	q.Set("select", "id,name,type,created_at")
	q.Set("name", eq(name))
	q.Set("order", "created_at.asc")
	q.Set("limit", "1")

	var chats []models.Chat
	if err := c.selectRows(ctx, "chats", q, &chats); err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, ErrNotFound
	}
	return &chats[0], nil
}

// CreateChat inserts a chat and returns the stored row.
func (c *Client) CreateChat(ctx context.Context, name string, kind models.ChatKind) (*models.Chat, error) {
	respBody, err := c.doRequest(ctx, request{
		method: http.MethodPost,
		table:  "chats",
		body:   models.NewChat{Name: name, Kind: kind},
	})
	if err != nil {
		return nil, err
	}

	var chats []models.Chat
	if err := json.Unmarshal(respBody, &chats); err != nil {
		return nil, fmt.Errorf("failed to parse chat: %w", err)
	}
	if len(chats) == 0 {
		return nil, fmt.Errorf("create chat %q: empty representation", name)
	}
	return &chats[0], nil
}

// GetChat retrieves a chat with its participants and their profiles.
func (c *Client) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	q := url.Values{}
	q.Set("select", chatWithParticipants)
	q.Set("id", eq(id))

	var chats []models.Chat
	if err := c.selectRows(ctx, "chats", q, &chats); err != nil {
		return nil, err
	}
	if len(chats) == 0 {
		return nil, fmt.Errorf("chat %s: %w", id, ErrNotFound)
	}
	return &chats[0], nil
}

// AddParticipant inserts a (chat, user) membership row.
func (c *Client) AddParticipant(ctx context.Context, chatID, userID string) error {
	_, err := c.doRequest(ctx, request{
		method: http.MethodPost,
		table:  "chat_participants",
		body:   models.NewParticipant{ChatID: chatID, UserID: userID},
		prefer: "return=minimal",
	})
	return err
}
