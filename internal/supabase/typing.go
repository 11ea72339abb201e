package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/adi-253/classroomx/backend/internal/models"
)

// UpsertTyping creates or refreshes the (chat, user) typing indicator.
func (c *Client) UpsertTyping(ctx context.Context, ind models.TypingIndicator) error {
	q := url.Values{}
	q.Set("on_conflict", "chat_id,user_id")
	_, err := c.doRequest(ctx, request{
		method: http.MethodPost,
		table:  "typing_indicators",
		query:  q,
		body:   ind,
		prefer: "resolution=merge-duplicates,return=minimal",
	})
	return err
}

// DeleteTyping removes the (chat, user) typing indicator.
func (c *Client) DeleteTyping(ctx context.Context, chatID, userID string) error {
	q := url.Values{}
	q.Set("chat_id", eq(chatID))
	q.Set("user_id", eq(userID))
	_, err := c.doRequest(ctx, request{
		method: http.MethodDelete,
		table:  "typing_indicators",
		query:  q,
		prefer: "return=minimal",
	})
	return err
}

// ListTypists returns everyone currently typing in a chat except excludeUserID.
func (c *Client) ListTypists(ctx context.Context, chatID, excludeUserID string) ([]models.Typist, error) {
	q := url.Values{}
	q.Set("select", "user_id,profiles(name)")
	q.Set("chat_id", eq(chatID))
	if excludeUserID != "" {
		q.Set("user_id", neq(excludeUserID))
	}

	typists := []models.Typist{}
	if err := c.selectRows(ctx, "typing_indicators", q, &typists); err != nil {
		return nil, err
	}
	return typists, nil
}

// DeleteStaleTyping removes indicators not refreshed since threshold and
// returns how many rows were removed.
func (c *Client) DeleteStaleTyping(ctx context.Context, threshold time.Time) (int, error) {
	q := url.Values{}
	q.Set("updated_at", lt(threshold.UTC().Format(time.RFC3339)))
	respBody, err := c.doRequest(ctx, request{
		method: http.MethodDelete,
		table:  "typing_indicators",
		query:  q,
	})
	if err != nil {
		return 0, err
	}

	var removed []models.TypingIndicator
	if err := json.Unmarshal(respBody, &removed); err != nil {
		return 0, fmt.Errorf("failed to parse typing_indicators: %w", err)
	}
	return len(removed), nil
}
