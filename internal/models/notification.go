package models

// Notification is a row of the notifications table as delivered by the change feed.
type Notification struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Sound   string `json:"sound,omitempty"`
}
