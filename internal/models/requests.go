package models

// SendMessageRequest is the body of POST /api/chats/{id}/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// ReactionRequest is the body of POST /api/messages/{id}/reactions.
type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

// UploadResponse is returned after an image has been stored and sent.
type UploadResponse struct {
	URL string `json:"url"`
}

// ErrorResponse is the JSON error body of the REST API.
type ErrorResponse struct {
	Error string `json:"error"`
}
