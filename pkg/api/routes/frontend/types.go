package frontend

import (
	"convodb/pkg/api/auth"
	"convodb/pkg/blob"
	"convodb/pkg/chat"
)

// Handlers serves the client-facing API. Blobs and Sessions may be nil when
// uploads or session tokens are not configured.
type Handlers struct {
	Chat     *chat.Service
	Sessions *auth.Sessions
	Blobs    *blob.Signer
}

type createDirectRequest struct {
	UserID string `json:"user_id"`
}

type typingRequest struct {
	IsTyping bool `json:"is_typing"`
}

type editRequest struct {
	Body string `json:"body"`
}

type reactionRequest struct {
	Kind string `json:"kind"`
}

type idResponse struct {
	ID string `json:"id"`
}

type sessionResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"`
}
