package models

type User struct {
	ID string `json:"id"`
	// ExternalID is the identity provider's stable subject; unique per user.
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	AvatarRef  string `json:"avatar_ref,omitempty"`
	CreatedTS  int64  `json:"created_ts"`
}

// Presence is stored apart from the profile so heartbeats do not touch
// readers that only care about names and avatars.
type Presence struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
	LastSeen int64  `json:"last_seen"`
}

// UserView is a profile joined with its presence record.
type UserView struct {
	User
	IsOnline bool  `json:"is_online"`
	LastSeen int64 `json:"last_seen,omitempty"`
}
