package models

type Conversation struct {
	ID      string `json:"id"`
	IsGroup bool   `json:"is_group"`
	Name    string `json:"name,omitempty"`
	// AvatarRef is an opaque blob handle.
	AvatarRef string `json:"avatar_ref,omitempty"`
	// AdminID is set for groups only.
	AdminID       string `json:"admin_id,omitempty"`
	LastMessageID string `json:"last_message_id,omitempty"`
	CreatedTS     int64  `json:"created_ts"`
}

type Membership struct {
	ConversationID    string `json:"conversation_id"`
	UserID            string `json:"user_id"`
	LastReadMessageID string `json:"last_read_message_id,omitempty"`
	// HasRead is kept for older clients; the read cursor is authoritative.
	HasRead   bool  `json:"has_read"`
	CreatedTS int64 `json:"created_ts"`
}

type TypingStatus struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
	UpdatedTS      int64  `json:"updated_ts"`
}

// ConversationView is one row of a user's conversation list.
type ConversationView struct {
	Conversation Conversation `json:"conversation"`
	OtherUser    *UserView    `json:"other_user,omitempty"`
	LastMessage  *Message     `json:"last_message,omitempty"`
	Membership   Membership   `json:"membership"`
	Unread       bool         `json:"unread"`
}

// ConversationDetail is a single conversation with its peer for direct chats.
type ConversationDetail struct {
	Conversation
	OtherUser *UserView `json:"other_user,omitempty"`
}

type MemberView struct {
	Membership Membership `json:"membership"`
	User       UserView   `json:"user"`
}

type TypingView struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	UpdateTS int64  `json:"updated_ts"`
}
