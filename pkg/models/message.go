package models

// DeletedPlaceholder replaces the body of a deleted message.
const DeletedPlaceholder = "This message was deleted"

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
	AttachmentFile  AttachmentKind = "file"
)

func (k AttachmentKind) Valid() bool {
	switch k {
	case AttachmentImage, AttachmentVideo, AttachmentFile:
		return true
	}
	return false
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Body           string `json:"body,omitempty"`
	// Attachment is an opaque blob handle resolved to a URL at read time.
	Attachment     string         `json:"attachment,omitempty"`
	AttachmentKind AttachmentKind `json:"attachment_kind,omitempty"`
	ReplyTo        string         `json:"reply_to,omitempty"`
	Deleted        bool           `json:"deleted,omitempty"`
	Edited         bool           `json:"edited,omitempty"`
	DeletedBy      string         `json:"deleted_by,omitempty"`
	CreatedTS      int64          `json:"created_ts"`
}

type Reaction struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"`
	CreatedTS int64  `json:"created_ts"`
}

// ReactionGroup aggregates the reactions of one kind on a message.
type ReactionGroup struct {
	Kind    string   `json:"kind"`
	Count   int      `json:"count"`
	UserIDs []string `json:"user_ids"`
}

// ReplySnapshot is computed when the replying message is read, so it
// reflects edits and deletions of the target.
type ReplySnapshot struct {
	Body          string `json:"body"`
	SenderName    string `json:"sender_name"`
	HasAttachment bool   `json:"has_attachment"`
}

type MessageView struct {
	Message
	AttachmentURL    string         `json:"attachment_url,omitempty"`
	SenderName       string         `json:"sender_name"`
	SenderExternalID string         `json:"sender_external_id"`
	DeletedByName    string         `json:"deleted_by_name,omitempty"`
	Reply            *ReplySnapshot `json:"reply,omitempty"`
}
