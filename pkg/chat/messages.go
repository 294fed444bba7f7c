package chat

import (
	"context"
	"strings"

	"convodb/pkg/models"
	"convodb/pkg/state/logger"
	"convodb/pkg/store/db"
	"convodb/pkg/store/keys"
	"convodb/pkg/telemetry"
)

type SendParams struct {
	ConversationID string                `json:"conversation_id"`
	Body           string                `json:"body"`
	Attachment     string                `json:"attachment"`
	AttachmentKind models.AttachmentKind `json:"attachment_kind"`
	ReplyTo        string                `json:"reply_to"`
}

// Send appends a message and moves the conversation's last-message pointer
// and the sender's read cursor to it.
func (s *Service) Send(ctx context.Context, sess Session, p SendParams) (string, error) {
	const op = "send"
	tr := telemetry.Track("chat.send")
	defer tr.Finish()

	if strings.TrimSpace(p.Body) == "" && p.Attachment == "" {
		return "", newError(op, ErrInvalidArgument, "message needs a body or an attachment")
	}
	if p.Attachment == "" && p.AttachmentKind != "" {
		return "", newError(op, ErrInvalidArgument, "attachment kind without attachment")
	}
	if p.Attachment != "" {
		if p.AttachmentKind == "" {
			p.AttachmentKind = models.AttachmentFile
		}
		if !p.AttachmentKind.Valid() {
			return "", newError(op, ErrInvalidArgument, "unknown attachment kind %q", p.AttachmentKind)
		}
	}

	var msgID string
	err := s.store.Update(ctx, func(txn *db.Txn) error {
		conv, err := requireConversation(op, txn, p.ConversationID)
		if err != nil {
			return err
		}
		mb, err := requireMembership(op, txn, conv.ID, sess.UserID)
		if err != nil {
			return err
		}
		if p.ReplyTo != "" {
			target, ok, err := loadMessage(txn, p.ReplyTo)
			if err != nil {
				return err
			}
			if !ok || target.ConversationID != conv.ID {
				return newError(op, ErrInvalidArgument, "reply target %s is not in this conversation", p.ReplyTo)
			}
		}
		tr.Mark("validate")

		msg := models.Message{
			ID:             keys.NewID(),
			ConversationID: conv.ID,
			SenderID:       sess.UserID,
			Body:           p.Body,
			Attachment:     p.Attachment,
			AttachmentKind: p.AttachmentKind,
			ReplyTo:        p.ReplyTo,
			CreatedTS:      s.now(),
		}
		msgID = msg.ID
		if err := txn.SetJSON(keys.GenMessageKey(msg.ID), msg); err != nil {
			return err
		}
		if err := txn.Set(keys.GenConversationMessageIndex(conv.ID, msg.CreatedTS, msg.ID), nil); err != nil {
			return err
		}
		conv.LastMessageID = msg.ID
		if err := txn.SetJSON(keys.GenConversationKey(conv.ID), conv); err != nil {
			return err
		}
		mb.LastReadMessageID = msg.ID
		mb.HasRead = true
		return txn.SetJSON(keys.GenMembershipKey(conv.ID, sess.UserID), mb)
	})
	if err != nil {
		return "", err
	}
	logger.Debug("message_sent", "message_id", msgID, "conversation_id", p.ConversationID, "sender", sess.UserID)
	return msgID, nil
}

// List returns a conversation's messages oldest first, with sender names,
// resolved attachment URLs and reply snapshots. Unknown conversations
// yield an empty list.
func (s *Service) List(txn *db.Txn, sess Session, convID string) ([]models.MessageView, error) {
	const op = "list_messages"
	if _, ok, err := loadConversation(txn, convID); err != nil || !ok {
		return []models.MessageView{}, err
	}
	if _, err := requireMembership(op, txn, convID, sess.UserID); err != nil {
		return nil, err
	}
	var ids []string
	err := txn.Scan(keys.GenConversationMessagePrefix(convID), func(k string, _ []byte) error {
		parts, err := keys.ParseConversationMessageIndex(k)
		if err != nil {
			return err
		}
		ids = append(ids, parts.MsgID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	users := newUserCache(txn)
	byID := make(map[string]models.Message, len(ids))
	out := make([]models.MessageView, 0, len(ids))
	for _, id := range ids {
		msg, ok, err := loadMessage(txn, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		byID[id] = msg
		v, err := s.messageView(txn, users, byID, msg)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Service) messageView(txn *db.Txn, users *userCache, byID map[string]models.Message, msg models.Message) (models.MessageView, error) {
	v := models.MessageView{Message: msg, AttachmentURL: s.resolve(msg.Attachment)}
	sender, err := users.get(msg.SenderID)
	if err != nil {
		return v, err
	}
	if sender != nil {
		v.SenderName = sender.Name
		v.SenderExternalID = sender.ExternalID
	} else {
		v.SenderName = "Unknown"
	}
	if msg.DeletedBy != "" {
		if v.DeletedByName, err = users.name(msg.DeletedBy); err != nil {
			return v, err
		}
	}
	if msg.ReplyTo == "" {
		return v, nil
	}
	target, ok := byID[msg.ReplyTo]
	if !ok {
		if target, ok, err = loadMessage(txn, msg.ReplyTo); err != nil {
			return v, err
		}
	}
	if !ok {
		return v, nil
	}
	name, err := users.name(target.SenderID)
	if err != nil {
		return v, err
	}
	v.Reply = &models.ReplySnapshot{
		Body:          target.Body,
		SenderName:    name,
		HasAttachment: target.Attachment != "",
	}
	return v, nil
}

// Edit replaces the body of the caller's own message within the edit window.
func (s *Service) Edit(ctx context.Context, sess Session, msgID, body string) error {
	const op = "edit"
	if strings.TrimSpace(body) == "" {
		return newError(op, ErrInvalidArgument, "body is required")
	}
	return s.store.Update(ctx, func(txn *db.Txn) error {
		msg, err := requireMessage(op, txn, msgID)
		if err != nil {
			return err
		}
		if msg.SenderID != sess.UserID {
			return newError(op, ErrUnauthorized, "only the sender can edit a message")
		}
		if msg.Deleted {
			return newError(op, ErrInvalidState, "message %s is deleted", msgID)
		}
		if s.now()-msg.CreatedTS > s.opts.EditWindow.Nanoseconds() {
			return newError(op, ErrExpired, "edit window of %s has passed", s.opts.EditWindow)
		}
		msg.Body = body
		msg.Edited = true
		return txn.SetJSON(keys.GenMessageKey(msgID), msg)
	})
}

// Delete tombstones a message. The sender may delete their own messages
// and a group admin may delete any message in the group.
func (s *Service) Delete(ctx context.Context, sess Session, msgID string) error {
	const op = "delete"
	err := s.store.Update(ctx, func(txn *db.Txn) error {
		msg, err := requireMessage(op, txn, msgID)
		if err != nil {
			return err
		}
		conv, err := requireConversation(op, txn, msg.ConversationID)
		if err != nil {
			return err
		}
		isAdmin := conv.IsGroup && conv.AdminID == sess.UserID
		if msg.SenderID != sess.UserID && !isAdmin {
			return newError(op, ErrUnauthorized, "not allowed to delete message %s", msgID)
		}
		if msg.Deleted {
			return newError(op, ErrInvalidState, "message %s is already deleted", msgID)
		}
		msg.Deleted = true
		msg.DeletedBy = sess.UserID
		msg.Body = models.DeletedPlaceholder
		msg.Attachment = ""
		msg.AttachmentKind = ""
		return txn.SetJSON(keys.GenMessageKey(msgID), msg)
	})
	if err == nil {
		logger.Info("message_deleted", "message_id", msgID, "by", sess.UserID)
	}
	return err
}
