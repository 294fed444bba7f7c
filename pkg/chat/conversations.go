package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"convodb/pkg/models"
	"convodb/pkg/state/logger"
	"convodb/pkg/store/db"
	"convodb/pkg/store/keys"
	"convodb/pkg/telemetry"
)

// CreateDirect returns the direct conversation between the caller and
// otherUserID, creating it if needed. The pair index key is read inside the
// transaction, so two racing creators conflict and the loser retries into
// the winner's conversation.
func (s *Service) CreateDirect(ctx context.Context, sess Session, otherUserID string) (string, error) {
	const op = "create_direct"
	tr := telemetry.Track("chat.create_direct")
	defer tr.Finish()

	if otherUserID == "" || otherUserID == sess.UserID {
		return "", newError(op, ErrInvalidArgument, "a direct conversation needs another user")
	}
	var convID string
	var created bool
	err := s.store.Update(ctx, func(txn *db.Txn) error {
		created = false
		if _, err := requireUser(op, txn, sess.UserID); err != nil {
			return err
		}
		if _, err := requireUser(op, txn, otherUserID); err != nil {
			return err
		}
		pairKey := keys.GenDirectPairIndex(sess.UserID, otherUserID)
		existing, err := txn.Get(pairKey)
		if err == nil {
			convID = string(existing)
			return nil
		}
		if !db.IsNotFound(err) {
			return err
		}

		now := s.now()
		convID = keys.NewID()
		conv := models.Conversation{ID: convID, CreatedTS: now}
		if err := txn.SetJSON(keys.GenConversationKey(convID), conv); err != nil {
			return err
		}
		for _, uid := range []string{sess.UserID, otherUserID} {
			if err := addMember(txn, convID, uid, now); err != nil {
				return err
			}
		}
		created = true
		return txn.Set(pairKey, []byte(convID))
	})
	if err != nil {
		return "", err
	}
	if created {
		logger.Info("conversation_created", "conversation_id", convID, "kind", "direct", "by", sess.UserID)
	}
	return convID, nil
}

type CreateGroupParams struct {
	MemberIDs []string `json:"member_ids"`
	Name      string   `json:"name"`
	AvatarRef string   `json:"avatar_ref"`
}

// CreateGroup creates a group administered by the caller.
func (s *Service) CreateGroup(ctx context.Context, sess Session, p CreateGroupParams) (string, error) {
	const op = "create_group"
	tr := telemetry.Track("chat.create_group")
	defer tr.Finish()

	name := strings.TrimSpace(p.Name)
	if name == "" {
		return "", newError(op, ErrInvalidArgument, "group name is required")
	}
	members := make([]string, 0, len(p.MemberIDs)+1)
	members = append(members, sess.UserID)
	seen := map[string]bool{sess.UserID: true}
	for _, id := range p.MemberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}

	var convID string
	err := s.store.Update(ctx, func(txn *db.Txn) error {
		for _, uid := range members {
			if _, err := requireUser(op, txn, uid); err != nil {
				return err
			}
		}
		now := s.now()
		convID = keys.NewID()
		conv := models.Conversation{
			ID:        convID,
			IsGroup:   true,
			Name:      name,
			AvatarRef: p.AvatarRef,
			AdminID:   sess.UserID,
			CreatedTS: now,
		}
		if err := txn.SetJSON(keys.GenConversationKey(convID), conv); err != nil {
			return err
		}
		for _, uid := range members {
			if err := addMember(txn, convID, uid, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	logger.Info("conversation_created", "conversation_id", convID, "kind", "group", "by", sess.UserID, "members", len(members))
	return convID, nil
}

func addMember(txn *db.Txn, convID, userID string, now int64) error {
	m := models.Membership{ConversationID: convID, UserID: userID, HasRead: true, CreatedTS: now}
	if err := txn.SetJSON(keys.GenMembershipKey(convID, userID), m); err != nil {
		return err
	}
	return txn.Set(keys.GenRelUserInConversation(userID, convID), nil)
}

// ListForUser returns the caller's conversations, most recently active first.
func (s *Service) ListForUser(txn *db.Txn, sess Session) ([]models.ConversationView, error) {
	const op = "list_conversations"
	if _, err := requireUser(op, txn, sess.UserID); err != nil {
		return nil, err
	}
	var convIDs []string
	err := txn.Scan(keys.GenRelUserPrefix(sess.UserID), func(k string, _ []byte) error {
		parts, err := keys.ParseRelUserKey(k)
		if err != nil {
			return err
		}
		convIDs = append(convIDs, parts.ConvID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.ConversationView, 0, len(convIDs))
	for _, id := range convIDs {
		conv, ok, err := loadConversation(txn, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		mb, ok, err := loadMembership(txn, id, sess.UserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		cv := models.ConversationView{Conversation: conv, Membership: mb}
		if conv.LastMessageID != "" {
			msg, ok, err := loadMessage(txn, conv.LastMessageID)
			if err != nil {
				return nil, err
			}
			if ok {
				cv.LastMessage = &msg
				cv.Unread = mb.LastReadMessageID != conv.LastMessageID
			}
		}
		if !conv.IsGroup {
			other, err := s.otherMember(txn, id, sess.UserID)
			if err != nil {
				return nil, err
			}
			cv.OtherUser = other
		}
		out = append(out, cv)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := activity(out[i]), activity(out[j])
		if ai != aj {
			return ai > aj
		}
		return out[i].Conversation.ID > out[j].Conversation.ID
	})
	return out, nil
}

func activity(cv models.ConversationView) int64 {
	if cv.LastMessage != nil {
		return cv.LastMessage.CreatedTS
	}
	return cv.Conversation.CreatedTS
}

func (s *Service) otherMember(txn *db.Txn, convID, userID string) (*models.UserView, error) {
	members, err := listMemberships(txn, convID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.UserID == userID {
			continue
		}
		u, ok, err := loadUser(txn, m.UserID)
		if err != nil || !ok {
			return nil, err
		}
		v, err := s.userView(txn, u, false)
		if err != nil {
			return nil, err
		}
		return &v, nil
	}
	return nil, nil
}

// GetConversation returns the conversation, or nil when it does not exist.
func (s *Service) GetConversation(txn *db.Txn, sess Session, convID string) (*models.ConversationDetail, error) {
	const op = "get_conversation"
	conv, ok, err := loadConversation(txn, convID)
	if err != nil || !ok {
		return nil, err
	}
	if _, err := requireMembership(op, txn, convID, sess.UserID); err != nil {
		return nil, err
	}
	d := &models.ConversationDetail{Conversation: conv}
	if !conv.IsGroup {
		if d.OtherUser, err = s.otherMember(txn, convID, sess.UserID); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ListMembers returns the memberships of a conversation joined with users.
func (s *Service) ListMembers(txn *db.Txn, sess Session, convID string) ([]models.MemberView, error) {
	const op = "list_members"
	if _, ok, err := loadConversation(txn, convID); err != nil || !ok {
		return []models.MemberView{}, err
	}
	if _, err := requireMembership(op, txn, convID, sess.UserID); err != nil {
		return nil, err
	}
	members, err := listMemberships(txn, convID)
	if err != nil {
		return nil, err
	}
	out := make([]models.MemberView, 0, len(members))
	for _, m := range members {
		u, ok, err := loadUser(txn, m.UserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		v, err := s.userView(txn, u, false)
		if err != nil {
			return nil, err
		}
		out = append(out, models.MemberView{Membership: m, User: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Membership.CreatedTS != out[j].Membership.CreatedTS {
			return out[i].Membership.CreatedTS < out[j].Membership.CreatedTS
		}
		return out[i].User.Name < out[j].User.Name
	})
	return out, nil
}

// SetTyping records the caller's typing state; last writer wins.
func (s *Service) SetTyping(ctx context.Context, sess Session, convID string, isTyping bool) error {
	const op = "set_typing"
	return s.store.Update(ctx, func(txn *db.Txn) error {
		if _, err := requireConversation(op, txn, convID); err != nil {
			return err
		}
		if _, err := requireMembership(op, txn, convID, sess.UserID); err != nil {
			return err
		}
		return txn.SetJSON(keys.GenTypingKey(convID, sess.UserID), models.TypingStatus{
			ConversationID: convID,
			UserID:         sess.UserID,
			IsTyping:       isTyping,
			UpdatedTS:      s.now(),
		})
	})
}

// ListTyping returns the members currently typing in a conversation.
func (s *Service) ListTyping(txn *db.Txn, sess Session, convID string) ([]models.TypingView, error) {
	const op = "list_typing"
	if _, ok, err := loadConversation(txn, convID); err != nil || !ok {
		return []models.TypingView{}, err
	}
	if _, err := requireMembership(op, txn, convID, sess.UserID); err != nil {
		return nil, err
	}
	users := newUserCache(txn)
	out := []models.TypingView{}
	err := txn.Scan(keys.GenTypingPrefix(convID), func(k string, v []byte) error {
		var ts models.TypingStatus
		if err := json.Unmarshal(v, &ts); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		if !ts.IsTyping {
			return nil
		}
		name, err := users.name(ts.UserID)
		if err != nil {
			return err
		}
		out = append(out, models.TypingView{UserID: ts.UserID, UserName: name, UpdateTS: ts.UpdatedTS})
		return nil
	})
	return out, err
}

// MarkRead moves the caller's read cursor to the latest message.
func (s *Service) MarkRead(ctx context.Context, sess Session, convID string) error {
	const op = "mark_read"
	return s.store.Update(ctx, func(txn *db.Txn) error {
		conv, err := requireConversation(op, txn, convID)
		if err != nil {
			return err
		}
		mb, err := requireMembership(op, txn, convID, sess.UserID)
		if err != nil {
			return err
		}
		if mb.LastReadMessageID == conv.LastMessageID && mb.HasRead {
			return nil
		}
		mb.LastReadMessageID = conv.LastMessageID
		mb.HasRead = true
		return txn.SetJSON(keys.GenMembershipKey(convID, sess.UserID), mb)
	})
}
