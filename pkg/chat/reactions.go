package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"convodb/pkg/models"
	"convodb/pkg/store/db"
	"convodb/pkg/store/keys"
)

const maxReactionKindLen = 64

// ToggleReaction adds the caller's reaction of kind to a message, or removes
// it when present. It reports whether the reaction now exists.
func (s *Service) ToggleReaction(ctx context.Context, sess Session, msgID, kind string) (bool, error) {
	const op = "toggle_reaction"
	kind = strings.TrimSpace(kind)
	if kind == "" || len(kind) > maxReactionKindLen {
		return false, newError(op, ErrInvalidArgument, "reaction kind must be 1-%d bytes", maxReactionKindLen)
	}
	var added bool
	err := s.store.Update(ctx, func(txn *db.Txn) error {
		msg, err := requireMessage(op, txn, msgID)
		if err != nil {
			return err
		}
		if _, err := requireMembership(op, txn, msg.ConversationID, sess.UserID); err != nil {
			return err
		}
		if msg.Deleted {
			return newError(op, ErrInvalidState, "message %s is deleted", msgID)
		}
		key := keys.GenReactionKey(msgID, sess.UserID, kind)
		_, err = txn.Get(key)
		switch {
		case err == nil:
			added = false
			return txn.Delete(key)
		case db.IsNotFound(err):
			added = true
			return txn.SetJSON(key, models.Reaction{
				MessageID: msgID,
				UserID:    sess.UserID,
				Kind:      kind,
				CreatedTS: s.now(),
			})
		default:
			return err
		}
	})
	return added, err
}

// ListReactions returns the reactions on a message, oldest first.
func (s *Service) ListReactions(txn *db.Txn, sess Session, msgID string) ([]models.Reaction, error) {
	const op = "list_reactions"
	msg, ok, err := loadMessage(txn, msgID)
	if err != nil || !ok {
		return []models.Reaction{}, err
	}
	if _, err := requireMembership(op, txn, msg.ConversationID, sess.UserID); err != nil {
		return nil, err
	}
	out := []models.Reaction{}
	err = txn.Scan(keys.GenReactionPrefix(msgID), func(k string, v []byte) error {
		var r models.Reaction
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedTS < out[j].CreatedTS })
	return out, nil
}

// ReactionSummary groups a message's reactions by kind, in order of each
// kind's first use.
func (s *Service) ReactionSummary(txn *db.Txn, sess Session, msgID string) ([]models.ReactionGroup, error) {
	rs, err := s.ListReactions(txn, sess, msgID)
	if err != nil {
		return nil, err
	}
	return groupReactions(rs), nil
}

func groupReactions(rs []models.Reaction) []models.ReactionGroup {
	out := []models.ReactionGroup{}
	idx := make(map[string]int)
	for _, r := range rs {
		i, ok := idx[r.Kind]
		if !ok {
			i = len(out)
			idx[r.Kind] = i
			out = append(out, models.ReactionGroup{Kind: r.Kind})
		}
		out[i].Count++
		out[i].UserIDs = append(out[i].UserIDs, r.UserID)
	}
	return out
}
