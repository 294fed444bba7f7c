package chat

import (
	"encoding/json"
	"fmt"

	"convodb/pkg/models"
	"convodb/pkg/store/db"
	"convodb/pkg/store/keys"
)

func loadUser(txn *db.Txn, id string) (models.User, bool, error) {
	var u models.User
	ok, err := txn.GetJSON(keys.GenUserKey(id), &u)
	return u, ok, err
}

func loadUserByExternal(txn *db.Txn, externalID string) (models.User, bool, error) {
	id, err := txn.Get(keys.GenUserExternalIndex(externalID))
	if db.IsNotFound(err) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, err
	}
	return loadUser(txn, string(id))
}

func loadPresence(txn *db.Txn, userID string) (models.Presence, error) {
	p := models.Presence{UserID: userID}
	_, err := txn.GetJSON(keys.GenPresenceKey(userID), &p)
	return p, err
}

func loadConversation(txn *db.Txn, id string) (models.Conversation, bool, error) {
	var c models.Conversation
	ok, err := txn.GetJSON(keys.GenConversationKey(id), &c)
	return c, ok, err
}

func loadMembership(txn *db.Txn, convID, userID string) (models.Membership, bool, error) {
	var m models.Membership
	ok, err := txn.GetJSON(keys.GenMembershipKey(convID, userID), &m)
	return m, ok, err
}

func loadMessage(txn *db.Txn, id string) (models.Message, bool, error) {
	var m models.Message
	ok, err := txn.GetJSON(keys.GenMessageKey(id), &m)
	return m, ok, err
}

func listMemberships(txn *db.Txn, convID string) ([]models.Membership, error) {
	var out []models.Membership
	err := txn.Scan(keys.GenMembershipPrefix(convID), func(k string, v []byte) error {
		var m models.Membership
		if err := json.Unmarshal(v, &m); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func requireUser(op string, txn *db.Txn, id string) (models.User, error) {
	u, ok, err := loadUser(txn, id)
	if err != nil {
		return u, err
	}
	if !ok {
		return u, newError(op, ErrNotFound, "user %s not found", id)
	}
	return u, nil
}

func requireConversation(op string, txn *db.Txn, id string) (models.Conversation, error) {
	c, ok, err := loadConversation(txn, id)
	if err != nil {
		return c, err
	}
	if !ok {
		return c, newError(op, ErrNotFound, "conversation %s not found", id)
	}
	return c, nil
}

func requireMembership(op string, txn *db.Txn, convID, userID string) (models.Membership, error) {
	m, ok, err := loadMembership(txn, convID, userID)
	if err != nil {
		return m, err
	}
	if !ok {
		return m, newError(op, ErrUnauthorized, "not a member of conversation %s", convID)
	}
	return m, nil
}

func requireMessage(op string, txn *db.Txn, id string) (models.Message, error) {
	m, ok, err := loadMessage(txn, id)
	if err != nil {
		return m, err
	}
	if !ok {
		return m, newError(op, ErrNotFound, "message %s not found", id)
	}
	return m, nil
}

// userCache memoizes profile lookups within one read.
type userCache struct {
	txn   *db.Txn
	users map[string]*models.User
}

func newUserCache(txn *db.Txn) *userCache {
	return &userCache{txn: txn, users: make(map[string]*models.User)}
}

func (c *userCache) get(id string) (*models.User, error) {
	if u, ok := c.users[id]; ok {
		return u, nil
	}
	u, ok, err := loadUser(c.txn, id)
	if err != nil {
		return nil, err
	}
	var p *models.User
	if ok {
		p = &u
	}
	c.users[id] = p
	return p, nil
}

func (c *userCache) name(id string) (string, error) {
	if id == "" {
		return "", nil
	}
	u, err := c.get(id)
	if err != nil || u == nil {
		return "Unknown", err
	}
	return u.Name, nil
}
