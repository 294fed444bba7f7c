package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"convodb/pkg/models"
	"convodb/pkg/state/logger"
	"convodb/pkg/store/db"
	"convodb/pkg/store/keys"
	"convodb/pkg/telemetry"
)

// Session is the authenticated caller, resolved once per connection.
type Session struct {
	UserID     string `json:"user_id"`
	ExternalID string `json:"external_id"`
}

// Authenticate resolves an external identity to a session.
func (s *Service) Authenticate(externalID string) (Session, error) {
	if strings.TrimSpace(externalID) == "" {
		return Session{}, newError("authenticate", ErrInvalidArgument, "external id is required")
	}
	u, err := view(s, func(txn *db.Txn) (*models.User, error) {
		u, ok, err := loadUserByExternal(txn, externalID)
		if err != nil || !ok {
			return nil, err
		}
		return &u, nil
	})
	if err != nil {
		return Session{}, err
	}
	if u == nil {
		return Session{}, newError("authenticate", ErrNotFound, "user %s not registered", externalID)
	}
	return Session{UserID: u.ID, ExternalID: u.ExternalID}, nil
}

type UpsertUserParams struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	AvatarRef  string `json:"avatar_ref"`
}

// UpsertUser creates the user on first sight of its external id. Later calls
// return the stored record unchanged.
func (s *Service) UpsertUser(ctx context.Context, p UpsertUserParams) (models.User, error) {
	tr := telemetry.Track("chat.upsert_user")
	defer tr.Finish()

	if strings.TrimSpace(p.ExternalID) == "" {
		return models.User{}, newError("upsert_user", ErrInvalidArgument, "external id is required")
	}
	var out models.User
	var created bool
	err := s.store.Update(ctx, func(txn *db.Txn) error {
		created = false
		u, ok, err := loadUserByExternal(txn, p.ExternalID)
		if err != nil {
			return err
		}
		if ok {
			out = u
			return nil
		}
		now := s.now()
		out = models.User{
			ID:         keys.NewID(),
			ExternalID: p.ExternalID,
			Name:       strings.TrimSpace(p.Name),
			Email:      p.Email,
			AvatarRef:  p.AvatarRef,
			CreatedTS:  now,
		}
		if out.Name == "" {
			out.Name = p.ExternalID
		}
		if err := txn.SetJSON(keys.GenUserKey(out.ID), out); err != nil {
			return err
		}
		if err := txn.Set(keys.GenUserExternalIndex(p.ExternalID), []byte(out.ID)); err != nil {
			return err
		}
		created = true
		return txn.SetJSON(keys.GenPresenceKey(out.ID), models.Presence{UserID: out.ID})
	})
	if err != nil {
		return models.User{}, err
	}
	if created {
		logger.Info("user_created", "user_id", out.ID, "external_id", out.ExternalID)
	}
	return out, nil
}

// TouchPresence marks the user online as of now. Unknown users are ignored.
func (s *Service) TouchPresence(ctx context.Context, externalID string) error {
	return s.store.Update(ctx, func(txn *db.Txn) error {
		u, ok, err := loadUserByExternal(txn, externalID)
		if err != nil || !ok {
			return err
		}
		return txn.SetJSON(keys.GenPresenceKey(u.ID), models.Presence{
			UserID:   u.ID,
			IsOnline: true,
			LastSeen: s.now(),
		})
	})
}

// SweepPresence clears the online flag of users whose last heartbeat is
// older than the online threshold. It returns the number of users cleared.
func (s *Service) SweepPresence(ctx context.Context) (int, error) {
	cutoff := s.now() - s.opts.OnlineThreshold.Nanoseconds()
	var cleared int
	err := s.store.Update(ctx, func(txn *db.Txn) error {
		cleared = 0
		var stale []models.Presence
		err := txn.Scan(keys.PresencePrefix, func(k string, v []byte) error {
			var p models.Presence
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			if p.IsOnline && p.LastSeen < cutoff {
				stale = append(stale, p)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, p := range stale {
			p.IsOnline = false
			if err := txn.SetJSON(keys.GenPresenceKey(p.UserID), p); err != nil {
				return err
			}
		}
		cleared = len(stale)
		return nil
	})
	return cleared, err
}

func (s *Service) isOnline(p models.Presence) bool {
	return s.seenWithin(p, s.opts.OnlineThreshold)
}

func (s *Service) seenWithin(p models.Presence, threshold time.Duration) bool {
	return p.LastSeen > s.now()-threshold.Nanoseconds()
}

// userView joins a profile with its presence. Online status is derived from
// the last heartbeat; lastSeen is only included when withLastSeen is set so
// heartbeats alone do not change embedding results.
func (s *Service) userView(txn *db.Txn, u models.User, withLastSeen bool) (models.UserView, error) {
	p, err := loadPresence(txn, u.ID)
	if err != nil {
		return models.UserView{}, err
	}
	v := models.UserView{User: u, IsOnline: p.IsOnline && s.isOnline(p)}
	if withLastSeen {
		v.LastSeen = p.LastSeen
	}
	return v, nil
}

// ListOnline returns users whose last heartbeat is within threshold; a
// non-positive threshold uses the configured online threshold.
func (s *Service) ListOnline(txn *db.Txn, threshold time.Duration) ([]models.UserView, error) {
	if threshold <= 0 {
		threshold = s.opts.OnlineThreshold
	}
	var online []models.Presence
	err := txn.Scan(keys.PresencePrefix, func(k string, v []byte) error {
		var p models.Presence
		if err := json.Unmarshal(v, &p); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		if s.seenWithin(p, threshold) {
			online = append(online, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.UserView, 0, len(online))
	for _, p := range online {
		u, ok, err := loadUser(txn, p.UserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, models.UserView{User: u, IsOnline: true, LastSeen: p.LastSeen})
	}
	sortUsers(out)
	return out, nil
}

// GetUser returns the user with externalID, or nil.
func (s *Service) GetUser(txn *db.Txn, externalID string) (*models.UserView, error) {
	u, ok, err := loadUserByExternal(txn, externalID)
	if err != nil || !ok {
		return nil, err
	}
	v, err := s.userView(txn, u, true)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListUsers returns every user except the caller, for picking chat partners.
func (s *Service) ListUsers(txn *db.Txn, sess Session) ([]models.UserView, error) {
	var users []models.User
	err := txn.Scan(keys.UserPrefix, func(k string, v []byte) error {
		var u models.User
		if err := json.Unmarshal(v, &u); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		if u.ID != sess.UserID {
			users = append(users, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.UserView, 0, len(users))
	for _, u := range users {
		v, err := s.userView(txn, u, false)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	sortUsers(out)
	return out, nil
}

func sortUsers(us []models.UserView) {
	sort.Slice(us, func(i, j int) bool {
		if us[i].Name != us[j].Name {
			return us[i].Name < us[j].Name
		}
		return us[i].ID < us[j].ID
	})
}
