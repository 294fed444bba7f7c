package chat

import (
	"encoding/json"
	"sort"
	"time"

	"convodb/pkg/live"
	"convodb/pkg/store/db"
)

// QueryArgs are the arguments accepted by named live queries.
type QueryArgs struct {
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	ExternalID     string `json:"external_id,omitempty"`
	// ThresholdSeconds overrides the online threshold of users.online.
	ThresholdSeconds int `json:"threshold_seconds,omitempty"`
}

type queryDef struct {
	build   func(s *Service, sess Session, a QueryArgs) live.QueryFunc
	refresh bool
	// signs marks results carrying signed URLs, which are refreshed so
	// subscribers receive new URLs before the held ones expire.
	signs bool
	needs string
}

var queries = map[string]queryDef{
	"users.online": {
		build: func(s *Service, _ Session, a QueryArgs) live.QueryFunc {
			threshold := time.Duration(a.ThresholdSeconds) * time.Second
			return func(txn *db.Txn) (any, error) { return s.ListOnline(txn, threshold) }
		},
		refresh: true,
	},
	"users.list": {
		build: func(s *Service, sess Session, _ QueryArgs) live.QueryFunc {
			return func(txn *db.Txn) (any, error) { return s.ListUsers(txn, sess) }
		},
	},
	"users.get": {
		build: func(s *Service, _ Session, a QueryArgs) live.QueryFunc {
			return func(txn *db.Txn) (any, error) { return s.GetUser(txn, a.ExternalID) }
		},
		needs: "external_id",
	},
	"conversations.list": {
		build: func(s *Service, sess Session, _ QueryArgs) live.QueryFunc {
			return func(txn *db.Txn) (any, error) { return s.ListForUser(txn, sess) }
		},
		refresh: true,
	},
	"conversations.get": {
		build: func(s *Service, sess Session, a QueryArgs) live.QueryFunc {
			return func(txn *db.Txn) (any, error) { return s.GetConversation(txn, sess, a.ConversationID) }
		},
		needs: "conversation_id",
	},
	"conversations.members": {
		build: func(s *Service, sess Session, a QueryArgs) live.QueryFunc {
			return func(txn *db.Txn) (any, error) { return s.ListMembers(txn, sess, a.ConversationID) }
		},
		needs: "conversation_id",
	},
	"conversations.typing": {
		build: func(s *Service, sess Session, a QueryArgs) live.QueryFunc {
			return func(txn *db.Txn) (any, error) { return s.ListTyping(txn, sess, a.ConversationID) }
		},
		needs: "conversation_id",
	},
	"messages.list": {
		build: func(s *Service, sess Session, a QueryArgs) live.QueryFunc {
			return func(txn *db.Txn) (any, error) { return s.List(txn, sess, a.ConversationID) }
		},
		signs: true,
		needs: "conversation_id",
	},
	"reactions.list": {
		build: func(s *Service, sess Session, a QueryArgs) live.QueryFunc {
			return func(txn *db.Txn) (any, error) { return s.ListReactions(txn, sess, a.MessageID) }
		},
		needs: "message_id",
	},
	"reactions.summary": {
		build: func(s *Service, sess Session, a QueryArgs) live.QueryFunc {
			return func(txn *db.Txn) (any, error) { return s.ReactionSummary(txn, sess, a.MessageID) }
		},
		needs: "message_id",
	},
}

// QueryNames lists the registered live queries.
func QueryNames() []string {
	out := make([]string, 0, len(queries))
	for n := range queries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Query resolves a named query for the caller.
func (s *Service) Query(sess Session, name string, raw json.RawMessage) (live.QueryFunc, []live.SubscribeOption, error) {
	const op = "query"
	def, ok := queries[name]
	if !ok {
		return nil, nil, newError(op, ErrNotFound, "unknown query %q", name)
	}
	var a QueryArgs
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, nil, newError(op, ErrInvalidArgument, "invalid args for %s: %v", name, err)
		}
	}
	switch def.needs {
	case "conversation_id":
		if a.ConversationID == "" {
			return nil, nil, newError(op, ErrInvalidArgument, "%s requires conversation_id", name)
		}
	case "message_id":
		if a.MessageID == "" {
			return nil, nil, newError(op, ErrInvalidArgument, "%s requires message_id", name)
		}
	case "external_id":
		if a.ExternalID == "" {
			return nil, nil, newError(op, ErrInvalidArgument, "%s requires external_id", name)
		}
	}
	var opts []live.SubscribeOption
	if def.refresh || (def.signs && s.urls != nil) {
		opts = append(opts, live.WithRefresh())
	}
	return def.build(s, sess, a), opts, nil
}

// Subscribe opens a live subscription to a named query.
func (s *Service) Subscribe(sess Session, name string, args json.RawMessage) (*live.Subscription, error) {
	q, opts, err := s.Query(sess, name, args)
	if err != nil {
		return nil, err
	}
	return s.live.Subscribe(q, opts...)
}

// Run evaluates a named query once.
func (s *Service) Run(sess Session, name string, args json.RawMessage) (any, error) {
	q, _, err := s.Query(sess, name, args)
	if err != nil {
		return nil, err
	}
	return s.live.Run(q)
}
