package keys

import (
	"fmt"
	"strconv"
	"strings"
)

type MembershipKeyParts struct {
	ConvID string
	UserID string
}

type MessageIndexParts struct {
	ConvID    string
	CreatedTS int64
	MsgID     string
}

type ReactionKeyParts struct {
	MsgID  string
	UserID string
	Kind   string
}

type RelUserParts struct {
	UserID string
	ConvID string
}

func parsePaddedInt(s string, width int) (int64, error) {
	if len(s) == 0 || len(s) > width {
		return 0, fmt.Errorf("length invalid: %s", s)
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return 0, nil
	}
	return strconv.ParseInt(trimmed, 10, 64)
}

func ParseMembershipKey(key string) (MembershipKeyParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "mb" || parts[1] == "" || parts[2] == "" {
		return MembershipKeyParts{}, fmt.Errorf("invalid membership key: %s", key)
	}
	return MembershipKeyParts{ConvID: parts[1], UserID: parts[2]}, nil
}

func ParseConversationMessageIndex(key string) (MessageIndexParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 6 || parts[0] != "idx" || parts[1] != "c" || parts[3] != "m" {
		return MessageIndexParts{}, fmt.Errorf("invalid message index key: %s", key)
	}
	ts, err := parsePaddedInt(parts[4], TSPadWidth)
	if err != nil {
		return MessageIndexParts{}, fmt.Errorf("invalid message index timestamp: %w", err)
	}
	if parts[5] == "" {
		return MessageIndexParts{}, fmt.Errorf("invalid message index key: %s", key)
	}
	return MessageIndexParts{ConvID: parts[2], CreatedTS: ts, MsgID: parts[5]}, nil
}

// ParseReactionKey keeps any ':' inside the kind segment.
func ParseReactionKey(key string) (ReactionKeyParts, error) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) != 4 || parts[0] != "rx" || parts[1] == "" || parts[2] == "" || parts[3] == "" {
		return ReactionKeyParts{}, fmt.Errorf("invalid reaction key: %s", key)
	}
	return ReactionKeyParts{MsgID: parts[1], UserID: parts[2], Kind: parts[3]}, nil
}

func ParseRelUserKey(key string) (RelUserParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "rel" || parts[1] != "u" || parts[3] != "c" || parts[2] == "" || parts[4] == "" {
		return RelUserParts{}, fmt.Errorf("invalid user relationship key: %s", key)
	}
	return RelUserParts{UserID: parts[2], ConvID: parts[4]}, nil
}

// Family returns the leading record family of a key, e.g. "m" or "idx:c".
func Family(key string) string {
	i := strings.IndexByte(key, ':')
	if i < 0 {
		return key
	}
	if key[:i] == "idx" || key[:i] == "rel" {
		j := strings.IndexByte(key[i+1:], ':')
		if j < 0 {
			return key
		}
		return key[:i+1+j]
	}
	return key[:i]
}

// Validate checks that key belongs to a known family and is well formed.
func Validate(key string) error {
	if key == SystemVersionKey {
		return nil
	}
	switch Family(key) {
	case "u", "pr", "c", "m":
		if i := strings.IndexByte(key, ':'); i < 0 || key[i+1:] == "" || strings.Contains(key[i+1:], ":") {
			return fmt.Errorf("invalid record key: %s", key)
		}
		return nil
	case "mb":
		_, err := ParseMembershipKey(key)
		return err
	case "rx":
		_, err := ParseReactionKey(key)
		return err
	case "ty":
		parts := strings.Split(key, ":")
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return fmt.Errorf("invalid typing key: %s", key)
		}
		return nil
	case "idx:c":
		_, err := ParseConversationMessageIndex(key)
		return err
	case "idx:ux":
		if strings.TrimPrefix(key, "idx:ux:") == "" {
			return fmt.Errorf("invalid external id index: %s", key)
		}
		return nil
	case "idx:cd":
		parts := strings.Split(key, ":")
		if len(parts) != 4 || parts[2] == "" || parts[3] == "" {
			return fmt.Errorf("invalid direct pair index: %s", key)
		}
		return nil
	case "rel:u":
		_, err := ParseRelUserKey(key)
		return err
	}
	return fmt.Errorf("unknown key family: %s", key)
}
