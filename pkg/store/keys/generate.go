package keys

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID returns a time-ordered UUIDv7 string.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// only fails when the random source is broken
		return uuid.NewString()
	}
	return id.String()
}

func GenUserKey(userID string) string {
	return fmt.Sprintf(UserKey, userID)
}

func GenPresenceKey(userID string) string {
	return fmt.Sprintf(PresenceKey, userID)
}

func GenConversationKey(convID string) string {
	return fmt.Sprintf(ConversationKey, convID)
}

func GenMembershipKey(convID, userID string) string {
	return fmt.Sprintf(MembershipKey, convID, userID)
}

func GenMessageKey(msgID string) string {
	return fmt.Sprintf(MessageKey, msgID)
}

func GenReactionKey(msgID, userID, kind string) string {
	return fmt.Sprintf(ReactionKey, msgID, userID, kind)
}

func GenTypingKey(convID, userID string) string {
	return fmt.Sprintf(TypingKey, convID, userID)
}

func GenUserExternalIndex(externalID string) string {
	return fmt.Sprintf(UserExternalIndex, externalID)
}

// GenDirectPairIndex orders the pair so both participants map to one key.
func GenDirectPairIndex(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf(DirectPairIndex, a, b)
}

func GenConversationMessageIndex(convID string, createdTS int64, msgID string) string {
	return fmt.Sprintf(ConversationMessageIndex, convID, PadTS(createdTS), msgID)
}

func GenRelUserInConversation(userID, convID string) string {
	return fmt.Sprintf(RelUserInConversation, userID, convID)
}

// prefixes
func GenMembershipPrefix(convID string) string {
	return fmt.Sprintf(MembershipPrefix, convID)
}

func GenReactionPrefix(msgID string) string {
	return fmt.Sprintf(ReactionPrefix, msgID)
}

func GenTypingPrefix(convID string) string {
	return fmt.Sprintf(TypingPrefix, convID)
}

func GenConversationMessagePrefix(convID string) string {
	return fmt.Sprintf(ConversationMessagePrefix, convID)
}

func GenRelUserPrefix(userID string) string {
	return fmt.Sprintf(RelUserPrefix, userID)
}

func PadTS(ts int64) string {
	if ts < 0 {
		ts = 0
	}
	return fmt.Sprintf("%0*d", TSPadWidth, ts)
}
