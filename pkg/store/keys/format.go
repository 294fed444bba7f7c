package keys

const (
	// notation dictionary for key formats:
	// u   = user profile
	// pr  = presence
	// c   = conversation
	// mb  = membership
	// m   = message
	// rx  = reaction
	// ty  = typing status
	// idx = index
	// rel = relationship marker
	// All keys are lowercase; segments are separated by ":"
	// <...> = variable segment (e.g. <conv_id>, <msg_id>)

	// primary records
	UserKey         = "u:%s"        // u:<user_id>
	PresenceKey     = "pr:%s"       // pr:<user_id>
	ConversationKey = "c:%s"        // c:<conv_id>
	MembershipKey   = "mb:%s:%s"    // mb:<conv_id>:<user_id>
	MessageKey      = "m:%s"        // m:<msg_id>
	ReactionKey     = "rx:%s:%s:%s" // rx:<msg_id>:<user_id>:<kind>
	TypingKey       = "ty:%s:%s"    // ty:<conv_id>:<user_id>

	// unique indexes
	UserExternalIndex = "idx:ux:%s"    // idx:ux:<external_id> -> user_id
	DirectPairIndex   = "idx:cd:%s:%s" // idx:cd:<lo_user_id>:<hi_user_id> -> conv_id

	// ordered indexes
	ConversationMessageIndex = "idx:c:%s:m:%s:%s" // idx:c:<conv_id>:m:<created_ts>:<msg_id>

	// relationship markers
	RelUserInConversation = "rel:u:%s:c:%s" // rel:u:<user_id>:c:<conv_id>

	// prefixes
	UserPrefix                = "u:"
	PresencePrefix            = "pr:"
	ConversationPrefix        = "c:"
	MessagePrefix             = "m:"
	MembershipPrefix          = "mb:%s:"      // mb:<conv_id>:
	ReactionPrefix            = "rx:%s:"      // rx:<msg_id>:
	TypingPrefix              = "ty:%s:"      // ty:<conv_id>:
	ConversationMessagePrefix = "idx:c:%s:m:" // idx:c:<conv_id>:m:
	RelUserPrefix             = "rel:u:%s:c:" // rel:u:<user_id>:c:

	// padding widths (fixed for lexicographic ordering)
	TSPadWidth = 20 // e.g. %020d

	// system keys
	SystemVersionKey = "system:version"
)
