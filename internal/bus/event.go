package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the chat core. Subscribers filter by
// namespace prefix ("chat.", "channel.").
const (
	KindMessageAdded        = "chat.message_added"
	KindConversationAdded   = "chat.conversation_added"
	KindConversationUnknown = "chat.conversation_unknown"
	KindUnreadChanged       = "chat.unread_changed"
	KindMessageDeleted      = "chat.message_deleted"
	KindStoreReset          = "chat.store_reset"

	KindStatusChanged  = "channel.status_changed"
	KindChannelOffline = "channel.offline"
)
