package model

import "time"

// User is a chat participant as the server represents it.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Conversation is one chat thread. Participants are unordered; the
// display name for 1:1 chats is derived from the non-local participant.
type Conversation struct {
	ID             int64     `json:"id"`
	Participants   []User    `json:"participants"`
	PreviewMessage string    `json:"previewMessage"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
	UnreadCount    int       `json:"unreadCount"`
	Title          string    `json:"title,omitempty"`
	AvatarURL      string    `json:"avatarUrl,omitempty"`
}

// DisplayName resolves the list label for a conversation: the other
// participant's username for 1:1 chats, the title for group chats,
// falling back to the first non-local participant and then "Chat".
func (c *Conversation) DisplayName(localUserID int64) string {
	if len(c.Participants) == 2 {
		for _, p := range c.Participants {
			if p.ID != localUserID {
				return p.Username
			}
		}
	}
	if c.Title != "" {
		return c.Title
	}
	for _, p := range c.Participants {
		if p.ID != localUserID {
			return p.Username
		}
	}
	return "Chat"
}

// MessageStatus is the delivery state of a message. PENDING is
// client-only: an optimistic message that the server has not confirmed.
type MessageStatus string

const (
	StatusPending   MessageStatus = "PENDING"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
)

// Message is one chat message. ID is zero until the server confirms it.
// ClientRef is a local correlation id for optimistic sends; the broker
// echoes it back unchanged.
type Message struct {
	ID             int64         `json:"id,omitempty"`
	Content        string        `json:"content"`
	SenderID       int64         `json:"senderId"`
	ConversationID int64         `json:"conversationId"`
	CreatedAt      time.Time     `json:"createdAt"`
	Status         MessageStatus `json:"status,omitempty"`
	ClientRef      string        `json:"clientRef,omitempty"`
}

// Confirmed reports whether the server has assigned this message an id.
func (m *Message) Confirmed() bool {
	return m.ID != 0
}

// TypingSignal is the ephemeral "user is typing" notification.
type TypingSignal struct {
	ConversationID int64  `json:"conversationId"`
	Username       string `json:"username"`
	Typing         bool   `json:"typing"`
}

// ReadReceipt notifies that a participant has read a conversation.
type ReadReceipt struct {
	ConversationID int64 `json:"conversationId"`
	ReaderID       int64 `json:"readerId"`
}
