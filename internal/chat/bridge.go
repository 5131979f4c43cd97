package chat

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/DERELya/instaking-chat/internal/model"
	"github.com/DERELya/instaking-chat/internal/realtime"
)

// Broker destinations of the chat wire protocol.
const (
	QueueMessages     = "/user/queue/messages"
	QueueNewChats     = "/user/queue/new-chats"
	QueueTyping       = "/user/queue/typing"
	QueueReadReceipts = "/user/queue/read-receipt"

	DestSendMessage = "/app/chat/sendMessage"
	DestSendTyping  = "/app/chat/typing"
)

// Bridge subscribes the store to the broker's personal queues and
// decodes inbound payloads. Malformed payloads are logged and dropped;
// they never reach the store.
type Bridge struct {
	store   *Store
	channel realtime.Channel
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewBridge creates a bridge between channel and store.
func NewBridge(store *Store, ch realtime.Channel, logger *zap.Logger) *Bridge {
	return &Bridge{store: store, channel: ch, logger: logger}
}

// Start registers the queue subscriptions. Safe before the channel is
// connected: the channel queues them until the session is established.
func (b *Bridge) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	b.channel.Subscribe(QueueMessages, func(body []byte) {
		var msg model.Message
		if !b.decode(QueueMessages, body, &msg) {
			return
		}
		if err := b.store.AddMessage(ctx, msg); err != nil {
			b.logger.Warn("inbound message not applied", zap.Error(err))
		}
	})

	b.channel.Subscribe(QueueNewChats, func(body []byte) {
		var conv model.Conversation
		if !b.decode(QueueNewChats, body, &conv) {
			return
		}
		b.store.HandleNewConversation(conv)
	})

	b.channel.Subscribe(QueueTyping, func(body []byte) {
		var sig model.TypingSignal
		if !b.decode(QueueTyping, body, &sig) {
			return
		}
		b.store.UpdateTypingStatus(sig)
	})

	b.channel.Subscribe(QueueReadReceipts, func(body []byte) {
		var r model.ReadReceipt
		if !b.decode(QueueReadReceipts, body, &r) {
			return
		}
		b.store.HandleReadReceipt(r)
	})
}

// Stop cancels the context handed to inbound handlers.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *Bridge) decode(queue string, body []byte, v any) bool {
	if err := json.Unmarshal(body, v); err != nil {
		b.logger.Warn("dropping malformed payload",
			zap.String("queue", queue), zap.Error(err))
		return false
	}
	return true
}
