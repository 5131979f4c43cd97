// Package gateway implements the REST side of the chat protocol: the
// stateless request/response operations the store pulls snapshots from.
package gateway

import (
	"context"

	"github.com/DERELya/instaking-chat/internal/model"
)

// ConversationGateway is the pull-path collaborator of the chat store.
//
// MessageHistory returns pages newest-first, exactly as the server
// serves them; the store is responsible for reordering.
type ConversationGateway interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	MessageHistory(ctx context.Context, conversationID int64, page, size int) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID int64) error
	StartConversation(ctx context.Context, recipientID int64) (*model.Conversation, error)
	DeleteMessage(ctx context.Context, messageID int64) error
}

// TokenProvider supplies the current API token for outgoing requests.
type TokenProvider func() string
