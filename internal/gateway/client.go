package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DERELya/instaking-chat/internal/model"
)

// StatusError is returned for non-2xx REST responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: server returned %d: %s", e.Code, e.Body)
}

// Client is the HTTP implementation of ConversationGateway against the
// /api/chats surface.
type Client struct {
	baseURL string
	token   TokenProvider
	http    *http.Client
}

// NewClient creates a gateway client for the given base URL. token may
// be nil when the server requires no authentication.
func NewClient(baseURL string, token TokenProvider) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// ListConversations fetches the full conversation list.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/chats", nil, &out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// MessageHistory fetches one page of messages, newest-first.
func (c *Client) MessageHistory(ctx context.Context, conversationID int64, page, size int) ([]model.Message, error) {
	path := fmt.Sprintf("/api/chats/%d/messages?page=%d&size=%d", conversationID, page, size)
	var out []model.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("message history: %w", err)
	}
	return out, nil
}

// MarkRead marks every message in the conversation as read for the
// local user.
func (c *Client) MarkRead(ctx context.Context, conversationID int64) error {
	path := "/api/chats/" + strconv.FormatInt(conversationID, 10) + "/read"
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// StartConversation gets or creates the 1:1 conversation with the
// recipient.
func (c *Client) StartConversation(ctx context.Context, recipientID int64) (*model.Conversation, error) {
	body := struct {
		RecipientID int64 `json:"recipientId"`
	}{RecipientID: recipientID}
	var out model.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/chats/start", body, &out); err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	return &out, nil
}

// DeleteMessage deletes one message owned by the local user.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	path := "/api/chats/messages/" + strconv.FormatInt(messageID, 10)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
