package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DERELya/instaking-chat/internal/model"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, func() string { return "token-123" })
}

func TestListConversations(t *testing.T) {
	conversations := []model.Conversation{
		{ID: 2, PreviewMessage: "hi", LastMessageAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		{ID: 1, PreviewMessage: "yo", LastMessageAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/chats" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "token-123" {
			t.Errorf("Authorization = %q, want token-123", got)
		}
		_ = json.NewEncoder(w).Encode(conversations)
	})

	got, err := c.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != 2 || got[1].ID != 1 {
		t.Errorf("unexpected conversations: %+v", got)
	}
}

func TestMessageHistoryQueryParams(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chats/7/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("size") != "25" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]model.Message{{ID: 100, ConversationID: 7}})
	})

	got, err := c.MessageHistory(context.Background(), 7, 2, 25)
	if err != nil {
		t.Fatalf("MessageHistory() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != 100 {
		t.Errorf("unexpected messages: %+v", got)
	}
}

func TestMarkRead(t *testing.T) {
	called := false
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Method != http.MethodPost || r.URL.Path != "/api/chats/5/read" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := c.MarkRead(context.Background(), 5); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if !called {
		t.Error("server was not called")
	}
}

func TestStartConversation(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chats/start" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			RecipientID int64 `json:"recipientId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RecipientID != 9 {
			t.Errorf("recipientId = %d, err = %v", body.RecipientID, err)
		}
		_ = json.NewEncoder(w).Encode(model.Conversation{ID: 77})
	})

	conv, err := c.StartConversation(context.Background(), 9)
	if err != nil {
		t.Fatalf("StartConversation() error = %v", err)
	}
	if conv.ID != 77 {
		t.Errorf("conversation id = %d, want 77", conv.ID)
	}
}

func TestDeleteMessage(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/chats/messages/13" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := c.DeleteMessage(context.Background(), 13); err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
}

func TestStatusError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("not a participant"))
	})

	err := c.MarkRead(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error for 403")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error type = %T, want *StatusError", err)
	}
	if statusErr.Code != http.StatusForbidden || statusErr.Body != "not a participant" {
		t.Errorf("StatusError = %+v", statusErr)
	}
}

func TestContextCancellation(t *testing.T) {
	block := make(chan struct{})
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	})
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ListConversations(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}
