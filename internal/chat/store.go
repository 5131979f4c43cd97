// Package chat owns all client-side chat state. The Store is the single
// source of truth: it reconciles REST snapshots with broker push events
// and exposes derived state through observable values; the Bridge feeds
// it decoded broker payloads.
package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DERELya/instaking-chat/internal/bus"
	"github.com/DERELya/instaking-chat/internal/gateway"
	"github.com/DERELya/instaking-chat/internal/model"
	"github.com/DERELya/instaking-chat/internal/realtime"
	"github.com/DERELya/instaking-chat/internal/state"
)

var (
	// ErrUnknownConversation reports a push event referencing a
	// conversation absent from the local list. The store schedules a
	// lazy refetch; the event itself is not applied.
	ErrUnknownConversation = errors.New("chat: unknown conversation")

	// ErrNoActiveConversation is returned by operations that require an
	// active conversation.
	ErrNoActiveConversation = errors.New("chat: no active conversation")
)

// UnreadChange is the bus payload for unread counter updates.
type UnreadChange struct {
	ConversationID int64
	UnreadCount    int
}

// Params configures a Store.
type Params struct {
	LocalUserID    int64
	LocalUsername  string
	PageSize       int
	SearchDebounce time.Duration
	TypingTTL      time.Duration
}

// Store holds the authoritative in-memory chat state. All mutation is
// serialized behind one mutex; every public method is atomic with
// respect to the others. Observers receive read-only snapshots.
type Store struct {
	gw      gateway.ConversationGateway
	channel realtime.Channel
	bus     *bus.Bus
	logger  *zap.Logger

	localUserID   int64
	localUsername string
	pageSize      int
	typingTTL     time.Duration

	mu            sync.Mutex
	conversations []model.Conversation
	active        *model.Conversation
	window        []model.Message
	typingSig     *model.TypingSignal
	typingTimer   *time.Timer
	resolvedTerm  string
	historyGen    uint64
	refetching    bool

	conversationsVal *state.Value[[]model.Conversation]
	filteredVal      *state.Value[[]model.Conversation]
	activeVal        *state.Value[*model.Conversation]
	messagesVal      *state.Value[[]model.Message]
	typingVal        *state.Value[*model.TypingSignal]
	searchTermVal    *state.Value[string]
	loadingVal       *state.Value[bool]

	search *debouncer
}

// NewStore creates a chat store wired to its two collaborators.
func NewStore(gw gateway.ConversationGateway, ch realtime.Channel, b *bus.Bus, logger *zap.Logger, p Params) *Store {
	if p.PageSize <= 0 {
		p.PageSize = 50
	}
	if p.SearchDebounce <= 0 {
		p.SearchDebounce = 200 * time.Millisecond
	}
	if p.TypingTTL <= 0 {
		p.TypingTTL = 3 * time.Second
	}
	s := &Store{
		gw:            gw,
		channel:       ch,
		bus:           b,
		logger:        logger,
		localUserID:   p.LocalUserID,
		localUsername: p.LocalUsername,
		pageSize:      p.PageSize,
		typingTTL:     p.TypingTTL,

		conversationsVal: state.NewValue[[]model.Conversation](nil),
		filteredVal:      state.NewValue[[]model.Conversation](nil),
		activeVal:        state.NewValue[*model.Conversation](nil),
		messagesVal:      state.NewValue[[]model.Message](nil),
		typingVal:        state.NewValue[*model.TypingSignal](nil),
		searchTermVal:    state.NewValue(""),
		loadingVal:       state.NewValue(false),
	}
	s.search = newDebouncer(p.SearchDebounce, s.applySearchTerm)
	return s
}

// Observable accessors. Presentation watches these; it never mutates.

func (s *Store) Conversations() *state.Value[[]model.Conversation] { return s.conversationsVal }
func (s *Store) FilteredConversations() *state.Value[[]model.Conversation] {
	return s.filteredVal
}
func (s *Store) ActiveConversation() *state.Value[*model.Conversation] { return s.activeVal }
func (s *Store) Messages() *state.Value[[]model.Message]               { return s.messagesVal }
func (s *Store) Typing() *state.Value[*model.TypingSignal]             { return s.typingVal }
func (s *Store) SearchTerm() *state.Value[string]                      { return s.searchTermVal }
func (s *Store) Loading() *state.Value[bool]                           { return s.loadingVal }

// LoadConversations replaces the conversation list with a fresh REST
// snapshot. On error the previous list is left untouched and the error
// is returned to the caller; loading is reset either way.
func (s *Store) LoadConversations(ctx context.Context) error {
	s.loadingVal.Set(true)
	defer s.loadingVal.Set(false)

	list, err := s.gw.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	s.mu.Lock()
	s.conversations = slices.Clone(list)
	sortConversations(s.conversations)
	s.publishListLocked()
	s.mu.Unlock()
	return nil
}

// SetSearchTerm updates the free-text filter. The filtered list
// recomputes after the debounce window and only when the resolved term
// actually changed.
func (s *Store) SetSearchTerm(term string) {
	s.searchTermVal.Set(term)
	s.search.update(term)
}

func (s *Store) applySearchTerm(resolved string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if resolved == s.resolvedTerm {
		return
	}
	s.resolvedTerm = resolved
	s.filteredVal.Set(filterConversations(s.conversations, resolved, s.localUserID))
}

// SetActiveConversation switches the message window to conv. A no-op
// when conv is already active. Any in-flight history load for the
// previous conversation is invalidated before the new page-0 load, and
// the conversation is marked read on the server; success zeroes its
// unread counter in the list.
func (s *Store) SetActiveConversation(ctx context.Context, conv model.Conversation) error {
	s.mu.Lock()
	if s.active != nil && s.active.ID == conv.ID {
		s.mu.Unlock()
		return nil
	}
	s.historyGen++
	gen := s.historyGen
	c := conv
	s.active = &c
	s.window = nil
	s.clearTypingLocked()
	s.activeVal.Set(&c)
	s.messagesVal.Set(nil)
	s.mu.Unlock()

	histErr := s.loadHistory(ctx, conv.ID, 0, s.pageSize, false, gen)

	var readErr error
	if err := s.gw.MarkRead(ctx, conv.ID); err != nil {
		readErr = fmt.Errorf("mark read: %w", err)
	} else {
		s.setUnread(conv.ID, 0)
	}
	return errors.Join(histErr, readErr)
}

// ClearActiveConversation resets the active conversation, its message
// window and the typing indicator. Called on navigation-away/teardown.
func (s *Store) ClearActiveConversation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyGen++
	s.active = nil
	s.window = nil
	s.clearTypingLocked()
	s.activeVal.Set(nil)
	s.messagesVal.Set(nil)
}

// LoadMessageHistory fetches one history page for the active
// conversation. prepend splices the page before the current window
// (backward infinite scroll); otherwise the window is replaced. Pages
// arrive newest-first and are reversed to ascending order. A response
// arriving after the active conversation changed is discarded.
func (s *Store) LoadMessageHistory(ctx context.Context, conversationID int64, page, size int, prepend bool) error {
	s.mu.Lock()
	gen := s.historyGen
	s.mu.Unlock()
	return s.loadHistory(ctx, conversationID, page, size, prepend, gen)
}

func (s *Store) loadHistory(ctx context.Context, conversationID int64, page, size int, prepend bool, gen uint64) error {
	if size <= 0 {
		size = s.pageSize
	}
	pageMsgs, err := s.gw.MessageHistory(ctx, conversationID, page, size)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	asc := slices.Clone(pageMsgs)
	slices.Reverse(asc)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.historyGen || s.active == nil || s.active.ID != conversationID {
		// The active conversation changed while this page was in
		// flight; the result belongs to an abandoned window.
		s.logger.Debug("discarding stale history page",
			zap.Int64("conversation_id", conversationID), zap.Int("page", page))
		return nil
	}
	if prepend {
		present := make(map[int64]bool, len(s.window))
		for _, m := range s.window {
			if m.ID != 0 {
				present[m.ID] = true
			}
		}
		merged := make([]model.Message, 0, len(asc)+len(s.window))
		for _, m := range asc {
			if m.ID != 0 && present[m.ID] {
				continue
			}
			merged = append(merged, m)
		}
		s.window = append(merged, s.window...)
	} else {
		s.window = asc
	}
	s.publishWindowLocked()
	return nil
}

// AddMessage reconciles one message arriving on the push path, covering
// both self-sent echoes and peer messages:
//
//  1. appended to the window when it belongs to the active conversation
//     (optimistic echoes are resolved in place, duplicates dropped);
//  2. a peer message in the active conversation triggers mark-as-read;
//  3. the list entry gets the new preview/timestamp, gains an unread
//     when the conversation is inactive and the sender is a peer, and
//     moves to the front;
//  4. an unknown conversation id yields ErrUnknownConversation and a
//     lazy list refetch.
func (s *Store) AddMessage(ctx context.Context, msg model.Message) error {
	s.mu.Lock()
	inActive := s.active != nil && s.active.ID == msg.ConversationID
	fromPeer := msg.SenderID != s.localUserID
	needRead := false
	if inActive {
		switch {
		case s.reconcilePendingLocked(msg):
			// Optimistic send confirmed.
		case s.duplicateLocked(msg):
			// Already present, keep the window as is.
		default:
			s.window = append(s.window, msg)
			s.publishWindowLocked()
			if fromPeer {
				needRead = true
			}
		}
		// A delivered message supersedes any typing indicator.
		s.clearTypingLocked()
	}

	idx := s.indexOfLocked(msg.ConversationID)
	if idx < 0 {
		s.mu.Unlock()
		s.logger.Warn("message for unknown conversation",
			zap.Int64("conversation_id", msg.ConversationID))
		s.bus.Emit(bus.KindConversationUnknown, msg.ConversationID)
		s.lazyRefetch()
		return fmt.Errorf("%w: id %d", ErrUnknownConversation, msg.ConversationID)
	}

	conv := s.conversations[idx]
	conv.PreviewMessage = msg.Content
	conv.LastMessageAt = msg.CreatedAt
	if !inActive && fromPeer {
		conv.UnreadCount++
		s.bus.Emit(bus.KindUnreadChanged, UnreadChange{
			ConversationID: conv.ID,
			UnreadCount:    conv.UnreadCount,
		})
	}
	s.conversations = slices.Delete(s.conversations, idx, idx+1)
	s.conversations = slices.Insert(s.conversations, 0, conv)
	s.publishListLocked()
	s.mu.Unlock()

	s.bus.Emit(bus.KindMessageAdded, msg)

	if needRead {
		if err := s.gw.MarkRead(ctx, msg.ConversationID); err != nil {
			s.logger.Warn("mark read failed",
				zap.Int64("conversation_id", msg.ConversationID), zap.Error(err))
		} else {
			s.setUnread(msg.ConversationID, 0)
		}
	}
	return nil
}

// HandleNewConversation inserts a conversation pushed on the new-chats
// queue at the front of the list. Already-known conversations are left
// untouched.
func (s *Store) HandleNewConversation(conv model.Conversation) {
	s.mu.Lock()
	if s.indexOfLocked(conv.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	s.conversations = slices.Insert(s.conversations, 0, conv)
	s.publishListLocked()
	s.mu.Unlock()
	s.bus.Emit(bus.KindConversationAdded, conv)
}

// HandleReadReceipt flips the local user's SENT/DELIVERED messages in
// the active window to READ when a peer reports having read them.
func (s *Store) HandleReadReceipt(r model.ReadReceipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.ID != r.ConversationID || r.ReaderID == s.localUserID {
		return
	}
	changed := false
	for i := range s.window {
		m := &s.window[i]
		if m.SenderID == s.localUserID &&
			(m.Status == model.StatusSent || m.Status == model.StatusDelivered) {
			m.Status = model.StatusRead
			changed = true
		}
	}
	if changed {
		s.publishWindowLocked()
	}
}

// UpdateTypingStatus stores a typing signal scoped to the active
// conversation; signals for other conversations are dropped. The
// indicator auto-expires after the typing TTL.
func (s *Store) UpdateTypingStatus(sig model.TypingSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.ID != sig.ConversationID {
		return
	}
	if !sig.Typing {
		s.clearTypingLocked()
		return
	}
	c := sig
	s.typingSig = &c
	s.typingVal.Set(&c)
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.typingTTL, s.expireTyping)
}

func (s *Store) expireTyping() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.typingSig == nil {
		return
	}
	s.typingSig = nil
	s.typingTimer = nil
	s.typingVal.Set(nil)
}

// SendMessage publishes a message to the broker and appends an
// optimistic PENDING copy to the active window. The broker echo
// confirms it via AddMessage. Fails fast when the channel is down;
// nothing is appended in that case.
func (s *Store) SendMessage(content string) (*model.Message, error) {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return nil, ErrNoActiveConversation
	}
	convID := s.active.ID
	s.mu.Unlock()

	msg := model.Message{
		Content:        content,
		SenderID:       s.localUserID,
		ConversationID: convID,
		CreatedAt:      time.Now().UTC(),
		Status:         model.StatusPending,
		ClientRef:      uuid.NewString(),
	}
	if err := s.channel.Send(DestSendMessage, msg); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	s.mu.Lock()
	if s.active != nil && s.active.ID == convID {
		s.window = append(s.window, msg)
		s.publishWindowLocked()
	}
	s.mu.Unlock()
	return &msg, nil
}

// SendTyping publishes the local user's typing state for the active
// conversation.
func (s *Store) SendTyping(typing bool) error {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return ErrNoActiveConversation
	}
	convID := s.active.ID
	s.mu.Unlock()

	return s.channel.Send(DestSendTyping, model.TypingSignal{
		ConversationID: convID,
		Username:       s.localUsername,
		Typing:         typing,
	})
}

// StartConversation gets or creates the 1:1 conversation with the
// recipient, inserts it into the list and makes it active.
func (s *Store) StartConversation(ctx context.Context, recipientID int64) (*model.Conversation, error) {
	s.loadingVal.Set(true)
	conv, err := s.gw.StartConversation(ctx, recipientID)
	s.loadingVal.Set(false)
	if err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	s.HandleNewConversation(*conv)
	if err := s.SetActiveConversation(ctx, *conv); err != nil {
		return conv, err
	}
	return conv, nil
}

// DeleteMessage removes a message on the server and, on success, from
// the local window.
func (s *Store) DeleteMessage(ctx context.Context, messageID int64) error {
	if err := s.gw.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	s.mu.Lock()
	for i, m := range s.window {
		if m.ID == messageID {
			s.window = slices.Delete(s.window, i, i+1)
			s.publishWindowLocked()
			break
		}
	}
	s.mu.Unlock()
	s.bus.Emit(bus.KindMessageDeleted, messageID)
	return nil
}

// Reset tears down all chat state; used at logout.
func (s *Store) Reset() {
	s.search.stop()
	s.mu.Lock()
	s.historyGen++
	s.conversations = nil
	s.active = nil
	s.window = nil
	s.resolvedTerm = ""
	s.clearTypingLocked()
	s.conversationsVal.Set(nil)
	s.filteredVal.Set(nil)
	s.activeVal.Set(nil)
	s.messagesVal.Set(nil)
	s.searchTermVal.Set("")
	s.mu.Unlock()
	s.bus.Emit(bus.KindStoreReset, nil)
}

// setUnread applies a targeted unread-counter update to one list entry.
func (s *Store) setUnread(conversationID int64, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOfLocked(conversationID)
	if idx < 0 || s.conversations[idx].UnreadCount == count {
		return
	}
	s.conversations[idx].UnreadCount = count
	s.publishListLocked()
	s.bus.Emit(bus.KindUnreadChanged, UnreadChange{
		ConversationID: conversationID,
		UnreadCount:    count,
	})
}

// lazyRefetch reloads the full conversation list in the background.
// Single-flight: concurrent triggers collapse into one request.
func (s *Store) lazyRefetch() {
	s.mu.Lock()
	if s.refetching {
		s.mu.Unlock()
		return
	}
	s.refetching = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.refetching = false
			s.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.LoadConversations(ctx); err != nil {
			s.logger.Warn("lazy conversation refetch failed", zap.Error(err))
		}
	}()
}

func (s *Store) indexOfLocked(conversationID int64) int {
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			return i
		}
	}
	return -1
}

// duplicateLocked mirrors the push-path duplicate guard: a confirmed id
// match, or an identical timestamp+content pair for unconfirmed
// messages.
func (s *Store) duplicateLocked(msg model.Message) bool {
	for i := range s.window {
		m := &s.window[i]
		if m.ID != 0 && m.ID == msg.ID {
			return true
		}
		if m.CreatedAt.Equal(msg.CreatedAt) && m.Content == msg.Content {
			return true
		}
	}
	return false
}

// reconcilePendingLocked resolves a self-sent echo against an
// optimistic PENDING entry, matching by client reference when the
// broker echoes it, by content otherwise.
func (s *Store) reconcilePendingLocked(msg model.Message) bool {
	if msg.SenderID != s.localUserID {
		return false
	}
	for i := range s.window {
		m := &s.window[i]
		if m.Status != model.StatusPending || m.Confirmed() {
			continue
		}
		matched := (msg.ClientRef != "" && m.ClientRef == msg.ClientRef) ||
			(msg.ClientRef == "" && m.Content == msg.Content)
		if !matched {
			continue
		}
		ref := m.ClientRef
		*m = msg
		m.ClientRef = ref
		if m.Status == "" || m.Status == model.StatusPending {
			m.Status = model.StatusSent
		}
		s.publishWindowLocked()
		return true
	}
	return false
}

func (s *Store) clearTypingLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	if s.typingSig != nil {
		s.typingSig = nil
		s.typingVal.Set(nil)
	}
}

func (s *Store) publishListLocked() {
	s.conversationsVal.Set(slices.Clone(s.conversations))
	s.filteredVal.Set(filterConversations(s.conversations, s.resolvedTerm, s.localUserID))
}

func (s *Store) publishWindowLocked() {
	s.messagesVal.Set(slices.Clone(s.window))
}

func sortConversations(list []model.Conversation) {
	slices.SortStableFunc(list, func(a, b model.Conversation) int {
		return b.LastMessageAt.Compare(a.LastMessageAt)
	})
}
