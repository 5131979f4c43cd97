package chat

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/DERELya/instaking-chat/internal/model"
)

// debouncer coalesces rapid updates: fn fires with the latest value
// once delay has elapsed without a newer one.
type debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func(string)
}

func newDebouncer(delay time.Duration, fn func(string)) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) update(raw string) {
	resolved := strings.ToLower(strings.TrimSpace(raw))
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fn(resolved) })
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// filterConversations returns the conversations whose resolved display
// name or preview contains term (already lowercased and trimmed).
// An empty term matches everything.
func filterConversations(list []model.Conversation, term string, localUserID int64) []model.Conversation {
	if term == "" {
		return slices.Clone(list)
	}
	out := make([]model.Conversation, 0, len(list))
	for i := range list {
		c := &list[i]
		name := strings.ToLower(c.DisplayName(localUserID))
		preview := strings.ToLower(c.PreviewMessage)
		if strings.Contains(name, term) || strings.Contains(preview, term) {
			out = append(out, *c)
		}
	}
	return out
}
