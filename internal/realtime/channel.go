// Package realtime implements the push side of the chat protocol: a
// STOMP-over-websocket channel with subscription replay and capped
// exponential reconnect backoff.
package realtime

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by Send when the channel is down. The
// message was not transmitted and the caller must not treat the call as
// success.
var ErrNotConnected = errors.New("realtime: channel not connected")

// Handler receives the body of one broker MESSAGE frame.
type Handler func(body []byte)

// Channel is a persistent push connection to the chat broker.
//
// Connect is idempotent: calling it while the channel is already running
// is a no-op. Subscriptions registered before the connection is
// established are queued and flushed once the broker confirms the
// session, and replayed after every reconnect.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect()
	Subscribe(destination string, h Handler)
	Send(destination string, payload any) error
}

// Backoff describes the reconnect schedule: Initial doubled per attempt,
// capped at Max. After MaxRetries consecutive failures the channel gives
// up and surfaces the offline state. MaxRetries <= 0 retries forever.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int
}

// DefaultBackoff matches the documented reconnect policy: 1s base,
// doubling, 30s cap, 10 attempts.
var DefaultBackoff = Backoff{
	Initial:    time.Second,
	Max:        30 * time.Second,
	MaxRetries: 10,
}

// Delay returns the wait before retry number attempt (zero-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	if d <= 0 {
		d = time.Second
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted reports whether the given number of consecutive failures
// has used up the retry budget.
func (b Backoff) Exhausted(failures int) bool {
	return b.MaxRetries > 0 && failures > b.MaxRetries
}
