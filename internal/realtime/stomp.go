package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/DERELya/instaking-chat/internal/bus"
	"github.com/DERELya/instaking-chat/internal/status"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// StompChannel is the production Channel: STOMP 1.2 over a websocket,
// with automatic reconnect and subscription replay. All state
// transitions go through the status machine and are published on the
// bus.
type StompChannel struct {
	url     string
	host    string
	token   func() string
	dial    DialFunc
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	backoff Backoff

	mu        sync.Mutex
	running   bool
	connected bool
	conn      transport
	cancel    context.CancelFunc
	subs      map[string]*subEntry
	nextSubID int

	writeMu sync.Mutex
}

type subEntry struct {
	id      string
	handler Handler
}

// NewStompChannel creates a channel for the given websocket URL. token
// may be nil when the broker requires no authentication.
func NewStompChannel(rawURL string, token func() string, machine *status.Machine, b *bus.Bus, logger *zap.Logger, backoff Backoff) *StompChannel {
	host := "/"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	if backoff.Initial <= 0 {
		backoff = DefaultBackoff
	}
	return &StompChannel{
		url:     rawURL,
		host:    host,
		token:   token,
		dial:    dialWebsocket,
		machine: machine,
		bus:     b,
		logger:  logger,
		backoff: backoff,
	}
}

// Connect starts the connection loop. Safe to call while already
// running (no duplicate connections). The loop lives until ctx is
// cancelled, Disconnect is called, or the retry budget is exhausted.
func (c *StompChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	if c.subs == nil {
		c.subs = make(map[string]*subEntry)
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.machine.Transition(status.Connecting); err != nil {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		return err
	}

	go c.run(runCtx)
	return nil
}

// Disconnect releases the transport. Subsequent Send calls fail fast
// with ErrNotConnected. Idempotent.
func (c *StompChannel) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	wasRunning := c.running
	c.running = false
	c.connected = false
	c.cancel = nil
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = c.write(conn, NewFrame(CmdDisconnect))
		_ = conn.Close()
	}
	if wasRunning {
		_ = c.machine.Transition(status.Closed)
	}
}

// Subscribe registers a handler for a broker destination. Issued
// immediately when connected, otherwise queued until the session is
// established, and replayed after every reconnect.
func (c *StompChannel) Subscribe(destination string, h Handler) {
	c.mu.Lock()
	if c.subs == nil {
		c.subs = make(map[string]*subEntry)
	}
	if _, exists := c.subs[destination]; exists {
		c.mu.Unlock()
		return
	}
	c.nextSubID++
	entry := &subEntry{id: fmt.Sprintf("sub-%d", c.nextSubID), handler: h}
	c.subs[destination] = entry
	conn, connected := c.conn, c.connected
	c.mu.Unlock()

	if connected && conn != nil {
		if err := c.write(conn, subscribeFrame(destination, entry.id)); err != nil {
			c.logger.Warn("subscribe failed, will replay on reconnect",
				zap.String("destination", destination), zap.Error(err))
		}
	}
}

// Send publishes a JSON payload to a broker destination. Fails fast
// with ErrNotConnected when the channel is down: the caller must treat
// that as "message not sent", not as success.
func (c *StompChannel) Send(destination string, payload any) error {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: encode payload: %w", err)
	}
	frame := NewFrame(CmdSend, HdrDestination, destination, HdrContentType, "application/json")
	frame.Body = data
	return c.write(conn, frame)
}

func (c *StompChannel) run(ctx context.Context) {
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := c.establish(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if c.backoff.Exhausted(failures) {
				c.logger.Warn("realtime retries exhausted, channel offline",
					zap.Int("failures", failures))
				_ = c.machine.Transition(status.Offline)
				c.bus.Emit(bus.KindChannelOffline, failures)
				c.mu.Lock()
				c.running = false
				c.cancel = nil
				c.mu.Unlock()
				return
			}
			delay := c.backoff.Delay(failures - 1)
			c.logger.Warn("realtime connect failed",
				zap.Error(err), zap.Int("attempt", failures), zap.Duration("retry_in", delay))
			if c.machine.Current() == status.Connecting {
				_ = c.machine.Transition(status.Reconnecting)
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			_ = c.machine.Transition(status.Connecting)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		c.mu.Unlock()
		_ = c.machine.Transition(status.Connected)
		failures = 0
		c.logger.Info("realtime channel connected")

		c.replaySubscriptions(conn)

		err = c.readLoop(ctx, conn)
		c.mu.Lock()
		c.connected = false
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("realtime connection lost", zap.Error(err))
		_ = c.machine.Transition(status.Reconnecting)
		failures = 1
		select {
		case <-time.After(c.backoff.Delay(0)):
		case <-ctx.Done():
			return
		}
		_ = c.machine.Transition(status.Connecting)
	}
}

// establish dials the broker and completes the CONNECT/CONNECTED
// handshake.
func (c *StompChannel) establish(ctx context.Context) (transport, error) {
	token := ""
	if c.token != nil {
		token = c.token()
	}
	conn, err := c.dial(ctx, c.url, token)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	connect := NewFrame(CmdConnect, HdrAcceptVersion, "1.2", HdrHost, c.host)
	if token != "" {
		connect.Headers[HdrAuthorization] = token
	}
	if err := conn.Write(ctx, connect.Marshal()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("await CONNECTED: %w", err)
		}
		frame, err := ParseFrame(data)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		if frame == nil {
			continue
		}
		switch frame.Command {
		case CmdConnected:
			return conn, nil
		case CmdError:
			_ = conn.Close()
			return nil, fmt.Errorf("broker refused session: %s", frame.Headers["message"])
		default:
			_ = conn.Close()
			return nil, fmt.Errorf("unexpected %s frame before CONNECTED", frame.Command)
		}
	}
}

func (c *StompChannel) replaySubscriptions(conn transport) {
	c.mu.Lock()
	frames := make([]*Frame, 0, len(c.subs))
	for dest, entry := range c.subs {
		frames = append(frames, subscribeFrame(dest, entry.id))
	}
	c.mu.Unlock()

	for _, f := range frames {
		if err := c.write(conn, f); err != nil {
			c.logger.Warn("subscription replay failed", zap.Error(err))
			return
		}
	}
}

func (c *StompChannel) readLoop(ctx context.Context, conn transport) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		frame, err := ParseFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if frame == nil {
			continue
		}
		switch frame.Command {
		case CmdMessage:
			dest := frame.Headers[HdrDestination]
			c.mu.Lock()
			entry := c.subs[dest]
			c.mu.Unlock()
			if entry == nil {
				c.logger.Warn("message for unknown destination", zap.String("destination", dest))
				continue
			}
			entry.handler(frame.Body)
		case CmdError:
			c.logger.Warn("broker error frame",
				zap.String("message", frame.Headers["message"]),
				zap.ByteString("body", frame.Body))
		case CmdReceipt:
			// Receipts are not requested; ignore.
		}
	}
}

func (c *StompChannel) write(conn transport, f *Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Write(ctx, f.Marshal())
}

func subscribeFrame(destination, id string) *Frame {
	return NewFrame(CmdSubscribe, HdrID, id, HdrDestination, destination)
}
