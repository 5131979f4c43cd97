package realtime

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// transport is one established connection carrying whole STOMP frames.
// The seam exists so the client logic can be exercised against an
// in-memory pipe in tests.
type transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// DialFunc establishes a transport to the broker URL.
type DialFunc func(ctx context.Context, url, token string) (transport, error)

type wsTransport struct {
	conn *websocket.Conn
}

// dialWebsocket is the production DialFunc.
func dialWebsocket(ctx context.Context, url, token string) (transport, error) {
	opts := &websocket.DialOptions{}
	if token != "" {
		opts.HTTPHeader = http.Header{HdrAuthorization: []string{token}}
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
