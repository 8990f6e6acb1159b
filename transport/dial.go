package transport

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"
)

const readLimit = 1 << 20

// Conn is one live websocket connection carrying text messages.
type Conn interface {
	Write(ctx context.Context, data []byte) error
	// Read returns the next text message. Binary messages are skipped.
	Read(ctx context.Context) ([]byte, error)
	// Close starts an orderly close and returns without waiting for the
	// peer to acknowledge it.
	Close() error
}

// Dialer opens connections to the transcriber endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WebsocketDialer dials real websocket connections.
type WebsocketDialer struct {
	Header     http.Header
	HTTPClient *http.Client
}

func (d WebsocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (c *wsConn) Close() error {
	// The close handshake is bounded inside the library; nobody waits on it.
	go c.conn.Close(websocket.StatusNormalClosure, "recording stopped")
	return nil
}
