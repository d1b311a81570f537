package realtime

import (
	"context"

	"github.com/gorilla/websocket"
)

// Conn is the minimal connection surface the manager consumes. The engine
// never writes to the channel.
type Conn interface {
	ReadMessage() ([]byte, error)
	Close() error
}

// Transport dials the push channel. Tests inject a fake; production uses the
// websocket transport.
type Transport interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

type websocketTransport struct {
	dialer *websocket.Dialer
}

// NewWebsocketTransport returns the production Transport backed by
// gorilla/websocket.
func NewWebsocketTransport() Transport {
	return &websocketTransport{dialer: websocket.DefaultDialer}
}

func (t *websocketTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) ReadMessage() ([]byte, error) {
	_, message, err := c.conn.ReadMessage()
	return message, err
}

func (c *websocketConn) Close() error {
	return c.conn.Close()
}
