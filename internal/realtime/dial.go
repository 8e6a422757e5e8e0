package realtime

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"
)

// maxFrameBytes bounds a single inbound frame.
const maxFrameBytes = 1 << 20

// Conn is one established connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens connections. WebSocketDialer is the production
// implementation; tests substitute their own.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebSocketDialer dials with nhooyr.io/websocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
}

func (d WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxFrameBytes)
	return wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w wsConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}
