package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/wschan/internal/protocol"
)

// Conn is the part of *websocket.Conn a channel drives.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPingHandler(h func(appData string) error)
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Dialer opens client connections.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, address string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, address string) (Conn, error) {
	return f(ctx, address)
}

type gorillaDialer struct {
	dialer *websocket.Dialer
}

// NewDialer wraps a gorilla dialer. A nil dialer uses a 10s handshake timeout.
func NewDialer(d *websocket.Dialer) Dialer {
	if d == nil {
		d = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	return &gorillaDialer{dialer: d}
}

func (d *gorillaDialer) Dial(ctx context.Context, address string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, address, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", address, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	conn.SetReadLimit(protocol.MaxFrameSize)
	return conn, nil
}

// closeStatus extracts the close code and reason from a read error.
func closeStatus(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, ""
}
