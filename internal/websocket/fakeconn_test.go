package websocket

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type fakeMsg struct {
	kind int
	data []byte
	err  error
}

// fakeConn is an in-memory Conn. Paired conns deliver to each other the way
// two ends of a websocket would; a standalone conn collects its writes in out.
type fakeConn struct {
	in     chan fakeMsg
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	peer   *fakeConn

	mu          sync.Mutex
	pingHandler func(string) error
	pongHandler func(string) error
	closeSent   bool

	// writeGate, when set before the conn is used, holds every data write
	// until it is closed.
	writeGate chan struct{}
	gated     atomic.Int32

	failWrites  atomic.Bool
	answerPings atomic.Bool
	echoClose   atomic.Bool
	pings       atomic.Int32
	pongs       atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan fakeMsg, 1024),
		out:    make(chan []byte, 1024),
		closed: make(chan struct{}),
	}
}

func newFakePair() (*fakeConn, *fakeConn) {
	a, b := newFakeConn(), newFakeConn()
	a.peer, b.peer = b, a
	return a, b
}

func (f *fakeConn) push(m fakeMsg) {
	select {
	case f.in <- m:
	case <-f.closed:
	}
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// deliver makes frame readable as if the peer had sent it.
func (f *fakeConn) deliver(frame string) {
	f.push(fakeMsg{kind: websocket.TextMessage, data: []byte(frame)})
}

// drop breaks the connection from the peer side without a close frame.
func (f *fakeConn) drop() {
	f.push(fakeMsg{err: io.ErrUnexpectedEOF})
}

// written returns the next frame written to a standalone conn.
func (f *fakeConn) written(timeout time.Duration) ([]byte, bool) {
	select {
	case data := <-f.out:
		return data, true
	case <-time.After(timeout):
		return nil, false
	}
}

func parseClose(data []byte) (int, string) {
	if len(data) < 2 {
		return websocket.CloseNoStatusReceived, ""
	}
	return int(binary.BigEndian.Uint16(data[:2])), string(data[2:])
}

func (f *fakeConn) handler(kind int) func(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind == websocket.PingMessage {
		return f.pingHandler
	}
	return f.pongHandler
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	for {
		select {
		case <-f.closed:
			return 0, nil, net.ErrClosed
		case m := <-f.in:
			if m.err != nil {
				return 0, nil, m.err
			}
			switch m.kind {
			case websocket.PingMessage, websocket.PongMessage:
				if h := f.handler(m.kind); h != nil {
					if err := h(string(m.data)); err != nil {
						return 0, nil, err
					}
				}
				continue
			case websocket.CloseMessage:
				code, text := parseClose(m.data)
				f.mu.Lock()
				sent := f.closeSent
				f.closeSent = true
				f.mu.Unlock()
				if !sent && f.peer != nil {
					f.peer.push(fakeMsg{kind: websocket.CloseMessage, data: websocket.FormatCloseMessage(code, "")})
				}
				return 0, nil, &websocket.CloseError{Code: code, Text: text}
			}
			return m.kind, m.data, nil
		}
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if f.isClosed() {
		return net.ErrClosed
	}
	if f.failWrites.Load() {
		return errors.New("write: broken pipe")
	}
	f.mu.Lock()
	sent := f.closeSent
	f.mu.Unlock()
	if sent {
		return websocket.ErrCloseSent
	}

	if f.writeGate != nil {
		f.gated.Add(1)
		select {
		case <-f.writeGate:
		case <-f.closed:
			return net.ErrClosed
		}
	}

	buf := append([]byte(nil), data...)
	if f.peer != nil {
		f.peer.push(fakeMsg{kind: messageType, data: buf})
		return nil
	}
	f.out <- buf
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	if f.isClosed() {
		return net.ErrClosed
	}

	switch messageType {
	case websocket.PingMessage:
		f.pings.Add(1)
		if f.peer != nil {
			f.peer.push(fakeMsg{kind: websocket.PingMessage, data: data})
		} else if f.answerPings.Load() {
			f.push(fakeMsg{kind: websocket.PongMessage, data: data})
		}
	case websocket.PongMessage:
		f.pongs.Add(1)
		if f.peer != nil {
			f.peer.push(fakeMsg{kind: websocket.PongMessage, data: data})
		}
	case websocket.CloseMessage:
		f.mu.Lock()
		if f.closeSent {
			f.mu.Unlock()
			return websocket.ErrCloseSent
		}
		f.closeSent = true
		f.mu.Unlock()

		if f.peer != nil {
			f.peer.push(fakeMsg{kind: websocket.CloseMessage, data: data})
		} else if f.echoClose.Load() {
			code, _ := parseClose(data)
			f.push(fakeMsg{err: &websocket.CloseError{Code: code}})
		}
	}
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error {
	return nil
}

func (f *fakeConn) SetPingHandler(h func(string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingHandler = h
}

func (f *fakeConn) SetPongHandler(h func(string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pongHandler = h
}

func (f *fakeConn) Close() error {
	f.once.Do(func() {
		close(f.closed)
		if f.peer != nil {
			f.peer.drop()
		}
	})
	return nil
}
