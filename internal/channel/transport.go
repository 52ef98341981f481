package channel

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type (
	// Conn is one established transport session carrying whole frames
	Conn interface {
		Read() ([]byte, error)
		Write(frame []byte) error
		Close() error
	}

	// Transport opens new sessions to the push backend
	Transport interface {
		Dial(ctx context.Context) (Conn, error)
	}

	// WSTransport dials the push backend over a websocket
	WSTransport struct {
		URL              string
		HandshakeTimeout time.Duration
		Header           http.Header
	}

	wsConn struct {
		conn      *websocket.Conn
		writeMu   sync.Mutex
		done      chan struct{}
		closeOnce sync.Once
	}
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 25 * time.Second
	pingPeriod   = 10 * time.Second // should be < pongWait
	maxFrameSize = 4 << 20
)

var _ Transport = (*WSTransport)(nil)

func (t *WSTransport) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, err
	}
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.HandshakeTimeout,
	}
	c, _, err := d.DialContext(ctx, u.String(), t.Header)
	if err != nil {
		return nil, err
	}
	return newWSConn(c), nil
}

func newWSConn(c *websocket.Conn) *wsConn {
	wc := &wsConn{
		conn: c,
		done: make(chan struct{}),
	}

	c.SetReadLimit(maxFrameSize)

	// If the backend is gone but TCP doesn't notify promptly, the read
	// deadline makes Read fail
	_ = c.SetReadDeadline(time.Now().Add(pongWait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})

	go wc.pingLoop()
	return wc
}

func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	err := net.ErrClosed
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait),
			)
			c.writeMu.Unlock()
			if err != nil {
				// Read will fail soon, either from the close or the deadline
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// closeReason describes why a session ended, in the terms shown to users
func closeReason(err error) string {
	var netErr net.Error
	switch {
	case err == nil:
		return "transport close"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "ping timeout"
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrUnexpectedEOF):
		return "transport close"
	case websocket.IsCloseError(err, websocket.CloseGoingAway,
		websocket.CloseNormalClosure):
		return "io server disconnect"
	case websocket.IsUnexpectedCloseError(err):
		return "transport close"
	default:
		return "transport error: " + err.Error()
	}
}
