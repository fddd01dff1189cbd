package feed

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open transport. ReadMessage is called from a single reader
// goroutine; WriteMessage calls are serialized by the Connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials websocket transports with gorilla/websocket.
type WSDialer struct {
	HandshakeTimeout time.Duration
	// ReadTimeout closes a silent connection; server pings extend it.
	// Zero disables the deadline.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Header       http.Header
}

func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	c, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	wc := &wsConn{c: c, readTimeout: d.ReadTimeout, writeTimeout: d.WriteTimeout}
	if wc.writeTimeout == 0 {
		wc.writeTimeout = 10 * time.Second
	}
	if wc.readTimeout > 0 {
		c.SetPingHandler(func(data string) error {
			c.SetReadDeadline(time.Now().Add(wc.readTimeout))
			return c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wc.writeTimeout))
		})
	}
	return wc, nil
}

type wsConn struct {
	c            *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	if w.readTimeout > 0 {
		w.c.SetReadDeadline(time.Now().Add(w.readTimeout))
	}
	_, data, err := w.c.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	w.c.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return w.c.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	w.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
		time.Now().Add(time.Second))
	return w.c.Close()
}
