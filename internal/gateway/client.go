package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"chartfeed/internal/logger"
	"chartfeed/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
)

// Envelope wraps every server-to-client message.
type Envelope struct {
	Type     string            `json:"type"` // "snapshot", "ack", "pong"
	Seq      uint64            `json:"seq,omitempty"`
	Data     *session.Snapshot `json:"data,omitempty"`
	ReqID    string            `json:"reqId,omitempty"`
	OK       *bool             `json:"ok,omitempty"`
	Error    string            `json:"error,omitempty"`
	Ping     int64             `json:"ping,omitempty"`
	ServerTS int64             `json:"server_ts,omitempty"`
}

// inbound is a client-to-server message.
type inbound struct {
	Type    string  `json:"type"` // "command" or "ping"
	ReqID   string  `json:"reqId"`
	Command Command `json:"command"`
	Ping    int64   `json:"ping"`
}

// Client is a single websocket peer.
type Client struct {
	id      string
	conn    *websocket.Conn
	srv     *Server
	snaps   <-chan session.Snapshot
	cancel  func()
	replies chan []byte
	log     *slog.Logger
}

func snapshotEnvelope(snap session.Snapshot) Envelope {
	return Envelope{Type: "snapshot", Seq: snap.Seq, Data: &snap}
}

// sendInitial writes the current snapshot so a new client renders
// immediately.
func (c *Client) sendInitial() bool {
	data, err := json.Marshal(snapshotEnvelope(c.srv.ctl.Snapshot()))
	if err != nil {
		c.log.Error("encode snapshot", slog.Any("error", err))
		return false
	}
	return c.write(data)
}

func (c *Client) reply(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.log.Error("encode envelope", slog.Any("error", err))
		return
	}
	select {
	case c.replies <- data:
	default:
		c.log.Warn("reply queue full, dropping", slog.String("type", env.Type))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case snap, ok := <-c.snaps:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(snapshotEnvelope(snap))
			if err != nil {
				c.log.Error("encode snapshot", slog.Any("error", err))
				continue
			}
			if !c.write(data) {
				return
			}
		case data := <-c.replies:
			if !c.write(data) {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data) == nil
}

func (c *Client) readPump() {
	defer func() {
		c.cancel()
		n := c.srv.hub.remove(c)
		c.conn.Close()
		c.log.Info("ws client disconnected", slog.Int("clients", n))
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var in inbound
		if err := json.Unmarshal(msg, &in); err != nil {
			c.log.Debug("ignoring malformed message", slog.Any("error", err))
			continue
		}

		switch in.Type {
		case "command":
			c.handleCommand(in)
		case "ping":
			c.reply(Envelope{Type: "pong", Ping: in.Ping, ServerTS: time.Now().UnixMilli()})
		default:
			c.log.Debug("ignoring message", slog.String("type", in.Type))
		}
	}
}

// handleCommand runs a command inline so commands from one client apply in
// the order they were sent.
func (c *Client) handleCommand(in inbound) {
	traceID := in.ReqID
	if traceID == "" {
		traceID = logger.GenerateTraceID(in.Command.Type, time.Now())
	}
	ctx := logger.WithTraceID(context.Background(), traceID)

	err := c.srv.Execute(ctx, in.Command)
	ok := err == nil
	ack := Envelope{Type: "ack", ReqID: in.ReqID, OK: &ok}
	if err != nil {
		ack.Error = err.Error()
	}
	c.reply(ack)
}
