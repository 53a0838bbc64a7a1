package hub

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/banchess/server/internal/protocol"
	"github.com/gorilla/websocket"
)

// Heartbeat timings.
const (
	pingInterval     = 30 * time.Second
	inactiveAfter    = 10 * time.Second
	terminateAfter   = 60 * time.Second
	writeDeadline    = 10 * time.Second
	maxFrameBytes    = 64 * 1024
	outboundCapacity = 64
)

// Client is one authenticated connection, split into a readPump/writePump
// pair: one goroutine owns the socket read side, one owns the write side,
// and they only ever talk to each other through the send channel — never
// by touching c.conn concurrently.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userId protocol.UserId
	ident  protocol.Identity

	send chan []byte

	gameId protocol.GameId // "" when not attached to a room

	// lastPongNano is written by the read pump (pong handler) and read by
	// the write pump's heartbeat check.
	lastPongNano atomic.Int64
	inactive     bool // write-pump-only
}

func newClient(h *Hub, conn *websocket.Conn, ident protocol.Identity) *Client {
	c := &Client{
		hub:    h,
		conn:   conn,
		userId: ident.UserId,
		ident:  ident,
		send:   make(chan []byte, outboundCapacity),
	}
	c.lastPongNano.Store(time.Now().UnixNano())
	return c
}

func (c *Client) sinceLastPong() time.Duration {
	return time.Since(time.Unix(0, c.lastPongNano.Load()))
}

// deliver enqueues a frame for the write pump. If the outbound queue is
// already full it closes the send queue and the socket; the close frame
// the write pump then sends carries no status code (no 1009).
func (c *Client) deliver(frame any) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.hub.log.Error("failed to marshal outbound frame", "err", err)
		return
	}
	select {
	case c.send <- payload:
	default:
		c.hub.log.Warn("outbound queue full, closing connection", "userId", c.userId)
		close(c.send)
		c.conn.Close()
	}
}

// deliverRaw enqueues an already-marshaled payload, used when relaying a
// frame the bus delivered from another process rather than one this
// process produced itself.
func (c *Client) deliverRaw(payload []byte) {
	select {
	case c.send <- payload:
	default:
		c.hub.log.Warn("outbound queue full, closing connection", "userId", c.userId)
		close(c.send)
		c.conn.Close()
	}
}

func (c *Client) readPump() {
	defer c.hub.onDisconnect(c)

	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(terminateAfter))
	c.conn.SetPongHandler(func(string) error {
		c.lastPongNano.Store(time.Now().UnixNano())
		c.conn.SetReadDeadline(time.Now().Add(terminateAfter))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if len(data) > maxFrameBytes {
			c.deliver(protocol.ErrorFrame{Type: protocol.SFError, Message: "frame exceeds maximum size"})
			continue
		}
		frame, err := protocol.DecodeClientFrame(data)
		if err != nil {
			c.deliver(protocol.ErrorFrame{Type: protocol.SFError, Message: "malformed frame: " + err.Error()})
			continue
		}
		c.hub.handleFrame(c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			elapsed := c.sinceLastPong()
			if elapsed > terminateAfter {
				return
			}
			// Inactive but not yet gone: note it once and keep the socket
			// open until terminateAfter (§4.5 heartbeat policy).
			if elapsed > inactiveAfter && !c.inactive {
				c.inactive = true
				c.hub.log.Debug("peer inactive", "userId", c.userId)
			} else if elapsed <= inactiveAfter && c.inactive {
				c.inactive = false
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closeWithReason sends a WebSocket close frame with the given code and
// reason, used for session takeover and unauthorized-upgrade refusals.
func (c *Client) closeWithReason(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	c.conn.WriteMessage(websocket.CloseMessage, msg)
	c.conn.Close()
}
