package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errClientClosed = errors.New("client closed")

type ClientConfig struct {
	WriteWait  time.Duration // Time allowed to write a message to the peer.
	PingPeriod time.Duration // Send pings to peer with this period. Must be less than pongWait.
	ReadLimit  int64         // Maximum message size allowed from peer.
	SendBuffer int
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = 54 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 8192
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

// pongWait is the time allowed to read the next pong message from the peer.
func (c ClientConfig) pongWait() time.Duration {
	return c.PingPeriod * 10 / 9
}

// Client is a middleman between the websocket connection and the coordinator.
// It is the Sink the registry fans out to.
type Client struct {
	coord  *Coordinator
	conn   *websocket.Conn
	cfg    ClientConfig
	ID     ConnID
	UserID string

	// Buffered channel of outbound messages.
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func NewClient(coord *Coordinator, conn *websocket.Conn, id ConnID, userID string, cfg ClientConfig) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		coord:  coord,
		conn:   conn,
		cfg:    cfg,
		ID:     id,
		UserID: userID,
		send:   make(chan []byte, cfg.SendBuffer),
	}
}

// TrySend queues a frame without blocking.
func (c *Client) TrySend(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

// Close stops the writePump. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump pumps frames from the websocket connection to the coordinator.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		// Cleanup: If connection dies, drop its membership
		c.coord.Disconnect(c.ID)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.pongWait()))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("module", "chat.client").Str("conn", string(c.ID)).Msg("read error")
			}
			return
		}
		c.handle(ctx, data)
	}
}

func (c *Client) handle(ctx context.Context, data []byte) {
	var in WSMessage
	if err := json.Unmarshal(data, &in); err != nil {
		c.reply(ReplyFrame{Type: FrameError, Error: "bad_payload"})
		return
	}

	switch in.Type {
	case FrameJoin:
		if err := c.coord.JoinRoom(ctx, c.ID, c.UserID, in.RoomID); err != nil {
			c.reply(ReplyFrame{Type: FrameError, RoomID: in.RoomID, Error: err.Error()})
			return
		}
		c.reply(ReplyFrame{Type: FrameJoined, RoomID: in.RoomID})
	case FrameLeave:
		c.coord.LeaveRoom(c.ID, in.RoomID)
		c.reply(ReplyFrame{Type: FrameLeft, RoomID: in.RoomID})
	case FrameSend:
		// The sender sees its own message through the room broadcast.
		if _, err := c.coord.SendMessage(ctx, c.ID, c.UserID, in.RoomID, in.Content); err != nil {
			c.reply(ReplyFrame{Type: FrameError, RoomID: in.RoomID, Error: err.Error()})
		}
	case FramePing:
		c.reply(ReplyFrame{Type: FramePong})
	default:
		c.reply(ReplyFrame{Type: FrameError, Error: "unknown_type"})
	}
}

func (c *Client) reply(f ReplyFrame) {
	b, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("module", "chat.client").Msg("marshal reply")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "chat.client").Str("conn", string(c.ID)).Msg("reply dropped")
	}
}

// WritePump pumps frames from the send buffer to the websocket connection.
// Queued frames are flushed together, one JSON document per line.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				// The registry or a disconnect closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
