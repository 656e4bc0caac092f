package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/Wyydra/castroom/internal/adapter/wire"
	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// SDP blobs with many candidates stay well below this.
	DefaultReadLimit  = 64 * 1024
	DefaultSendBuffer = 64
)

var (
	ErrClosed         = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client is one signaling WebSocket. It implements port.Connection; frames
// queued with Send are written by WritePump, so Send never blocks the hub.
type Client struct {
	id   domain.ConnectionID
	conn *websocket.Conn
	log  zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	readLimit int64
}

type Option func(*Client)

func WithSendBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.send = make(chan []byte, n)
		}
	}
}

func WithReadLimit(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

func NewClient(conn *websocket.Conn, opts ...Option) *Client {
	id := domain.NewConnectionID()
	c := &Client{
		id:        id,
		conn:      conn,
		log:       log.With().Str("client_id", id.String()).Logger(),
		send:      make(chan []byte, DefaultSendBuffer),
		done:      make(chan struct{}),
		readLimit: DefaultReadLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ID() domain.ConnectionID {
	return c.id
}

// Logger is tagged with the client id.
func (c *Client) Logger() zerolog.Logger {
	return c.log
}

func (c *Client) Send(ev domain.Event) error {
	frame, err := wire.Encode(ev)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		c.log.Warn().Str("event", ev.Type).Msg("Send buffer full, dropping frame")
		return ErrSendBufferFull
	}
}

// Close asks the write pump to say goodbye and close the socket.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// ReadPump hands every inbound frame to handle until the socket fails or is
// closed. It must run on a single goroutine.
func (c *Client) ReadPump(handle func(frame []byte)) {
	defer c.Close()

	c.conn.SetReadLimit(c.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
		handle(frame)
	}
}

// WritePump owns every write to the socket and closes it on exit.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("Write failed")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued.
func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}
