// Package peer is the client side of the signaling hub: a WebSocket
// connection plus the role state that drives negotiation over it.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/castroom/internal/adapter/wire"
	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	outgoingBuffer = 64
)

var ErrClientClosed = errors.New("signaling connection closed")

// Client manages the WebSocket connection to the hub. It implements
// port.Signaler.
type Client struct {
	conn *websocket.Conn
	log  zerolog.Logger

	incoming  chan wire.Envelope
	outgoing  chan []byte
	done      chan struct{}
	closeOnce sync.Once

	ready     chan struct{}
	readyOnce sync.Once
	idMu      sync.RWMutex
	id        domain.ConnectionID
}

// Dial connects to the hub at url, e.g. ws://localhost:8080/ws.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:     conn,
		log:      log.With().Str("component", "signaling").Logger(),
		incoming: make(chan wire.Envelope, outgoingBuffer),
		outgoing: make(chan []byte, outgoingBuffer),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// Ready is closed once the hub has assigned this client an id.
func (c *Client) Ready() <-chan struct{} {
	return c.ready
}

// WaitReady blocks until Ready or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) ID() domain.ConnectionID {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.id
}

// Incoming yields every frame from the hub. It is closed when the
// connection ends.
func (c *Client) Incoming() <-chan wire.Envelope {
	return c.incoming
}

// Done is closed once Close has been called or the connection dropped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Join(room, name string) error {
	return c.emit(domain.EventJoinRoom, wire.JoinRoom{Room: room, Name: name})
}

func (c *Client) Leave(room string) error {
	return c.emit(domain.EventLeaveRoom, wire.LeaveRoom{Room: room})
}

func (c *Client) Chat(text string) error {
	return c.emit(domain.EventMessage, wire.Chat{Text: text})
}

func (c *Client) ClaimBroadcaster() error {
	return c.emit(domain.EventInitBroadcaster, nil)
}

func (c *Client) SendNegotiation(msg domain.NegotiationMessage) error {
	frame, err := wire.MarshalNegotiation(msg)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Client) emit(typ string, data any) error {
	frame, err := wire.Marshal(typ, data)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func (c *Client) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("Signaling connection lost")
			}
			return
		}
		env, err := wire.Decode(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}
		if env.Type == domain.EventConnected {
			c.hello(env)
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) hello(env wire.Envelope) {
	var h domain.Hello
	if err := env.Bind(&h); err != nil || h.ID.IsZero() {
		c.log.Warn().Err(err).Msg("Invalid hello from hub")
		return
	}
	c.readyOnce.Do(func() {
		c.idMu.Lock()
		c.id = h.ID
		c.idMu.Unlock()
		close(c.ready)
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn().Err(err).Msg("Write failed")
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
