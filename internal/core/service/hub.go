package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/Wyydra/castroom/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type client struct {
	conn port.Connection
	room string
	name string
}

type command struct {
	run    func() error
	result chan error
}

// Hub owns every room and connection. All state is mutated from the Run
// goroutine only; exported methods submit a command and wait for it.
type Hub struct {
	rooms   map[string]*domain.Room
	clients map[domain.ConnectionID]*client
	history port.ChatRepository
	now     func() time.Time
	log     zerolog.Logger

	commands chan command
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type HubOption func(*Hub)

func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

func WithLogger(l zerolog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}

// NewHub builds a hub. history may be nil when chat should not be kept.
func NewHub(history port.ChatRepository, opts ...HubOption) *Hub {
	h := &Hub{
		rooms:    make(map[string]*domain.Room),
		clients:  make(map[domain.ConnectionID]*client),
		history:  history,
		now:      time.Now,
		log:      log.With().Str("component", "hub").Logger(),
		commands: make(chan command),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.log.Info().Int("count", len(h.clients)).Msg("Stopping hub. Disconnecting all clients.")
			for id, c := range h.clients {
				if err := c.conn.Close(); err != nil {
					h.log.Error().Err(err).Str("client_id", id.String()).Msg("Error closing client connection")
				}
				delete(h.clients, id)
			}
			return

		case cmd := <-h.commands:
			cmd.result <- cmd.run()
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *Hub) do(ctx context.Context, fn func() error) error {
	cmd := command{run: fn, result: make(chan error, 1)}
	select {
	case h.commands <- cmd:
	case <-h.quit:
		return domain.ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		return err
	case <-h.done:
		return domain.ErrHubStopped
	}
}

// Connect registers conn and tells it its own id.
func (h *Hub) Connect(ctx context.Context, conn port.Connection) error {
	return h.do(ctx, func() error {
		h.register(conn)
		h.send(conn, domain.Event{Type: domain.EventConnected, Data: domain.Hello{ID: conn.ID()}})
		return nil
	})
}

func (h *Hub) register(conn port.Connection) *client {
	if c, ok := h.clients[conn.ID()]; ok {
		return c
	}
	c := &client{conn: conn}
	h.clients[conn.ID()] = c
	h.log.Info().Str("client_id", conn.ID().String()).Msg("Client registered")
	return c
}

// Join adds conn to room under name. Blank room or name is ignored.
func (h *Hub) Join(ctx context.Context, room, name string, conn port.Connection) error {
	room = strings.TrimSpace(room)
	name = strings.TrimSpace(name)
	if room == "" || name == "" {
		return nil
	}
	return h.do(ctx, func() error {
		c := h.register(conn)
		if c.room != "" && c.room != room {
			h.leave(c.room, c)
		}

		r, ok := h.rooms[room]
		if !ok {
			r = domain.NewRoom(room)
			h.rooms[room] = r
			h.log.Info().Str("room", room).Msg("Room created")
		}

		member := domain.Member{Name: name, ConnectionID: conn.ID()}
		if _, already := r.Member(conn.ID()); !already {
			h.broadcast(r, domain.Event{Type: domain.EventUserJoin, Data: name}, "")
			r.Add(member)
			c.room = room
			c.name = name
			h.log.Info().Str("room", room).Str("client_id", conn.ID().String()).Int("count", len(r.Members)).Msg("Client joined room")
		}

		h.send(conn, domain.Event{Type: domain.EventLoggedIn})
		h.send(conn, domain.Event{Type: domain.EventOtherUsers, Data: r.Names()})
		if r.HasBroadcaster() {
			h.send(conn, domain.Event{Type: domain.EventBroadcastStarted, Data: r.Broadcaster})
		}
		return nil
	})
}

func (h *Hub) Leave(ctx context.Context, room string, conn port.Connection) error {
	return h.do(ctx, func() error {
		c, ok := h.clients[conn.ID()]
		if !ok {
			return nil
		}
		h.leave(strings.TrimSpace(room), c)
		return nil
	})
}

func (h *Hub) leave(room string, c *client) {
	r, ok := h.rooms[room]
	if !ok {
		return
	}
	id := c.conn.ID()
	member, ok := r.Remove(id)
	if !ok {
		return
	}
	if c.room == room {
		c.room = ""
	}
	h.log.Info().Str("room", room).Str("client_id", id.String()).Int("count", len(r.Members)).Msg("Client left room")

	h.broadcast(r, domain.Event{Type: domain.EventUserLeft, Data: member.Name}, "")
	if r.Broadcaster == id {
		r.Broadcaster = ""
		h.broadcast(r, domain.Event{Type: domain.EventBroadcasterLeft}, "")
		h.log.Info().Str("room", room).Str("client_id", id.String()).Msg("Broadcaster left")
	}

	if r.Empty() {
		delete(h.rooms, room)
		if h.history != nil {
			if err := h.history.Forget(context.Background(), room); err != nil {
				h.log.Error().Err(err).Str("room", room).Msg("Failed to drop chat history")
			}
		}
		h.log.Info().Str("room", room).Msg("Room deleted")
	}
}

// RelayChat stamps text with the sender's name and the current time and
// sends it to everyone in the sender's room, sender included.
func (h *Hub) RelayChat(ctx context.Context, text string, conn port.Connection) error {
	return h.do(ctx, func() error {
		c, r, err := h.roomOf(conn)
		if err != nil {
			return err
		}
		msg, err := domain.NewChatMessage(r.Name, c.name, text, h.now())
		if err != nil {
			return nil
		}
		if h.history != nil {
			if err := h.history.Save(ctx, *msg); err != nil {
				h.log.Error().Err(err).Str("room", r.Name).Str("message_id", msg.ID.String()).Msg("Failed to save chat message")
			}
		}
		h.broadcast(r, domain.Event{Type: domain.EventMessage, Data: domain.NewChatPayload(*msg)}, "")
		return nil
	})
}

// ClaimBroadcaster gives conn the broadcaster slot of its room.
func (h *Hub) ClaimBroadcaster(ctx context.Context, conn port.Connection) error {
	return h.do(ctx, func() error {
		_, r, err := h.roomOf(conn)
		if err != nil {
			return err
		}
		id := conn.ID()
		if r.HasBroadcaster() && r.Broadcaster != id {
			h.log.Warn().Str("room", r.Name).Str("client_id", id.String()).Str("broadcaster", r.Broadcaster.String()).Msg("Broadcaster slot already taken")
			return domain.ErrBroadcasterConflict
		}
		r.Broadcaster = id
		h.log.Info().Str("room", r.Name).Str("client_id", id.String()).Msg("Broadcast started")

		h.send(conn, domain.Event{Type: domain.EventBroadcasterConfirm})
		h.broadcast(r, domain.Event{Type: domain.EventBroadcastStarted, Data: id}, id)
		return nil
	})
}

// RouteNegotiation delivers msg to msg.Target. Unknown targets are dropped
// without telling the sender. The sender is always set to conn.
func (h *Hub) RouteNegotiation(ctx context.Context, msg domain.NegotiationMessage, conn port.Connection) error {
	msg.Sender = conn.ID()
	return h.do(ctx, func() error {
		if _, _, err := h.roomOf(conn); err != nil {
			return err
		}
		target, ok := h.clients[msg.Target]
		if msg.Target.IsZero() || !ok {
			h.log.Debug().Str("client_id", conn.ID().String()).Str("target", msg.Target.String()).Str("action", string(msg.Action)).Msg("Dropping negotiation message for unknown target")
			return nil
		}
		h.send(target.conn, domain.Event{Type: domain.EventWebRTCMessage, Data: msg})
		return nil
	})
}

// Disconnect removes conn from its room and from the registry.
func (h *Hub) Disconnect(ctx context.Context, conn port.Connection) error {
	return h.do(ctx, func() error {
		c, ok := h.clients[conn.ID()]
		if !ok {
			return nil
		}
		if c.room != "" {
			h.leave(c.room, c)
		}
		delete(h.clients, conn.ID())
		h.log.Info().Str("client_id", conn.ID().String()).Msg("Client unregistered")
		return nil
	})
}

func (h *Hub) Rooms(ctx context.Context) ([]domain.RoomSnapshot, error) {
	var out []domain.RoomSnapshot
	err := h.do(ctx, func() error {
		out = make([]domain.RoomSnapshot, 0, len(h.rooms))
		for _, r := range h.rooms {
			out = append(out, r.Snapshot())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func (h *Hub) Room(ctx context.Context, name string) (domain.RoomSnapshot, bool, error) {
	var (
		snap  domain.RoomSnapshot
		found bool
	)
	err := h.do(ctx, func() error {
		if r, ok := h.rooms[name]; ok {
			snap, found = r.Snapshot(), true
		}
		return nil
	})
	return snap, found, err
}

func (h *Hub) roomOf(conn port.Connection) (*client, *domain.Room, error) {
	c, ok := h.clients[conn.ID()]
	if !ok || c.room == "" {
		return nil, nil, domain.ErrNotInRoom
	}
	r, ok := h.rooms[c.room]
	if !ok {
		return nil, nil, domain.ErrNotInRoom
	}
	return c, r, nil
}

// broadcast sends ev to every member of r except skip.
func (h *Hub) broadcast(r *domain.Room, ev domain.Event, skip domain.ConnectionID) {
	for _, m := range r.Members {
		if m.ConnectionID == skip {
			continue
		}
		c, ok := h.clients[m.ConnectionID]
		if !ok {
			continue
		}
		h.send(c.conn, ev)
	}
}

func (h *Hub) send(conn port.Connection, ev domain.Event) {
	if err := conn.Send(ev); err != nil {
		h.log.Warn().Err(err).Str("client_id", conn.ID().String()).Str("event", ev.Type).Msg("Error sending event")
	}
}
