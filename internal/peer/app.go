package peer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Wyydra/castroom/internal/adapter/wire"
	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/Wyydra/castroom/internal/core/negotiation"
	"github.com/Wyydra/castroom/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Role int

const (
	RoleNone Role = iota
	RoleBroadcaster
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleBroadcaster:
		return "broadcaster"
	case RoleViewer:
		return "viewer"
	}
	return "none"
}

var ErrNotReady = errors.New("hub has not assigned an id yet")

type AppConfig struct {
	Client             *Client
	Transports         port.TransportFactory
	NegotiationTimeout time.Duration

	// Callbacks, all optional. They run on the App's goroutines and must not
	// block for long.
	OnEvent    func(Role, negotiation.Event)
	OnChat     func(domain.ChatPayload)
	OnPresence func(name string, joined bool)
	OnError    func(event string, p domain.ErrorPayload)
}

// App holds exactly one role at a time and routes hub traffic to it.
type App struct {
	cfg AppConfig
	log zerolog.Logger

	mu          sync.Mutex
	role        Role
	broadcaster *negotiation.Broadcaster
	viewer      *negotiation.Viewer
	room        string
}

func NewApp(cfg AppConfig) *App {
	return &App{
		cfg: cfg,
		log: log.With().Str("component", "app").Logger(),
	}
}

func (a *App) Role() Role {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.role
}

func (a *App) Broadcaster() *negotiation.Broadcaster {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.broadcaster
}

func (a *App) Viewer() *negotiation.Viewer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewer
}

// Join enters room under name. Room names are case-insensitive.
func (a *App) Join(room, name string) error {
	room = strings.ToLower(strings.TrimSpace(room))
	a.mu.Lock()
	a.room = room
	a.mu.Unlock()
	return a.cfg.Client.Join(room, strings.TrimSpace(name))
}

// Leave exits the room joined last, if any.
func (a *App) Leave() error {
	a.mu.Lock()
	room := a.room
	a.room = ""
	a.mu.Unlock()
	if room == "" {
		return nil
	}
	return a.cfg.Client.Leave(room)
}

func (a *App) Chat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return a.cfg.Client.Chat(text)
}

// BecomeViewer drops any current role and starts a fresh viewer.
func (a *App) BecomeViewer() (*negotiation.Viewer, error) {
	cfg, err := a.negotiationConfig(RoleViewer)
	if err != nil {
		return nil, err
	}
	v := negotiation.NewViewer(cfg)

	a.mu.Lock()
	stop := a.detachLocked()
	a.role = RoleViewer
	a.viewer = v
	a.mu.Unlock()
	stop()

	a.log.Info().Msg("Now a viewer")
	return v, nil
}

// BecomeBroadcaster drops any current role and starts broadcasting src. The
// hub is asked for the broadcaster slot once the broadcast is running.
func (a *App) BecomeBroadcaster(src port.MediaSource) (*negotiation.Broadcaster, error) {
	cfg, err := a.negotiationConfig(RoleBroadcaster)
	if err != nil {
		return nil, err
	}
	b := negotiation.NewBroadcaster(cfg)

	a.mu.Lock()
	stop := a.detachLocked()
	a.role = RoleBroadcaster
	a.broadcaster = b
	a.mu.Unlock()
	stop()

	a.log.Info().Msg("Now a broadcaster")
	if err := b.Start(src); err != nil {
		return nil, err
	}
	return b, nil
}

// Close stops whichever role is active.
func (a *App) Close() {
	a.mu.Lock()
	stop := a.detachLocked()
	a.role = RoleNone
	a.mu.Unlock()
	stop()
}

// detachLocked forgets the current role and returns the call that shuts it
// down, to be made without a.mu held.
func (a *App) detachLocked() func() {
	b, v := a.broadcaster, a.viewer
	a.broadcaster, a.viewer = nil, nil
	return func() {
		if b != nil {
			b.Stop()
		}
		if v != nil {
			v.Reset()
		}
	}
}

func (a *App) negotiationConfig(role Role) (negotiation.Config, error) {
	id := a.cfg.Client.ID()
	if id.IsZero() {
		return negotiation.Config{}, ErrNotReady
	}
	return negotiation.Config{
		ID:                 id,
		Transports:         a.cfg.Transports,
		Signaler:           a.cfg.Client,
		NegotiationTimeout: a.cfg.NegotiationTimeout,
		OnEvent:            func(ev negotiation.Event) { a.onNegotiationEvent(role, ev) },
	}, nil
}

func (a *App) onNegotiationEvent(role Role, ev negotiation.Event) {
	l := a.log.With().Str("role", role.String()).Str("event", ev.Kind.String()).Logger()
	if !ev.Peer.IsZero() {
		l = l.With().Str("peer", ev.Peer.String()).Logger()
	}
	l.Info().Msg("Negotiation event")

	if role == RoleBroadcaster && ev.Kind == negotiation.EventBroadcasting {
		if err := a.cfg.Client.ClaimBroadcaster(); err != nil {
			l.Error().Err(err).Msg("Failed to claim broadcaster slot")
		}
	}
	if a.cfg.OnEvent != nil {
		a.cfg.OnEvent(role, ev)
	}
}

// Run dispatches hub frames until the connection ends or ctx is done.
func (a *App) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-a.cfg.Client.Incoming():
			if !ok {
				return ErrClientClosed
			}
			a.handle(env)
		}
	}
}

func (a *App) handle(env wire.Envelope) {
	switch env.Type {
	case domain.EventConnected, domain.EventLoggedIn, domain.EventBroadcasterConfirm:
		a.log.Debug().Str("type", env.Type).Msg("Hub acknowledged")
	case domain.EventOtherUsers:
		var names []string
		if err := env.Bind(&names); err == nil {
			a.log.Info().Strs("users", names).Msg("Joined room")
		}
	case domain.EventUserJoin, domain.EventUserLeft:
		var name string
		if err := env.Bind(&name); err == nil && a.cfg.OnPresence != nil {
			a.cfg.OnPresence(name, env.Type == domain.EventUserJoin)
		}
	case domain.EventMessage:
		var p domain.ChatPayload
		if err := env.Bind(&p); err != nil {
			a.log.Warn().Err(err).Msg("Bad chat message")
			return
		}
		if a.cfg.OnChat != nil {
			a.cfg.OnChat(p)
		}
	case domain.EventBroadcastStarted:
		var id domain.ConnectionID
		if err := env.Bind(&id); err != nil {
			a.log.Warn().Err(err).Msg("Bad broadcastStarted")
			return
		}
		a.broadcastStarted(id)
	case domain.EventBroadcasterLeft:
		if v := a.Viewer(); v != nil {
			v.Reset()
		}
	case domain.EventWebRTCMessage:
		msg, err := env.Negotiation()
		if err != nil {
			a.log.Warn().Err(err).Msg("Bad negotiation message")
			return
		}
		a.route(msg)
	case domain.EventMessageError, domain.EventWebRTCMessageError:
		var p domain.ErrorPayload
		_ = env.Bind(&p)
		a.log.Warn().Str("type", env.Type).Int("code", p.Code).Str("message", p.Message).Msg("Hub rejected request")
		if env.Type == domain.EventWebRTCMessageError && p.Code == domain.CodeBroadcasterConflict {
			if b := a.Broadcaster(); b != nil {
				b.Stop()
			}
		}
		if a.cfg.OnError != nil {
			a.cfg.OnError(env.Type, p)
		}
	default:
		a.log.Debug().Str("type", env.Type).Msg("Ignoring unknown event")
	}
}

func (a *App) broadcastStarted(id domain.ConnectionID) {
	v := a.Viewer()
	if v == nil {
		return
	}
	if err := v.Watch(id); err != nil {
		if errors.Is(err, domain.ErrAlreadyWatching) {
			a.log.Debug().Str("broadcaster_id", id.String()).Msg("Already watching")
			return
		}
		a.log.Error().Err(err).Msg("Failed to watch broadcast")
	}
}

func (a *App) route(msg domain.NegotiationMessage) {
	a.mu.Lock()
	b, v := a.broadcaster, a.viewer
	a.mu.Unlock()

	switch msg.Action {
	case domain.ActionRequest, domain.ActionAnswer:
		if b != nil {
			b.HandleMessage(msg)
		}
	case domain.ActionOffer:
		if v != nil {
			v.HandleMessage(msg)
		}
	case domain.ActionCandidate:
		if b != nil {
			b.HandleMessage(msg)
		} else if v != nil {
			v.HandleMessage(msg)
		}
	}
}
