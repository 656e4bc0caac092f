package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Wyydra/castroom/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/castroom/internal/adapter/wire"
	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const disconnectTimeout = 5 * time.Second

// ServeWS upgrades to a signaling connection and feeds its frames to the hub
// until it closes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := ws.NewClient(conn,
		ws.WithSendBuffer(h.opts.SendBuffer),
		ws.WithReadLimit(h.opts.MaxMessageBytes),
	)
	l := client.Logger()
	l.Info().Str("remote_addr", r.RemoteAddr).Msg("New client connected")

	go client.WritePump()

	ctx := r.Context()
	if err := h.Hub.Connect(ctx, client); err != nil {
		l.Error().Err(err).Msg("Failed to register client")
		client.Close()
		return
	}

	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if err := h.Hub.Disconnect(dctx, client); err != nil && !errors.Is(err, domain.ErrHubStopped) {
			l.Error().Err(err).Msg("Failed to unregister client")
		}
		l.Info().Msg("Client disconnected")
	}()

	var limiter *rate.Limiter
	if mps := h.opts.MessagesPerSecond; mps > 0 {
		limiter = rate.NewLimiter(rate.Limit(mps), max(1, int(2*mps)))
	}

	client.ReadPump(func(frame []byte) {
		if limiter != nil && !limiter.Allow() {
			l.Warn().Msg("Rate limit exceeded, dropping frame")
			return
		}
		h.dispatch(ctx, l, client, frame)
	})
}

func (h *Handler) dispatch(ctx context.Context, l zerolog.Logger, c *ws.Client, frame []byte) {
	env, err := wire.Decode(frame)
	if err != nil {
		l.Warn().Err(err).Msg("Dropping malformed frame")
		return
	}

	// the error event the sender is told about, if any
	errorEvent := domain.EventMessageError

	switch env.Type {
	case domain.EventJoinRoom:
		var p wire.JoinRoom
		if err = env.Bind(&p); err == nil {
			err = h.Hub.Join(ctx, p.Room, p.Name, c)
		}
	case domain.EventLeaveRoom:
		var p wire.LeaveRoom
		if err = env.Bind(&p); err == nil {
			err = h.Hub.Leave(ctx, p.Room, c)
		}
	case domain.EventMessage:
		var p wire.Chat
		if err = env.Bind(&p); err == nil {
			err = h.Hub.RelayChat(ctx, p.Text, c)
		}
	case domain.EventInitBroadcaster:
		errorEvent = domain.EventWebRTCMessageError
		err = h.Hub.ClaimBroadcaster(ctx, c)
	case domain.EventWebRTCMessage:
		errorEvent = domain.EventWebRTCMessageError
		var msg domain.NegotiationMessage
		if msg, err = env.Negotiation(); err == nil {
			err = h.Hub.RouteNegotiation(ctx, msg, c)
		}
	default:
		l.Debug().Str("type", env.Type).Msg("Ignoring unknown event")
		return
	}

	if err == nil {
		return
	}
	var roomErr *domain.RoomError
	if errors.As(err, &roomErr) {
		l.Debug().Err(err).Str("type", env.Type).Msg("Rejected client request")
		if sendErr := c.Send(domain.Event{Type: errorEvent, Data: domain.NewErrorPayload(err)}); sendErr != nil {
			l.Warn().Err(sendErr).Msg("Failed to report error")
		}
		return
	}
	l.Warn().Err(err).Str("type", env.Type).Msg("Failed to handle event")
}
