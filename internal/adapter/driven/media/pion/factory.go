package pion

import (
	"fmt"
	"strings"

	"github.com/Wyydra/castroom/internal/core/port"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultICEServers are public STUN servers used when none are configured.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Factory builds pion-backed transports. It implements port.TransportFactory.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	log    zerolog.Logger
}

type Option func(*factoryOptions)

type factoryOptions struct {
	iceServers []webrtc.ICEServer
	settings   *webrtc.SettingEngine
	logger     *zerolog.Logger
}

// WithICEServers replaces DefaultICEServers.
func WithICEServers(servers []webrtc.ICEServer) Option {
	return func(o *factoryOptions) { o.iceServers = servers }
}

func WithSettingEngine(se webrtc.SettingEngine) Option {
	return func(o *factoryOptions) { o.settings = &se }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *factoryOptions) { o.logger = &l }
}

func NewFactory(opts ...Option) (*Factory, error) {
	o := factoryOptions{iceServers: ParseICEServers(DefaultICEServers)}
	for _, opt := range opts {
		opt(&o)
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	apiOpts := []func(*webrtc.API){webrtc.WithMediaEngine(m)}
	if o.settings != nil {
		apiOpts = append(apiOpts, webrtc.WithSettingEngine(*o.settings))
	}

	l := log.Logger
	if o.logger != nil {
		l = *o.logger
	}

	return &Factory{
		api:    webrtc.NewAPI(apiOpts...),
		config: webrtc.Configuration{ICEServers: o.iceServers},
		log:    l.With().Str("component", "pion").Logger(),
	}, nil
}

func (f *Factory) NewTransport(events port.TransportEvents) (port.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	t := &transport{pc: pc, log: f.log}
	t.bind(events)
	return t, nil
}

// ParseICEServers turns a list of STUN/TURN urls into ICE servers, one per
// url. Credentials may be given as turn:user:pass@host:port.
func ParseICEServers(urls []string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(urls))
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		server := webrtc.ICEServer{URLs: []string{raw}}
		if scheme, rest, ok := strings.Cut(raw, ":"); ok && strings.HasPrefix(scheme, "turn") {
			if creds, host, ok := strings.Cut(rest, "@"); ok {
				if user, pass, ok := strings.Cut(creds, ":"); ok {
					server.URLs = []string{scheme + ":" + host}
					server.Username = user
					server.Credential = pass
				}
			}
		}
		out = append(out, server)
	}
	return out
}
