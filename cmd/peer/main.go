package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wyydra/castroom/internal/adapter/driven/media/pion"
	"github.com/Wyydra/castroom/internal/config"
	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/Wyydra/castroom/internal/core/negotiation"
	"github.com/Wyydra/castroom/internal/logging"
	"github.com/Wyydra/castroom/internal/peer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile string
	cfg        config.Peer
)

func main() {
	root := &cobra.Command{
		Use:           "castroom-peer",
		Short:         "Broadcast to or watch a castroom room",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(viper.New(), cmd.Flags(), configFile, &cfg); err != nil {
				return err
			}
			if cfg.Room == "" || cfg.Name == "" {
				return fmt.Errorf("--room and --name are required")
			}
			_, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
			return err
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default ./castroom.yaml)")
	config.PeerFlags(root.PersistentFlags())
	root.AddCommand(newBroadcastCmd(), newWatchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type session struct {
	client *peer.Client
	app    *peer.App
	log    zerolog.Logger
}

// connect dials the hub, starts the app loop and joins the configured room.
// setup, if set, runs right before the join.
func connect(ctx context.Context, onEvent func(peer.Role, negotiation.Event), setup func(*peer.App) error) (*session, error) {
	factory, err := pion.NewFactory(pion.WithICEServers(pion.ParseICEServers(cfg.ICEServers)))
	if err != nil {
		return nil, err
	}

	client, err := peer.Dial(ctx, cfg.Server)
	if err != nil {
		return nil, err
	}
	if err := client.WaitReady(ctx); err != nil {
		client.Close()
		return nil, err
	}

	l := log.With().Str("client_id", client.ID().String()).Str("room", cfg.Room).Logger()
	app := peer.NewApp(peer.AppConfig{
		Client:             client,
		Transports:         factory,
		NegotiationTimeout: cfg.NegotiationTimeout,
		OnEvent:            onEvent,
		OnChat: func(p domain.ChatPayload) {
			l.Info().Str("from", p.From).Time("at", p.Time()).Msg(p.Text)
		},
		OnPresence: func(name string, joined bool) {
			if joined {
				l.Info().Str("user", name).Msg("User joined")
			} else {
				l.Info().Str("user", name).Msg("User left")
			}
		},
	})
	go func() {
		if err := app.Run(ctx); err != nil && ctx.Err() == nil {
			l.Error().Err(err).Msg("Signaling stopped")
		}
	}()

	if setup != nil {
		if err := setup(app); err != nil {
			client.Close()
			return nil, err
		}
	}
	if err := app.Join(cfg.Room, cfg.Name); err != nil {
		client.Close()
		return nil, err
	}
	l.Info().Msg("Joined room")
	return &session{client: client, app: app, log: l}, nil
}

func (s *session) close() {
	s.app.Close()
	s.client.Close()
}

// chatFromStdin sends every line typed as a chat message.
func (s *session) chatFromStdin(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := s.app.Chat(scanner.Text()); err != nil {
			s.log.Warn().Err(err).Msg("Failed to send chat")
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
