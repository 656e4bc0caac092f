package main

import (
	"context"
	"time"

	"github.com/Wyydra/castroom/internal/adapter/driven/media/pion"
	"github.com/Wyydra/castroom/internal/core/negotiation"
	"github.com/Wyydra/castroom/internal/peer"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const statsInterval = 5 * time.Second

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch whoever broadcasts in the room",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return watch(ctx)
		},
	}
}

func watch(ctx context.Context) error {
	s, err := connect(ctx, func(_ peer.Role, ev negotiation.Event) {
		switch ev.Kind {
		case negotiation.EventConnected:
			log.Info().Str("broadcaster_id", ev.Peer.String()).Msg("Connected to broadcast")
		case negotiation.EventDisconnected:
			log.Info().Str("broadcaster_id", ev.Peer.String()).Msg("Broadcast ended")
		case negotiation.EventReceivingMedia:
			if rs, ok := ev.Stream.(*pion.RemoteStream); ok {
				go consume(ctx, rs)
			}
		}
	}, func(app *peer.App) error {
		// the viewer must exist before the hub announces a running broadcast
		_, err := app.BecomeViewer()
		return err
	})
	if err != nil {
		return err
	}
	defer s.close()

	go s.chatFromStdin(ctx)
	<-ctx.Done()
	return nil
}

// consume reads RTP off the track and logs throughput until it ends.
func consume(ctx context.Context, rs *pion.RemoteStream) {
	l := log.With().Str("stream_id", rs.StreamID()).Str("kind", rs.Kind()).Logger()
	track := rs.Track()
	buf := make([]byte, 1500)

	var packets, bytes int
	last := time.Now()
	for ctx.Err() == nil {
		n, _, err := track.Read(buf)
		if err != nil {
			l.Info().Err(err).Msg("Track ended")
			return
		}
		packets++
		bytes += n
		if since := time.Since(last); since >= statsInterval {
			l.Info().Int("packets", packets).Float64("kbps", float64(bytes*8)/since.Seconds()/1000).Msg("Receiving")
			packets, bytes, last = 0, 0, time.Now()
		}
	}
}
