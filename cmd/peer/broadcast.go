package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Wyydra/castroom/internal/adapter/driven/media/pion"
	"github.com/Wyydra/castroom/internal/core/negotiation"
	"github.com/Wyydra/castroom/internal/peer"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const placeholderInterval = 33 * time.Millisecond

func newBroadcastCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "broadcast",
		Short: "Claim the room's broadcaster slot and stream VP8 video",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return broadcast(ctx)
		},
	}
}

func broadcast(ctx context.Context) error {
	s, err := connect(ctx, func(_ peer.Role, ev negotiation.Event) {
		switch ev.Kind {
		case negotiation.EventViewerConnected:
			log.Info().Str("viewer_id", ev.Peer.String()).Msg("Viewer watching")
		case negotiation.EventViewerDisconnected:
			log.Info().Str("viewer_id", ev.Peer.String()).Msg("Viewer gone")
		case negotiation.EventHalted:
			log.Warn().Msg("Broadcast halted")
		}
	}, nil)
	if err != nil {
		return err
	}
	defer s.close()

	src, track, err := pion.NewVideoSource("castroom")
	if err != nil {
		return fmt.Errorf("create video track: %w", err)
	}
	if _, err := s.app.BecomeBroadcaster(src); err != nil {
		return err
	}

	go s.chatFromStdin(ctx)

	if cfg.IVF == "" {
		return writePlaceholder(ctx, track)
	}
	return writeIVF(ctx, track, cfg.IVF)
}

// writeIVF streams an IVF file in a loop at its native frame rate.
func writeIVF(ctx context.Context, track *webrtc.TrackLocalStaticSample, path string) error {
	for {
		if err := playIVF(ctx, track, path); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func playIVF(ctx context.Context, track *webrtc.TrackLocalStaticSample, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}
	if header.TimebaseDenominator == 0 {
		return fmt.Errorf("ivf %s: zero timebase", path)
	}
	frameDuration := time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ivf frame: %w", err)
		}
		if err := track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
}

// writePlaceholder sends undecodable frames so connectivity can be checked
// without a video file.
func writePlaceholder(ctx context.Context, track *webrtc.TrackLocalStaticSample) error {
	log.Warn().Msg("No --ivf given, sending placeholder frames")
	frame := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x01, 0x00, 0x01, 0x00}
	ticker := time.NewTicker(placeholderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := track.WriteSample(media.Sample{Data: frame, Duration: placeholderInterval}); err != nil {
				return fmt.Errorf("write sample: %w", err)
			}
		}
	}
}
