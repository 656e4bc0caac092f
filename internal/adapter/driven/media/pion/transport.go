package pion

import (
	"errors"
	"fmt"

	"github.com/Wyydra/castroom/internal/core/domain"
	"github.com/Wyydra/castroom/internal/core/port"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var ErrForeignSource = errors.New("media source was not created by this adapter")

type transport struct {
	pc  *webrtc.PeerConnection
	log zerolog.Logger
}

func (t *transport) bind(ev port.TransportEvents) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil || ev.OnCandidate == nil {
			return
		}
		ci := c.ToJSON()
		ev.OnCandidate(domain.Candidate{
			Candidate:        ci.Candidate,
			SDPMid:           ci.SDPMid,
			SDPMLineIndex:    ci.SDPMLineIndex,
			UsernameFragment: ci.UsernameFragment,
		})
	})

	t.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		t.log.Debug().Str("ice_state", s.String()).Msg("ICE connection state changed")
		if ev.OnConnectivity == nil {
			return
		}
		switch s {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			ev.OnConnectivity(domain.ConnectivityConnected)
		case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
			ev.OnConnectivity(domain.ConnectivityDisconnected)
		}
	})

	if ev.OnNegotiationNeeded != nil {
		t.pc.OnNegotiationNeeded(ev.OnNegotiationNeeded)
	}

	t.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.log.Debug().Str("kind", remote.Kind().String()).Str("stream_id", remote.StreamID()).Msg("Received remote track")
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			// ask for a keyframe right away so decoding can start
			if err := t.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
			}); err != nil {
				t.log.Debug().Err(err).Msg("Failed to send PLI")
			}
		}
		if ev.OnTrack != nil {
			ev.OnTrack(&RemoteStream{track: remote})
		}
	})
}

func (t *transport) AttachSource(src port.MediaSource) error {
	ms, ok := src.(*MediaSource)
	if !ok || ms == nil {
		return ErrForeignSource
	}
	for _, track := range ms.tracks {
		tr, err := t.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		})
		if err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
		go drainRTCP(tr.Sender())
	}
	return nil
}

// drainRTCP keeps interceptors such as NACK working until the sender stops.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (t *transport) CreateOffer() (domain.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return toDomain(offer), nil
}

func (t *transport) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return toDomain(answer), nil
}

func (t *transport) SetRemoteDescription(desc domain.SessionDescription) error {
	sd := webrtc.SessionDescription{Type: webrtc.NewSDPType(string(desc.Type)), SDP: desc.SDP}
	if err := t.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (t *transport) AddCandidate(c domain.Candidate) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (t *transport) Stable() bool {
	return t.pc.SignalingState() == webrtc.SignalingStateStable
}

func (t *transport) Close() error {
	return t.pc.Close()
}

func toDomain(sd webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPType(sd.Type.String()), SDP: sd.SDP}
}
