package pion

import (
	"github.com/pion/webrtc/v4"
)

// MediaSource is a set of local tracks published under one stream id.
type MediaSource struct {
	streamID string
	tracks   []webrtc.TrackLocal
}

func NewMediaSource(streamID string, tracks ...webrtc.TrackLocal) *MediaSource {
	return &MediaSource{streamID: streamID, tracks: tracks}
}

// NewVideoSource creates a single VP8 sample track, the usual source for
// the peer binary.
func NewVideoSource(streamID string) (*MediaSource, *webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		streamID,
	)
	if err != nil {
		return nil, nil, err
	}
	return NewMediaSource(streamID, track), track, nil
}

func (s *MediaSource) StreamID() string {
	if s == nil {
		return ""
	}
	return s.streamID
}

func (s *MediaSource) TrackCount() int {
	if s == nil {
		return 0
	}
	return len(s.tracks)
}

// RemoteStream wraps a track received from a broadcaster.
type RemoteStream struct {
	track *webrtc.TrackRemote
}

func (r *RemoteStream) StreamID() string { return r.track.StreamID() }
func (r *RemoteStream) Kind() string     { return r.track.Kind().String() }

// Track exposes the underlying pion track for reading RTP.
func (r *RemoteStream) Track() *webrtc.TrackRemote { return r.track }
