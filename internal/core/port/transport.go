package port

import "github.com/Wyydra/castroom/internal/core/domain"

// MediaSource is the broadcaster's outgoing stream. The transport adapter
// that created it knows how to attach its tracks.
type MediaSource interface {
	StreamID() string
	TrackCount() int
}

// RemoteStream is media arriving at a viewer.
type RemoteStream interface {
	StreamID() string
	Kind() string
}

// TransportEvents are the callbacks a transport fires. Any of them may be
// nil and all of them may run on transport-owned goroutines.
type TransportEvents struct {
	OnCandidate         func(c domain.Candidate)
	OnConnectivity      func(state domain.ConnectivityState)
	OnNegotiationNeeded func()
	OnTrack             func(stream RemoteStream)
}

// PeerTransport is the connectivity machinery for one remote peer.
// CreateOffer and CreateAnswer also install the result as the local
// description.
type PeerTransport interface {
	AttachSource(src MediaSource) error
	CreateOffer() (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetRemoteDescription(desc domain.SessionDescription) error
	AddCandidate(c domain.Candidate) error
	Stable() bool
	Close() error
}

type TransportFactory interface {
	NewTransport(events TransportEvents) (PeerTransport, error)
}
