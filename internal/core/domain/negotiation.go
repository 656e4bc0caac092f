package domain

import "fmt"

// Action is the kind of a negotiation message.
type Action string

const (
	ActionRequest   Action = "request"
	ActionOffer     Action = "offer"
	ActionAnswer    Action = "answer"
	ActionCandidate Action = "candidate"
)

// Wire names used inside the webrtc_message envelope.
const (
	WireViewerRequest  = "viewerRequest"
	WireViewerApproval = "viewerApproval"
	WireViewerConfirm  = "viewerConfirm"
	WireICECandidate   = "iceCandidate"
)

func (a Action) WireName() string {
	switch a {
	case ActionRequest:
		return WireViewerRequest
	case ActionOffer:
		return WireViewerApproval
	case ActionAnswer:
		return WireViewerConfirm
	case ActionCandidate:
		return WireICECandidate
	}
	return string(a)
}

func ParseAction(wire string) (Action, error) {
	switch wire {
	case WireViewerRequest:
		return ActionRequest, nil
	case WireViewerApproval:
		return ActionOffer, nil
	case WireViewerConfirm:
		return ActionAnswer, nil
	case WireICECandidate:
		return ActionCandidate, nil
	}
	return "", fmt.Errorf("unknown negotiation action %q", wire)
}

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// NegotiationMessage only exists in transit between two peers. The hub reads
// Target and nothing else.
type NegotiationMessage struct {
	Action    Action
	Sender    ConnectionID
	Target    ConnectionID
	SDP       *SessionDescription
	Candidate *Candidate
}

func NewRequest(sender, target ConnectionID) NegotiationMessage {
	return NegotiationMessage{Action: ActionRequest, Sender: sender, Target: target}
}

func NewOffer(sender, target ConnectionID, sdp SessionDescription) NegotiationMessage {
	return NegotiationMessage{Action: ActionOffer, Sender: sender, Target: target, SDP: &sdp}
}

func NewAnswer(sender, target ConnectionID, sdp SessionDescription) NegotiationMessage {
	return NegotiationMessage{Action: ActionAnswer, Sender: sender, Target: target, SDP: &sdp}
}

func NewCandidate(sender, target ConnectionID, c Candidate) NegotiationMessage {
	return NegotiationMessage{Action: ActionCandidate, Sender: sender, Target: target, Candidate: &c}
}

// ConnectivityState is what the transport reports about the path to a peer.
type ConnectivityState int

const (
	ConnectivityUnknown ConnectivityState = iota
	ConnectivityConnected
	ConnectivityDisconnected
)

func (s ConnectivityState) String() string {
	switch s {
	case ConnectivityConnected:
		return "connected"
	case ConnectivityDisconnected:
		return "disconnected"
	}
	return "unknown"
}
