// Package wire is the JSON framing shared by the hub and its clients. Every
// frame is {"type": <event>, "data": <payload>}.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Wyydra/castroom/internal/core/domain"
)

var ErrMalformed = errors.New("malformed frame")

type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinRoom struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

type LeaveRoom struct {
	Room string `json:"room"`
}

type Chat struct {
	Text string `json:"text"`
}

type negotiationData struct {
	Name      domain.ConnectionID        `json:"name"`
	Target    domain.ConnectionID        `json:"target"`
	SDP       *domain.SessionDescription `json:"sdp,omitempty"`
	Candidate *domain.Candidate          `json:"candidate,omitempty"`
}

type negotiationFrame struct {
	Action string          `json:"action"`
	Data   negotiationData `json:"data"`
}

func toFrame(msg domain.NegotiationMessage) negotiationFrame {
	return negotiationFrame{
		Action: msg.Action.WireName(),
		Data: negotiationData{
			Name:      msg.Sender,
			Target:    msg.Target,
			SDP:       msg.SDP,
			Candidate: msg.Candidate,
		},
	}
}

// Encode renders ev as a frame.
func Encode(ev domain.Event) ([]byte, error) {
	data := ev.Data
	if msg, ok := data.(domain.NegotiationMessage); ok {
		data = toFrame(msg)
	}
	return Marshal(ev.Type, data)
}

// Marshal builds a frame of type typ. A nil data omits the payload.
func Marshal(typ string, data any) ([]byte, error) {
	env := Envelope{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", typ, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// MarshalNegotiation frames msg as a webrtc_message.
func MarshalNegotiation(msg domain.NegotiationMessage) ([]byte, error) {
	return Marshal(domain.EventWebRTCMessage, toFrame(msg))
}

func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// Bind decodes the payload into v.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

// Negotiation decodes a webrtc_message payload.
func (e Envelope) Negotiation() (domain.NegotiationMessage, error) {
	var f negotiationFrame
	if err := e.Bind(&f); err != nil {
		return domain.NegotiationMessage{}, err
	}
	action, err := domain.ParseAction(f.Action)
	if err != nil {
		return domain.NegotiationMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	msg := domain.NegotiationMessage{
		Action:    action,
		Sender:    f.Data.Name,
		Target:    f.Data.Target,
		SDP:       f.Data.SDP,
		Candidate: f.Data.Candidate,
	}
	switch action {
	case domain.ActionOffer, domain.ActionAnswer:
		if msg.SDP == nil {
			return domain.NegotiationMessage{}, fmt.Errorf("%w: %s without sdp", ErrMalformed, f.Action)
		}
	case domain.ActionCandidate:
		if msg.Candidate == nil {
			return domain.NegotiationMessage{}, fmt.Errorf("%w: %s without candidate", ErrMalformed, f.Action)
		}
	}
	return msg, nil
}
