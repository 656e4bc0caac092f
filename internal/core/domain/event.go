package domain

import "time"

// Event names exchanged with clients over the signaling channel.
const (
	EventConnected          = "connected"
	EventJoinRoom           = "joinRoom"
	EventLeaveRoom          = "leaveRoom"
	EventLoggedIn           = "loggedIn"
	EventOtherUsers         = "otherUsers"
	EventUserJoin           = "userJoin"
	EventUserLeft           = "userLeft"
	EventMessage            = "message"
	EventMessageError       = "messageError"
	EventInitBroadcaster    = "initializeBroadcaster"
	EventBroadcasterConfirm = "broadcasterConfirm"
	EventBroadcastStarted   = "broadcastStarted"
	EventBroadcasterLeft    = "broadcasterLeft"
	EventWebRTCMessage      = "webrtc_message"
	EventWebRTCMessageError = "webrtc_messageError"
)

// Event is one notification from the hub to a connection. Data holds one of
// the payload types below, a string, a []string, a NegotiationMessage or nil.
type Event struct {
	Type string
	Data any
}

type Hello struct {
	ID ConnectionID `json:"id"`
}

type ChatPayload struct {
	From      string `json:"from"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
}

func NewChatPayload(m ChatMessage) ChatPayload {
	return ChatPayload{
		From:      m.From,
		Text:      m.Text,
		CreatedAt: m.CreatedAt.UnixMilli(),
	}
}

func (p ChatPayload) Time() time.Time {
	return time.UnixMilli(p.CreatedAt)
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewErrorPayload(err error) ErrorPayload {
	return ErrorPayload{Code: CodeOf(err), Message: err.Error()}
}
