// Package protocol defines the websocket events exchanged between watch
// clients and the sync server.
package protocol

import "encoding/json"

// Client to server.
const (
	TypeCreateSession      = "create_session"
	TypeJoinSession        = "join_session"
	TypeSwitchURL          = "switch_url"
	TypePlayerStateInit    = "player_state_init"
	TypePlayerStateChanged = "player_state_changed"
	TypeLeaveSession       = "leave_session"
	TypeAlive              = "alive"
)

// Server to client.
const (
	TypeSessionCreated  = "session_created"
	TypeUpdateURL       = "update_url"
	TypeSessionNotFound = "session_not_found"
	TypeSetPlayerState  = "set_player_state"
	TypeStartPlayback   = "start_playback"
	TypeError           = "error"
)

const (
	CodeNotFound       = "not_found"
	CodeAlreadyExists  = "already_exists"
	CodeInvalidPayload = "invalid_payload"
	CodeUnknownType    = "unknown_type"
	CodeInternal       = "internal"
)

// Output is the envelope of every server message. RequestId echoes the id of
// the client message being answered and is empty on broadcasts.
type Output struct {
	Type      string `json:"type"`
	RequestId string `json:"request_id,omitempty"`
	Payload   any    `json:"payload"`
}

// Message is the envelope as seen by a client.
type Message struct {
	Type      string          `json:"type"`
	RequestId string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// PlayerState is the payload of set_player_state and player_state_changed.
// A nil Position means "keep the timeline continuous".
type PlayerState struct {
	Playing  bool     `json:"playing"`
	Position *float64 `json:"position,omitempty" validate:"omitempty,gte=0"`
}

// StateChangedPayload is the inbound form of player_state_changed. Playing
// is a pointer so that a payload without it is rejected instead of read as a
// pause.
type StateChangedPayload struct {
	Playing  *bool    `json:"playing" validate:"required"`
	Position *float64 `json:"position,omitempty" validate:"omitempty,gte=0"`
}

type CreateSessionPayload struct {
	SessionId string `json:"session_id" validate:"required,max=128,printascii"`
	MediaRef  string `json:"media_ref" validate:"required,max=2048"`
}

type SessionCreatedPayload struct {
	SessionId string `json:"session_id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Errors  any    `json:"errors,omitempty"`
}

func Float(f float64) *float64 {
	return &f
}
