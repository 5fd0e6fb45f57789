// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoin        = "join"
	TypeMessage     = "message"
	TypeEndChat     = "end_chat"
	TypeIgnoreUser  = "ignore_user"
	TypeJoinRoomAck = "join_room_ack"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeJoinRoom    = "join_room"
	TypeRoomReady   = "room_ready"
	TypeChatEnded   = "chat_ended"
	TypeRateLimited = "rate_limited"
	TypeError       = "error"
	TypePong        = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinMsg is sent by the client to request a chat partner. When Tag is
// non-empty the gender/age criteria are ignored and the tag queue is used
// instead.
type JoinMsg struct {
	Type             string   `json:"type"`
	Gender           string   `json:"gender"`
	AgeGroup         string   `json:"age_group"`
	SeekingGender    string   `json:"seeking_gender"`
	SeekingAgeGroups []string `json:"seeking_age_groups"`
	IsAdult          bool     `json:"is_adult"`
	Tag              string   `json:"tag"`
}

// ChatMsg is a text or image message sent by the client within a room.
// Exactly one of Text or ImageID is expected to be set.
type ChatMsg struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id"`
	Text    string `json:"text"`
	ImageID string `json:"image_id,omitempty"`
}

// EndChatMsg is sent by the client to end an active chat.
type EndChatMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// IgnoreUserMsg is sent by the client to end the chat and block the partner
// from being matched again for the ignore TTL.
type IgnoreUserMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// JoinRoomAckMsg confirms the client has joined the delivery group for a room.
type JoinRoomAckMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// JoinRoomMsg is sent to exactly the two matched participants when a room has
// been created for them.
type JoinRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// RoomReadyMsg signals that the room is ready for messages. It is sent
// immediately after both joinRoom notifications.
type RoomReadyMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// ChatEndedMsg is sent to both participants on any termination path.
type ChatEndedMsg struct {
	Type string `json:"type"`
}

// ServerChatMsg is a message relayed to a room participant. From is "you" for
// the sender's own echo and "partner" otherwise.
type ServerChatMsg struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Text    string `json:"text,omitempty"`
	ImageID string `json:"image_id,omitempty"`
	Ts      int64  `json:"ts"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoin:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEndChat:
		var m EndChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeIgnoreUser:
		var m IgnoreUserMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoinRoomAck:
		var m JoinRoomAckMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
