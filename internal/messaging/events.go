package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/veil/chat-app/internal/protocol"
)

// MatchJoin is the wire form of a join request published on match.join. The
// gateway resolves the connection and anonymous identity; the embedded client
// message carries the search criteria untouched.
type MatchJoin struct {
	ConnID string           `json:"conn_id"`
	AnonID string           `json:"anon_id"`
	Join   protocol.JoinMsg `json:"join"`
}

// EncodeMatchJoin serializes a join request for publication.
func EncodeMatchJoin(m MatchJoin) ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMatchJoin parses a match.join payload.
func DecodeMatchJoin(data []byte) (MatchJoin, error) {
	var m MatchJoin
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("messaging: decode match join: %w", err)
	}
	if m.ConnID == "" {
		return m, fmt.Errorf("messaging: match join without conn_id")
	}
	return m, nil
}

// ChatEvent is the wire form of a relayed chat message on chat.<room_id>.
// Both participants' gateways receive it; each maps From against the local
// connection to decide between the "you" echo and the "partner" delivery.
type ChatEvent struct {
	From     string `json:"from"`      // sender's connection id
	FromAnon string `json:"from_anon"` // sender's anonymous identity
	Text     string `json:"text,omitempty"`
	ImageID  string `json:"image_id,omitempty"`
	Ts       int64  `json:"ts"` // unix millis
}

// RoomNotifier delivers session events to connections by publishing
// client-protocol messages on the connection's room.event subject. The
// gateway instance holding the connection forwards them verbatim.
type RoomNotifier struct {
	client *NATSClient
}

// NewRoomNotifier creates a notifier publishing through the given client.
func NewRoomNotifier(client *NATSClient) *RoomNotifier {
	return &RoomNotifier{client: client}
}

func (n *RoomNotifier) publish(connID, msgType string, payload interface{}) error {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		return err
	}
	return n.client.PublishRoomEvent(connID, data)
}

// JoinRoom tells a connection it has been placed in a room.
func (n *RoomNotifier) JoinRoom(_ context.Context, connID, roomID string) error {
	return n.publish(connID, protocol.TypeJoinRoom, protocol.JoinRoomMsg{RoomID: roomID})
}

// RoomReady tells a connection its room is ready for messages.
func (n *RoomNotifier) RoomReady(_ context.Context, connID, roomID string) error {
	return n.publish(connID, protocol.TypeRoomReady, protocol.RoomReadyMsg{RoomID: roomID})
}

// ChatEnded tells a connection its chat is over.
func (n *RoomNotifier) ChatEnded(_ context.Context, connID string) error {
	return n.publish(connID, protocol.TypeChatEnded, protocol.ChatEndedMsg{})
}

// Error reports a failure to a connection, e.g. a join request that could not
// be processed.
func (n *RoomNotifier) Error(_ context.Context, connID, code, message string) error {
	return n.publish(connID, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}
