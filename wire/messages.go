// Package wire defines the JSON message surface spoken between the relay and
// its clients. Both the server (internal/signaling) and the Go client package
// share these types.
//
// Offer/answer/candidate bodies and chat ciphertext are json.RawMessage and are
// never inspected by the relay.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Event names one message kind on the bidirectional channel.
type Event string

const (
	// Pairwise (1:1 media) rooms.
	EventJoin        Event = "join"
	EventJoinSuccess Event = "join-success"
	EventFull        Event = "full"
	EventJoinReady   Event = "join-ready"
	EventJoined      Event = "joined"
	EventPeerLeft    Event = "peer-left"

	// Signal relay (both directions).
	EventSignal Event = "signal"

	// Multi-party encrypted chat rooms.
	EventJoinChatroom   Event = "join-chatroom"
	EventInitHost       Event = "init-host"
	EventChatJoinFailed Event = "chat-join-failed"
	EventConnectTo      Event = "connect-to"
	EventChatUserList   Event = "chat-userlist"
	EventLeaveChatroom  Event = "leave-chatroom"
	EventChatMessage    Event = "chat-message"
	EventLeaving        Event = "leaving"
)

// SystemSender is the reserved "from" value for server-originated chat notices.
// Display names are user-chosen, so a colliding user could impersonate system
// notices; clients should render the sender verbatim and rely on encryption
// presence to distinguish real messages.
const SystemSender = "system"

// Room kinds carried by the leaving event.
const (
	RoomKindPairwise = "webrtc"
	RoomKindChat     = "chat"
)

// Message is the single envelope for every event. Fields are sparse; validity
// per event is enforced by Validate.
type Message struct {
	Event Event `json:"event"`

	Room     string `json:"room,omitempty"`
	Nickname string `json:"nickname,omitempty"`

	// Signal addressing.
	To     string `json:"to,omitempty"`
	From   string `json:"from,omitempty"`
	PeerID string `json:"peerId,omitempty"`
	ID     string `json:"id,omitempty"`

	// Kind distinguishes pairwise/chat in the leaving event.
	Kind string `json:"type,omitempty"`

	// Opaque payloads. The relay forwards these verbatim.
	Data      json.RawMessage `json:"data,omitempty"`
	Encrypted json.RawMessage `json:"encrypted,omitempty"`

	Users  []string `json:"users,omitempty"`
	Reason string   `json:"reason,omitempty"`
	Text   string   `json:"message,omitempty"`
}

// Parse decodes a single inbound message. Unknown fields and trailing data are
// rejected so protocol drift is caught at the edge.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

// Validate checks the required fields for inbound (client-to-relay) events.
// Relay-to-client events are constructed internally and are not accepted from
// the wire.
func (m Message) Validate() error {
	switch m.Event {
	case EventJoin, EventJoinReady:
		if m.Room == "" {
			return fmt.Errorf("%s message missing room", m.Event)
		}
	case EventSignal:
		if len(m.Data) == 0 {
			return fmt.Errorf("signal message missing data")
		}
		if m.To == "" && m.Room == "" {
			return fmt.Errorf("signal message missing to/room")
		}
	case EventJoinChatroom:
		if m.Room == "" {
			return fmt.Errorf("join-chatroom message missing room")
		}
	case EventLeaveChatroom:
		if m.Room == "" {
			return fmt.Errorf("leave-chatroom message missing room")
		}
	case EventChatMessage:
		if m.Room == "" {
			return fmt.Errorf("chat-message missing room")
		}
		if len(m.Encrypted) == 0 {
			return fmt.Errorf("chat-message missing encrypted payload")
		}
	case EventLeaving:
		if m.Room == "" {
			return fmt.Errorf("leaving message missing room")
		}
		if m.Kind != RoomKindPairwise && m.Kind != RoomKindChat {
			return fmt.Errorf("leaving message has unsupported type %q", m.Kind)
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Event)
	}
	return nil
}
