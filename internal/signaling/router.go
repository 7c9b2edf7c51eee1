package signaling

import (
	"fmt"
	"log/slog"

	"github.com/rtcmesh/rendezvous/internal/metrics"
	"github.com/rtcmesh/rendezvous/internal/registry"
	"github.com/rtcmesh/rendezvous/internal/room"
	"github.com/rtcmesh/rendezvous/wire"
)

// anonymousNickname substitutes for an empty display name on chat join.
const anonymousNickname = "anonymous"

// Delivery is one outbound message addressed to a connection identity.
type Delivery struct {
	To  string
	Msg wire.Message
}

// Router maps (sender, inbound message) to deliveries. It mutates room and
// registry state but performs no I/O, so every handler is unit-testable
// without a transport.
type Router struct {
	registry *registry.Registry
	rooms    *room.Manager
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewRouter(reg *registry.Registry, rooms *room.Manager, m *metrics.Metrics, log *slog.Logger) *Router {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{registry: reg, rooms: rooms, metrics: m, log: log}
}

func (rt *Router) Handle(sender string, msg wire.Message) []Delivery {
	switch msg.Event {
	case wire.EventJoin:
		return rt.handleJoin(sender, msg)
	case wire.EventJoinReady:
		return rt.handleJoinReady(sender, msg)
	case wire.EventSignal:
		return rt.handleSignal(sender, msg)
	case wire.EventJoinChatroom:
		return rt.handleJoinChat(sender, msg)
	case wire.EventLeaveChatroom:
		return rt.handleLeaveChat(sender, msg)
	case wire.EventChatMessage:
		return rt.handleChatMessage(sender, msg)
	case wire.EventLeaving:
		return rt.handleLeaving(sender, msg)
	default:
		// wire.Parse only admits the inbound surface; nothing else reaches here.
		return nil
	}
}

// Disconnect runs cleanup for a connection the transport reported gone.
func (rt *Router) Disconnect(sender string) []Delivery {
	dep, ok := rt.rooms.Disconnect(sender)
	if !ok {
		return nil
	}
	rt.log.Info("connection departed", "id", sender, "room", dep.Room, "kind", dep.Kind)
	return rt.departureDeliveries(dep)
}

func (rt *Router) handleJoin(sender string, msg wire.Message) []Delivery {
	left, err := rt.rooms.JoinPairwise(msg.Room, sender)
	if err != nil {
		// Rejection reaches the requester only; the sender's current membership
		// is untouched.
		return []Delivery{{To: sender, Msg: wire.Message{Event: wire.EventFull, Room: msg.Room}}}
	}
	out := rt.leftDeliveries(left)
	rt.log.Info("pairwise join", "id", sender, "room", msg.Room)
	return append(out, Delivery{To: sender, Msg: wire.Message{Event: wire.EventJoinSuccess, Room: msg.Room}})
}

func (rt *Router) handleJoinReady(sender string, msg wire.Message) []Delivery {
	initiator, ok := rt.rooms.Ready(msg.Room, sender)
	if !ok {
		return nil
	}
	// The earlier member creates the offer toward the newcomer.
	return []Delivery{{To: initiator, Msg: wire.Message{Event: wire.EventJoined, PeerID: sender}}}
}

func (rt *Router) handleSignal(sender string, msg wire.Message) []Delivery {
	md, _ := rt.registry.Get(sender)

	forwarded := wire.Message{Event: wire.EventSignal, From: sender, Data: msg.Data}

	if md.Kind == registry.KindPairwise {
		scope := msg.Room
		if scope == "" {
			scope = md.Room
		}
		peers := rt.rooms.PairwisePeers(scope, sender)
		if len(peers) == 0 {
			rt.metrics.Inc(metrics.DropReasonUnknownRecipient)
			return nil
		}
		out := make([]Delivery, 0, len(peers))
		for _, peer := range peers {
			out = append(out, Delivery{To: peer, Msg: forwarded})
			rt.metrics.Inc(metrics.SignalsRelayed)
		}
		return out
	}

	// Explicit-target scope, used by key-bootstrap pairing across chat members.
	if msg.To == "" {
		rt.metrics.Inc(metrics.DropReasonUnknownRecipient)
		return nil
	}
	if _, ok := rt.registry.Get(msg.To); !ok {
		// At-most-once delivery: the recipient disconnected; drop silently.
		rt.metrics.Inc(metrics.DropReasonUnknownRecipient)
		return nil
	}
	rt.metrics.Inc(metrics.SignalsRelayed)
	return []Delivery{{To: msg.To, Msg: forwarded}}
}

func (rt *Router) handleJoinChat(sender string, msg wire.Message) []Delivery {
	nickname := msg.Nickname
	if nickname == "" {
		nickname = anonymousNickname
	}

	res, left, err := rt.rooms.JoinChat(msg.Room, nickname, sender)
	if err != nil {
		return []Delivery{{To: sender, Msg: wire.Message{
			Event:  wire.EventChatJoinFailed,
			Reason: fmt.Sprintf("nickname %q is already taken", nickname),
		}}}
	}
	out := rt.leftDeliveries(left)
	rt.log.Info("chat join", "id", sender, "room", msg.Room, "nickname", nickname, "host", res.Host)

	if res.Host {
		out = append(out, Delivery{To: sender, Msg: wire.Message{Event: wire.EventInitHost, Room: msg.Room}})
	}
	if res.BootstrapTarget != "" {
		out = append(out, Delivery{To: res.BootstrapTarget, Msg: wire.Message{Event: wire.EventConnectTo, ID: sender}})
	}
	for _, id := range res.Members {
		out = append(out, Delivery{To: id, Msg: wire.Message{Event: wire.EventChatUserList, Users: res.Roster}})
	}
	for _, id := range res.Others {
		out = append(out, Delivery{To: id, Msg: wire.Message{
			Event: wire.EventChatMessage,
			From:  wire.SystemSender,
			Text:  nickname + " joined the room",
		}})
	}
	return out
}

func (rt *Router) handleLeaveChat(sender string, msg wire.Message) []Delivery {
	md, ok := rt.registry.Get(sender)
	if !ok || md.Kind != registry.KindChat || md.Room != msg.Room {
		return nil
	}
	dep, ok := rt.rooms.Leave(sender)
	if !ok {
		return nil
	}
	return rt.departureDeliveries(dep)
}

func (rt *Router) handleChatMessage(sender string, msg wire.Message) []Delivery {
	md, _ := rt.registry.Get(sender)
	from := md.Nickname
	if from == "" {
		from = anonymousNickname
	}

	peers := rt.rooms.ChatPeers(msg.Room, sender)
	out := make([]Delivery, 0, len(peers))
	for _, id := range peers {
		out = append(out, Delivery{To: id, Msg: wire.Message{
			Event:     wire.EventChatMessage,
			From:      from,
			Encrypted: msg.Encrypted,
		}})
		rt.metrics.Inc(metrics.ChatMessagesRelayed)
	}
	return out
}

func (rt *Router) handleLeaving(sender string, msg wire.Message) []Delivery {
	md, ok := rt.registry.Get(sender)
	if !ok || md.Room != msg.Room {
		return nil
	}
	switch {
	case msg.Kind == wire.RoomKindPairwise && md.Kind == registry.KindPairwise,
		msg.Kind == wire.RoomKindChat && md.Kind == registry.KindChat:
		dep, ok := rt.rooms.Leave(sender)
		if !ok {
			return nil
		}
		return rt.departureDeliveries(dep)
	}
	return nil
}

// leftDeliveries notifies the old audience when an admitted join released the
// sender from a previous room, exactly as on an explicit leave.
func (rt *Router) leftDeliveries(left *room.Departure) []Delivery {
	if left == nil {
		return nil
	}
	return rt.departureDeliveries(*left)
}

func (rt *Router) departureDeliveries(dep room.Departure) []Delivery {
	var out []Delivery
	switch dep.Kind {
	case registry.KindPairwise:
		if dep.PeerLeft != "" {
			out = append(out, Delivery{To: dep.PeerLeft, Msg: wire.Message{Event: wire.EventPeerLeft}})
		}
	case registry.KindChat:
		if dep.Destroyed {
			// No audience remains.
			return nil
		}
		for _, id := range dep.Remaining {
			out = append(out, Delivery{To: id, Msg: wire.Message{Event: wire.EventChatUserList, Users: dep.Roster}})
		}
		for _, id := range dep.Remaining {
			out = append(out, Delivery{To: id, Msg: wire.Message{
				Event: wire.EventChatMessage,
				From:  wire.SystemSender,
				Text:  dep.Nickname + " left the room",
			}})
		}
	}
	return out
}
