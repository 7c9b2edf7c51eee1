// Package client is a Go client for the rendezvous relay. It wraps the
// WebSocket event protocol and drives pion PeerConnections through the relay's
// opaque signal channel.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rtcmesh/rendezvous/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrClosed = errors.New("client: connection closed")

// Handlers receive server events. Nil handlers ignore the event. All handlers
// run on the client's single read goroutine, so they see events in the order
// the relay sent them.
type Handlers struct {
	OnJoinSuccess    func(room string)
	OnFull           func(room string)
	OnJoined         func(peerID string)
	OnPeerLeft       func()
	OnSignal         func(from string, payload json.RawMessage)
	OnInitHost       func(room string)
	OnChatJoinFailed func(reason string)
	OnConnectTo      func(id string)
	OnUserList       func(users []string)
	OnChatMessage    func(from, text string, encrypted json.RawMessage)
}

type Options struct {
	Handlers Handlers
	Logger   *slog.Logger

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Client holds one relay connection with a read and a write goroutine.
type Client struct {
	ws       *websocket.Conn
	handlers Handlers
	log      *slog.Logger

	outgoing chan wire.Message
	done     chan struct{}
	readDone chan struct{}

	closeOnce sync.Once

	mu      sync.Mutex
	readErr error
}

// Dial connects to the relay's WebSocket endpoint and starts the pumps.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		ws:       ws,
		handlers: opts.Handlers,
		log:      log,
		outgoing: make(chan wire.Message, 16),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// Join requests a slot in a pairwise room.
func (c *Client) Join(room string) error {
	return c.send(wire.Message{Event: wire.EventJoin, Room: room})
}

// JoinReady announces the local peer is ready to negotiate. The relay asks
// the earlier room member to initiate.
func (c *Client) JoinReady(room string) error {
	return c.send(wire.Message{Event: wire.EventJoinReady, Room: room})
}

// SignalRoom forwards an opaque payload to the other pairwise room member.
func (c *Client) SignalRoom(room string, payload json.RawMessage) error {
	return c.send(wire.Message{Event: wire.EventSignal, Room: room, Data: payload})
}

// SignalTo forwards an opaque payload to an explicit connection identity,
// used for key bootstrap pairing in chat rooms.
func (c *Client) SignalTo(to string, payload json.RawMessage) error {
	return c.send(wire.Message{Event: wire.EventSignal, To: to, Data: payload})
}

// JoinChat joins a multi-party chat room under a nickname.
func (c *Client) JoinChat(room, nickname string) error {
	return c.send(wire.Message{Event: wire.EventJoinChatroom, Room: room, Nickname: nickname})
}

// LeaveChat leaves a chat room while keeping the connection open.
func (c *Client) LeaveChat(room string) error {
	return c.send(wire.Message{Event: wire.EventLeaveChatroom, Room: room})
}

// SendChatMessage fans ciphertext out to the other chat room members. The
// relay never inspects the payload.
func (c *Client) SendChatMessage(room string, encrypted json.RawMessage) error {
	return c.send(wire.Message{Event: wire.EventChatMessage, Room: room, Encrypted: encrypted})
}

// Leaving announces an orderly departure from a room of the given kind
// (wire.RoomKindPairwise or wire.RoomKindChat).
func (c *Client) Leaving(room, kind string) error {
	return c.send(wire.Message{Event: wire.EventLeaving, Room: room, Kind: kind})
}

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// Done is closed once the read pump exits, whether from Close or a transport
// error.
func (c *Client) Done() <-chan struct{} {
	return c.readDone
}

// Err reports why the read pump exited. It is nil until Done is closed and
// after a clean local Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *Client) send(msg wire.Message) error {
	// Check for closure first: the buffered outgoing channel could otherwise
	// accept a message nobody will ever write.
	select {
	case <-c.done:
		return ErrClosed
	case <-c.readDone:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.readDone:
		return ErrClosed
	}
}

func (c *Client) readPump() {
	defer close(c.readDone)

	for {
		var msg wire.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
				// Local close; not an error.
			default:
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg wire.Message) {
	h := c.handlers
	switch msg.Event {
	case wire.EventJoinSuccess:
		if h.OnJoinSuccess != nil {
			h.OnJoinSuccess(msg.Room)
		}
	case wire.EventFull:
		if h.OnFull != nil {
			h.OnFull(msg.Room)
		}
	case wire.EventJoined:
		if h.OnJoined != nil {
			h.OnJoined(msg.PeerID)
		}
	case wire.EventPeerLeft:
		if h.OnPeerLeft != nil {
			h.OnPeerLeft()
		}
	case wire.EventSignal:
		if h.OnSignal != nil {
			h.OnSignal(msg.From, msg.Data)
		}
	case wire.EventInitHost:
		if h.OnInitHost != nil {
			h.OnInitHost(msg.Room)
		}
	case wire.EventChatJoinFailed:
		if h.OnChatJoinFailed != nil {
			h.OnChatJoinFailed(msg.Reason)
		}
	case wire.EventConnectTo:
		if h.OnConnectTo != nil {
			h.OnConnectTo(msg.ID)
		}
	case wire.EventChatUserList:
		if h.OnUserList != nil {
			h.OnUserList(msg.Users)
		}
	case wire.EventChatMessage:
		if h.OnChatMessage != nil {
			h.OnChatMessage(msg.From, msg.Text, msg.Encrypted)
		}
	default:
		c.log.Debug("ignoring unknown event", "event", msg.Event)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
