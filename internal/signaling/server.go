package signaling

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rtcmesh/rendezvous/internal/metrics"
	"github.com/rtcmesh/rendezvous/internal/ratelimit"
	"github.com/rtcmesh/rendezvous/internal/registry"
	"github.com/rtcmesh/rendezvous/internal/room"
	"github.com/rtcmesh/rendezvous/wire"
)

const (
	defaultMaxMessageBytes   = 64 * 1024
	defaultMessagesPerSecond = 50
	defaultPingInterval      = 20 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultSendQueueSize     = 32

	wsWriteWait = 1 * time.Second
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Registry *registry.Registry
	Rooms    *room.Manager
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// CheckOrigin guards the WebSocket upgrade. Nil accepts all origins.
	CheckOrigin func(*http.Request) bool

	// Inbound hardening; zero values select the defaults above.
	MaxMessageBytes   int64
	MessagesPerSecond int
	PingInterval      time.Duration
	IdleTimeout       time.Duration
	SendQueueSize     int
}

// Server owns the live connection set and runs one reader and one writer
// goroutine per connection. Room state never blocks on peer I/O: deliveries go
// through buffered per-connection queues and overflow is dropped and counted.
type Server struct {
	router  *Router
	reg     *registry.Registry
	metrics *metrics.Metrics
	log     *slog.Logger

	maxMessageBytes   int64
	messagesPerSecond int
	pingInterval      time.Duration
	idleTimeout       time.Duration
	sendQueueSize     int

	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
}

func NewServer(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New()
	}
	if cfg.Rooms == nil {
		cfg.Rooms = room.NewManager(cfg.Registry, nil, cfg.Metrics)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	s := &Server{
		router:  NewRouter(cfg.Registry, cfg.Rooms, cfg.Metrics, cfg.Logger),
		reg:     cfg.Registry,
		metrics: cfg.Metrics,
		log:     cfg.Logger,

		maxMessageBytes:   cfg.MaxMessageBytes,
		messagesPerSecond: cfg.MessagesPerSecond,
		pingInterval:      cfg.PingInterval,
		idleTimeout:       cfg.IdleTimeout,
		sendQueueSize:     cfg.SendQueueSize,

		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		conns:    make(map[string]*conn),
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = defaultMaxMessageBytes
	}
	if s.messagesPerSecond <= 0 {
		s.messagesPerSecond = defaultMessagesPerSecond
	}
	if s.pingInterval <= 0 {
		s.pingInterval = defaultPingInterval
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = defaultIdleTimeout
	}
	if s.sendQueueSize <= 0 {
		s.sendQueueSize = defaultSendQueueSize
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	id := s.reg.Register()
	c := &conn{
		id:   id,
		ws:   ws,
		srv:  s,
		send: make(chan wire.Message, s.sendQueueSize),
		done: make(chan struct{}),
		limiter: ratelimit.NewTokenBucket(
			ratelimit.RealClock{},
			int64(s.messagesPerSecond),
			int64(s.messagesPerSecond),
		),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.close(websocket.CloseGoingAway, "server shutting down")
		s.reg.Clear(id)
		return
	}
	s.conns[id] = c
	s.mu.Unlock()

	s.metrics.Inc(metrics.ConnectionsOpened)
	s.log.Info("connection opened", "id", id, "remote_addr", r.RemoteAddr)

	go c.writePump()
	c.readPump()

	// Remove from the connection table before running departure notifications
	// so nothing tries to deliver to the dying connection.
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()

	c.close(websocket.CloseNormalClosure, "")
	s.deliver(s.router.Disconnect(id))
	s.metrics.Inc(metrics.ConnectionsClosed)
	s.log.Info("connection closed", "id", id)
}

// deliver enqueues each delivery on the recipient's send queue. Delivery is
// at most once: unknown recipients and full queues drop the message.
func (s *Server) deliver(deliveries []Delivery) {
	for _, d := range deliveries {
		s.mu.Lock()
		c := s.conns[d.To]
		s.mu.Unlock()
		if c == nil {
			s.metrics.Inc(metrics.DropReasonUnknownRecipient)
			continue
		}
		select {
		case c.send <- d.Msg:
		case <-c.done:
		default:
			s.metrics.Inc(metrics.DropReasonSendQueueFull)
			s.log.Warn("send queue full, dropping message", "to", d.To, "event", d.Msg.Event)
		}
	}
}

// Close shuts down every live connection. Per-connection cleanup runs as each
// reader observes the close.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}

type conn struct {
	id      string
	ws      *websocket.Conn
	srv     *Server
	send    chan wire.Message
	done    chan struct{}
	limiter *ratelimit.TokenBucket

	closeOnce sync.Once
}

func (c *conn) readPump() {
	c.ws.SetReadLimit(c.srv.maxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		// Apply the rate limit *after* reading so bytes already in the TCP
		// receive buffer are consumed; closing with unread data can turn into an
		// abortive close and hide the close code from the client.
		if !c.limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.DropReasonRateLimited)
			c.close(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.close(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))

		msg, err := wire.Parse(data)
		if err != nil {
			c.close(websocket.ClosePolicyViolation, "bad message")
			return
		}

		c.srv.deliver(c.srv.router.Handle(c.id, msg))
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.srv.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		close(c.done)
		_ = c.ws.Close()
	})
}
