package metrics

import "sync"

// Counter names used across the relay.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"

	PairwiseJoins   = "pairwise_joins"
	ChatJoins       = "chat_joins"
	InitHost        = "init_host"
	BootstrapPaired = "key_bootstrap_paired"

	SignalsRelayed      = "signals_relayed"
	ChatMessagesRelayed = "chat_messages_relayed"

	DropReasonRoomFull         = "room_full"
	DropReasonNicknameTaken    = "nickname_taken"
	DropReasonUnknownRecipient = "unknown_recipient"
	DropReasonSendQueueFull    = "send_queue_full"
	DropReasonRateLimited      = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// It keeps the relay's enforcement paths testable without a metrics backend;
// PrometheusHandler exposes the counters for scraping.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
