// Package signaling implements the relay's WebSocket surface: one upgraded
// connection per client, a router that turns each inbound event into a set of
// outbound deliveries, and per-connection pumps that keep message handling
// ordered and delivery non-blocking.
package signaling
