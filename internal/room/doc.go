// Package room owns the relay's two room kinds and their membership rules:
// pairwise rooms capped at two members for 1:1 negotiation, and multi-party
// chat rooms keyed by unique display names. It also runs the key-bootstrap
// selection that pairs a chat-room newcomer with an existing member for
// out-of-band key transport.
//
// All mutations are serialized behind a single manager lock; methods return
// plain result values and never perform I/O, so callers deliver notifications
// outside the lock.
package room
