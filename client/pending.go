package client

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// candidateQueue buffers trickled ICE candidates that arrive before the
// remote description is set. Pion rejects AddICECandidate until then, and
// candidates must be applied in arrival order.
type candidateQueue struct {
	mu      sync.Mutex
	ready   bool
	pending []webrtc.ICECandidateInit
}

// Add returns true when the candidate should be applied immediately. Before
// MarkReady it buffers the candidate and returns false.
func (q *candidateQueue) Add(c webrtc.ICECandidateInit) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return true
	}
	q.pending = append(q.pending, c)
	return false
}

// MarkReady flips the queue into pass-through mode and returns the buffered
// candidates in arrival order. The caller applies them before any candidate
// admitted directly by Add.
func (q *candidateQueue) MarkReady() []webrtc.ICECandidateInit {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = true
	drained := q.pending
	q.pending = nil
	return drained
}
