package room

import "math/rand/v2"

// Picker selects the existing chat-room member that will carry key material to
// a newcomer. Injectable so tests can pin the selection.
type Picker interface {
	// IntN returns a value in [0, n). n is always >= 1.
	IntN(n int) int
}

// UniformPicker selects uniformly at random. Uniform selection spreads
// connection-setup load instead of hot-spotting one member as permanent key
// custodian; any current member holds the room key, so any pick is valid.
type UniformPicker struct{}

func (UniformPicker) IntN(n int) int { return rand.IntN(n) }
