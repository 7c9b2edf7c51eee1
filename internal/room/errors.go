package room

import "errors"

var (
	// ErrRoomFull is returned when a pairwise room already has two members.
	// The requester is told; existing membership is untouched.
	ErrRoomFull = errors.New("room full")
	// ErrNicknameTaken is returned when a chat-room display name collides.
	ErrNicknameTaken = errors.New("nickname taken")
)
