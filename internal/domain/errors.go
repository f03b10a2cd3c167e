package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoSession         = errors.New("no active session yet")
	ErrAlreadyConnecting = errors.New("already connecting")
	ErrAlreadyJoining    = errors.New("already joining")
	ErrNotConnected      = errors.New("not connected")
	ErrNotJoined         = errors.New("not joined")
	ErrRoomFull          = errors.New("room is full")
	ErrPublishInProgress = errors.New("publish in progress")

	ErrInvalidSeat   = errors.New("invalid seat index")
	ErrSeatOccupied  = errors.New("seat already occupied")
	ErrSeatEmpty     = errors.New("seat already empty")
	ErrAlreadySeated = errors.New("already seated in this room")
	ErrNotSeatOwner  = errors.New("seat held by another user")
	ErrSeatBanned    = errors.New("banned from the stage")
	ErrForbidden     = errors.New("forbidden")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")

	ErrInvalidControl = errors.New("invalid control message")
)

// TokenError means the access credential could not be obtained.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string { return fmt.Sprintf("token: %v", e.Err) }
func (e *TokenError) Unwrap() error { return e.Err }

// NetworkError means the media transport stayed unreachable after every attempt.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: gave up after %d attempts: %v", e.Attempts, e.Err)
}
func (e *NetworkError) Unwrap() error { return e.Err }

// MediaAccessError means a local capture device could not be opened.
type MediaAccessError struct {
	Kind TrackKind
	Err  error
}

func (e *MediaAccessError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("media access: %v", e.Err)
	}
	return fmt.Sprintf("media access (%s): %v", e.Kind, e.Err)
}
func (e *MediaAccessError) Unwrap() error { return e.Err }

type PublishError struct {
	Err error
}

func (e *PublishError) Error() string { return fmt.Sprintf("publish: %v", e.Err) }
func (e *PublishError) Unwrap() error { return e.Err }

// SeatOccupiedError is returned when a claim lost to another occupant.
type SeatOccupiedError struct {
	Index      SeatIndex
	OccupantID string
}

func (e *SeatOccupiedError) Error() string {
	return fmt.Sprintf("seat %d already occupied by %s", e.Index, e.OccupantID)
}

func (e *SeatOccupiedError) Is(target error) bool { return target == ErrSeatOccupied }
