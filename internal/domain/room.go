package domain

import (
	"errors"
	"strings"
)

const (
	// SeatCount is the fixed number of broadcast seats per room.
	SeatCount = 6

	MaxRoomNameLen = 64
)

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
)

type RoomName string

func NewRoomName(raw string) (RoomName, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrRoomNameEmpty
	}
	if len(raw) > MaxRoomNameLen {
		return "", ErrRoomNameTooLong
	}
	return RoomName(raw), nil
}

// SeatIndex is the 1-based seat number used on the wire and in storage.
type SeatIndex int

// Position is the 0-based slot of a seat inside a Snapshot.
type Position int

func (i SeatIndex) Valid() bool { return i >= 1 && i <= SeatCount }

func (p Position) Valid() bool { return p >= 0 && p < SeatCount }

// Position converts a wire index into a slot. Only the roster normalizer
// and the presentation edge should need this.
func (i SeatIndex) Position() Position { return Position(i - 1) }

func (p Position) SeatIndex() SeatIndex { return SeatIndex(p + 1) }
