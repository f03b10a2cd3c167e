package core

import (
	"context"
	"time"

	"github.com/dkeye/Stage/internal/domain"
)

// SeatStore is the authoritative seat table. Claim and Release must be atomic
// per (room, seat index); two concurrent claims never both report Created.
type SeatStore interface {
	// Claim inserts the occupant on an empty seat, reports IsOwner when the caller
	// already holds it and replaces another occupant only when req.Override is set.
	// Returns domain.ErrAlreadySeated when the user holds a different seat of the room.
	Claim(ctx context.Context, room domain.RoomName, req domain.ClaimRequest, at time.Time) (domain.ClaimResult, error)
	// Release removes the seat row. An empty seat yields (nil, nil).
	// A seat held by someone other than userID needs force, otherwise domain.ErrNotSeatOwner.
	Release(ctx context.Context, room domain.RoomName, index domain.SeatIndex, userID string, force bool) (*domain.Seat, error)
	List(ctx context.Context, room domain.RoomName) ([]domain.Seat, error)
	// Clear removes every seat of the room and returns how many rows went away.
	Clear(ctx context.Context, room domain.RoomName) (int, error)

	Ban(ctx context.Context, ban domain.SeatBan) error
	// ActiveBan returns the ban in force at t, or nil.
	ActiveBan(ctx context.Context, room domain.RoomName, userID string, t time.Time) (*domain.SeatBan, error)

	Close() error
}

// SeatBackend is the client's view of the adjudicator. The caller identity is
// bound to the backend (bearer token, in-process actor).
type SeatBackend interface {
	Claim(ctx context.Context, room domain.RoomName, req domain.ClaimRequest) (domain.ClaimResult, error)
	Release(ctx context.Context, room domain.RoomName, req domain.ReleaseRequest) error
	List(ctx context.Context, room domain.RoomName) ([]domain.Seat, error)
}
