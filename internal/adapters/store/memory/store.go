// Package memory is an in-process seat store for single-instance deployments and tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Stage/internal/domain"
)

type roomSeats struct {
	seats  map[domain.SeatIndex]*domain.Seat
	byUser map[string]domain.SeatIndex
	bans   map[string]domain.SeatBan
}

type Store struct {
	mu    sync.Mutex
	rooms map[domain.RoomName]*roomSeats
}

func New() *Store {
	return &Store{rooms: make(map[domain.RoomName]*roomSeats)}
}

func (s *Store) room(name domain.RoomName) *roomSeats {
	r, ok := s.rooms[name]
	if !ok {
		r = &roomSeats{
			seats:  make(map[domain.SeatIndex]*domain.Seat),
			byUser: make(map[string]domain.SeatIndex),
			bans:   make(map[string]domain.SeatBan),
		}
		s.rooms[name] = r
	}
	return r
}

func (s *Store) Claim(_ context.Context, name domain.RoomName, req domain.ClaimRequest, at time.Time) (domain.ClaimResult, error) {
	if !req.Index.Valid() {
		return domain.ClaimResult{}, domain.ErrInvalidSeat
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(name)
	userID := req.Occupant.UserID

	cur, occupied := r.seats[req.Index]
	if occupied {
		if cur.UserID == userID {
			return domain.ClaimResult{Seat: copySeat(cur), IsOwner: true}, nil
		}
		if !req.Override {
			return domain.ClaimResult{Seat: copySeat(cur)}, nil
		}
	}
	if held, ok := r.byUser[userID]; ok && held != req.Index {
		return domain.ClaimResult{}, domain.ErrAlreadySeated
	}
	if occupied {
		delete(r.byUser, cur.UserID)
	}

	seat := &domain.Seat{
		Room:       name,
		Index:      req.Index,
		UserID:     userID,
		Username:   req.Occupant.Username,
		AvatarURL:  req.Occupant.AvatarURL,
		Role:       req.Occupant.Role,
		Metadata:   maps.Clone(req.Occupant.Metadata),
		AssignedAt: at.UTC(),
	}
	r.seats[req.Index] = seat
	r.byUser[userID] = req.Index
	return domain.ClaimResult{Seat: copySeat(seat), Created: true}, nil
}

func (s *Store) Release(_ context.Context, name domain.RoomName, index domain.SeatIndex, userID string, force bool) (*domain.Seat, error) {
	if !index.Valid() {
		return nil, domain.ErrInvalidSeat
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(name)
	cur, ok := r.seats[index]
	if !ok {
		return nil, nil
	}
	if cur.UserID != userID && !force {
		return nil, domain.ErrNotSeatOwner
	}
	delete(r.seats, index)
	delete(r.byUser, cur.UserID)
	return copySeat(cur), nil
}

func (s *Store) List(_ context.Context, name domain.RoomName) ([]domain.Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(name)
	out := make([]domain.Seat, 0, len(r.seats))
	for _, idx := range slices.Sorted(maps.Keys(r.seats)) {
		out = append(out, *copySeat(r.seats[idx]))
	}
	return out, nil
}

func (s *Store) Clear(_ context.Context, name domain.RoomName) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(name)
	n := len(r.seats)
	clear(r.seats)
	clear(r.byUser)
	return n, nil
}

func (s *Store) Ban(_ context.Context, ban domain.SeatBan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room(ban.Room).bans[ban.UserID] = ban
	return nil
}

func (s *Store) ActiveBan(_ context.Context, name domain.RoomName, userID string, t time.Time) (*domain.SeatBan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(name)
	ban, ok := r.bans[userID]
	if !ok {
		return nil, nil
	}
	if !ban.ActiveAt(t) {
		delete(r.bans, userID)
		return nil, nil
	}
	return &ban, nil
}

func (s *Store) Close() error { return nil }

func copySeat(seat *domain.Seat) *domain.Seat {
	c := *seat
	c.Metadata = maps.Clone(seat.Metadata)
	return &c
}
