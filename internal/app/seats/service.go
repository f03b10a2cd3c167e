// Package seats adjudicates broadcast seat claims on the server. Clients may
// ask for override or force; this service decides whether they get it.
package seats

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

type Service struct {
	store   core.SeatStore
	bus     core.Bus
	authz   Authorizer
	limiter *RateLimiter
	now     func() time.Time
	log     zerolog.Logger
}

func NewService(store core.SeatStore, bus core.Bus, authz Authorizer, limiter *RateLimiter) *Service {
	return &Service{
		store:   store,
		bus:     bus,
		authz:   authz,
		limiter: limiter,
		now:     time.Now,
		log:     log.With().Str("module", "app.seats").Logger(),
	}
}

func (s *Service) Claim(ctx context.Context, actor domain.Actor, room domain.RoomName, req domain.ClaimRequest) (domain.ClaimResult, error) {
	if room == "" || !req.Index.Valid() {
		return domain.ClaimResult{}, domain.ErrInvalidSeat
	}
	if actor.UserID == "" {
		return domain.ClaimResult{}, domain.ErrUnauthorized
	}
	if !s.limiter.Allow(actor.UserID) {
		return domain.ClaimResult{}, domain.ErrRateLimited
	}
	if req.Override && !s.authz.CanOverride(actor) {
		s.log.Warn().Str("room", string(room)).Str("user", actor.UserID).Msg("override refused")
		return domain.ClaimResult{}, domain.ErrForbidden
	}

	now := s.now()
	ban, err := s.store.ActiveBan(ctx, room, actor.UserID, now)
	if err != nil {
		return domain.ClaimResult{}, err
	}
	if ban != nil {
		return domain.ClaimResult{}, domain.ErrSeatBanned
	}

	// The occupant is always the caller; the body only contributes display fields.
	occ := actor.Occupant()
	if req.Occupant.Username != "" {
		occ.Username = req.Occupant.Username
	}
	if req.Occupant.AvatarURL != "" {
		occ.AvatarURL = req.Occupant.AvatarURL
	}
	for k, v := range req.Occupant.Metadata {
		if _, reserved := occ.Metadata[k]; !reserved {
			occ.Metadata[k] = v
		}
	}
	req.Occupant = occ

	res, err := s.store.Claim(ctx, room, req, now)
	if err != nil {
		return domain.ClaimResult{}, err
	}
	s.log.Info().
		Str("room", string(room)).
		Int("seat_index", int(req.Index)).
		Str("user", actor.UserID).
		Bool("created", res.Created).
		Bool("is_owner", res.IsOwner).
		Msg("claim")

	if res.Created {
		op := domain.ChangeInsert
		if req.Override {
			op = domain.ChangeUpdate
		}
		s.publish(ctx, room, domain.SeatChange{Op: op, Index: req.Index, UserID: actor.UserID})
	}
	return res, nil
}

// Release frees a seat. A nil seat means it was already empty.
func (s *Service) Release(ctx context.Context, actor domain.Actor, room domain.RoomName, req domain.ReleaseRequest) (*domain.Seat, error) {
	if room == "" || !req.Index.Valid() {
		return nil, domain.ErrInvalidSeat
	}
	if actor.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	if req.Force && !s.authz.CanForce(actor) {
		return nil, domain.ErrForbidden
	}
	if req.WantsBan() && !s.authz.CanBan(actor) {
		return nil, domain.ErrForbidden
	}
	if !req.Force {
		if req.UserID != "" && req.UserID != actor.UserID {
			return nil, domain.ErrForbidden
		}
		req.UserID = actor.UserID
	}

	seat, err := s.store.Release(ctx, room, req.Index, req.UserID, req.Force)
	if err != nil {
		return nil, err
	}
	if seat == nil {
		s.log.Debug().Str("room", string(room)).Int("seat_index", int(req.Index)).Msg("release of empty seat")
		return nil, nil
	}
	s.log.Info().
		Str("room", string(room)).
		Int("seat_index", int(req.Index)).
		Str("user", seat.UserID).
		Str("by", actor.UserID).
		Bool("force", req.Force).
		Msg("release")

	if req.WantsBan() {
		now := s.now()
		ban := domain.SeatBan{Room: room, UserID: seat.UserID, CreatedBy: actor.UserID, CreatedAt: now}
		if !req.BanPermanent {
			until := now.Add(time.Duration(req.BanMinutes) * time.Minute)
			ban.Until = &until
		}
		if err := s.store.Ban(ctx, ban); err != nil {
			s.log.Error().Err(err).Str("room", string(room)).Str("user", seat.UserID).Msg("failed to record seat ban")
		}
	}

	s.publish(ctx, room, domain.SeatChange{Op: domain.ChangeDelete, Index: seat.Index, UserID: seat.UserID})
	return seat, nil
}

func (s *Service) List(ctx context.Context, room domain.RoomName) ([]domain.Seat, error) {
	if room == "" {
		return nil, domain.ErrInvalidSeat
	}
	return s.store.List(ctx, room)
}

// Clear empties the whole stage of a room.
func (s *Service) Clear(ctx context.Context, actor domain.Actor, room domain.RoomName) (int, error) {
	if !s.authz.CanClear(actor) {
		return 0, domain.ErrForbidden
	}
	n, err := s.store.Clear(ctx, room)
	if err != nil {
		return 0, err
	}
	s.log.Info().Str("room", string(room)).Int("removed", n).Str("by", actor.UserID).Msg("stage cleared")
	if n > 0 {
		s.publish(ctx, room, domain.SeatChange{Op: domain.ChangeDelete})
	}
	return n, nil
}

func (s *Service) publish(ctx context.Context, room domain.RoomName, change domain.SeatChange) {
	if s.bus == nil {
		return
	}
	ev := domain.SyncEvent{Type: domain.SyncSeatChange, Room: room, Change: &change, At: s.now()}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("room", string(room)).Msg("failed to publish seat change")
	}
}
