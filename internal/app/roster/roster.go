// Package roster keeps a client's view of the broadcast seats of one room.
// Every mutation is followed by a full re-fetch; local state is never
// patched optimistically.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/event"
)

var ErrNoSeat = errors.New("adjudicator returned no seat")

type ClaimOptions struct {
	Override bool
}

type ReleaseOptions struct {
	Force        bool
	BanMinutes   int
	BanPermanent bool
}

type Service struct {
	backend core.SeatBackend
	room    domain.RoomName
	log     zerolog.Logger

	// Callers share a fetch only if it had not started reading when they
	// called Refresh. A started fetch bumps gen so later callers get a new one.
	sf       singleflight.Group
	gen      atomic.Uint64
	fetchSeq atomic.Uint64

	mu      sync.RWMutex
	seats   domain.Snapshot
	applied uint64
	loaded  bool
	updates *event.Feed[domain.Snapshot]
}

type fetched struct {
	snap domain.Snapshot
	seq  uint64
}

func New(backend core.SeatBackend, room domain.RoomName) *Service {
	return &Service{
		backend: backend,
		room:    room,
		log:     log.With().Str("module", "app.roster").Str("room", string(room)).Logger(),
		updates: event.NewFeed[domain.Snapshot]("roster"),
	}
}

func (s *Service) Room() domain.RoomName { return s.room }

// Claim asks the adjudicator for a seat. A claim that lost to another
// occupant is returned as *domain.SeatOccupiedError together with the result.
func (s *Service) Claim(ctx context.Context, index domain.SeatIndex, occ domain.Occupant, opts ClaimOptions) (domain.ClaimResult, error) {
	if !index.Valid() {
		return domain.ClaimResult{}, domain.ErrInvalidSeat
	}
	res, err := s.backend.Claim(ctx, s.room, domain.ClaimRequest{Index: index, Occupant: occ, Override: opts.Override})
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("claim seat %d: %w", index, err)
	}
	if res.Seat == nil {
		return res, ErrNoSeat
	}
	if res.Lost() {
		s.log.Info().Int("seat_index", int(index)).Str("occupant", res.Seat.UserID).Msg("seat already occupied")
		s.refreshQuietly(ctx)
		return res, &domain.SeatOccupiedError{Index: index, OccupantID: res.Seat.UserID}
	}
	s.refreshQuietly(ctx)
	return res, nil
}

// Release frees a seat. Releasing an empty seat succeeds.
func (s *Service) Release(ctx context.Context, index domain.SeatIndex, occupantID string, opts ReleaseOptions) error {
	if !index.Valid() {
		return domain.ErrInvalidSeat
	}
	err := s.backend.Release(ctx, s.room, domain.ReleaseRequest{
		Index:        index,
		UserID:       occupantID,
		Force:        opts.Force,
		BanMinutes:   opts.BanMinutes,
		BanPermanent: opts.BanPermanent,
	})
	if err != nil {
		return fmt.Errorf("release seat %d: %w", index, err)
	}
	s.refreshQuietly(ctx)
	return nil
}

// Refresh re-fetches the seat table. Callers that arrive before a pending
// fetch starts reading share it; the result always reflects writes that
// completed before the call.
func (s *Service) Refresh(ctx context.Context) (domain.Snapshot, error) {
	key := strconv.FormatUint(s.gen.Load(), 10)
	v, err, _ := s.sf.Do(key, func() (any, error) {
		s.gen.Add(1)
		seq := s.fetchSeq.Add(1)
		rows, err := s.backend.List(ctx, s.room)
		if err != nil {
			return fetched{}, err
		}
		return fetched{snap: Normalize(rows), seq: seq}, nil
	})
	if err != nil {
		return s.Seats(), fmt.Errorf("refresh seats: %w", err)
	}
	f := v.(fetched)

	s.mu.Lock()
	if f.seq < s.applied {
		// a newer fetch already landed
		snap := s.seats
		s.mu.Unlock()
		return snap, nil
	}
	changed := !s.loaded || !s.seats.Equal(f.snap)
	s.seats = f.snap
	s.applied = f.seq
	s.loaded = true
	s.mu.Unlock()

	if changed {
		s.updates.Send(f.snap)
	}
	return f.snap, nil
}

func (s *Service) refreshQuietly(ctx context.Context) {
	if _, err := s.Refresh(ctx); err != nil {
		s.log.Error().Err(err).Msg("refresh after mutation")
	}
}

func (s *Service) Seats() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seats
}

// CurrentOccupants lists the occupied seats in position order.
func (s *Service) CurrentOccupants() []domain.Seat {
	return s.Seats().Occupied()
}

func (s *Service) SeatOf(userID string) *domain.Seat {
	return s.Seats().SeatOf(userID)
}

// Subscribe delivers a snapshot every time the seat table changes.
func (s *Service) Subscribe(buffer int) *event.Subscription[domain.Snapshot] {
	return s.updates.Subscribe(buffer)
}

// Watch refreshes once, then on every seat-change notification for this room,
// until ctx is done or the channel closes.
func (s *Service) Watch(ctx context.Context, ch core.SyncChannel) {
	sub := ch.Subscribe(32)
	defer sub.Unsubscribe()

	s.refreshQuietly(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Type != domain.SyncSeatChange || ev.Room != s.room {
				continue
			}
			s.refreshQuietly(ctx)
		}
	}
}

func (s *Service) Close() {
	s.updates.Close()
}

// Normalize places wire rows into their 0-based slots. This is the only place
// where a SeatIndex becomes a Position.
func Normalize(rows []domain.Seat) domain.Snapshot {
	var snap domain.Snapshot
	for i := range rows {
		row := rows[i]
		if !row.Index.Valid() {
			continue
		}
		snap[row.Index.Position()] = &row
	}
	return snap
}
