package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Stage/internal/app/roster"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/event"
)

type BanOptions struct {
	Minutes   int
	Permanent bool
}

// ClaimSeat takes a seat and goes live on it. If going live fails a seat
// taken by this call is given back; a seat already held stays held.
func (o *Orchestrator) ClaimSeat(ctx context.Context, index domain.SeatIndex) (domain.ClaimResult, error) {
	if o.opts.Actor.UserID == "" {
		return domain.ClaimResult{}, domain.ErrUnauthorized
	}
	res, err := o.Roster.Claim(ctx, index, o.opts.Actor.Occupant(), roster.ClaimOptions{})
	if err != nil {
		return res, err
	}

	if err := o.goLive(ctx); err != nil {
		if !res.Created {
			o.log.Error().Err(err).Int("seat_index", int(index)).Msg("going live failed, keeping held seat")
			o.mu.Lock()
			o.seat = &index
			o.mu.Unlock()
			o.notifyChange()
			return res, err
		}
		o.log.Error().Err(err).Int("seat_index", int(index)).Msg("going live failed, releasing seat")
		rctx := context.WithoutCancel(ctx)
		if rerr := o.Roster.Release(rctx, index, o.opts.Actor.UserID, roster.ReleaseOptions{}); rerr != nil {
			o.log.Error().Err(rerr).Int("seat_index", int(index)).Msg("seat rollback failed")
		}
		return res, err
	}

	o.mu.Lock()
	o.seat = &index
	o.mu.Unlock()
	o.notifyChange()
	return res, nil
}

func (o *Orchestrator) goLive(ctx context.Context) error {
	if err := o.join(ctx); err != nil {
		return err
	}
	if p := o.Phase(); p != domain.PhaseJoined && p != domain.PhaseLive {
		return domain.ErrNotJoined
	}
	return o.Publish(ctx)
}

// LeaveSeat turns local media off and frees the caller's seat. The media
// session stays connected.
func (o *Orchestrator) LeaveSeat(ctx context.Context) error {
	o.stopLocalMedia(ctx)

	o.mu.Lock()
	last := o.seat
	o.seat = nil
	o.mu.Unlock()

	var err error
	index := domain.SeatIndex(0)
	if s := o.Roster.SeatOf(o.opts.Actor.UserID); s != nil {
		index = s.Index
	} else if last != nil {
		index = *last
	}
	if index.Valid() {
		err = o.Roster.Release(ctx, index, o.opts.Actor.UserID, roster.ReleaseOptions{})
	}

	o.mu.Lock()
	if o.phase == domain.PhaseLive {
		o.phase = domain.PhaseJoined
		o.conn = domain.StateConnected
	}
	o.mu.Unlock()
	o.notifyChange()
	return err
}

func (o *Orchestrator) stopLocalMedia(ctx context.Context) {
	o.Media.SetCameraEnabled(ctx, false)
	o.Media.SetMicrophoneEnabled(ctx, false)
}

// MuteAll asks every seated participant to turn their microphone off.
func (o *Orchestrator) MuteAll(ctx context.Context) error {
	if o.Sync == nil {
		return domain.ErrNotJoined
	}
	return o.Sync.Send(ctx, o.opts.Room, domain.MuteAllMessage(o.opts.Actor.Identity))
}

// RemoveSeat tells the occupant of index to step down and force-releases the
// seat, optionally banning them. The seat table is re-read first; an empty
// seat yields domain.ErrSeatEmpty.
func (o *Orchestrator) RemoveSeat(ctx context.Context, index domain.SeatIndex, ban BanOptions) error {
	if !index.Valid() {
		return domain.ErrInvalidSeat
	}
	snap, err := o.Roster.Refresh(ctx)
	if err != nil {
		return err
	}
	s := snap.At(index.Position())
	if s == nil {
		return domain.ErrSeatEmpty
	}
	if o.Sync != nil {
		if err := o.Sync.Send(ctx, o.opts.Room, domain.RemoveMessage(o.opts.Actor.Identity, index)); err != nil {
			o.log.Warn().Err(err).Int("seat_index", int(index)).Msg("remove message not sent")
		}
	}
	return o.Roster.Release(ctx, index, s.UserID, roster.ReleaseOptions{
		Force:        true,
		BanMinutes:   ban.Minutes,
		BanPermanent: ban.Permanent,
	})
}

func (o *Orchestrator) Presence() []string {
	return o.View().Presence
}

func (o *Orchestrator) syncLoop(ctx context.Context, sub *event.Subscription[domain.SyncEvent]) {
	defer o.wg.Done()
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Room != o.opts.Room {
				continue
			}
			o.onSyncEvent(ctx, ev)
		}
	}
}

func (o *Orchestrator) onSyncEvent(ctx context.Context, ev domain.SyncEvent) {
	switch ev.Type {
	case domain.SyncPresenceState:
		o.mu.Lock()
		clear(o.presence)
		for _, id := range ev.Identities {
			o.presence[id] = struct{}{}
		}
		o.mu.Unlock()
		o.notifyChange()
	case domain.SyncPresenceJoin:
		o.mu.Lock()
		o.presence[ev.Identity] = struct{}{}
		o.mu.Unlock()
		o.notifyChange()
	case domain.SyncPresenceLeave:
		o.mu.Lock()
		delete(o.presence, ev.Identity)
		o.mu.Unlock()
		o.notifyChange()
	case domain.SyncControl:
		if ev.Control != nil {
			o.handleControl(ctx, ev.Sender, *ev.Control)
		}
	}
}

func (o *Orchestrator) handleControl(ctx context.Context, sender string, msg domain.ControlMessage) {
	if msg.Type != domain.ControlAdminAction {
		return
	}
	self := o.opts.Actor.Identity
	if sender == self || msg.InitiatorID == self {
		o.log.Debug().Str("action", string(msg.Action)).Msg("ignoring own control message")
		return
	}

	switch msg.Action {
	case domain.ActionMuteAll:
		if !o.seated() || !o.Media.MicrophoneEnabled() {
			return
		}
		o.Media.SetMicrophoneEnabled(ctx, false)
		o.notify(NoticeMutedByAdmin, "an admin muted everyone on stage")
		o.notifyChange()
	case domain.ActionRemove:
		if msg.SeatIndex == nil || !o.holds(*msg.SeatIndex) {
			return
		}
		o.notify(NoticeRemoved, "an admin removed you from your seat")
		if err := o.LeaveSeat(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.log.Error().Err(err).Msg("leave seat after removal")
		}
	default:
		o.log.Debug().Str("action", string(msg.Action)).Msg("unknown admin action")
	}
}

func (o *Orchestrator) seated() bool {
	o.mu.Lock()
	last := o.seat
	o.mu.Unlock()
	return last != nil || o.Roster.SeatOf(o.opts.Actor.UserID) != nil
}

// holds reports whether the caller occupies index, by the last seat it
// claimed or by the current roster.
func (o *Orchestrator) holds(index domain.SeatIndex) bool {
	o.mu.Lock()
	last := o.seat
	o.mu.Unlock()
	if last != nil && *last == index {
		return true
	}
	s := o.Roster.Seats().At(index.Position())
	return s != nil && s.UserID == o.opts.Actor.UserID
}

// seatLoop notices when the caller's seat disappears from the roster while
// live, which happens on a forced release or an override.
func (o *Orchestrator) seatLoop(ctx context.Context, sub *event.Subscription[domain.Snapshot]) {
	defer o.wg.Done()
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub.C():
			if !ok {
				return
			}
			o.notifyChange()

			o.mu.Lock()
			last := o.seat
			o.mu.Unlock()
			if last == nil {
				continue
			}
			if s := o.Roster.Seats().At(last.Position()); s != nil && s.UserID == o.opts.Actor.UserID {
				continue
			}
			o.notify(NoticeSeatLost, "your seat was taken away")
			o.mu.Lock()
			o.seat = nil
			if o.phase == domain.PhaseLive {
				o.phase = domain.PhaseJoined
				o.conn = domain.StateConnected
			}
			o.mu.Unlock()
			o.stopLocalMedia(ctx)
			o.notifyChange()
		}
	}
}
