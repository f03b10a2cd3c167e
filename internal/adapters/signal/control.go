package signal

import (
	"context"
	"time"

	"github.com/dkeye/Stage/internal/domain"
)

func (s *session) handlePing() {
	s.sendJSON(struct {
		Type string `json:"type"`
	}{"pong"})
}

// handleControl relays an admin control message to the room. The sender is
// always the authenticated identity, whatever the client put in the frame.
func (s *session) handleControl(ctx context.Context, f domain.ClientFrame) {
	if f.Control == nil {
		s.sendError("bad_payload", f.Room)
		return
	}
	msg := *f.Control
	if err := msg.Validate(); err != nil {
		s.sendError("invalid_control", f.Room)
		return
	}
	if !s.actor.HasRole(s.gw.opts.Privileged) {
		s.log.Warn().Str("room", string(f.Room)).Str("action", string(msg.Action)).Msg("control refused")
		s.sendError("forbidden", f.Room)
		return
	}
	if !s.gw.Hub.IsMember(f.Room, s.sid) {
		s.sendError("not_member", f.Room)
		return
	}
	if !s.gw.Limiter.Allow(s.actor.Identity) {
		s.sendError("rate_limited", f.Room)
		return
	}

	msg.InitiatorID = s.actor.Identity
	ev := domain.SyncEvent{
		Type:    domain.SyncControl,
		Room:    f.Room,
		Sender:  s.actor.Identity,
		Control: &msg,
		At:      time.Now(),
	}
	if err := s.gw.Hub.Publish(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("room", string(f.Room)).Msg("control publish failed")
		s.sendError("internal", f.Room)
		return
	}
	s.log.Info().Str("room", string(f.Room)).Str("action", string(msg.Action)).Msg("control relayed")
}
