package signal

import (
	"context"

	"github.com/dkeye/Stage/internal/app/realtime"
	"github.com/dkeye/Stage/internal/domain"
)

func (s *session) handleJoin(ctx context.Context, f domain.ClientFrame) {
	name, err := domain.NewRoomName(string(f.Room))
	if err != nil {
		s.log.Warn().Err(err).Msg("bad join payload")
		s.sendError("invalid_room", f.Room)
		return
	}
	s.log.Info().Str("room", string(name)).Msg("join")

	// The hub sends the presence snapshot to this connection itself.
	err = s.gw.Hub.Join(ctx, name, realtime.Member{SID: s.sid, Identity: s.actor.Identity, Conn: s.conn})
	if err != nil {
		s.log.Error().Err(err).Str("room", string(name)).Msg("join failed")
		s.sendError("internal", name)
	}
}

// handleLeave leaves one room; the socket stays open.
func (s *session) handleLeave(ctx context.Context, f domain.ClientFrame) {
	s.log.Info().Str("room", string(f.Room)).Msg("leave")
	if err := s.gw.Hub.Leave(ctx, f.Room, s.sid); err != nil {
		s.log.Error().Err(err).Str("room", string(f.Room)).Msg("leave failed")
		s.sendError("internal", f.Room)
		return
	}
	s.sendJSON(struct {
		Type string          `json:"type"`
		Room domain.RoomName `json:"room"`
	}{"left", f.Room})
}
