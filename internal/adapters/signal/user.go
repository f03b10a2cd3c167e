package signal

import "github.com/dkeye/Stage/internal/domain"

func (s *session) handleWhoAmI() {
	resp := struct {
		Type     string            `json:"type"`
		SID      string            `json:"sid"`
		Identity string            `json:"identity"`
		UserID   string            `json:"user_id"`
		Username string            `json:"username,omitempty"`
		Role     string            `json:"role,omitempty"`
		Rooms    []domain.RoomName `json:"rooms"`
	}{
		Type:     "whoami",
		SID:      string(s.sid),
		Identity: s.actor.Identity,
		UserID:   s.actor.UserID,
		Username: s.actor.Username,
		Role:     s.actor.Role,
		Rooms:    s.gw.Hub.Registry.RoomsOf(s.sid),
	}
	s.sendJSON(resp)
}
