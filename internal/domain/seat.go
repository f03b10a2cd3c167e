package domain

import "time"

// Seat is one occupied broadcast seat, in its wire/storage shape.
type Seat struct {
	Room       RoomName       `json:"room"`
	Index      SeatIndex      `json:"seat_index"`
	UserID     string         `json:"user_id"`
	Username   string         `json:"username"`
	AvatarURL  string         `json:"avatar_url,omitempty"`
	Role       string         `json:"role,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	AssignedAt time.Time      `json:"assigned_at"`
}

type Occupant struct {
	UserID    string         `json:"user_id"`
	Username  string         `json:"username"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Role      string         `json:"role,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type ClaimRequest struct {
	Index    SeatIndex `json:"seat_index"`
	Occupant Occupant  `json:"occupant"`
	Override bool      `json:"override,omitempty"`
}

// ClaimResult is returned by the adjudicator. Created=false with IsOwner=false
// means somebody else won the seat.
type ClaimResult struct {
	Seat    *Seat `json:"seat"`
	Created bool  `json:"created"`
	IsOwner bool  `json:"is_owner"`
}

func (r ClaimResult) Lost() bool { return !r.Created && !r.IsOwner }

type ReleaseRequest struct {
	Index        SeatIndex `json:"seat_index"`
	UserID       string    `json:"user_id"`
	Force        bool      `json:"force,omitempty"`
	BanMinutes   int       `json:"ban_minutes,omitempty"`
	BanPermanent bool      `json:"ban_permanent,omitempty"`
}

func (r ReleaseRequest) WantsBan() bool { return r.BanPermanent || r.BanMinutes > 0 }

// SeatBan keeps a user off the stage of a room. Nil Until is permanent.
type SeatBan struct {
	Room      RoomName   `json:"room"`
	UserID    string     `json:"user_id"`
	Until     *time.Time `json:"banned_until"`
	CreatedBy string     `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (b SeatBan) ActiveAt(t time.Time) bool {
	return b.Until == nil || b.Until.After(t)
}

// Snapshot is the client-side seat array, indexed by Position.
type Snapshot [SeatCount]*Seat

func (s Snapshot) At(p Position) *Seat {
	if !p.Valid() {
		return nil
	}
	return s[p]
}

// SeatOf returns the seat held by userID, if any.
func (s Snapshot) SeatOf(userID string) *Seat {
	if userID == "" {
		return nil
	}
	for _, seat := range s {
		if seat != nil && seat.UserID == userID {
			return seat
		}
	}
	return nil
}

func (s Snapshot) Occupied() []Seat {
	out := make([]Seat, 0, SeatCount)
	for _, seat := range s {
		if seat != nil {
			out = append(out, *seat)
		}
	}
	return out
}

func (s Snapshot) Equal(o Snapshot) bool {
	for i := range s {
		a, b := s[i], o[i]
		if (a == nil) != (b == nil) {
			return false
		}
		if a != nil && (a.UserID != b.UserID || !a.AssignedAt.Equal(b.AssignedAt)) {
			return false
		}
	}
	return true
}
