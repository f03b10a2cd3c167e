package http

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/dkeye/Stage/internal/domain"
)

type handlers struct {
	deps Deps
}

// createSession stores a verified bearer token in the session cookie.
func (h *handlers) createSession(c *gin.Context) {
	raw := bearerFrom(c)
	if raw == "" {
		abortWithError(c, domain.ErrUnauthorized)
		return
	}
	actor, err := h.deps.Verifier.Verify(raw)
	if err != nil {
		abortWithError(c, err)
		return
	}
	s := sessions.Default(c)
	s.Set(sessionBearer, raw)
	if err := s.Save(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": actor.Identity, "user_id": actor.UserID})
}

func (h *handlers) me(c *gin.Context) {
	c.JSON(http.StatusOK, ActorFrom(c))
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.deps.Hub.List()})
}

func roomParam(c *gin.Context) (domain.RoomName, bool) {
	name, err := domain.NewRoomName(c.Param("room"))
	if err != nil {
		abortWithError(c, err)
		return "", false
	}
	return name, true
}

func (h *handlers) listSeats(c *gin.Context) {
	room, ok := roomParam(c)
	if !ok {
		return
	}
	rows, err := h.deps.Seats.List(c.Request.Context(), room)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if rows == nil {
		rows = []domain.Seat{}
	}
	c.JSON(http.StatusOK, gin.H{"seats": rows})
}

type ClaimRequest struct {
	SeatIndex domain.SeatIndex `json:"seat_index"`
	Username  string           `json:"username,omitempty"`
	AvatarURL string           `json:"avatar_url,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	Override  bool             `json:"override,omitempty"`
}

type ClaimResponse struct {
	Seat    *domain.Seat `json:"seat"`
	Created bool         `json:"created"`
	IsOwner bool         `json:"is_owner"`
}

// claimSeat answers 200 even when the seat belongs to someone else; the
// caller checks created and is_owner.
func (h *handlers) claimSeat(c *gin.Context) {
	room, ok := roomParam(c)
	if !ok {
		return
	}
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	res, err := h.deps.Seats.Claim(c.Request.Context(), ActorFrom(c), room, domain.ClaimRequest{
		Index: req.SeatIndex,
		Occupant: domain.Occupant{
			Username:  req.Username,
			AvatarURL: req.AvatarURL,
			Metadata:  req.Metadata,
		},
		Override: req.Override,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ClaimResponse{Seat: res.Seat, Created: res.Created, IsOwner: res.IsOwner})
}

type ReleaseRequest struct {
	SeatIndex    domain.SeatIndex `json:"seat_index"`
	UserID       string           `json:"user_id,omitempty"`
	Force        bool             `json:"force,omitempty"`
	BanMinutes   int              `json:"ban_minutes,omitempty"`
	BanPermanent bool             `json:"ban_permanent,omitempty"`
}

type ReleaseResponse struct {
	Seat *domain.Seat `json:"seat"`
}

func (h *handlers) releaseSeat(c *gin.Context) {
	room, ok := roomParam(c)
	if !ok {
		return
	}
	var req ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	seat, err := h.deps.Seats.Release(c.Request.Context(), ActorFrom(c), room, domain.ReleaseRequest{
		Index:        req.SeatIndex,
		UserID:       req.UserID,
		Force:        req.Force,
		BanMinutes:   req.BanMinutes,
		BanPermanent: req.BanPermanent,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ReleaseResponse{Seat: seat})
}

func (h *handlers) clearSeats(c *gin.Context) {
	room, ok := roomParam(c)
	if !ok {
		return
	}
	n, err := h.deps.Seats.Clear(c.Request.Context(), ActorFrom(c), room)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

type TokenRequest struct {
	Room domain.RoomName `json:"room"`
}

type TokenResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

func (h *handlers) issueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	room, err := domain.NewRoomName(string(req.Room))
	if err != nil {
		abortWithError(c, err)
		return
	}
	actor := ActorFrom(c)
	tok, err := h.deps.Issuer.Issue(domain.TokenRequest{
		Room:     room,
		Identity: actor.Identity,
		UserID:   actor.UserID,
		Role:     actor.Role,
		Level:    actor.Level,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, TokenResponse{Token: tok, URL: h.deps.MediaURL})
}
