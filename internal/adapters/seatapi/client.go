// Package seatapi talks to the Stage HTTP API. It implements
// core.SeatBackend and core.TokenProvider for remote participants.
package seatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/domain"
)

// APIError is a non-2xx answer that maps to no domain error.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stage api: %d %s: %s", e.Status, e.Code, e.Message)
}

var codeErrors = map[string]error{
	"invalid_seat":   domain.ErrInvalidSeat,
	"invalid_room":   domain.ErrRoomNameEmpty,
	"unauthorized":   domain.ErrUnauthorized,
	"forbidden":      domain.ErrForbidden,
	"seat_banned":    domain.ErrSeatBanned,
	"not_seat_owner": domain.ErrNotSeatOwner,
	"already_seated": domain.ErrAlreadySeated,
	"rate_limited":   domain.ErrRateLimited,
}

type Client struct {
	base   string
	bearer string
	http   *http.Client
	log    zerolog.Logger

	mu       sync.Mutex
	mediaURL string
}

func New(baseURL, bearer string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		bearer: bearer,
		http:   hc,
		log:    log.With().Str("module", "adapters.seatapi").Logger(),
	}
}

func seatsPath(room domain.RoomName) string {
	return "/api/rooms/" + url.PathEscape(string(room)) + "/seats"
}

type claimBody struct {
	SeatIndex domain.SeatIndex `json:"seat_index"`
	Username  string           `json:"username,omitempty"`
	AvatarURL string           `json:"avatar_url,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	Override  bool             `json:"override,omitempty"`
}

func (c *Client) Claim(ctx context.Context, room domain.RoomName, req domain.ClaimRequest) (domain.ClaimResult, error) {
	var res domain.ClaimResult
	err := c.do(ctx, http.MethodPost, seatsPath(room)+"/claim", claimBody{
		SeatIndex: req.Index,
		Username:  req.Occupant.Username,
		AvatarURL: req.Occupant.AvatarURL,
		Metadata:  req.Occupant.Metadata,
		Override:  req.Override,
	}, &res)
	return res, err
}

type releaseBody struct {
	SeatIndex    domain.SeatIndex `json:"seat_index"`
	UserID       string           `json:"user_id,omitempty"`
	Force        bool             `json:"force,omitempty"`
	BanMinutes   int              `json:"ban_minutes,omitempty"`
	BanPermanent bool             `json:"ban_permanent,omitempty"`
}

func (c *Client) Release(ctx context.Context, room domain.RoomName, req domain.ReleaseRequest) error {
	return c.do(ctx, http.MethodPost, seatsPath(room)+"/release", releaseBody{
		SeatIndex:    req.Index,
		UserID:       req.UserID,
		Force:        req.Force,
		BanMinutes:   req.BanMinutes,
		BanPermanent: req.BanPermanent,
	}, nil)
}

func (c *Client) List(ctx context.Context, room domain.RoomName) ([]domain.Seat, error) {
	var res struct {
		Seats []domain.Seat `json:"seats"`
	}
	if err := c.do(ctx, http.MethodGet, seatsPath(room), nil, &res); err != nil {
		return nil, err
	}
	return res.Seats, nil
}

// Clear empties the stage. Privileged callers only.
func (c *Client) Clear(ctx context.Context, room domain.RoomName) (int, error) {
	var res struct {
		Removed int `json:"removed"`
	}
	err := c.do(ctx, http.MethodDelete, seatsPath(room), nil, &res)
	return res.Removed, err
}

// Me resolves the actor bound to the bearer token.
func (c *Client) Me(ctx context.Context) (domain.Actor, error) {
	var a domain.Actor
	err := c.do(ctx, http.MethodGet, "/api/me", nil, &a)
	return a, err
}

// Token fetches a media access token. An unauthenticated answer means the
// session has not been established yet and maps to domain.ErrNoSession.
func (c *Client) Token(ctx context.Context, req domain.TokenRequest) (string, error) {
	var res struct {
		Token string `json:"token"`
		URL   string `json:"url"`
	}
	err := c.do(ctx, http.MethodPost, "/api/token", struct {
		Room domain.RoomName `json:"room"`
	}{req.Room}, &res)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return "", domain.ErrNoSession
		}
		return "", err
	}
	if res.URL != "" {
		c.mu.Lock()
		c.mediaURL = res.URL
		c.mu.Unlock()
	}
	return res.Token, nil
}

// MediaURL is the media server address from the last token answer.
func (c *Client) MediaURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mediaURL
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		c.log.Debug().Str("path", path).Int("status", resp.StatusCode).Str("code", e.Error).Msg("api error")
		if mapped, ok := codeErrors[e.Error]; ok {
			return mapped
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return domain.ErrUnauthorized
		}
		return &APIError{Status: resp.StatusCode, Code: e.Error, Message: e.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
