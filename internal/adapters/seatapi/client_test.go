package seatapi

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apihttp "github.com/dkeye/Stage/internal/adapters/http"
	"github.com/dkeye/Stage/internal/adapters/signal"
	"github.com/dkeye/Stage/internal/adapters/store/memory"
	"github.com/dkeye/Stage/internal/app/realtime"
	"github.com/dkeye/Stage/internal/app/roster"
	"github.com/dkeye/Stage/internal/app/seats"
	"github.com/dkeye/Stage/internal/config"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/testutil"
	"github.com/dkeye/Stage/internal/token"
)

const room = domain.RoomName("officer-stream")

var (
	alice   = domain.Actor{Identity: "id-alice", UserID: "alice", Username: "Alice", Role: "member"}
	officer = domain.Actor{Identity: "id-off", UserID: "off", Username: "Officer", Role: "officer"}
)

type server struct {
	url      string
	verifier *token.Verifier
}

func newServer(t *testing.T) *server {
	t.Helper()
	testutil.TestLogger(t)
	gin.SetMode(gin.TestMode)

	hub := realtime.NewHub(realtime.KickPolicy{})
	svc := seats.NewService(memory.New(), hub, seats.RolePolicy{Roles: []string{"officer"}}, nil)
	v := token.NewVerifier("auth-secret", "")
	r := apihttp.SetupRouter(context.Background(), &config.Config{Mode: "test", Secret: "s"}, apihttp.Deps{
		Seats:    svc,
		Issuer:   token.NewIssuer("devkey", "media-secret", time.Hour),
		Verifier: v,
		Gateway:  signal.NewGateway(hub, nil, signal.Options{}),
		Hub:      hub,
		MediaURL: "ws://media.example",
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &server{url: srv.URL, verifier: v}
}

func (s *server) client(t *testing.T, a domain.Actor) *Client {
	t.Helper()
	tok, err := s.verifier.Mint(a, time.Hour)
	require.NoError(t, err)
	return New(s.url, tok, nil)
}

func TestSeatBackend(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	c := srv.client(t, alice)
	admin := srv.client(t, officer)

	res, err := c.Claim(ctx, room, domain.ClaimRequest{Index: 4, Occupant: domain.Occupant{Username: "Ally"}})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, domain.SeatIndex(4), res.Seat.Index)

	res, err = admin.Claim(ctx, room, domain.ClaimRequest{Index: 4})
	require.NoError(t, err)
	assert.True(t, res.Lost())

	_, err = c.Claim(ctx, room, domain.ClaimRequest{Index: 5})
	require.ErrorIs(t, err, domain.ErrAlreadySeated)

	rows, err := c.List(ctx, room)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0].UserID)

	err = c.Release(ctx, room, domain.ReleaseRequest{Index: 4, UserID: "off"})
	require.ErrorIs(t, err, domain.ErrForbidden)

	require.NoError(t, admin.Release(ctx, room, domain.ReleaseRequest{Index: 4, Force: true, BanPermanent: true}))
	_, err = c.Claim(ctx, room, domain.ClaimRequest{Index: 1})
	require.ErrorIs(t, err, domain.ErrSeatBanned)

	n, err := admin.Clear(ctx, room)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRosterOverHTTP(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)

	rs := roster.New(srv.client(t, alice), room)
	t.Cleanup(rs.Close)
	_, err := rs.Claim(ctx, 2, alice.Occupant(), roster.ClaimOptions{})
	require.NoError(t, err)
	require.NotNil(t, rs.Seats().At(1))
	assert.Equal(t, "alice", rs.SeatOf("alice").UserID)
}

func TestToken(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)

	c := srv.client(t, alice)
	tok, err := c.Token(ctx, domain.TokenRequest{Room: room})
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.Equal(t, "ws://media.example", c.MediaURL())

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.UserID)

	anon := New(srv.url, "", nil)
	_, err = anon.Token(ctx, domain.TokenRequest{Room: room})
	require.ErrorIs(t, err, domain.ErrNoSession)

	_, err = anon.List(ctx, room)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}
