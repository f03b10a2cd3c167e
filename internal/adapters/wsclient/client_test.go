package wsclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apihttp "github.com/dkeye/Stage/internal/adapters/http"
	"github.com/dkeye/Stage/internal/adapters/signal"
	"github.com/dkeye/Stage/internal/adapters/store/memory"
	"github.com/dkeye/Stage/internal/app/realtime"
	"github.com/dkeye/Stage/internal/app/seats"
	"github.com/dkeye/Stage/internal/config"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/event"
	"github.com/dkeye/Stage/internal/testutil"
	"github.com/dkeye/Stage/internal/token"
)

const room = domain.RoomName("officer-stream")

var (
	alice   = domain.Actor{Identity: "id-alice", UserID: "alice", Role: "member"}
	officer = domain.Actor{Identity: "id-off", UserID: "off", Role: "officer"}
)

type server struct {
	hub      *realtime.Hub
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
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := apihttp.SetupRouter(ctx, &config.Config{Mode: "test", Secret: "s"}, apihttp.Deps{
		Seats:    svc,
		Issuer:   token.NewIssuer("devkey", "media-secret", time.Hour),
		Verifier: v,
		Gateway:  signal.NewGateway(hub, nil, signal.Options{Privileged: []string{"officer"}}),
		Hub:      hub,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &server{hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/sync", verifier: v}
}

func (s *server) dial(t *testing.T, a domain.Actor) *Client {
	t.Helper()
	tok, err := s.verifier.Mint(a, time.Hour)
	require.NoError(t, err)
	c, err := Dial(context.Background(), s.url, Options{Bearer: tok, Backoff: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func next(t *testing.T, sub *event.Subscription[domain.SyncEvent], typ domain.SyncEventType) domain.SyncEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C():
			require.True(t, ok, "subscription closed")
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestJoinAndControl(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	a := srv.dial(t, alice)
	sub := a.Subscribe(16)
	require.NoError(t, a.Join(ctx, room))
	state := next(t, sub, domain.SyncPresenceState)
	assert.Equal(t, []string{"id-alice"}, state.Identities)

	off := srv.dial(t, officer)
	offSub := off.Subscribe(16)
	require.NoError(t, off.Join(ctx, room))
	next(t, offSub, domain.SyncPresenceState)
	assert.Equal(t, "id-off", next(t, sub, domain.SyncPresenceJoin).Identity)

	require.NoError(t, off.Send(ctx, room, domain.RemoveMessage("", 3)))
	ev := next(t, sub, domain.SyncControl)
	assert.Equal(t, "id-off", ev.Sender)
	require.NotNil(t, ev.Control)
	assert.Equal(t, domain.ActionRemove, ev.Control.Action)
	require.NotNil(t, ev.Control.SeatIndex)
	assert.Equal(t, domain.SeatIndex(3), *ev.Control.SeatIndex)

	require.NoError(t, off.Leave(ctx, room))
	assert.Equal(t, "id-off", next(t, sub, domain.SyncPresenceLeave).Identity)
}

func TestReconnectRejoins(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	a := srv.dial(t, alice)
	sub := a.Subscribe(16)
	require.NoError(t, a.Join(ctx, room))
	next(t, sub, domain.SyncPresenceState)

	sids := srv.hub.Registry.SessionsOf(alice.Identity)
	require.Len(t, sids, 1)
	srv.hub.Kick(sids[0])

	state := next(t, sub, domain.SyncPresenceState)
	assert.Equal(t, []string{"id-alice"}, state.Identities)
	testutil.Eventually(t, func() bool {
		s := srv.hub.Registry.SessionsOf(alice.Identity)
		return len(s) == 1 && s[0] != sids[0]
	}, "new session")
}

func TestDialErrors(t *testing.T) {
	srv := newServer(t)

	_, err := Dial(context.Background(), srv.url, Options{})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	c := srv.dial(t, alice)
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Send(context.Background(), room, domain.MuteAllMessage("")), ErrClosed)
	require.ErrorIs(t, c.Join(context.Background(), room), ErrClosed)
}
