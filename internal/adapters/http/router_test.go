package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Stage/internal/adapters/signal"
	"github.com/dkeye/Stage/internal/adapters/store/memory"
	"github.com/dkeye/Stage/internal/app/realtime"
	"github.com/dkeye/Stage/internal/app/seats"
	"github.com/dkeye/Stage/internal/config"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/testutil"
	"github.com/dkeye/Stage/internal/token"
)

var (
	alice   = domain.Actor{Identity: "id-alice", UserID: "alice", Username: "Alice", Role: "member"}
	bob     = domain.Actor{Identity: "id-bob", UserID: "bob", Username: "Bob", Role: "member"}
	officer = domain.Actor{Identity: "id-off", UserID: "off", Username: "Officer", Role: "officer"}
)

type apiFixture struct {
	router   *gin.Engine
	verifier *token.Verifier
	issuer   *token.Issuer
	tokens   map[string]string
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	testutil.TestLogger(t)
	gin.SetMode(gin.TestMode)

	hub := realtime.NewHub(realtime.KickPolicy{})
	svc := seats.NewService(memory.New(), hub, seats.RolePolicy{Roles: []string{"officer"}}, nil)
	f := &apiFixture{
		verifier: token.NewVerifier("auth-secret", ""),
		issuer:   token.NewIssuer("devkey", "media-secret", time.Hour),
		tokens:   make(map[string]string),
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.router = SetupRouter(ctx, &config.Config{Mode: "test", Secret: "cookie-secret"}, Deps{
		Seats:    svc,
		Issuer:   f.issuer,
		Verifier: f.verifier,
		Gateway:  signal.NewGateway(hub, nil, signal.Options{}),
		Hub:      hub,
		MediaURL: "ws://media.example",
	})
	for _, a := range []domain.Actor{alice, bob, officer} {
		tok, err := f.verifier.Mint(a, time.Hour)
		require.NoError(t, err)
		f.tokens[a.UserID] = tok
	}
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, as string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+f.tokens[as])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

const seatsPath = "/api/rooms/officer-stream/seats"

func TestHealthAndAuth(t *testing.T) {
	f := newAPI(t)

	w := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, seatsPath, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, CodeUnauthorized, decode[ErrorResponse](t, w).Error)

	w = f.do(t, http.MethodGet, "/api/me", "off", nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[domain.Actor](t, w)
	assert.Equal(t, "id-off", me.Identity)
	assert.Equal(t, "officer", me.Role)

	req := httptest.NewRequest(http.MethodGet, seatsPath, nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSeatRoutes(t *testing.T) {
	f := newAPI(t)

	w := f.do(t, http.MethodPost, seatsPath+"/claim", "alice", ClaimRequest{SeatIndex: 2, Username: "Ally"})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[ClaimResponse](t, w)
	assert.True(t, res.Created)
	require.NotNil(t, res.Seat)
	assert.Equal(t, "alice", res.Seat.UserID)
	assert.Equal(t, "Ally", res.Seat.Username)

	t.Run("occupied seat is not an error", func(t *testing.T) {
		w := f.do(t, http.MethodPost, seatsPath+"/claim", "bob", ClaimRequest{SeatIndex: 2})
		require.Equal(t, http.StatusOK, w.Code)
		res := decode[ClaimResponse](t, w)
		assert.False(t, res.Created)
		assert.False(t, res.IsOwner)
		assert.Equal(t, "alice", res.Seat.UserID)
	})

	t.Run("error codes", func(t *testing.T) {
		w := f.do(t, http.MethodPost, seatsPath+"/claim", "alice", ClaimRequest{SeatIndex: 3})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, CodeAlreadySeated, decode[ErrorResponse](t, w).Error)

		w = f.do(t, http.MethodPost, seatsPath+"/claim", "bob", ClaimRequest{SeatIndex: 7})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, CodeInvalidSeat, decode[ErrorResponse](t, w).Error)

		w = f.do(t, http.MethodPost, seatsPath+"/claim", "bob", ClaimRequest{SeatIndex: 4, Override: true})
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = f.do(t, http.MethodPost, seatsPath+"/release", "bob", ReleaseRequest{SeatIndex: 2, UserID: "alice"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("list", func(t *testing.T) {
		w := f.do(t, http.MethodGet, seatsPath, "bob", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode[struct {
			Seats []domain.Seat `json:"seats"`
		}](t, w)
		require.Len(t, body.Seats, 1)
		assert.Equal(t, domain.SeatIndex(2), body.Seats[0].Index)
	})

	t.Run("forced release with ban", func(t *testing.T) {
		w := f.do(t, http.MethodPost, seatsPath+"/release", "off", ReleaseRequest{SeatIndex: 2, Force: true, BanMinutes: 30})
		require.Equal(t, http.StatusOK, w.Code)
		rel := decode[ReleaseResponse](t, w)
		require.NotNil(t, rel.Seat)
		assert.Equal(t, "alice", rel.Seat.UserID)

		w = f.do(t, http.MethodPost, seatsPath+"/claim", "alice", ClaimRequest{SeatIndex: 2})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, CodeSeatBanned, decode[ErrorResponse](t, w).Error)
	})

	t.Run("release of an empty seat", func(t *testing.T) {
		w := f.do(t, http.MethodPost, seatsPath+"/release", "bob", ReleaseRequest{SeatIndex: 5})
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"seat":null}`, w.Body.String())
	})

	t.Run("clear stage", func(t *testing.T) {
		w := f.do(t, http.MethodPost, seatsPath+"/claim", "bob", ClaimRequest{SeatIndex: 1})
		require.Equal(t, http.StatusOK, w.Code)

		w = f.do(t, http.MethodDelete, seatsPath, "bob", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = f.do(t, http.MethodDelete, seatsPath, "off", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"removed":1}`, w.Body.String())
	})
}

func TestTokenRoute(t *testing.T) {
	f := newAPI(t)

	w := f.do(t, http.MethodPost, "/api/token", "alice", TokenRequest{Room: "officer-stream"})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[TokenResponse](t, w)
	assert.Equal(t, "ws://media.example", res.URL)

	claims, err := f.issuer.Parse(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "id-alice", claims.Subject)
	assert.Equal(t, "officer-stream", claims.Video.Room)

	w = f.do(t, http.MethodPost, "/api/token", "alice", TokenRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/token", "", TokenRequest{Room: "officer-stream"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionCookie(t *testing.T) {
	f := newAPI(t)

	w := f.do(t, http.MethodPost, "/api/session", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, seatsPath, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSyncUpgrade(t *testing.T) {
	f := newAPI(t)
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/sync"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+f.tokens["alice"])
	ws, _, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	require.NoError(t, ws.WriteJSON(domain.ClientFrame{Type: domain.FrameJoin, Room: "officer-stream"}))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev domain.SyncEvent
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, domain.SyncPresenceState, ev.Type)
	assert.Equal(t, []string{"id-alice"}, ev.Identities)
}
