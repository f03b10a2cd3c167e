// Package signal serves the realtime sync channel over websockets.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/app/realtime"
	"github.com/dkeye/Stage/internal/app/seats"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	// Privileged roles may broadcast admin control messages.
	Privileged []string
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32 << 10
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

// Gateway upgrades authenticated requests and binds each socket to the hub.
type Gateway struct {
	Hub     *realtime.Hub
	Limiter *seats.RateLimiter

	opts Options
	log  zerolog.Logger
}

func NewGateway(hub *realtime.Hub, limiter *seats.RateLimiter, opts Options) *Gateway {
	return &Gateway{
		Hub:     hub,
		Limiter: limiter,
		opts:    opts.withDefaults(),
		log:     log.With().Str("module", "signal").Logger(),
	}
}

// WsSignalConn is the hub-facing side of one websocket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleSync upgrades the request. The actor was authenticated by the router.
func (g *Gateway) HandleSync(ctx context.Context, c *gin.Context, actor domain.Actor) {
	sid := core.SessionID(uuid.NewString())
	lg := g.log.With().Str("sid", string(sid)).Str("identity", actor.Identity).Logger()
	lg.Info().Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		lg.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(g.opts.ReadLimit)

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, g.opts.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	g.Hub.Registry.Bind(sid, actor.Identity, cancel)

	s := &session{gw: g, sid: sid, actor: actor, conn: conn, log: lg}
	go s.writePump(ctx)
	go s.readPump(ctx, cancel)
}

// session is one websocket bound to one authenticated actor.
type session struct {
	gw    *Gateway
	sid   core.SessionID
	actor domain.Actor
	conn  *WsSignalConn
	log   zerolog.Logger
}
