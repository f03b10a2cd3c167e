// Package wsclient is a core.SyncChannel over the Stage sync websocket.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/event"
)

var (
	ErrClosed       = errors.New("sync client closed")
	ErrDisconnected = errors.New("sync connection is down")
)

const writeWait = 5 * time.Second

type Options struct {
	Bearer string
	// PingPeriod is the server's ping interval; the read deadline is derived from it.
	PingPeriod time.Duration
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	return o
}

// Client keeps one websocket open, reconnecting with backoff and re-joining
// its rooms after every reconnect.
type Client struct {
	url    string
	opts   Options
	dialer *websocket.Dialer
	feed   *event.Feed[domain.SyncEvent]
	log    zerolog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    *websocket.Conn
	rooms   map[domain.RoomName]struct{}
	closed  bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Dial connects once and starts the reconnect loop. ctx bounds the first
// dial only.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	c := &Client{
		url:    url,
		opts:   opts.withDefaults(),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		feed:   event.NewFeed[domain.SyncEvent]("sync.ws"),
		log:    log.With().Str("module", "adapters.wsclient").Logger(),
		rooms:  make(map[domain.RoomName]struct{}),
		done:   make(chan struct{}),
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(runCtx, conn)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	hdr := http.Header{}
	if c.opts.Bearer != "" {
		hdr.Set("Authorization", "Bearer "+c.opts.Bearer)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, hdr)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, domain.ErrUnauthorized
		}
		return nil, err
	}
	pongWait := c.opts.PingPeriod * 10 / 9
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	return conn, nil
}

func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)
	for {
		c.readLoop(conn)
		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		next, err := c.reconnect(ctx)
		if err != nil {
			return
		}
		conn = next
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	pongWait := c.opts.PingPeriod * 10 / 9
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("read error")
			}
			_ = conn.Close()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var ev domain.SyncEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.log.Error().Err(err).Msg("bad json")
		return
	}
	switch ev.Type {
	case domain.SyncPresenceState, domain.SyncPresenceJoin, domain.SyncPresenceLeave,
		domain.SyncSeatChange, domain.SyncControl:
		c.feed.Send(ev)
	case "error":
		var f struct {
			Error string          `json:"error"`
			Room  domain.RoomName `json:"room"`
		}
		_ = json.Unmarshal(data, &f)
		c.log.Warn().Str("code", f.Error).Str("room", string(f.Room)).Msg("gateway error")
	default:
		c.log.Debug().Str("type", string(ev.Type)).Msg("ignored frame")
	}
}

func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	backoff := c.opts.Backoff
	for attempt := 1; ; attempt++ {
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("reconnect failed")
			backoff = min(backoff*2, c.opts.MaxBackoff)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return nil, ErrClosed
		}
		c.conn = conn
		rooms := make([]domain.RoomName, 0, len(c.rooms))
		for r := range c.rooms {
			rooms = append(rooms, r)
		}
		c.mu.Unlock()

		c.log.Info().Int("attempt", attempt).Int("rooms", len(rooms)).Msg("reconnected")
		for _, r := range rooms {
			if err := c.write(conn, domain.ClientFrame{Type: domain.FrameJoin, Room: r}); err != nil {
				c.log.Error().Err(err).Str("room", string(r)).Msg("rejoin failed")
			}
		}
		return conn, nil
	}
}

func (c *Client) write(conn *websocket.Conn, f domain.ClientFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

func (c *Client) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn == nil {
		return nil, ErrDisconnected
	}
	return c.conn, nil
}

// Join subscribes to room. The room is remembered and re-joined after a
// reconnect even if this write fails.
func (c *Client) Join(ctx context.Context, room domain.RoomName) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.rooms[room] = struct{}{}
	c.mu.Unlock()

	conn, err := c.current()
	if err != nil {
		return err
	}
	return c.write(conn, domain.ClientFrame{Type: domain.FrameJoin, Room: room})
}

func (c *Client) Leave(ctx context.Context, room domain.RoomName) error {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()

	conn, err := c.current()
	if err != nil {
		return err
	}
	return c.write(conn, domain.ClientFrame{Type: domain.FrameLeave, Room: room})
}

func (c *Client) Send(ctx context.Context, room domain.RoomName, msg domain.ControlMessage) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	return c.write(conn, domain.ClientFrame{Type: domain.FrameControl, Room: room, Control: &msg})
}

func (c *Client) Subscribe(buffer int) *event.Subscription[domain.SyncEvent] {
	return c.feed.Subscribe(buffer)
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	<-c.done
	c.feed.Close()
	return nil
}
