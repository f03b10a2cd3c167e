// Package media manages one media-session connection: connect, publish local
// camera and microphone, and keep a table of remote participants.
package media

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/event"
)

const (
	defaultBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
)

type Options struct {
	// AutoPublish starts camera and microphone right after connecting.
	AutoPublish bool
	// MaxReconnectAttempts bounds the retries after the first failed dial.
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
}

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

type localPub struct {
	track core.LocalTrack
	pubID string
}

type Client struct {
	url       string
	transport core.MediaTransport
	tokens    core.TokenProvider
	capturer  core.Capturer
	log       zerolog.Logger

	// publishMu serializes StartPublishing and the toggles.
	publishMu sync.Mutex

	mu           sync.RWMutex
	state        connState
	gen          uint64
	room         core.MediaRoom
	roomName     domain.RoomName
	actor        domain.Actor
	local        *domain.ParticipantSession
	remote       map[string]*domain.ParticipantSession
	localTracks  map[domain.TrackKind]localPub
	reconnecting bool

	events *event.Feed[Event]
}

func NewClient(url string, transport core.MediaTransport, tokens core.TokenProvider, capturer core.Capturer) *Client {
	return &Client{
		url:         url,
		transport:   transport,
		tokens:      tokens,
		capturer:    capturer,
		log:         log.With().Str("module", "app.media").Logger(),
		remote:      make(map[string]*domain.ParticipantSession),
		localTracks: make(map[domain.TrackKind]localPub),
		events:      event.NewFeed[Event]("media"),
	}
}

func (c *Client) Subscribe(buffer int) *event.Subscription[Event] {
	return c.events.Subscribe(buffer)
}

func (c *Client) emit(ev Event) {
	c.events.Send(ev)
}

// Connect joins room as actor. It is a no-op when already connected to the
// same room and fails with domain.ErrAlreadyConnecting while another connect
// is in flight.
func (c *Client) Connect(ctx context.Context, room domain.RoomName, actor domain.Actor, opts Options) error {
	c.mu.Lock()
	switch c.state {
	case stateConnecting:
		c.mu.Unlock()
		return domain.ErrAlreadyConnecting
	case stateConnected:
		if c.roomName == room {
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		c.Disconnect()
		c.mu.Lock()
		if c.state != stateDisconnected {
			c.mu.Unlock()
			return domain.ErrAlreadyConnecting
		}
	}
	c.state = stateConnecting
	c.gen++
	gen := c.gen
	c.roomName = room
	c.actor = actor
	c.mu.Unlock()

	lg := c.log.With().Str("room", string(room)).Str("identity", actor.Identity).Logger()
	lg.Info().Msg("connecting")

	tok, err := c.tokens.Token(ctx, domain.TokenRequest{
		Room:     room,
		Identity: actor.Identity,
		UserID:   actor.UserID,
		Role:     actor.Role,
		Level:    actor.Level,
	})
	if err != nil {
		c.abortConnect(gen)
		err = &domain.TokenError{Err: err}
		c.emit(Event{Type: EventError, Room: room, Err: err})
		return err
	}

	mr, err := c.dial(ctx, tok, &roomHandler{c: c, gen: gen}, opts)
	if err != nil {
		c.abortConnect(gen)
		lg.Error().Err(err).Msg("connect failed")
		c.emit(Event{Type: EventError, Room: room, Err: err})
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		// Disconnect won the race.
		c.mu.Unlock()
		mr.Disconnect()
		return domain.ErrNotConnected
	}
	c.room = mr
	c.state = stateConnected
	identity := mr.LocalIdentity()
	if identity == "" {
		identity = actor.Identity
	}
	c.local = &domain.ParticipantSession{Identity: identity, Name: actor.Username, IsLocal: true}
	for _, rp := range mr.RemoteParticipants() {
		c.upsertRemote(rp)
	}
	c.mu.Unlock()

	lg.Info().Int("participants", c.ParticipantCount()).Msg("connected")
	c.emit(Event{Type: EventConnected, Room: room})

	if opts.AutoPublish {
		if err := c.StartPublishing(ctx); err != nil {
			lg.Error().Err(err).Msg("auto publish failed")
		}
	}
	return nil
}

func (c *Client) dial(ctx context.Context, tok string, h core.MediaHandler, opts Options) (core.MediaRoom, error) {
	retries := max(opts.MaxReconnectAttempts, 0)
	backoff := opts.ReconnectBackoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := maxBackoff
			if attempt <= 10 {
				wait = min(backoff<<(attempt-1), maxBackoff)
			}
			c.log.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", wait).Msg("dial failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		mr, err := c.transport.Dial(ctx, c.url, tok, h)
		if err == nil {
			return mr, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, &domain.NetworkError{Attempts: retries + 1, Err: lastErr}
}

func (c *Client) abortConnect(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen && c.state == stateConnecting {
		c.state = stateDisconnected
		c.roomName = ""
	}
}

// Disconnect tears the session down. It always succeeds and may be called
// any number of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	mr, tracks, wasActive, room := c.resetLocked()
	c.mu.Unlock()

	for _, lp := range tracks {
		lp.track.Stop()
	}
	if mr != nil {
		mr.Disconnect()
	}
	if wasActive {
		c.log.Info().Str("room", string(room)).Msg("disconnected")
		c.emit(Event{Type: EventDisconnected, Room: room, Reason: "client"})
	}
}

// resetLocked returns what the caller must release outside the lock.
func (c *Client) resetLocked() (core.MediaRoom, map[domain.TrackKind]localPub, bool, domain.RoomName) {
	mr := c.room
	tracks := c.localTracks
	wasActive := c.state != stateDisconnected
	room := c.roomName

	c.state = stateDisconnected
	c.gen++
	c.room = nil
	c.roomName = ""
	c.local = nil
	c.reconnecting = false
	c.localTracks = make(map[domain.TrackKind]localPub)
	for _, p := range c.remote {
		endTracks(p)
	}
	c.remote = make(map[string]*domain.ParticipantSession)
	return mr, tracks, wasActive, room
}

// Close disconnects and ends every event subscription.
func (c *Client) Close() {
	c.Disconnect()
	c.events.Close()
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateConnected
}

func (c *Client) Reconnecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnecting
}

func (c *Client) RoomName() domain.RoomName {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomName
}

func endTracks(p *domain.ParticipantSession) {
	if p.VideoTrack != nil {
		p.VideoTrack.MarkEnded()
	}
	if p.AudioTrack != nil {
		p.AudioTrack.MarkEnded()
	}
}
