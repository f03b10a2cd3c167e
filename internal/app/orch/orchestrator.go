// Package orch drives one participant through a broadcast room: media
// session, seat roster and realtime control channel.
package orch

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/Stage/internal/app/media"
	"github.com/dkeye/Stage/internal/app/roster"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/event"
)

const DefaultMaxParticipants = domain.SeatCount

type Options struct {
	Room                 domain.RoomName
	Actor                domain.Actor
	AutoPublish          bool
	MaxParticipants      int
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	// SessionRetry is how long to wait before joining again after the
	// access-credential service reported no session. Zero disables retries.
	SessionRetry time.Duration
}

type NoticeKind string

const (
	NoticeMutedByAdmin NoticeKind = "muted_by_admin"
	NoticeRemoved      NoticeKind = "removed_from_seat"
	NoticeSeatLost     NoticeKind = "seat_lost"
	NoticeRoomFull     NoticeKind = "room_full"
)

// Notice is a user-facing message raised by the orchestrator.
type Notice struct {
	Kind NoticeKind
	Text string
	At   time.Time
}

// View is a point-in-time summary for rendering.
type View struct {
	Room         domain.RoomName
	Phase        domain.Phase
	Connection   domain.ConnectionState
	Seats        domain.Snapshot
	CurrentSeat  *domain.Seat
	Participants []domain.ParticipantSession
	Presence     []string
	Camera       bool
	Microphone   bool
}

type Orchestrator struct {
	Media  *media.Client
	Roster *roster.Service
	Sync   core.SyncChannel

	opts Options
	log  zerolog.Logger

	mu       sync.Mutex
	phase    domain.Phase
	conn     domain.ConnectionState
	seat     *domain.SeatIndex
	presence map[string]struct{}

	publishing atomic.Bool
	retrying   atomic.Bool
	sf         singleflight.Group

	notices *event.Feed[Notice]
	changes *event.Feed[View]

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(mc *media.Client, rs *roster.Service, sc core.SyncChannel, opts Options) *Orchestrator {
	if opts.MaxParticipants <= 0 {
		opts.MaxParticipants = DefaultMaxParticipants
	}
	return &Orchestrator{
		Media:    mc,
		Roster:   rs,
		Sync:     sc,
		opts:     opts,
		log:      log.With().Str("module", "app.orch").Str("room", string(opts.Room)).Str("identity", opts.Actor.Identity).Logger(),
		phase:    domain.PhaseIdle,
		conn:     domain.StateDisconnected,
		presence: make(map[string]struct{}),
		notices:  event.NewFeed[Notice]("notices"),
		changes:  event.NewFeed[View]("view"),
		runCtx:   context.Background(),
	}
}

// Start joins the sync channel and begins following media, seat and control
// events. It does not connect media; call JoinAndPublish for that.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	mediaSub := o.Media.Subscribe(64)
	seatSub := o.Roster.Subscribe(16)
	var syncSub *event.Subscription[domain.SyncEvent]
	if o.Sync != nil {
		syncSub = o.Sync.Subscribe(64)
		if err := o.Sync.Join(ctx, o.opts.Room); err != nil {
			cancel()
			mediaSub.Unsubscribe()
			seatSub.Unsubscribe()
			syncSub.Unsubscribe()
			return err
		}
	}

	o.mu.Lock()
	o.runCtx = ctx
	o.cancel = cancel
	o.mu.Unlock()

	o.wg.Add(2)
	go o.mediaLoop(ctx, mediaSub)
	go o.seatLoop(ctx, seatSub)
	if syncSub != nil {
		o.wg.Add(2)
		go func() {
			defer o.wg.Done()
			o.Roster.Watch(ctx, o.Sync)
		}()
		go o.syncLoop(ctx, syncSub)
	} else if _, err := o.Roster.Refresh(ctx); err != nil {
		o.log.Error().Err(err).Msg("initial seat refresh")
	}
	o.log.Info().Msg("orchestrator started")
	return nil
}

// Close leaves everything and waits for the event loops to stop.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.mu.Unlock()

	if o.Sync != nil {
		ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		if err := o.Sync.Leave(ctx, o.opts.Room); err != nil {
			o.log.Debug().Err(err).Msg("leave sync room")
		}
		done()
	}
	o.Media.Disconnect()
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()
	o.setPhase(domain.PhaseIdle, domain.StateDisconnected)
	o.notices.Close()
	o.changes.Close()
}

func (o *Orchestrator) Notices(buffer int) *event.Subscription[Notice] {
	return o.notices.Subscribe(buffer)
}

// Changes delivers a fresh View after every phase, seat or participant change.
func (o *Orchestrator) Changes(buffer int) *event.Subscription[View] {
	return o.changes.Subscribe(buffer)
}

func (o *Orchestrator) Phase() domain.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

func (o *Orchestrator) ConnectionState() domain.ConnectionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn
}

func (o *Orchestrator) View() View {
	o.mu.Lock()
	v := View{
		Room:       o.opts.Room,
		Phase:      o.phase,
		Connection: o.conn,
		Presence:   make([]string, 0, len(o.presence)),
	}
	for id := range o.presence {
		v.Presence = append(v.Presence, id)
	}
	o.mu.Unlock()

	v.Seats = o.Roster.Seats()
	v.CurrentSeat = v.Seats.SeatOf(o.opts.Actor.UserID)
	v.Participants = o.Media.Participants()
	v.Camera = o.Media.CameraEnabled()
	v.Microphone = o.Media.MicrophoneEnabled()
	slices.Sort(v.Presence)
	return v
}

func (o *Orchestrator) setPhase(p domain.Phase, cs domain.ConnectionState) {
	o.mu.Lock()
	changed := o.phase != p || o.conn != cs
	o.phase = p
	o.conn = cs
	o.mu.Unlock()
	if changed {
		o.log.Debug().Str("phase", string(p)).Str("connection", string(cs)).Msg("state")
		o.notifyChange()
	}
}

func (o *Orchestrator) notifyChange() {
	if o.changes.Len() == 0 {
		return
	}
	o.changes.Send(o.View())
}

func (o *Orchestrator) notify(kind NoticeKind, text string) {
	o.log.Info().Str("notice", string(kind)).Msg(text)
	o.notices.Send(Notice{Kind: kind, Text: text, At: time.Now()})
}

func (o *Orchestrator) runContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runCtx
}
