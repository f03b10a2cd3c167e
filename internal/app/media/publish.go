package media

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

var publishOrder = []domain.TrackKind{domain.TrackVideo, domain.TrackAudio}

// StartPublishing captures camera and microphone in parallel and publishes
// both. Either both tracks end up published or neither does.
func (c *Client) StartPublishing(ctx context.Context) error {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.RLock()
	mr := c.room
	connected := c.state == stateConnected
	var missing []domain.TrackKind
	for _, k := range publishOrder {
		if _, ok := c.localTracks[k]; !ok {
			missing = append(missing, k)
		}
	}
	room := c.roomName
	c.mu.RUnlock()

	if !connected {
		return domain.ErrNotConnected
	}
	if len(missing) == 0 {
		return nil
	}
	if err := c.publishKinds(ctx, mr, missing); err != nil {
		c.log.Error().Err(err).Str("room", string(room)).Msg("start publishing failed")
		c.emit(Event{Type: EventError, Room: room, Err: err})
		return err
	}
	c.log.Info().Str("room", string(room)).Msg("publishing camera and microphone")
	c.emitLocalChanged()
	return nil
}

func (c *Client) ToggleCamera(ctx context.Context) bool {
	return c.setLocal(ctx, domain.TrackVideo, func(on bool) bool { return !on })
}

func (c *Client) ToggleMicrophone(ctx context.Context) bool {
	return c.setLocal(ctx, domain.TrackAudio, func(on bool) bool { return !on })
}

// SetCameraEnabled is ToggleCamera without the read-then-flip race.
func (c *Client) SetCameraEnabled(ctx context.Context, enabled bool) bool {
	return c.setLocal(ctx, domain.TrackVideo, func(bool) bool { return enabled })
}

func (c *Client) SetMicrophoneEnabled(ctx context.Context, enabled bool) bool {
	return c.setLocal(ctx, domain.TrackAudio, func(bool) bool { return enabled })
}

// setLocal moves one local track to want(current) and returns the resulting
// state. Failures are logged and reported as false; they never reach the
// caller as errors.
func (c *Client) setLocal(ctx context.Context, kind domain.TrackKind, want func(on bool) bool) bool {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.RLock()
	mr := c.room
	connected := c.state == stateConnected
	_, enabled := c.localTracks[kind]
	room := c.roomName
	c.mu.RUnlock()

	if !connected {
		return false
	}
	target := want(enabled)
	if target == enabled {
		return enabled
	}
	if !target {
		c.unpublish(kind)
		c.emitLocalChanged()
		return false
	}
	if err := c.publishKinds(ctx, mr, []domain.TrackKind{kind}); err != nil {
		c.log.Error().Err(err).Str("room", string(room)).Str("kind", string(kind)).Msg("enable track failed")
		c.emit(Event{Type: EventError, Room: room, Err: err})
		return false
	}
	c.emitLocalChanged()
	return true
}

func (c *Client) CameraEnabled() bool     { return c.hasLocal(domain.TrackVideo) }
func (c *Client) MicrophoneEnabled() bool { return c.hasLocal(domain.TrackAudio) }

func (c *Client) hasLocal(kind domain.TrackKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.localTracks[kind]
	return ok
}

// publishKinds captures every kind in parallel, then publishes them in order.
// On any failure everything captured or published here is undone.
func (c *Client) publishKinds(ctx context.Context, mr core.MediaRoom, kinds []domain.TrackKind) error {
	tracks := make([]core.LocalTrack, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			t, err := c.capturer.Capture(gctx, kind)
			if err != nil {
				return &domain.MediaAccessError{Kind: kind, Err: err}
			}
			tracks[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		stopAll(tracks)
		return err
	}

	pubs := make([]string, 0, len(tracks))
	for _, t := range tracks {
		id, err := mr.Publish(ctx, t)
		if err != nil {
			for _, pub := range pubs {
				_ = mr.Unpublish(pub)
			}
			stopAll(tracks)
			return &domain.PublishError{Err: err}
		}
		pubs = append(pubs, id)
	}

	c.mu.Lock()
	if c.room != mr || c.local == nil {
		c.mu.Unlock()
		for _, pub := range pubs {
			_ = mr.Unpublish(pub)
		}
		stopAll(tracks)
		return domain.ErrNotConnected
	}
	for i, t := range tracks {
		c.localTracks[kinds[i]] = localPub{track: t, pubID: pubs[i]}
		*c.local.TrackSlot(kinds[i]) = domain.NewTrack(t.ID(), kinds[i], c.local.Identity)
		c.local.SetEnabled(kinds[i], true)
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) unpublish(kind domain.TrackKind) {
	c.mu.Lock()
	lp, ok := c.localTracks[kind]
	mr := c.room
	if ok {
		delete(c.localTracks, kind)
		if c.local != nil {
			if t := *c.local.TrackSlot(kind); t != nil {
				t.MarkEnded()
			}
			*c.local.TrackSlot(kind) = nil
			c.local.SetEnabled(kind, false)
		}
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if mr != nil {
		if err := mr.Unpublish(lp.pubID); err != nil {
			c.log.Warn().Err(err).Str("kind", string(kind)).Msg("unpublish failed")
		}
	}
	lp.track.Stop()
}

func (c *Client) emitLocalChanged() {
	if p, ok := c.LocalParticipant(); ok {
		c.emit(Event{Type: EventParticipantsChanged, Room: c.RoomName(), Participant: p})
	}
}

func stopAll(tracks []core.LocalTrack) {
	for _, t := range tracks {
		if t != nil {
			t.Stop()
		}
	}
}
