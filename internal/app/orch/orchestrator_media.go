package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Stage/internal/app/media"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/event"
)

// JoinAndPublish connects the media session and, with AutoPublish, goes
// live. Without an identity or room it does nothing. A missing session is
// not an error: it is logged and, when configured, retried later.
func (o *Orchestrator) JoinAndPublish(ctx context.Context) error {
	if err := o.join(ctx); err != nil {
		return err
	}
	if !o.opts.AutoPublish || o.Phase() != domain.PhaseJoined {
		return nil
	}
	return o.Publish(ctx)
}

func (o *Orchestrator) join(ctx context.Context) error {
	if !domain.ValidIdentity(o.opts.Actor.Identity) || o.opts.Room == "" {
		o.log.Debug().Msg("join skipped: no identity or room")
		return nil
	}

	o.mu.Lock()
	switch o.phase {
	case domain.PhaseJoining, domain.PhasePublishing:
		o.mu.Unlock()
		return domain.ErrAlreadyJoining
	case domain.PhaseJoined, domain.PhaseLive:
		o.mu.Unlock()
		return nil
	}
	if o.publishing.Load() {
		o.mu.Unlock()
		return domain.ErrAlreadyJoining
	}
	o.phase = domain.PhaseJoining
	o.conn = domain.StateConnecting
	o.mu.Unlock()
	o.notifyChange()

	err := o.Media.Connect(ctx, o.opts.Room, o.opts.Actor, media.Options{
		MaxReconnectAttempts: o.opts.MaxReconnectAttempts,
		ReconnectBackoff:     o.opts.ReconnectBackoff,
	})
	if err != nil {
		o.setPhase(domain.PhaseIdle, domain.StateDisconnected)
		if errors.Is(err, domain.ErrNoSession) {
			o.log.Warn().Msg("no active session, join postponed")
			o.scheduleRetry()
			return nil
		}
		return err
	}

	if n := o.Media.ParticipantCount(); n > o.opts.MaxParticipants {
		o.log.Warn().Int("participants", n).Int("max", o.opts.MaxParticipants).Msg("room is full")
		o.Media.Disconnect()
		o.setPhase(domain.PhaseIdle, domain.StateDisconnected)
		o.notify(NoticeRoomFull, "the room is full")
		return domain.ErrRoomFull
	}

	o.setPhase(domain.PhaseJoined, domain.StateConnected)
	return nil
}

func (o *Orchestrator) scheduleRetry() {
	delay := o.opts.SessionRetry
	if delay <= 0 || !o.retrying.CompareAndSwap(false, true) {
		return
	}
	ctx := o.runContext()
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			o.retrying.Store(false)
			return
		case <-t.C:
		}
		o.retrying.Store(false)
		if err := o.JoinAndPublish(ctx); err != nil {
			o.log.Error().Err(err).Msg("join retry failed")
		}
	}()
}

// Publish turns on camera and microphone. Concurrent callers share one
// attempt.
func (o *Orchestrator) Publish(ctx context.Context) error {
	_, err, _ := o.sf.Do("publish", func() (any, error) {
		return nil, o.publish(ctx)
	})
	return err
}

func (o *Orchestrator) publish(ctx context.Context) error {
	o.mu.Lock()
	switch o.phase {
	case domain.PhaseLive:
		o.mu.Unlock()
		return nil
	case domain.PhaseJoined:
	default:
		o.mu.Unlock()
		return domain.ErrNotJoined
	}
	o.publishing.Store(true)
	o.phase = domain.PhasePublishing
	o.conn = domain.StatePublishing
	o.mu.Unlock()
	o.notifyChange()
	defer o.publishing.Store(false)

	if err := o.Media.StartPublishing(ctx); err != nil {
		o.log.Error().Err(err).Msg("publish failed")
		if o.Media.Connected() {
			o.setPhase(domain.PhaseJoined, domain.StateConnected)
		} else {
			o.setPhase(domain.PhaseIdle, domain.StateDisconnected)
		}
		var pe *domain.PublishError
		if errors.As(err, &pe) {
			return err
		}
		return &domain.PublishError{Err: err}
	}
	o.setPhase(domain.PhaseLive, domain.StatePublishing)
	return nil
}

// Disconnect leaves the media room. It refuses while a publish is running.
func (o *Orchestrator) Disconnect() error {
	if o.publishing.Load() {
		o.log.Warn().Msg("prevented disconnect during publish")
		return domain.ErrPublishInProgress
	}
	o.Media.Disconnect()
	o.setPhase(domain.PhaseIdle, domain.StateDisconnected)
	return nil
}

func (o *Orchestrator) ToggleCamera(ctx context.Context) bool {
	on := o.Media.ToggleCamera(ctx)
	o.notifyChange()
	return on
}

func (o *Orchestrator) ToggleMicrophone(ctx context.Context) bool {
	on := o.Media.ToggleMicrophone(ctx)
	o.notifyChange()
	return on
}

const mediaCheckInterval = time.Second

// mediaLoop follows media events. Events can be dropped when the buffer is
// full, so the phase is also checked against the transport on every event
// and on a timer.
func (o *Orchestrator) mediaLoop(ctx context.Context, sub *event.Subscription[media.Event]) {
	defer o.wg.Done()
	defer sub.Unsubscribe()
	ticker := time.NewTicker(mediaCheckInterval)
	defer ticker.Stop()

	o.syncMediaState()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.syncMediaState()
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			o.onMediaEvent(ev)
			o.syncMediaState()
		}
	}
}

// syncMediaState drops a joined or live phase whose transport is gone.
func (o *Orchestrator) syncMediaState() {
	o.mu.Lock()
	p := o.phase
	o.mu.Unlock()
	if p != domain.PhaseJoined && p != domain.PhaseLive {
		return
	}
	if o.Media.Connected() {
		return
	}
	o.log.Warn().Str("phase", string(p)).Msg("media transport gone, back to idle")
	o.setPhase(domain.PhaseIdle, domain.StateDisconnected)
}

func (o *Orchestrator) onMediaEvent(ev media.Event) {
	switch ev.Type {
	case media.EventDisconnected:
		o.mu.Lock()
		joining := o.phase == domain.PhaseJoining
		o.mu.Unlock()
		if !joining {
			o.log.Info().Str("reason", ev.Reason).Msg("media session ended")
			o.setPhase(domain.PhaseIdle, domain.StateDisconnected)
		}
	case media.EventReconnecting:
		o.mu.Lock()
		p := o.phase
		o.mu.Unlock()
		o.setPhase(p, domain.StateReconnecting)
	case media.EventReconnected:
		o.mu.Lock()
		p := o.phase
		o.mu.Unlock()
		cs := domain.StateConnected
		if p == domain.PhaseLive || p == domain.PhasePublishing {
			cs = domain.StatePublishing
		}
		o.setPhase(p, cs)
	case media.EventError:
		o.log.Debug().Err(ev.Err).Msg("media error")
	default:
		o.notifyChange()
	}
}
