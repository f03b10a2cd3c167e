// Package livekit implements the media transport on the LiveKit Go SDK.
package livekit

import (
	"context"
	"errors"
	"sync"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

var ErrUnsupportedTrack = errors.New("track cannot be published over livekit")

// SampleTrack is a local track backed by a pion TrackLocal.
type SampleTrack interface {
	core.LocalTrack
	TrackLocal() webrtc.TrackLocal
}

type Transport struct {
	log zerolog.Logger
}

func NewTransport() *Transport {
	return &Transport{log: log.With().Str("module", "adapters.livekit").Logger()}
}

type dialResult struct {
	room *lksdk.Room
	err  error
}

// Dial connects to url with token. Callbacks may reach h before Dial returns.
func (t *Transport) Dial(ctx context.Context, url, token string, h core.MediaHandler) (core.MediaRoom, error) {
	r := &room{h: h, tracks: make(map[string]*domain.Track), log: t.log}

	cb := lksdk.NewRoomCallback()
	cb.OnParticipantConnected = r.onParticipantConnected
	cb.OnParticipantDisconnected = r.onParticipantDisconnected
	cb.OnTrackSubscribed = r.onTrackSubscribed
	cb.OnTrackUnsubscribed = r.onTrackUnsubscribed
	cb.OnTrackMuted = func(pub lksdk.TrackPublication, p lksdk.Participant) { r.onTrackMuted(pub, p, true) }
	cb.OnTrackUnmuted = func(pub lksdk.TrackPublication, p lksdk.Participant) { r.onTrackMuted(pub, p, false) }
	cb.OnReconnecting = h.OnReconnecting
	cb.OnReconnected = h.OnReconnected
	cb.OnDisconnectedWithReason = func(reason lksdk.DisconnectionReason) {
		h.OnDisconnected(string(reason))
	}

	ch := make(chan dialResult, 1)
	go func() {
		lr, err := lksdk.ConnectToRoomWithToken(url, token, cb, lksdk.WithAutoSubscribe(true))
		ch <- dialResult{room: lr, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.room != nil {
				res.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		r.lk = res.room
		t.log.Info().Str("room", res.room.Name()).Str("identity", res.room.LocalParticipant.Identity()).Msg("connected")
		return r, nil
	}
}

type room struct {
	lk   *lksdk.Room
	h    core.MediaHandler
	log  zerolog.Logger
	once sync.Once

	mu     sync.Mutex
	tracks map[string]*domain.Track // by publication sid
}

func (r *room) LocalIdentity() string {
	return r.lk.LocalParticipant.Identity()
}

func (r *room) RemoteParticipants() []core.RemoteParticipant {
	rps := r.lk.GetRemoteParticipants()
	out := make([]core.RemoteParticipant, 0, len(rps))
	for _, rp := range rps {
		out = append(out, remoteOf(rp))
	}
	return out
}

func (r *room) Publish(_ context.Context, t core.LocalTrack) (string, error) {
	st, ok := t.(SampleTrack)
	if !ok {
		return "", ErrUnsupportedTrack
	}
	pub, err := r.lk.LocalParticipant.PublishTrack(st.TrackLocal(), &lksdk.TrackPublicationOptions{Name: t.ID()})
	if err != nil {
		return "", err
	}
	r.log.Info().Str("kind", string(t.Kind())).Str("sid", pub.SID()).Msg("track published")
	return pub.SID(), nil
}

func (r *room) Unpublish(id string) error {
	return r.lk.LocalParticipant.UnpublishTrack(id)
}

func (r *room) Disconnect() {
	r.once.Do(func() {
		if r.lk != nil {
			r.lk.Disconnect()
		}
	})
}

func kindOf(k lksdk.TrackKind) domain.TrackKind {
	if k == lksdk.TrackKindAudio {
		return domain.TrackAudio
	}
	return domain.TrackVideo
}

func remoteOf(rp *lksdk.RemoteParticipant) core.RemoteParticipant {
	p := core.RemoteParticipant{Identity: rp.Identity(), Name: rp.Name()}
	for _, pub := range rp.TrackPublications() {
		if pub.IsMuted() {
			continue
		}
		switch kindOf(pub.Kind()) {
		case domain.TrackVideo:
			p.CameraEnabled = true
		case domain.TrackAudio:
			p.MicrophoneEnabled = true
		}
	}
	return p
}

func (r *room) onParticipantConnected(rp *lksdk.RemoteParticipant) {
	r.h.OnParticipantConnected(remoteOf(rp))
}

func (r *room) onParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	identity := rp.Identity()
	r.mu.Lock()
	for sid, t := range r.tracks {
		if t.ParticipantIdentity == identity {
			delete(r.tracks, sid)
		}
	}
	r.mu.Unlock()
	r.h.OnParticipantDisconnected(identity)
}

func (r *room) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	t := domain.NewTrack(pub.SID(), kindOf(pub.Kind()), rp.Identity())
	t.Remote = track
	if pub.IsMuted() {
		t.MarkMuted()
	}
	r.mu.Lock()
	r.tracks[pub.SID()] = t
	r.mu.Unlock()
	r.h.OnTrackSubscribed(rp.Identity(), t)
}

func (r *room) onTrackUnsubscribed(_ *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	r.mu.Lock()
	t, ok := r.tracks[pub.SID()]
	delete(r.tracks, pub.SID())
	r.mu.Unlock()
	if !ok {
		t = domain.NewTrack(pub.SID(), kindOf(pub.Kind()), rp.Identity())
	}
	r.h.OnTrackUnsubscribed(rp.Identity(), t)
}

func (r *room) onTrackMuted(pub lksdk.TrackPublication, p lksdk.Participant, muted bool) {
	if _, local := p.(*lksdk.LocalParticipant); local {
		return
	}
	r.h.OnTrackMuted(p.Identity(), kindOf(pub.Kind()), muted)
}
