package media

import (
	"maps"
	"slices"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

// Participants returns the local participant first, then remote ones by identity.
func (c *Client) Participants() []domain.ParticipantSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ParticipantSession, 0, len(c.remote)+1)
	if c.local != nil {
		out = append(out, *c.local)
	}
	for _, id := range slices.Sorted(maps.Keys(c.remote)) {
		out = append(out, *c.remote[id])
	}
	return out
}

// ParticipantCount includes the local participant once connected.
func (c *Client) ParticipantCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := len(c.remote)
	if c.local != nil {
		n++
	}
	return n
}

func (c *Client) LocalParticipant() (domain.ParticipantSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.local == nil {
		return domain.ParticipantSession{}, false
	}
	return *c.local, true
}

func (c *Client) Participant(identity string) (domain.ParticipantSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.local != nil && c.local.Identity == identity {
		return *c.local, true
	}
	p, ok := c.remote[identity]
	if !ok {
		return domain.ParticipantSession{}, false
	}
	return *p, true
}

func (c *Client) upsertRemote(rp core.RemoteParticipant) *domain.ParticipantSession {
	p, ok := c.remote[rp.Identity]
	if !ok {
		p = &domain.ParticipantSession{Identity: rp.Identity}
		c.remote[rp.Identity] = p
	}
	if rp.Name != "" {
		p.Name = rp.Name
	}
	p.CameraEnabled = rp.CameraEnabled
	p.MicrophoneEnabled = rp.MicrophoneEnabled
	return p
}

// roomHandler binds transport callbacks to one connection generation so a
// late callback from a torn-down room cannot touch the current one.
type roomHandler struct {
	c   *Client
	gen uint64
}

// lock returns with c.mu held when the handler is current.
func (h *roomHandler) lock() bool {
	h.c.mu.Lock()
	if h.c.gen != h.gen {
		h.c.mu.Unlock()
		return false
	}
	return true
}

func (h *roomHandler) OnParticipantConnected(rp core.RemoteParticipant) {
	if !h.lock() {
		return
	}
	c := h.c
	snap := *c.upsertRemote(rp)
	room := c.roomName
	c.mu.Unlock()

	c.log.Info().Str("room", string(room)).Str("identity", rp.Identity).Msg("participant joined")
	c.emit(Event{Type: EventParticipantJoined, Room: room, Participant: snap})
}

func (h *roomHandler) OnParticipantDisconnected(identity string) {
	if !h.lock() {
		return
	}
	c := h.c
	p, ok := c.remote[identity]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.remote, identity)
	endTracks(p)
	snap := *p
	room := c.roomName
	c.mu.Unlock()

	c.log.Info().Str("room", string(room)).Str("identity", identity).Msg("participant left")
	c.emit(Event{Type: EventParticipantLeft, Room: room, Participant: snap})
}

// OnTrackSubscribed stores the track unless the slot already holds a
// different track that is still live.
func (h *roomHandler) OnTrackSubscribed(identity string, track *domain.Track) {
	if track == nil || !h.lock() {
		return
	}
	c := h.c
	p, ok := c.remote[identity]
	if !ok {
		p = &domain.ParticipantSession{Identity: identity}
		c.remote[identity] = p
	}
	slot := p.TrackSlot(track.Kind)
	if cur := *slot; cur != nil && cur.ID != track.ID && cur.Live() {
		c.mu.Unlock()
		c.log.Debug().Str("identity", identity).Str("track", track.ID).Str("kept", cur.ID).Msg("ignoring subscription, slot holds a live track")
		return
	}
	*slot = track
	p.SetEnabled(track.Kind, track.State() == domain.TrackLive)
	snap := *p
	room := c.roomName
	c.mu.Unlock()

	c.emit(Event{Type: EventTrackSubscribed, Room: room, Participant: snap, Track: track})
}

// OnTrackUnsubscribed clears the slot only when it still references track.
func (h *roomHandler) OnTrackUnsubscribed(identity string, track *domain.Track) {
	if track == nil {
		return
	}
	track.MarkEnded()
	if !h.lock() {
		return
	}
	c := h.c
	p, ok := c.remote[identity]
	if !ok {
		c.mu.Unlock()
		return
	}
	slot := p.TrackSlot(track.Kind)
	if cur := *slot; cur != nil && cur.ID == track.ID {
		*slot = nil
		p.SetEnabled(track.Kind, false)
	}
	snap := *p
	room := c.roomName
	c.mu.Unlock()

	c.emit(Event{Type: EventTrackUnsubscribed, Room: room, Participant: snap, Track: track})
}

func (h *roomHandler) OnTrackMuted(identity string, kind domain.TrackKind, muted bool) {
	if !h.lock() {
		return
	}
	c := h.c
	p, ok := c.remote[identity]
	if !ok {
		c.mu.Unlock()
		return
	}
	p.SetEnabled(kind, !muted)
	if t := *p.TrackSlot(kind); t != nil {
		if muted {
			t.MarkMuted()
		} else {
			t.MarkLive()
		}
	}
	snap := *p
	room := c.roomName
	c.mu.Unlock()

	c.emit(Event{Type: EventParticipantsChanged, Room: room, Participant: snap})
}

func (h *roomHandler) OnReconnecting() {
	if !h.lock() {
		return
	}
	h.c.reconnecting = true
	room := h.c.roomName
	h.c.mu.Unlock()

	h.c.log.Warn().Str("room", string(room)).Msg("transport reconnecting")
	h.c.emit(Event{Type: EventReconnecting, Room: room})
}

func (h *roomHandler) OnReconnected() {
	if !h.lock() {
		return
	}
	h.c.reconnecting = false
	room := h.c.roomName
	h.c.mu.Unlock()

	h.c.log.Info().Str("room", string(room)).Msg("transport reconnected")
	h.c.emit(Event{Type: EventReconnected, Room: room})
}

// OnDisconnected handles a disconnect initiated by the transport.
func (h *roomHandler) OnDisconnected(reason string) {
	if !h.lock() {
		return
	}
	c := h.c
	_, tracks, wasActive, room := c.resetLocked()
	c.mu.Unlock()

	for _, lp := range tracks {
		lp.track.Stop()
	}
	if wasActive {
		c.log.Warn().Str("room", string(room)).Str("reason", reason).Msg("transport disconnected")
		c.emit(Event{Type: EventDisconnected, Room: room, Reason: reason})
	}
}
