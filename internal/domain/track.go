package domain

import "sync/atomic"

type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

type TrackState int32

const (
	TrackLive TrackState = iota
	TrackMuted
	TrackEnded
)

// Track is a handle to a media track. Identity is compared by ID; liveness
// is updated by whoever owns the underlying stream.
type Track struct {
	ID                  string
	Kind                TrackKind
	ParticipantIdentity string
	// Remote holds the transport-level track (e.g. *webrtc.TrackRemote), nil for local tracks.
	Remote any

	state atomic.Int32 // Zero by default (TrackLive)
}

func NewTrack(id string, kind TrackKind, identity string) *Track {
	return &Track{ID: id, Kind: kind, ParticipantIdentity: identity}
}

func (t *Track) State() TrackState {
	return TrackState(t.state.Load())
}

// Live reports whether the track has not ended. Muted tracks are still live.
func (t *Track) Live() bool {
	return t != nil && t.State() != TrackEnded
}

func (t *Track) MarkLive() {
	t.state.CompareAndSwap(int32(TrackMuted), int32(TrackLive))
}

func (t *Track) MarkMuted() {
	t.state.CompareAndSwap(int32(TrackLive), int32(TrackMuted))
}

func (t *Track) MarkEnded() {
	t.state.Store(int32(TrackEnded))
}
