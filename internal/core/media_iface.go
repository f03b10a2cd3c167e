package core

import (
	"context"

	"github.com/dkeye/Stage/internal/domain"
)

// LocalTrack is a captured local media track.
type LocalTrack interface {
	ID() string
	Kind() domain.TrackKind
	// Stop releases the capture device. Safe to call twice.
	Stop()
}

type Capturer interface {
	Capture(ctx context.Context, kind domain.TrackKind) (LocalTrack, error)
}

type RemoteParticipant struct {
	Identity          string
	Name              string
	CameraEnabled     bool
	MicrophoneEnabled bool
}

// MediaHandler receives transport callbacks. Calls may come from transport
// goroutines, including before Dial returns.
type MediaHandler interface {
	OnParticipantConnected(p RemoteParticipant)
	OnParticipantDisconnected(identity string)
	OnTrackSubscribed(identity string, track *domain.Track)
	OnTrackUnsubscribed(identity string, track *domain.Track)
	OnTrackMuted(identity string, kind domain.TrackKind, muted bool)
	OnReconnecting()
	OnReconnected()
	OnDisconnected(reason string)
}

type MediaTransport interface {
	Dial(ctx context.Context, url, token string, h MediaHandler) (MediaRoom, error)
}

// MediaRoom is a connected media room.
type MediaRoom interface {
	LocalIdentity() string
	RemoteParticipants() []RemoteParticipant
	// Publish returns a publication id used by Unpublish.
	Publish(ctx context.Context, track LocalTrack) (string, error)
	Unpublish(publicationID string) error
	Disconnect()
}
