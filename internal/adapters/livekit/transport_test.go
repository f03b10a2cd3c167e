package livekit

import (
	"context"
	"testing"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/testutil"
)

type plainTrack struct{}

func (plainTrack) ID() string             { return "plain" }
func (plainTrack) Kind() domain.TrackKind { return domain.TrackVideo }
func (plainTrack) Stop()                  {}

type nopHandler struct{}

func (nopHandler) OnParticipantConnected(core.RemoteParticipant) {}
func (nopHandler) OnParticipantDisconnected(string)              {}
func (nopHandler) OnTrackSubscribed(string, *domain.Track)       {}
func (nopHandler) OnTrackUnsubscribed(string, *domain.Track)     {}
func (nopHandler) OnTrackMuted(string, domain.TrackKind, bool)   {}
func (nopHandler) OnReconnecting()                               {}
func (nopHandler) OnReconnected()                                {}
func (nopHandler) OnDisconnected(string)                         {}

func TestKindOf(t *testing.T) {
	assert.Equal(t, domain.TrackAudio, kindOf(lksdk.TrackKindAudio))
	assert.Equal(t, domain.TrackVideo, kindOf(lksdk.TrackKindVideo))
}

func TestPublishRejectsForeignTracks(t *testing.T) {
	r := &room{}
	_, err := r.Publish(context.Background(), plainTrack{})
	require.ErrorIs(t, err, ErrUnsupportedTrack)
}

func TestDialCanceled(t *testing.T) {
	testutil.TestLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTransport().Dial(ctx, "ws://127.0.0.1:1", "token", nopHandler{})
	require.Error(t, err)
}

func TestDisconnectWithoutRoom(t *testing.T) {
	r := &room{}
	r.Disconnect()
	r.Disconnect()
}
