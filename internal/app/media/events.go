package media

import "github.com/dkeye/Stage/internal/domain"

type EventType string

const (
	EventConnected           EventType = "connected"
	EventDisconnected        EventType = "disconnected"
	EventReconnecting        EventType = "reconnecting"
	EventReconnected         EventType = "reconnected"
	EventParticipantJoined   EventType = "participant_joined"
	EventParticipantLeft     EventType = "participant_left"
	EventTrackSubscribed     EventType = "track_subscribed"
	EventTrackUnsubscribed   EventType = "track_unsubscribed"
	EventParticipantsChanged EventType = "participants_changed"
	EventError               EventType = "error"
)

// Event is delivered to subscribers on their own goroutines; emitting never
// blocks the media client.
type Event struct {
	Type        EventType
	Room        domain.RoomName
	Participant domain.ParticipantSession
	Track       *domain.Track
	Reason      string
	Err         error
}
