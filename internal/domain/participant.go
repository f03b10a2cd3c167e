package domain

// ParticipantSession is the per-participant view kept by a media session.
type ParticipantSession struct {
	Identity          string `json:"identity"`
	Name              string `json:"name,omitempty"`
	IsLocal           bool   `json:"is_local"`
	VideoTrack        *Track `json:"-"`
	AudioTrack        *Track `json:"-"`
	CameraEnabled     bool   `json:"camera_enabled"`
	MicrophoneEnabled bool   `json:"microphone_enabled"`
}

func (p ParticipantSession) IsMuted() bool { return !p.MicrophoneEnabled }

// TrackSlot returns a pointer to the video or audio slot for kind.
func (p *ParticipantSession) TrackSlot(kind TrackKind) **Track {
	if kind == TrackAudio {
		return &p.AudioTrack
	}
	return &p.VideoTrack
}

func (p *ParticipantSession) SetEnabled(kind TrackKind, on bool) {
	if kind == TrackAudio {
		p.MicrophoneEnabled = on
		return
	}
	p.CameraEnabled = on
}

// ConnectionState is the user-facing status of a media session.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StatePublishing   ConnectionState = "publishing"
	StateReconnecting ConnectionState = "reconnecting"
)

// Phase is the orchestrator lifecycle: idle -> joining -> joined -> publishing -> live.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseJoining    Phase = "joining"
	PhaseJoined     Phase = "joined"
	PhasePublishing Phase = "publishing"
	PhaseLive       Phase = "live"
)

// TokenRequest asks the access-credential service for a media token.
type TokenRequest struct {
	Room     RoomName `json:"room"`
	Identity string   `json:"identity"`
	UserID   string   `json:"user_id"`
	Role     string   `json:"role"`
	Level    int      `json:"level"`
}
