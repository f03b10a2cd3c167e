package domain

import "time"

type SyncEventType string

const (
	SyncPresenceState SyncEventType = "presence_state"
	SyncPresenceJoin  SyncEventType = "presence_join"
	SyncPresenceLeave SyncEventType = "presence_leave"
	SyncSeatChange    SyncEventType = "seat_change"
	SyncControl       SyncEventType = "control"
)

type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

// SeatChange is a row-change notification. Receivers re-fetch; the payload
// is informational only.
type SeatChange struct {
	Op     ChangeOp  `json:"op"`
	Index  SeatIndex `json:"seat_index"`
	UserID string    `json:"user_id,omitempty"`
}

const ControlAdminAction = "admin-action"

type AdminAction string

const (
	ActionMuteAll AdminAction = "mute-all"
	ActionRemove  AdminAction = "remove"
)

// ControlMessage is broadcast to every participant of a room.
// SeatIndex uses the 1-based wire convention.
type ControlMessage struct {
	Type        string      `json:"type"`
	Action      AdminAction `json:"action"`
	SeatIndex   *SeatIndex  `json:"seatIndex,omitempty"`
	InitiatorID string      `json:"initiatorId,omitempty"`
}

func MuteAllMessage(initiator string) ControlMessage {
	return ControlMessage{Type: ControlAdminAction, Action: ActionMuteAll, InitiatorID: initiator}
}

func RemoveMessage(initiator string, index SeatIndex) ControlMessage {
	return ControlMessage{Type: ControlAdminAction, Action: ActionRemove, SeatIndex: &index, InitiatorID: initiator}
}

// SyncEvent is the envelope delivered over the realtime sync channel.
type SyncEvent struct {
	Type       SyncEventType   `json:"type"`
	Room       RoomName        `json:"room"`
	Sender     string          `json:"sender,omitempty"`
	Identity   string          `json:"identity,omitempty"`
	Identities []string        `json:"identities,omitempty"`
	Change     *SeatChange     `json:"change,omitempty"`
	Control    *ControlMessage `json:"control,omitempty"`
	At         time.Time       `json:"at"`
}

// Client-to-server frame types on the sync websocket.
const (
	FrameJoin    = "join"
	FrameLeave   = "leave"
	FrameControl = "control"
	FramePing    = "ping"
	FrameWhoAmI  = "whoami"
)

// ClientFrame is what sync clients send to the gateway.
type ClientFrame struct {
	Type    string          `json:"type"`
	Room    RoomName        `json:"room,omitempty"`
	Control *ControlMessage `json:"control,omitempty"`
}

// Validate reports whether the control message is one receivers act on.
func (m ControlMessage) Validate() error {
	if m.Type != ControlAdminAction {
		return ErrInvalidControl
	}
	switch m.Action {
	case ActionMuteAll:
		return nil
	case ActionRemove:
		if m.SeatIndex == nil || !m.SeatIndex.Valid() {
			return ErrInvalidSeat
		}
		return nil
	}
	return ErrInvalidControl
}
