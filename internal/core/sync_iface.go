package core

import (
	"context"

	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/event"
)

// Bus publishes sync events to every subscriber of ev.Room.
type Bus interface {
	Publish(ctx context.Context, ev domain.SyncEvent) error
}

// SyncChannel is the client end of the realtime sync channel.
type SyncChannel interface {
	Join(ctx context.Context, room domain.RoomName) error
	Leave(ctx context.Context, room domain.RoomName) error
	// Send broadcasts a control message to the room; the server stamps the sender.
	Send(ctx context.Context, room domain.RoomName, msg domain.ControlMessage) error
	Subscribe(buffer int) *event.Subscription[domain.SyncEvent]
	Close() error
}
