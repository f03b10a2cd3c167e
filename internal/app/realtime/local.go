package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
	"github.com/dkeye/Stage/internal/event"
)

var ErrChannelClosed = errors.New("sync channel closed")

// LocalChannel is an in-process core.SyncChannel bound to one identity.
// Subscribe before Join to receive the initial presence snapshot.
type LocalChannel struct {
	hub      *Hub
	sid      core.SessionID
	identity string
	feed     *event.Feed[domain.SyncEvent]
	closed   atomic.Bool
}

func (h *Hub) Connect(identity string) *LocalChannel {
	c := &LocalChannel{
		hub:      h,
		sid:      core.SessionID(uuid.NewString()),
		identity: identity,
		feed:     event.NewFeed[domain.SyncEvent]("sync.local"),
	}
	h.Registry.Bind(c.sid, identity, nil)
	return c
}

func (c *LocalChannel) SID() core.SessionID { return c.sid }

func (c *LocalChannel) Join(ctx context.Context, room domain.RoomName) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	return c.hub.Join(ctx, room, Member{SID: c.sid, Identity: c.identity, Conn: localConn{c}})
}

func (c *LocalChannel) Leave(ctx context.Context, room domain.RoomName) error {
	return c.hub.Leave(ctx, room, c.sid)
}

func (c *LocalChannel) Send(ctx context.Context, room domain.RoomName, msg domain.ControlMessage) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	if !c.hub.IsMember(room, c.sid) {
		return ErrNotMember
	}
	return c.hub.Publish(ctx, domain.SyncEvent{
		Type:    domain.SyncControl,
		Room:    room,
		Sender:  c.identity,
		Control: &msg,
		At:      time.Now(),
	})
}

func (c *LocalChannel) Subscribe(buffer int) *event.Subscription[domain.SyncEvent] {
	return c.feed.Subscribe(buffer)
}

func (c *LocalChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.hub.Disconnect(context.Background(), c.sid)
	c.feed.Close()
	return nil
}

// localConn is the hub-facing side of a LocalChannel.
type localConn struct {
	c *LocalChannel
}

func (l localConn) TrySend(f core.Frame) error {
	if l.c.closed.Load() {
		return ErrChannelClosed
	}
	var ev domain.SyncEvent
	if err := json.Unmarshal(f, &ev); err != nil {
		return err
	}
	l.c.feed.Send(ev)
	return nil
}

func (l localConn) Close() { _ = l.c.Close() }
