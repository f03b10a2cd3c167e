// Package realtime fans sync events (presence, seat changes, control
// messages) out to the members of a room.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

var ErrNotMember = errors.New("not a member of the room")

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
}

type Hub struct {
	Registry *Registry

	mu     sync.RWMutex
	rooms  map[domain.RoomName]*room
	policy Policy
	relay  core.Bus
	log    zerolog.Logger
}

func NewHub(policy Policy) *Hub {
	if policy == nil {
		policy = KickPolicy{}
	}
	return &Hub{
		Registry: NewRegistry(),
		rooms:    make(map[domain.RoomName]*room),
		policy:   policy,
		log:      log.With().Str("module", "app.realtime").Logger(),
	}
}

// SetRelay routes Publish through b. The relay is expected to call Deliver
// on every instance, this one included.
func (h *Hub) SetRelay(b core.Bus) {
	h.mu.Lock()
	h.relay = b
	h.mu.Unlock()
}

func (h *Hub) getOrCreate(name domain.RoomName) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[name]
	if !ok {
		r = newRoom(name)
		h.rooms[name] = r
	}
	return r
}

func (h *Hub) room(name domain.RoomName) (*room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[name]
	return r, ok
}

// Join adds m to the room, sends it the current presence set and announces
// the identity to the room if this is its first session there.
func (h *Hub) Join(ctx context.Context, name domain.RoomName, m Member) error {
	if name == "" {
		return domain.ErrRoomNameEmpty
	}
	r := h.getOrCreate(name)
	first := r.add(m)
	h.Registry.AddRoom(m.SID, name)
	h.log.Info().Str("room", string(name)).Str("sid", string(m.SID)).Str("identity", m.Identity).Msg("joined")

	state := domain.SyncEvent{
		Type:       domain.SyncPresenceState,
		Room:       name,
		Identities: r.identities(),
		At:         time.Now(),
	}
	if data, err := json.Marshal(state); err == nil {
		_ = m.Conn.TrySend(data)
	}

	if first {
		return h.Publish(ctx, domain.SyncEvent{
			Type:     domain.SyncPresenceJoin,
			Room:     name,
			Identity: m.Identity,
			At:       time.Now(),
		})
	}
	return nil
}

func (h *Hub) Leave(ctx context.Context, name domain.RoomName, sid core.SessionID) error {
	r, ok := h.room(name)
	if !ok {
		return nil
	}
	m, last, ok := r.remove(sid)
	h.Registry.RemoveRoom(sid, name)
	if !ok {
		return nil
	}
	h.dropIfEmpty(name, r)
	h.log.Info().Str("room", string(name)).Str("sid", string(sid)).Msg("left")

	if last {
		return h.Publish(ctx, domain.SyncEvent{
			Type:     domain.SyncPresenceLeave,
			Room:     name,
			Identity: m.Identity,
			At:       time.Now(),
		})
	}
	return nil
}

// Disconnect removes the session from every room it joined.
func (h *Hub) Disconnect(ctx context.Context, sid core.SessionID) {
	for _, name := range h.Registry.RoomsOf(sid) {
		if err := h.Leave(ctx, name, sid); err != nil {
			h.log.Error().Err(err).Str("room", string(name)).Str("sid", string(sid)).Msg("leave on disconnect")
		}
	}
	h.Registry.Unbind(sid)
}

func (h *Hub) IsMember(name domain.RoomName, sid core.SessionID) bool {
	r, ok := h.room(name)
	return ok && r.has(sid)
}

func (h *Hub) Presence(name domain.RoomName) []string {
	r, ok := h.room(name)
	if !ok {
		return nil
	}
	return r.identities()
}

func (h *Hub) List() []RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]RoomInfo, 0, len(h.rooms))
	for _, name := range slices.Sorted(maps.Keys(h.rooms)) {
		out = append(out, RoomInfo{Name: name, MemberCount: h.rooms[name].count()})
	}
	return out
}

// Publish implements core.Bus.
func (h *Hub) Publish(ctx context.Context, ev domain.SyncEvent) error {
	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		return relay.Publish(ctx, ev)
	}
	h.Deliver(ev)
	return nil
}

// Deliver fans ev out to the local members of ev.Room.
func (h *Hub) Deliver(ev domain.SyncEvent) {
	r, ok := h.room(ev.Room)
	if !ok {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal sync event")
		return
	}
	res := r.broadcast(data)
	h.log.Debug().Str("room", string(ev.Room)).Str("type", string(ev.Type)).
		Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")

	for _, slow := range res.Dropped {
		switch h.policy.OnBackPressure(ev.Room, slow) {
		case KickMember:
			go h.Kick(slow.SID)
		case DropFrame, NoAction:
		}
	}
}

// Kick cancels the session's transport and removes it everywhere.
func (h *Hub) Kick(sid core.SessionID) {
	h.log.Warn().Str("sid", string(sid)).Msg("kicking slow member")
	h.Registry.Cancel(sid)
	for _, name := range h.Registry.RoomsOf(sid) {
		if r, ok := h.room(name); ok {
			if conn, ok := r.memberConn(sid); ok {
				conn.Close()
				break
			}
		}
	}
	h.Disconnect(context.Background(), sid)
}

func (h *Hub) dropIfEmpty(name domain.RoomName, r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.count() == 0 && h.rooms[name] == r {
		delete(h.rooms, name)
	}
}
