package realtime

import (
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

type Member struct {
	SID      core.SessionID
	Identity string
	Conn     core.SignalConnection
}

// PublishResult reports delivery stats so the hub can apply its policy.
type PublishResult struct {
	SendTo  int
	Dropped []Member
}

// room is a threadsafe member set. It never closes adapter-owned resources.
type room struct {
	name       domain.RoomName
	mu         sync.RWMutex
	bySID      map[core.SessionID]Member
	byIdentity map[string]int
}

func newRoom(name domain.RoomName) *room {
	return &room{
		name:       name,
		bySID:      make(map[core.SessionID]Member),
		byIdentity: make(map[string]int),
	}
}

// add reports whether m is the identity's first session in the room.
func (r *room) add(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[m.SID]; ok {
		return false
	}
	r.bySID[m.SID] = m
	r.byIdentity[m.Identity]++
	return r.byIdentity[m.Identity] == 1
}

// remove reports whether the removed session was the identity's last one.
func (r *room) remove(sid core.SessionID) (Member, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.bySID[sid]
	if !ok {
		return Member{}, false, false
	}
	delete(r.bySID, sid)
	r.byIdentity[m.Identity]--
	last := r.byIdentity[m.Identity] == 0
	if last {
		delete(r.byIdentity, m.Identity)
	}
	return m, last, true
}

func (r *room) has(sid core.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySID[sid]
	return ok
}

func (r *room) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *room) identities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.byIdentity))
}

func (r *room) broadcast(data core.Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for _, m := range r.bySID {
		if err := m.Conn.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	return res
}

func (r *room) memberConn(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.bySID[sid]
	if !ok {
		return nil, false
	}
	return m.Conn, true
}
