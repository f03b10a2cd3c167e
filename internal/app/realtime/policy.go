package realtime

import "github.com/dkeye/Stage/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(room domain.RoomName, member Member) BackpressureAction
}

// KickPolicy disconnects members that cannot keep up. They reconnect and
// re-fetch, which is cheaper than queueing unbounded frames for them.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(domain.RoomName, Member) BackpressureAction {
	return KickMember
}
