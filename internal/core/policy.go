package core

import "github.com/chatterhq/chatter/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// BackpressurePolicy decides what happens to a connection whose
// outbound buffer is full during a fan-out.
type BackpressurePolicy interface {
	OnBackpressure(roomID domain.RoomID, user *domain.User) BackpressureAction
}

// KickPolicy disconnects the slow consumer so the rest of the room is
// never delayed.
type KickPolicy struct{}

func (KickPolicy) OnBackpressure(domain.RoomID, *domain.User) BackpressureAction {
	return KickMember
}
