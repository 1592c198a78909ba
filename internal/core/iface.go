// Package core owns the live side of a room: the session that fans
// messages out to connected participants and the registry that creates
// and tears sessions down.
package core

import (
	"context"

	"github.com/chatterhq/chatter/internal/domain"
)

// Frame is a raw payload ready for the wire.
type Frame []byte

// Conn is one participant's transport endpoint as the session sees it.
// Owned by the gateway; the session never closes it directly, it asks
// for a kick and the gateway runs its own close path exactly once.
type Conn interface {
	User() *domain.User
	TrySend(Frame) error
	Kick(reason string)
}

// Publisher pushes locally-originated messages onto the cross-node
// fabric. Single-node deployments use a no-op implementation.
type Publisher interface {
	Publish(ctx context.Context, msg domain.Message) error
}

// Subscriber delivers cross-node messages for a room until the returned
// cancel function is called.
type Subscriber interface {
	Subscribe(ctx context.Context, roomID domain.RoomID, fn func(domain.Message)) (func(), error)
}

// Sink receives messages for asynchronous persistence. Must not block.
type Sink interface {
	Enqueue(msg domain.Message)
}

// SeqSource recovers a room's persisted sequence high-water mark so a
// fresh session never reuses sequence numbers.
type SeqSource interface {
	LastSequence(ctx context.Context, roomID domain.RoomID) (uint64, error)
}
