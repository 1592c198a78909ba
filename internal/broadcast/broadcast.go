// Package broadcast is the cross-node message fabric. Each node's room
// session publishes locally-originated messages here and relays the
// subscription stream into its own fan-out. Delivery is at-least-once;
// the session deduplicates by sequence number.
package broadcast

import (
	"context"

	"github.com/chatterhq/chatter/internal/domain"
)

// Noop is the single-node fabric: publishes vanish and subscriptions
// never fire. Local fan-out already reached every participant.
type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) Publish(context.Context, domain.Message) error { return nil }

func (Noop) Subscribe(context.Context, domain.RoomID, func(domain.Message)) (func(), error) {
	return func() {}, nil
}
