package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/chatterhq/chatter/internal/core"
	"github.com/chatterhq/chatter/internal/domain"
)

// ConnState is the per-connection lifecycle.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthorizing
	StateJoined
	StateClosing
	StateClosed
)

// Close codes sent with the websocket close frame. 4xxx is the
// application range; the reason string carries the taxonomy name.
const (
	CloseInvalidToken      = 4001
	CloseBadUsername       = 4002
	CloseEmailNotConfirmed = 4003
	CloseRoomNotFound      = 4004
	CloseBanned            = 4005
	CloseNotInvited        = 4006
	CloseRoomLocked        = 4007
	CloseSlowConsumer      = 4008
	CloseKicked            = 4009
)

var errConnClosed = errors.New("connection closed")

// client is one websocket participant. It implements core.Conn, so the
// room session can fan out to it and kick it, while the gateway owns
// the socket and the exactly-once teardown.
type client struct {
	user    *domain.User
	role    domain.Role
	roomID  domain.RoomID
	conn    *websocket.Conn
	send    chan core.Frame
	session *core.Session
	reg     *core.Registry

	mu     sync.Mutex
	state  ConnState
	closed bool
	once   sync.Once
}

func (c *client) User() *domain.User { return c.user }

func (c *client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TrySend queues a frame without blocking. A full buffer is the slow
// consumer signal the session acts on.
func (c *client) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- f:
	default:
		return domain.ErrSlowConsumer
	}
	return nil
}

// Kick runs the close path with a reason code. Called by the session
// for slow consumers and by owner kick/ban actions.
func (c *client) Kick(reason string) {
	c.shutdown(closeCodeFor(reason), reason)
}

// shutdown is the single exit: leaves the session, releases the
// registry reference and closes the socket, exactly once regardless of
// how many paths race into it.
func (c *client) shutdown(code int, reason string) {
	c.once.Do(func() {
		c.setState(StateClosing)
		if c.session != nil {
			c.session.Leave(c)
			c.reg.Release(c.roomID, c.session)
		}
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			log.Debug().Err(err).Str("module", "gateway").Msg("write close frame")
		}
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		_ = c.conn.Close()
		c.setState(StateClosed)
		log.Info().Str("module", "gateway").Str("user", string(c.user.ID)).
			Str("room", string(c.roomID)).Str("reason", reason).Msg("connection closed")
	})
}

func closeCodeFor(reason string) int {
	switch reason {
	case core.KickReasonSlowConsumer:
		return CloseSlowConsumer
	case core.KickReasonBanned:
		return CloseBanned
	case core.KickReasonKicked:
		return CloseKicked
	}
	return websocket.CloseNormalClosure
}
