// Package gateway terminates one client's websocket, authorizes it
// against the room's policy and bridges frames to the room session.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/chatterhq/chatter/internal/access"
	"github.com/chatterhq/chatter/internal/core"
	"github.com/chatterhq/chatter/internal/domain"
	"github.com/chatterhq/chatter/internal/identity"
	"github.com/chatterhq/chatter/internal/store"
)

// Options bound from config.
type Options struct {
	ReadLimit       int64
	PingPeriod      time.Duration
	SendBufferSize  int
	MaxMessageBytes int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 32
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = domain.MaxMessageBytes
	}
	return o
}

type Gateway struct {
	store    *store.Store
	registry *core.Registry
	resolver identity.Resolver
	opts     Options
}

func New(st *store.Store, reg *core.Registry, resolver identity.Resolver, opts Options) *Gateway {
	return &Gateway{store: st, registry: reg, resolver: resolver, opts: opts.withDefaults()}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle runs one connection through Connecting → Authorizing → Joined.
// A denied attempt is closed with a reason-coded close frame and never
// reaches the room.
func (g *Gateway) Handle(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Param("room"))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("ws upgrade")
		return
	}

	cl := &client{
		roomID: roomID,
		conn:   ws,
		send:   make(chan core.Frame, g.opts.SendBufferSize),
		reg:    g.registry,
		state:  StateConnecting,
	}

	cl.setState(StateAuthorizing)
	user, err := g.resolver.Resolve(c.Request)
	if err != nil {
		rejectRaw(ws, CloseInvalidToken, "invalid_token")
		return
	}
	cl.user = user

	view, err := g.store.View(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Str("room", string(roomID)).Msg("load room view")
		rejectRaw(ws, websocket.CloseInternalServerErr, "storage_unavailable")
		return
	}
	decision := access.Evaluate(user, view)
	if !decision.Admitted {
		denial := access.DenialError(decision.Reason)
		log.Info().Err(denial).Str("module", "gateway").Str("room", string(roomID)).
			Str("user", user.Username).Str("reason", string(decision.Reason)).Msg("join denied")
		rejectRaw(ws, closeCodeForDenial(denial), string(decision.Reason))
		return
	}
	cl.role = decision.Role

	// A Pending invitation auto-accepts on the first successful join.
	if inv, ok := view.Invitations[user.ID]; ok && inv.Status == domain.InvitePending {
		if err := g.store.Accept(ctx, roomID, user.ID); err != nil {
			log.Error().Err(err).Str("module", "gateway").Str("room", string(roomID)).
				Str("user", string(user.ID)).Msg("auto-accept invitation")
		}
	}

	session, cursor, replay, err := g.join(ctx, roomID, cl)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Str("room", string(roomID)).Msg("join session")
		rejectRaw(ws, websocket.CloseInternalServerErr, "storage_unavailable")
		return
	}
	cl.session = session
	cl.setState(StateJoined)

	// The pumps are not running yet, so the joined frame and the backlog
	// replay go straight to the socket. Messages published meanwhile
	// queue in the send buffer and follow in order; the replay itself
	// must never be cut down to the buffer size.
	if err := cl.writeJSON(joinedFrame{Type: "joined", JoinedAs: user.Username, Seq: cursor}); err != nil {
		cl.shutdown(websocket.CloseGoingAway, "transport_failure")
		return
	}
	for _, msg := range replay {
		if err := cl.writeJSON(msg); err != nil {
			cl.shutdown(websocket.CloseGoingAway, "transport_failure")
			return
		}
	}

	connCtx, cancel := context.WithCancel(ctx)
	go func() {
		g.writePump(connCtx, cl)
		cancel()
	}()
	go func() {
		g.readPump(connCtx, cl, view.Room)
		cancel()
	}()
}

// join takes a registry reference and registers with the session,
// retrying when the join races a grace-period teardown.
func (g *Gateway) join(ctx context.Context, roomID domain.RoomID, cl *client) (*core.Session, uint64, []domain.Message, error) {
	for {
		session, err := g.registry.GetOrCreate(ctx, roomID)
		if err != nil {
			return nil, 0, nil, err
		}
		cursor, replay, err := session.Join(cl)
		if err == nil {
			return session, cursor, replay, nil
		}
		// Dead session: drop the reference and rebuild.
		g.registry.Release(roomID, session)
	}
}

// rejectRaw closes a connection that never joined, so the plain socket
// close is enough; no session or registry state exists yet.
func rejectRaw(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = ws.Close()
}

func closeCodeForDenial(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return CloseRoomNotFound
	case errors.Is(err, domain.ErrBadUsername):
		return CloseBadUsername
	case errors.Is(err, domain.ErrEmailNotConfirmed):
		return CloseEmailNotConfirmed
	case errors.Is(err, domain.ErrBanned):
		return CloseBanned
	case errors.Is(err, domain.ErrNotInvited):
		return CloseNotInvited
	case errors.Is(err, domain.ErrRoomLocked):
		return CloseRoomLocked
	}
	return websocket.ClosePolicyViolation
}
