package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatterhq/chatter/internal/domain"
)

// State of a room session.
type State int

const (
	StateEmpty State = iota
	StateActive
	StateDraining
	StateClosed
)

// Kick reasons sent to the client when the session ends a connection.
const (
	KickReasonSlowConsumer = "slow_consumer"
	KickReasonKicked       = "kicked"
	KickReasonBanned       = "banned"
)

var ErrSessionClosed = errors.New("room session closed")

// Session owns the live state of one room: the connected participants,
// the sequence counter and a bounded backlog for replay. The whole
// write path (sequence assignment + fan-out) runs under one mutex so
// every participant observes the same per-room order.
type Session struct {
	roomID domain.RoomID

	pub    Publisher
	sink   Sink
	policy BackpressurePolicy

	mu         sync.Mutex
	conns      map[Conn]struct{}
	seq        uint64 // last assigned locally
	delivered  uint64 // highest seq fanned out, local or relayed
	backlog    []domain.Message
	backlogCap int
	state      State
}

// NewSession resumes the sequence counter from lastSeq, the persisted
// high-water mark, so numbers are never reused across restarts.
func NewSession(roomID domain.RoomID, lastSeq uint64, backlogCap int, pub Publisher, sink Sink, policy BackpressurePolicy) *Session {
	if backlogCap <= 0 {
		backlogCap = 64
	}
	if policy == nil {
		policy = KickPolicy{}
	}
	return &Session{
		roomID:     roomID,
		pub:        pub,
		sink:       sink,
		policy:     policy,
		conns:      make(map[Conn]struct{}),
		seq:        lastSeq,
		delivered:  lastSeq,
		backlogCap: backlogCap,
	}
}

func (s *Session) RoomID() domain.RoomID { return s.roomID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Participants snapshots the connected users, for roster replies.
func (s *Session) Participants() []*domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.User, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c.User())
	}
	return out
}

// Join registers a connection and returns the sequence cursor plus a
// backlog snapshot for replay. Fails with ErrSessionClosed when racing
// a teardown; the caller retries through the registry.
func (s *Session) Join(conn Conn) (uint64, []domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return 0, nil, ErrSessionClosed
	}
	s.conns[conn] = struct{}{}
	s.state = StateActive
	replay := make([]domain.Message, len(s.backlog))
	copy(replay, s.backlog)
	log.Info().Str("module", "core.session").Str("room", string(s.roomID)).
		Str("user", string(conn.User().ID)).Int("conns", len(s.conns)).Msg("connection joined")
	return s.delivered, replay, nil
}

// Leave deregisters a connection. Idempotent.
func (s *Session) Leave(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; !ok {
		return
	}
	delete(s.conns, conn)
	if len(s.conns) == 0 && s.state == StateActive {
		s.state = StateDraining
	}
	log.Info().Str("module", "core.session").Str("room", string(s.roomID)).
		Str("user", string(conn.User().ID)).Int("conns", len(s.conns)).Msg("connection left")
}

// Publish assigns the next sequence number, fans out to local
// connections, relays cross-node and queues the message for
// persistence. Serialized per room; never blocks on a slow consumer.
func (s *Session) Publish(ctx context.Context, sender *domain.User, body string) (domain.Message, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return domain.Message{}, ErrSessionClosed
	}
	s.seq++
	msg := domain.Message{
		RoomID:     s.roomID,
		SenderID:   sender.ID,
		SenderName: sender.Username,
		Seq:        s.seq,
		At:         time.Now().UTC(),
		Body:       body,
	}
	s.appendBacklog(msg)
	s.delivered = msg.Seq
	dropped := s.fanout(msg)
	if s.pub != nil {
		if err := s.pub.Publish(ctx, msg); err != nil {
			log.Error().Err(err).Str("module", "core.session").Str("room", string(s.roomID)).
				Uint64("seq", msg.Seq).Msg("cross-node publish failed")
		}
	}
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.Enqueue(msg)
	}
	s.punish(dropped)
	return msg, nil
}

// Deliver is the cross-node relay entry point. Redelivery of an
// already-seen sequence is absorbed here, so each local connection sees
// every (room, seq) exactly once.
func (s *Session) Deliver(msg domain.Message) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if msg.Seq <= s.delivered {
		s.mu.Unlock()
		log.Debug().Err(domain.ErrDuplicateMessage).Str("module", "core.session").
			Str("room", string(s.roomID)).Uint64("seq", msg.Seq).Msg("duplicate delivery absorbed")
		return
	}
	s.appendBacklog(msg)
	s.delivered = msg.Seq
	if msg.Seq > s.seq {
		s.seq = msg.Seq
	}
	dropped := s.fanout(msg)
	s.mu.Unlock()

	s.punish(dropped)
}

// KickUser disconnects every connection logged in under username and
// returns how many were hit. Used by owner kick/ban actions.
func (s *Session) KickUser(username, reason string) int {
	s.mu.Lock()
	var targets []Conn
	for c := range s.conns {
		if c.User().Username == username {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()
	for _, c := range targets {
		c.Kick(reason)
	}
	return len(targets)
}

// FindParticipant returns the connected user with username, nil if
// absent.
func (s *Session) FindParticipant(username string) *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if c.User().Username == username {
			return c.User()
		}
	}
	return nil
}

// close marks the session dead. Called by the registry once the drain
// grace period expires with no connections.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	log.Info().Str("module", "core.session").Str("room", string(s.roomID)).Msg("session closed")
}

func (s *Session) appendBacklog(msg domain.Message) {
	s.backlog = append(s.backlog, msg)
	if len(s.backlog) > s.backlogCap {
		s.backlog = s.backlog[len(s.backlog)-s.backlogCap:]
	}
}

// fanout must run with s.mu held.
func (s *Session) fanout(msg domain.Message) []Conn {
	frame, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "core.session").Msg("marshal message")
		return nil
	}
	var dropped []Conn
	for c := range s.conns {
		if err := c.TrySend(frame); err != nil {
			dropped = append(dropped, c)
		}
	}
	if len(dropped) > 0 {
		log.Warn().Str("module", "core.session").Str("room", string(s.roomID)).
			Uint64("seq", msg.Seq).Int("dropped", len(dropped)).Msg("slow consumers during fanout")
	}
	return dropped
}

func (s *Session) punish(dropped []Conn) {
	for _, c := range dropped {
		switch s.policy.OnBackpressure(s.roomID, c.User()) {
		case KickMember:
			c.Kick(KickReasonSlowConsumer)
		case DropFrame, NoAction:
		}
	}
}
