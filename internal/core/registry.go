package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/chatterhq/chatter/internal/domain"
)

type entry struct {
	session *Session
	refs    int
	drain   *time.Timer
	unsub   func()
}

// Registry maps room ids to live sessions. Creation is single-flight:
// a connection storm on a cold room yields exactly one session. Each
// GetOrCreate takes a reference; Release drops it, and a session whose
// count stays at zero past the drain grace is torn down.
type Registry struct {
	seqs   SeqSource
	pub    Publisher
	sub    Subscriber
	sink   Sink
	policy BackpressurePolicy

	backlogCap int
	grace      time.Duration

	mu      sync.Mutex
	entries map[domain.RoomID]*entry
	sf      singleflight.Group
}

func NewRegistry(seqs SeqSource, pub Publisher, sub Subscriber, sink Sink, backlogCap int, grace time.Duration) *Registry {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Registry{
		seqs:       seqs,
		pub:        pub,
		sub:        sub,
		sink:       sink,
		policy:     KickPolicy{},
		backlogCap: backlogCap,
		grace:      grace,
		entries:    make(map[domain.RoomID]*entry),
	}
}

// GetOrCreate returns the live session for roomID, creating it on first
// use. The caller owns one reference and must pair it with Release.
func (r *Registry) GetOrCreate(ctx context.Context, roomID domain.RoomID) (*Session, error) {
	for {
		if s, ok := r.takeRef(roomID); ok {
			return s, nil
		}
		_, err, _ := r.sf.Do(string(roomID), func() (any, error) {
			r.mu.Lock()
			_, exists := r.entries[roomID]
			r.mu.Unlock()
			if exists {
				return nil, nil
			}
			return nil, r.create(ctx, roomID)
		})
		if err != nil {
			return nil, err
		}
		// Loop to take a reference; a session evicted between create
		// and here is simply rebuilt.
	}
}

func (r *Registry) takeRef(roomID domain.RoomID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[roomID]
	if !ok || e.session.State() == StateClosed {
		return nil, false
	}
	e.refs++
	if e.drain != nil {
		e.drain.Stop()
		e.drain = nil
	}
	return e.session, true
}

func (r *Registry) create(ctx context.Context, roomID domain.RoomID) error {
	var lastSeq uint64
	if r.seqs != nil {
		var err error
		lastSeq, err = r.seqs.LastSequence(ctx, roomID)
		if err != nil {
			return fmt.Errorf("recover sequence: %w: %w", domain.ErrStorageUnavailable, err)
		}
	}
	s := NewSession(roomID, lastSeq, r.backlogCap, r.pub, r.sink, r.policy)
	var unsub func()
	if r.sub != nil {
		var err error
		unsub, err = r.sub.Subscribe(context.Background(), roomID, s.Deliver)
		if err != nil {
			return fmt.Errorf("subscribe room: %w", err)
		}
	}
	r.mu.Lock()
	r.entries[roomID] = &entry{session: s, unsub: unsub}
	r.mu.Unlock()
	log.Info().Str("module", "core.registry").Str("room", string(roomID)).
		Uint64("resume_seq", lastSeq).Msg("session created")
	return nil
}

// Release drops one reference on s. At zero the session starts
// draining and is evicted once the grace window passes without a new
// join. The session argument guards against a stale holder releasing a
// successor session under the same room id.
func (r *Registry) Release(roomID domain.RoomID, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[roomID]
	if !ok || e.session != s {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	e.refs = 0
	if e.drain != nil {
		e.drain.Stop()
	}
	e.drain = time.AfterFunc(r.grace, func() { r.evict(roomID) })
	log.Debug().Str("module", "core.registry").Str("room", string(roomID)).Msg("session draining")
}

func (r *Registry) evict(roomID domain.RoomID) {
	r.mu.Lock()
	e, ok := r.entries[roomID]
	if !ok || e.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, roomID)
	r.mu.Unlock()

	e.session.close()
	if e.unsub != nil {
		e.unsub()
	}
	log.Info().Str("module", "core.registry").Str("room", string(roomID)).Msg("session evicted")
}

// Peek returns the live session without taking a reference, nil when
// the room has no session. For read-only surfaces like rosters.
func (r *Registry) Peek(roomID domain.RoomID) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[roomID]; ok && e.session.State() != StateClosed {
		return e.session
	}
	return nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
