package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatterhq/chatter/internal/domain"
)

type fakeConn struct {
	user *domain.User

	mu     sync.Mutex
	frames []Frame
	full   bool
	kicked []string
}

func newFakeConn(name string) *fakeConn {
	return &fakeConn{user: &domain.User{ID: domain.UserID("id-" + name), Username: name}}
}

func (f *fakeConn) User() *domain.User { return f.user }

func (f *fakeConn) TrySend(fr Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return errors.New("buffer full")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Kick(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = append(f.kicked, reason)
}

func (f *fakeConn) messages(t *testing.T) []domain.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Message, 0, len(f.frames))
	for _, fr := range f.frames {
		var msg domain.Message
		require.NoError(t, json.Unmarshal(fr, &msg))
		out = append(out, msg)
	}
	return out
}

func (f *fakeConn) kickReasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.kicked...)
}

func TestSession_Publish_Order_Two_Connections(t *testing.T) {
	req := require.New(t)
	session := NewSession("r3", 0, 16, nil, nil, nil)
	alice := newFakeConn("alice")
	bob := newFakeConn("bob")

	// Given two connections joined a public room
	_, _, err := session.Join(alice)
	req.NoError(err)
	_, _, err = session.Join(bob)
	req.NoError(err)

	// When each publishes one message
	m1, err := session.Publish(context.Background(), alice.user, "hello")
	req.NoError(err)
	m2, err := session.Publish(context.Background(), bob.user, "hi")
	req.NoError(err)

	// Then sequences are 1 and 2 and both sides observe the same order
	req.Equal(uint64(1), m1.Seq)
	req.Equal(uint64(2), m2.Seq)
	for _, conn := range []*fakeConn{alice, bob} {
		msgs := conn.messages(t)
		req.Len(msgs, 2)
		req.Equal("hello", msgs[0].Body)
		req.Equal("hi", msgs[1].Body)
	}
}

func TestSession_Publish_Concurrent_Gapless(t *testing.T) {
	req := require.New(t)
	session := NewSession("r-conc", 0, 256, nil, nil, nil)
	watcher := newFakeConn("watcher")
	_, _, err := session.Join(watcher)
	req.NoError(err)

	// When many goroutines publish concurrently
	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sender := &domain.User{ID: domain.UserID("writer-" + string(rune('a'+n))), Username: "writer"}
			for i := 0; i < perWriter; i++ {
				_, err := session.Publish(context.Background(), sender, "x")
				require.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	// Then the observer sees strictly increasing gapless sequences
	msgs := watcher.messages(t)
	req.Len(msgs, writers*perWriter)
	for i, msg := range msgs {
		req.Equal(uint64(i+1), msg.Seq)
	}
}

func TestSession_Slow_Consumer_Kicked_Others_Unaffected(t *testing.T) {
	req := require.New(t)
	session := NewSession("r-slow", 0, 16, nil, nil, nil)
	fast := newFakeConn("fast")
	slow := newFakeConn("slow")
	slow.full = true

	_, _, err := session.Join(fast)
	req.NoError(err)
	_, _, err = session.Join(slow)
	req.NoError(err)

	// When a message is published past the slow consumer's full buffer
	_, err = session.Publish(context.Background(), fast.user, "hello")
	req.NoError(err)

	// Then the fast connection got the message and only the slow one
	// was kicked, with the slow-consumer reason
	req.Len(fast.messages(t), 1)
	req.Empty(fast.kickReasons())
	req.Equal([]string{KickReasonSlowConsumer}, slow.kickReasons())
}

// chattyFabric relays every publish to peer sessions twice, the way an
// at-least-once fabric may under redelivery.
type chattyFabric struct {
	peers []*Session
}

func (f *chattyFabric) Publish(_ context.Context, msg domain.Message) error {
	for _, p := range f.peers {
		p.Deliver(msg)
		p.Deliver(msg)
	}
	return nil
}

func TestSession_Cross_Node_Relay_Exactly_Once(t *testing.T) {
	req := require.New(t)

	// Given the same room hosted on two nodes joined by a redelivering fabric
	remote := NewSession("r-x", 0, 16, nil, nil, nil)
	local := NewSession("r-x", 0, 16, &chattyFabric{peers: []*Session{remote}}, nil, nil)

	here := newFakeConn("here")
	there := newFakeConn("there")
	_, _, err := local.Join(here)
	req.NoError(err)
	_, _, err = remote.Join(there)
	req.NoError(err)

	// When a message is published on the local node
	_, err = local.Publish(context.Background(), here.user, "over the wire")
	req.NoError(err)

	// Then each side's connection sees it exactly once
	req.Len(here.messages(t), 1)
	msgs := there.messages(t)
	req.Len(msgs, 1)
	req.Equal("over the wire", msgs[0].Body)
	req.Equal(uint64(1), msgs[0].Seq)
}

func TestSession_Deliver_Deduplicates_Redelivery(t *testing.T) {
	req := require.New(t)
	session := NewSession("r-dup", 0, 16, nil, nil, nil)
	conn := newFakeConn("conn")
	_, _, err := session.Join(conn)
	req.NoError(err)

	remote := domain.Message{RoomID: "r-dup", SenderID: "peer", Seq: 1, Body: "from other node"}

	// When the fabric redelivers the same (room, seq) twice
	session.Deliver(remote)
	session.Deliver(remote)

	// Then the local connection sees it exactly once
	req.Len(conn.messages(t), 1)
}

func TestSession_Deliver_Advances_Sequence(t *testing.T) {
	req := require.New(t)
	session := NewSession("r-adv", 0, 16, nil, nil, nil)
	conn := newFakeConn("conn")
	_, _, err := session.Join(conn)
	req.NoError(err)

	// Given a relayed message with a higher sequence
	session.Deliver(domain.Message{RoomID: "r-adv", Seq: 5, Body: "remote"})

	// When publishing locally afterwards
	msg, err := session.Publish(context.Background(), conn.user, "local")
	req.NoError(err)

	// Then the local sequence continues past the relayed one
	req.Equal(uint64(6), msg.Seq)
}

func TestSession_Backlog_Bounded_Replay(t *testing.T) {
	req := require.New(t)
	session := NewSession("r-backlog", 0, 3, nil, nil, nil)
	sender := newFakeConn("sender")
	_, _, err := session.Join(sender)
	req.NoError(err)

	for _, body := range []string{"one", "two", "three", "four", "five"} {
		_, err := session.Publish(context.Background(), sender.user, body)
		req.NoError(err)
	}

	// When a late joiner arrives
	late := newFakeConn("late")
	cursor, replay, err := session.Join(late)
	req.NoError(err)

	// Then it gets the cursor and only the capped backlog tail
	req.Equal(uint64(5), cursor)
	req.Len(replay, 3)
	req.Equal("three", replay[0].Body)
	req.Equal("five", replay[2].Body)
}

func TestSession_Resumes_From_High_Water_Mark(t *testing.T) {
	req := require.New(t)

	// Given a session resumed from persisted sequence 41
	session := NewSession("r-resume", 41, 16, nil, nil, nil)
	conn := newFakeConn("conn")
	_, _, err := session.Join(conn)
	req.NoError(err)

	msg, err := session.Publish(context.Background(), conn.user, "next")
	req.NoError(err)
	req.Equal(uint64(42), msg.Seq)
}

func TestSession_Join_After_Close_Rejected(t *testing.T) {
	req := require.New(t)
	session := NewSession("r-closed", 0, 16, nil, nil, nil)
	session.close()

	_, _, err := session.Join(newFakeConn("conn"))
	req.ErrorIs(err, ErrSessionClosed)
}

func TestSession_Leave_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	session := NewSession("r-leave", 0, 16, nil, nil, nil)
	conn := newFakeConn("conn")
	_, _, err := session.Join(conn)
	req.NoError(err)

	session.Leave(conn)
	session.Leave(conn)

	req.Zero(session.Len())
	req.Equal(StateDraining, session.State())
}
