package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatterhq/chatter/internal/domain"
)

type flakySink struct {
	mu       sync.Mutex
	failures int
	saved    []domain.Message
}

func (s *flakySink) SaveMessage(_ context.Context, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("transient outage")
	}
	s.saved = append(s.saved, msg)
	return nil
}

func (s *flakySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func TestAsyncWriter_Persists(t *testing.T) {
	req := require.New(t)
	sink := &flakySink{}
	w := NewAsyncWriter(sink)

	w.Enqueue(domain.Message{RoomID: "r", Seq: 1, Body: "hello"})
	w.Close()

	req.Equal(1, sink.count())
}

func TestAsyncWriter_Retries_Transient_Failures(t *testing.T) {
	req := require.New(t)
	sink := &flakySink{failures: 2}
	w := NewAsyncWriter(sink)

	w.Enqueue(domain.Message{RoomID: "r", Seq: 1, Body: "hello"})
	w.Close()

	req.Equal(1, sink.count())
}

func TestAsyncWriter_Drops_After_Max_Attempts(t *testing.T) {
	req := require.New(t)
	sink := &flakySink{failures: 100}
	w := NewAsyncWriter(sink)

	// A permanently failing store loses the message but the writer
	// still drains and stops cleanly.
	w.Enqueue(domain.Message{RoomID: "r", Seq: 1, Body: "doomed"})
	w.Close()

	req.Zero(sink.count())
}

func TestMemory_InsertRoom_Rejects_Taken_ID(t *testing.T) {
	req := require.New(t)
	repo := NewMemory()
	ctx := context.Background()

	req.NoError(repo.InsertRoom(ctx, &domain.Room{ID: "1234567890", Name: "den", OwnerID: "a"}))
	err := repo.InsertRoom(ctx, &domain.Room{ID: "1234567890", Name: "impostor", OwnerID: "b"})
	req.ErrorIs(err, domain.ErrRoomExists)

	// The original row survives the collision untouched
	got, err := repo.Room(ctx, "1234567890")
	req.NoError(err)
	req.Equal(domain.RoomName("den"), got.Name)
	req.Equal(domain.UserID("a"), got.OwnerID)
}

func TestMemory_LastSequence_Tracks_High_Water_Mark(t *testing.T) {
	req := require.New(t)
	repo := NewMemory()
	ctx := context.Background()

	last, err := repo.LastSequence(ctx, "r")
	req.NoError(err)
	req.Zero(last)

	req.NoError(repo.SaveMessage(ctx, domain.Message{RoomID: "r", Seq: 3}))
	req.NoError(repo.SaveMessage(ctx, domain.Message{RoomID: "r", Seq: 9}))
	req.NoError(repo.SaveMessage(ctx, domain.Message{RoomID: "other", Seq: 40}))

	last, err = repo.LastSequence(ctx, "r")
	req.NoError(err)
	req.Equal(uint64(9), last)
}
