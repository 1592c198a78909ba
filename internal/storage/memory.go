// Package storage provides the durable collaborators: a gorm-backed
// repository for deployments and an in-memory one for tests and
// single-process runs, plus the asynchronous message writer.
package storage

import (
	"context"
	"sync"

	"github.com/chatterhq/chatter/internal/domain"
)

// Memory keeps everything in process. Safe for concurrent use.
type Memory struct {
	mu          sync.RWMutex
	rooms       map[domain.RoomID]domain.Room
	memberships map[domain.RoomID]map[domain.UserID]domain.Membership
	invitations map[domain.RoomID]map[domain.UserID]domain.Invitation
	bans        map[domain.RoomID]map[domain.UserID]struct{}
	messages    map[domain.RoomID][]domain.Message
}

func NewMemory() *Memory {
	return &Memory{
		rooms:       make(map[domain.RoomID]domain.Room),
		memberships: make(map[domain.RoomID]map[domain.UserID]domain.Membership),
		invitations: make(map[domain.RoomID]map[domain.UserID]domain.Invitation),
		bans:        make(map[domain.RoomID]map[domain.UserID]struct{}),
		messages:    make(map[domain.RoomID][]domain.Message),
	}
}

func (m *Memory) InsertRoom(_ context.Context, room *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rooms[room.ID]; exists {
		return domain.ErrRoomExists
	}
	m.rooms[room.ID] = *room
	return nil
}

func (m *Memory) SaveRoom(_ context.Context, room *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID] = *room
	return nil
}

func (m *Memory) Room(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return &room, nil
}

func (m *Memory) SaveMembership(_ context.Context, mem domain.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser, ok := m.memberships[mem.RoomID]
	if !ok {
		byUser = make(map[domain.UserID]domain.Membership)
		m.memberships[mem.RoomID] = byUser
	}
	byUser[mem.UserID] = mem
	return nil
}

func (m *Memory) DeleteMembership(_ context.Context, roomID domain.RoomID, userID domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.memberships[roomID], userID)
	return nil
}

func (m *Memory) Memberships(_ context.Context, roomID domain.RoomID) ([]domain.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Membership, 0, len(m.memberships[roomID]))
	for _, mem := range m.memberships[roomID] {
		out = append(out, mem)
	}
	return out, nil
}

func (m *Memory) SaveInvitation(_ context.Context, inv domain.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser, ok := m.invitations[inv.RoomID]
	if !ok {
		byUser = make(map[domain.UserID]domain.Invitation)
		m.invitations[inv.RoomID] = byUser
	}
	byUser[inv.InviteeID] = inv
	return nil
}

func (m *Memory) Invitations(_ context.Context, roomID domain.RoomID) ([]domain.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Invitation, 0, len(m.invitations[roomID]))
	for _, inv := range m.invitations[roomID] {
		out = append(out, inv)
	}
	return out, nil
}

func (m *Memory) SaveBan(_ context.Context, roomID domain.RoomID, userID domain.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.bans[roomID]
	if !ok {
		set = make(map[domain.UserID]struct{})
		m.bans[roomID] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (m *Memory) Bans(_ context.Context, roomID domain.RoomID) ([]domain.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.UserID, 0, len(m.bans[roomID]))
	for id := range m.bans[roomID] {
		out = append(out, id)
	}
	return out, nil
}

func (m *Memory) SaveMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], msg)
	return nil
}

// LastSequence returns the highest persisted sequence for a room, the
// resume point for a fresh room session.
func (m *Memory) LastSequence(_ context.Context, roomID domain.RoomID) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last uint64
	for _, msg := range m.messages[roomID] {
		if msg.Seq > last {
			last = msg.Seq
		}
	}
	return last, nil
}

// Messages returns a copy of a room's persisted log, oldest first.
func (m *Memory) Messages(_ context.Context, roomID domain.RoomID) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Message, len(m.messages[roomID]))
	copy(out, m.messages[roomID])
	return out, nil
}
