// Package store is the membership store: room policy, member and
// invitation state, with per-room serialized writes over a durable
// repository.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatterhq/chatter/internal/access"
	"github.com/chatterhq/chatter/internal/domain"
)

// Repository is the durable storage collaborator. Implementations live
// in internal/storage; all methods are synchronous.
type Repository interface {
	InsertRoom(ctx context.Context, room *domain.Room) error
	SaveRoom(ctx context.Context, room *domain.Room) error
	Room(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	SaveMembership(ctx context.Context, m domain.Membership) error
	DeleteMembership(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	Memberships(ctx context.Context, roomID domain.RoomID) ([]domain.Membership, error)
	SaveInvitation(ctx context.Context, inv domain.Invitation) error
	Invitations(ctx context.Context, roomID domain.RoomID) ([]domain.Invitation, error)
	SaveBan(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	Bans(ctx context.Context, roomID domain.RoomID) ([]domain.UserID, error)
}

// Store serializes writes per room id so concurrent invites and revokes
// for the same room resolve last-writer-wins in submission order.
// Reads go straight to the repository and may trail a pending write.
type Store struct {
	repo Repository

	mu    sync.Mutex
	locks map[domain.RoomID]*sync.Mutex
}

func New(repo Repository) *Store {
	return &Store{repo: repo, locks: make(map[domain.RoomID]*sync.Mutex)}
}

func (s *Store) roomLock(id domain.RoomID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// wrap folds unexpected repository failures into the storage taxonomy
// while keeping not-found and friends intact.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrRoomNotFound) || errors.Is(err, domain.ErrNotInvited) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

// roomIDAttempts bounds the retry loop on random id collisions. With
// ten random digits a single retry is already unlikely.
const roomIDAttempts = 5

// CreateRoom persists a new room and its owner membership. The insert
// is collision-checked: a taken id draws a fresh one and retries.
func (s *Store) CreateRoom(ctx context.Context, owner domain.UserID, name domain.RoomName, policy domain.Policy) (*domain.Room, error) {
	if !domain.ValidPolicy(policy) {
		return nil, domain.ErrPolicyMismatch
	}
	for attempt := 0; attempt < roomIDAttempts; attempt++ {
		room, err := domain.NewRoom(name, policy, owner)
		if err != nil {
			return nil, err
		}
		created, err := s.insertRoom(ctx, room, owner)
		if err != nil {
			return nil, err
		}
		if created {
			log.Info().Str("module", "store").Str("room", string(room.ID)).Str("policy", string(policy)).Msg("room created")
			return room, nil
		}
	}
	return nil, wrap("allocate room id", domain.ErrRoomExists)
}

// insertRoom reports false on an id collision so the caller can retry
// with a new id.
func (s *Store) insertRoom(ctx context.Context, room *domain.Room, owner domain.UserID) (bool, error) {
	lock := s.roomLock(room.ID)
	lock.Lock()
	defer lock.Unlock()
	err := s.repo.InsertRoom(ctx, room)
	if errors.Is(err, domain.ErrRoomExists) {
		return false, nil
	}
	if err != nil {
		return false, wrap("insert room", err)
	}
	m := domain.Membership{RoomID: room.ID, UserID: owner, Role: domain.RoleOwner}
	if err := s.repo.SaveMembership(ctx, m); err != nil {
		return false, wrap("save owner membership", err)
	}
	return true, nil
}

func (s *Store) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	room, err := s.repo.Room(ctx, id)
	if err != nil {
		return nil, wrap("get room", err)
	}
	return room, nil
}

// Invite adds a Pending invitation. Only Private rooms take invitations
// and only the owner or a member may invite.
func (s *Store) Invite(ctx context.Context, roomID domain.RoomID, inviter, invitee domain.UserID) (*domain.Invitation, error) {
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := s.repo.Room(ctx, roomID)
	if err != nil {
		return nil, wrap("get room", err)
	}
	if room.Policy != domain.PolicyPrivate {
		return nil, domain.ErrPolicyMismatch
	}
	ok, err := s.isMemberLocked(ctx, room, inviter)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrForbidden
	}
	inv := domain.Invitation{
		RoomID:    roomID,
		InviteeID: invitee,
		InviterID: inviter,
		Status:    domain.InvitePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.SaveInvitation(ctx, inv); err != nil {
		return nil, wrap("save invitation", err)
	}
	log.Info().Str("module", "store").Str("room", string(roomID)).Str("invitee", string(invitee)).Msg("user invited")
	return &inv, nil
}

// Revoke marks the invitee's invitation Revoked. Revoking an absent
// invitation still writes the Revoked row so that a racing Invite and
// Revoke settle on whichever was submitted last.
func (s *Store) Revoke(ctx context.Context, roomID domain.RoomID, actor, invitee domain.UserID) error {
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := s.repo.Room(ctx, roomID)
	if err != nil {
		return wrap("get room", err)
	}
	if room.Policy != domain.PolicyPrivate {
		return domain.ErrPolicyMismatch
	}
	if room.OwnerID != actor {
		return domain.ErrForbidden
	}
	inv := domain.Invitation{
		RoomID:    roomID,
		InviteeID: invitee,
		InviterID: actor,
		Status:    domain.InviteRevoked,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.SaveInvitation(ctx, inv); err != nil {
		return wrap("save invitation", err)
	}
	if err := s.repo.DeleteMembership(ctx, roomID, invitee); err != nil {
		return wrap("delete membership", err)
	}
	log.Info().Str("module", "store").Str("room", string(roomID)).Str("invitee", string(invitee)).Msg("invitation revoked")
	return nil
}

// Accept flips a Pending invitation to Accepted and records the
// membership row. Called either explicitly by the invitee or by the
// gateway on the first successful join.
func (s *Store) Accept(ctx context.Context, roomID domain.RoomID, invitee domain.UserID) error {
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	invs, err := s.repo.Invitations(ctx, roomID)
	if err != nil {
		return wrap("list invitations", err)
	}
	for _, inv := range invs {
		if inv.InviteeID != invitee {
			continue
		}
		if inv.Status == domain.InviteRevoked {
			return domain.ErrNotInvited
		}
		inv.Status = domain.InviteAccepted
		if err := s.repo.SaveInvitation(ctx, inv); err != nil {
			return wrap("save invitation", err)
		}
		m := domain.Membership{RoomID: roomID, UserID: invitee, Role: domain.RoleMember}
		if err := s.repo.SaveMembership(ctx, m); err != nil {
			return wrap("save membership", err)
		}
		return nil
	}
	return domain.ErrNotInvited
}

// Ban adds target to the room's banned set and revokes any standing
// invitation. Owner only.
func (s *Store) Ban(ctx context.Context, roomID domain.RoomID, actor, target domain.UserID) error {
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := s.repo.Room(ctx, roomID)
	if err != nil {
		return wrap("get room", err)
	}
	if room.OwnerID != actor {
		return domain.ErrForbidden
	}
	if err := s.repo.SaveBan(ctx, roomID, target); err != nil {
		return wrap("save ban", err)
	}
	if err := s.repo.DeleteMembership(ctx, roomID, target); err != nil {
		return wrap("delete membership", err)
	}
	log.Info().Str("module", "store").Str("room", string(roomID)).Str("user", string(target)).Msg("user banned")
	return nil
}

// SetLocked toggles the room's join lock. Owner only.
func (s *Store) SetLocked(ctx context.Context, roomID domain.RoomID, actor domain.UserID, locked bool) error {
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := s.repo.Room(ctx, roomID)
	if err != nil {
		return wrap("get room", err)
	}
	if room.OwnerID != actor {
		return domain.ErrForbidden
	}
	room.Locked = locked
	if err := s.repo.SaveRoom(ctx, room); err != nil {
		return wrap("save room", err)
	}
	return nil
}

// IsMember reports whether user holds an explicit membership row or
// owns the room.
func (s *Store) IsMember(ctx context.Context, roomID domain.RoomID, user domain.UserID) (bool, error) {
	room, err := s.repo.Room(ctx, roomID)
	if err != nil {
		return false, wrap("get room", err)
	}
	return s.isMemberLocked(ctx, room, user)
}

func (s *Store) isMemberLocked(ctx context.Context, room *domain.Room, user domain.UserID) (bool, error) {
	if room.OwnerID == user {
		return true, nil
	}
	ms, err := s.repo.Memberships(ctx, room.ID)
	if err != nil {
		return false, wrap("list memberships", err)
	}
	for _, m := range ms {
		if m.UserID == user {
			return true, nil
		}
	}
	return false, nil
}

// View snapshots one room's access state for the evaluator. A nil Room
// inside the view means the room does not exist.
func (s *Store) View(ctx context.Context, roomID domain.RoomID) (access.View, error) {
	v := access.View{
		Memberships: make(map[domain.UserID]domain.Role),
		Invitations: make(map[domain.UserID]domain.Invitation),
		Banned:      make(map[domain.UserID]struct{}),
	}
	room, err := s.repo.Room(ctx, roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return v, nil
	}
	if err != nil {
		return v, wrap("get room", err)
	}
	v.Room = room

	ms, err := s.repo.Memberships(ctx, roomID)
	if err != nil {
		return v, wrap("list memberships", err)
	}
	for _, m := range ms {
		v.Memberships[m.UserID] = m.Role
	}
	invs, err := s.repo.Invitations(ctx, roomID)
	if err != nil {
		return v, wrap("list invitations", err)
	}
	for _, inv := range invs {
		v.Invitations[inv.InviteeID] = inv
	}
	bans, err := s.repo.Bans(ctx, roomID)
	if err != nil {
		return v, wrap("list bans", err)
	}
	for _, b := range bans {
		v.Banned[b] = struct{}{}
	}
	return v, nil
}
