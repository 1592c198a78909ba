package domain

import (
	"errors"
	"math/rand"
	"time"
)

const (
	MaxRoomNameLen = 200
	roomIDDigits   = 10
)

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
)

type (
	RoomID   string
	RoomName string
)

// Policy is the room access policy, fixed for the room's lifetime.
type Policy string

const (
	// PolicyPublic admits anyone who can resolve an identity, guests included.
	PolicyPublic Policy = "PUBLIC"
	// PolicyConfirmed admits only users with a confirmed email.
	PolicyConfirmed Policy = "CONFIRMED"
	// PolicyPrivate admits only the owner and invited users.
	PolicyPrivate Policy = "PRIVATE"
)

// ValidPolicy reports whether p is one of the three known policies.
func ValidPolicy(p Policy) bool {
	switch p {
	case PolicyPublic, PolicyConfirmed, PolicyPrivate:
		return true
	}
	return false
}

type Room struct {
	ID        RoomID    `json:"id"`
	Name      RoomName  `json:"name"`
	Policy    Policy    `json:"policy"`
	OwnerID   UserID    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	// Locked prevents more users from joining; current members stay.
	Locked bool `json:"locked"`
}

// NewRoom assigns a fresh random id. Callers must retry on id collision
// at the persistence layer; collisions are vanishingly rare.
func NewRoom(name RoomName, policy Policy, owner UserID) (*Room, error) {
	if name == "" {
		return nil, ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen {
		return nil, ErrRoomNameTooLong
	}
	return &Room{
		ID:        GenerateRoomID(),
		Name:      name,
		Policy:    policy,
		OwnerID:   owner,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// GenerateRoomID returns a room id composed of 10 random digits.
func GenerateRoomID() RoomID {
	b := make([]byte, roomIDDigits)
	for i := range b {
		b[i] = byte('0' + rand.Intn(10))
	}
	return RoomID(b)
}
