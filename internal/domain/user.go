// Package domain contains entities without logic, just meta-data
// and the invariant checks that belong to them.
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxUsernameLen = 36

	// GuestPrefix marks identities that were never registered.
	// Registered usernames must not start with it.
	GuestPrefix = "guest_"
)

var (
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUsernameTooLong = errors.New("username too long")
	ErrBadUsername     = errors.New("bad username")
)

type UserID string

type User struct {
	ID             UserID `json:"id"`
	Username       string `json:"username"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(username string, confirmed bool) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	return &User{ID: UserID(uuid.NewString()), Username: username, EmailConfirmed: confirmed}, nil
}

// NewGuest builds an anonymous identity from a raw name.
// Guests are never email-confirmed.
func NewGuest(name string) (*User, error) {
	username := GuestPrefix + name
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	return &User{ID: UserID(uuid.NewString()), Username: username}, nil
}

// IsGuest reports whether u carries a guest identity.
func (u *User) IsGuest() bool {
	return strings.HasPrefix(u.Username, GuestPrefix)
}

// ValidateUsername enforces the slug rules shared by guests and
// registered accounts: non-empty, bounded, letters/digits/-/_ only.
func ValidateUsername(name string) error {
	if name == "" || name == GuestPrefix {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return ErrBadUsername
		}
	}
	return nil
}
