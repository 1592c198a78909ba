// Package identity resolves the user behind an incoming request. The
// account subsystem owns users; this only reads tokens it issued.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/chatterhq/chatter/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

// Resolver turns a request into a user identity. It never decides
// whether that identity may join anything.
type Resolver interface {
	Resolve(r *http.Request) (*domain.User, error)
}

type claims struct {
	jwt.RegisteredClaims
	Name           string `json:"name"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

// JWT resolves registered users from HS256 bearer tokens and falls back
// to a guest identity built from the `guest` query parameter. The guest
// username is not validated here; the access evaluator rejects bad ones
// with its own reason code.
type JWT struct {
	secret []byte
}

func NewJWT(secret string) *JWT {
	return &JWT{secret: []byte(secret)}
}

func (j *JWT) Resolve(r *http.Request) (*domain.User, error) {
	raw := bearerToken(r)
	if raw == "" {
		name := r.URL.Query().Get("guest")
		return &domain.User{
			ID:       domain.UserID(uuid.NewString()),
			Username: domain.GuestPrefix + name,
		}, nil
	}

	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &domain.User{
		ID:             domain.UserID(c.Subject),
		Username:       c.Name,
		EmailConfirmed: c.EmailConfirmed,
	}, nil
}

// Issue signs a token for user, valid for ttl. Used by tests and by
// the account subsystem's login path.
func (j *JWT) Issue(user *domain.User, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name:           user.Username,
		EmailConfirmed: user.EmailConfirmed,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(j.secret)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// Browser websocket clients cannot set headers on the upgrade.
	return r.URL.Query().Get("token")
}
