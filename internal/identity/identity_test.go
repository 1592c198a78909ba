package identity

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatterhq/chatter/internal/domain"
)

func TestJWT_Issue_And_Resolve(t *testing.T) {
	req := require.New(t)
	j := NewJWT("sekret")
	user := &domain.User{ID: "u1", Username: "alice", EmailConfirmed: true}

	token, err := j.Issue(user, time.Hour)
	req.NoError(err)

	r := httptest.NewRequest("GET", "/api/ws/rooms/123", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	got, err := j.Resolve(r)
	req.NoError(err)
	req.Equal(user.ID, got.ID)
	req.Equal("alice", got.Username)
	req.True(got.EmailConfirmed)
}

func TestJWT_Resolve_From_Query_Param(t *testing.T) {
	req := require.New(t)
	j := NewJWT("sekret")
	token, err := j.Issue(&domain.User{ID: "u1", Username: "alice"}, time.Hour)
	req.NoError(err)

	r := httptest.NewRequest("GET", "/api/ws/rooms/123?token="+token, nil)
	got, err := j.Resolve(r)
	req.NoError(err)
	req.Equal(domain.UserID("u1"), got.ID)
}

func TestJWT_Guest_Fallback(t *testing.T) {
	req := require.New(t)
	j := NewJWT("sekret")

	r := httptest.NewRequest("GET", "/api/ws/rooms/123?guest=visitor", nil)
	got, err := j.Resolve(r)
	req.NoError(err)
	req.Equal("guest_visitor", got.Username)
	req.True(got.IsGuest())
	req.False(got.EmailConfirmed)
}

func TestJWT_Rejects_Foreign_Signature(t *testing.T) {
	req := require.New(t)
	token, err := NewJWT("other-secret").Issue(&domain.User{ID: "u1", Username: "mallory"}, time.Hour)
	req.NoError(err)

	r := httptest.NewRequest("GET", "/api/ws/rooms/123?token="+token, nil)
	_, err = NewJWT("sekret").Resolve(r)
	req.ErrorIs(err, ErrInvalidToken)
}

func TestJWT_Rejects_Expired_Token(t *testing.T) {
	req := require.New(t)
	j := NewJWT("sekret")
	token, err := j.Issue(&domain.User{ID: "u1", Username: "alice"}, -time.Minute)
	req.NoError(err)

	r := httptest.NewRequest("GET", "/api/ws/rooms/123?token="+token, nil)
	_, err = j.Resolve(r)
	req.ErrorIs(err, ErrInvalidToken)
}
