package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/chatterhq/chatter/internal/core"
	"github.com/chatterhq/chatter/internal/domain"
	"github.com/chatterhq/chatter/internal/identity"
	"github.com/chatterhq/chatter/internal/storage"
	"github.com/chatterhq/chatter/internal/store"
)

type apiHarness struct {
	router *gin.Engine
	tokens *identity.JWT
	store  *store.Store
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := storage.NewMemory()
	membership := store.New(repo)
	registry := core.NewRegistry(repo, nil, nil, nil, 16, time.Second)
	tokens := identity.NewJWT("test-secret")
	h := &Handlers{Store: membership, Registry: registry, Resolver: tokens}

	r := gin.New()
	api := r.Group("/api")
	api.POST("/rooms", h.CreateRoom)
	api.GET("/rooms/:room", h.RoomInfo)
	api.POST("/rooms/:room/invite", h.Invite)
	api.POST("/rooms/:room/revoke", h.Revoke)
	api.POST("/rooms/:room/accept", h.Accept)
	api.POST("/rooms/:room/ban", h.Ban)
	api.POST("/rooms/:room/lock", h.Lock)
	return &apiHarness{router: r, tokens: tokens, store: membership}
}

func (h *apiHarness) do(t *testing.T, method, path string, user *domain.User, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if user != nil {
		token, err := h.tokens.Issue(user, time.Hour)
		require.NoError(t, err)
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, r)
	return w
}

func TestAPI_CreateRoom(t *testing.T) {
	req := require.New(t)
	h := newAPIHarness(t)
	anna := &domain.User{ID: "a", Username: "anna", EmailConfirmed: true}

	w := h.do(t, "POST", "/api/rooms", anna, gin.H{"name": "den", "policy": "PRIVATE"})
	req.Equal(http.StatusCreated, w.Code)

	var room domain.Room
	req.NoError(json.Unmarshal(w.Body.Bytes(), &room))
	req.Equal(domain.PolicyPrivate, room.Policy)
	req.Equal(domain.UserID("a"), room.OwnerID)
}

func TestAPI_CreateRoom_Rejects_Guests_And_Bad_Policy(t *testing.T) {
	req := require.New(t)
	h := newAPIHarness(t)

	w := h.do(t, "POST", "/api/rooms", nil, gin.H{"name": "den", "policy": "PRIVATE"})
	req.Equal(http.StatusUnauthorized, w.Code)

	anna := &domain.User{ID: "a", Username: "anna"}
	w = h.do(t, "POST", "/api/rooms", anna, gin.H{"name": "den", "policy": "VIP"})
	req.Equal(http.StatusBadRequest, w.Code)
}

func TestAPI_Invite_Flow(t *testing.T) {
	req := require.New(t)
	h := newAPIHarness(t)
	anna := &domain.User{ID: "a", Username: "anna"}
	bianca := &domain.User{ID: "b", Username: "bianca"}

	w := h.do(t, "POST", "/api/rooms", anna, gin.H{"name": "den", "policy": "PRIVATE"})
	req.Equal(http.StatusCreated, w.Code)
	var room domain.Room
	req.NoError(json.Unmarshal(w.Body.Bytes(), &room))
	path := "/api/rooms/" + string(room.ID)

	// Invite, then the invitee accepts
	w = h.do(t, "POST", path+"/invite", anna, gin.H{"user_id": "b"})
	req.Equal(http.StatusCreated, w.Code)
	w = h.do(t, "POST", path+"/accept", bianca, nil)
	req.Equal(http.StatusNoContent, w.Code)

	// Revoking afterwards removes access again
	w = h.do(t, "POST", path+"/revoke", anna, gin.H{"user_id": "b"})
	req.Equal(http.StatusNoContent, w.Code)
	w = h.do(t, "POST", path+"/accept", bianca, nil)
	req.Equal(http.StatusNotFound, w.Code)
}

func TestAPI_Invite_Into_Public_Room_Conflicts(t *testing.T) {
	req := require.New(t)
	h := newAPIHarness(t)
	anna := &domain.User{ID: "a", Username: "anna"}

	w := h.do(t, "POST", "/api/rooms", anna, gin.H{"name": "lobby", "policy": "PUBLIC"})
	var room domain.Room
	req.NoError(json.Unmarshal(w.Body.Bytes(), &room))

	w = h.do(t, "POST", "/api/rooms/"+string(room.ID)+"/invite", anna, gin.H{"user_id": "b"})
	req.Equal(http.StatusConflict, w.Code)
}

func TestAPI_Ban_And_Lock_Require_Owner(t *testing.T) {
	req := require.New(t)
	h := newAPIHarness(t)
	anna := &domain.User{ID: "a", Username: "anna"}
	mallory := &domain.User{ID: "m", Username: "mallory"}

	w := h.do(t, "POST", "/api/rooms", anna, gin.H{"name": "lobby", "policy": "PUBLIC"})
	var room domain.Room
	req.NoError(json.Unmarshal(w.Body.Bytes(), &room))
	path := "/api/rooms/" + string(room.ID)

	w = h.do(t, "POST", path+"/ban", mallory, gin.H{"user_id": "a"})
	req.Equal(http.StatusForbidden, w.Code)
	w = h.do(t, "POST", path+"/lock", mallory, gin.H{"locked": true})
	req.Equal(http.StatusForbidden, w.Code)

	w = h.do(t, "POST", path+"/ban", anna, gin.H{"user_id": "m"})
	req.Equal(http.StatusNoContent, w.Code)
	w = h.do(t, "POST", path+"/lock", anna, gin.H{"locked": true})
	req.Equal(http.StatusNoContent, w.Code)
}

func TestAPI_RoomInfo(t *testing.T) {
	req := require.New(t)
	h := newAPIHarness(t)
	anna := &domain.User{ID: "a", Username: "anna"}

	w := h.do(t, "POST", "/api/rooms", anna, gin.H{"name": "lobby", "policy": "PUBLIC"})
	var room domain.Room
	req.NoError(json.Unmarshal(w.Body.Bytes(), &room))

	w = h.do(t, "GET", "/api/rooms/"+string(room.ID), nil, nil)
	req.Equal(http.StatusOK, w.Code)

	w = h.do(t, "GET", "/api/rooms/0000000000", nil, nil)
	req.Equal(http.StatusNotFound, w.Code)
}
