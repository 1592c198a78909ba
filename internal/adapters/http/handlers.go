package http

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/chatterhq/chatter/internal/core"
	"github.com/chatterhq/chatter/internal/domain"
	"github.com/chatterhq/chatter/internal/identity"
	"github.com/chatterhq/chatter/internal/store"
)

// Handlers is the room-management write surface. Every mutation runs
// through the membership store, which serializes it per room.
type Handlers struct {
	Store    *store.Store
	Registry *core.Registry
	Resolver identity.Resolver
}

type createRoomRequest struct {
	Name   string `json:"name" binding:"required,max=200"`
	Policy string `json:"policy" binding:"required,oneof=PUBLIC CONFIRMED PRIVATE"`
}

type userRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type lockRequest struct {
	Locked *bool `json:"locked" binding:"required"`
}

// caller resolves the authenticated user; guests cannot manage rooms.
func (h *Handlers) caller(c *gin.Context) (*domain.User, bool) {
	user, err := h.Resolver.Resolve(c.Request)
	if err != nil || user.IsGuest() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return nil, false
	}
	return user, true
}

func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case errors.Is(err, domain.ErrPolicyMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": "policy mismatch"})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, domain.ErrNotInvited):
		c.JSON(http.StatusNotFound, gin.H{"error": "no invitation"})
	case errors.Is(err, domain.ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func (h *Handlers) CreateRoom(c *gin.Context) {
	user, ok := h.caller(c)
	if !ok {
		return
	}
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid fields"})
		return
	}
	room, err := h.Store.CreateRoom(c.Request.Context(), user.ID, domain.RoomName(req.Name), domain.Policy(req.Policy))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *Handlers) RoomInfo(c *gin.Context) {
	roomID := domain.RoomID(c.Param("room"))
	room, err := h.Store.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		fail(c, err)
		return
	}
	var participants []string
	if s := h.Registry.Peek(roomID); s != nil {
		for _, u := range s.Participants() {
			participants = append(participants, u.Username)
		}
		sort.Strings(participants)
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "participants": participants})
}

func (h *Handlers) Invite(c *gin.Context) {
	user, ok := h.caller(c)
	if !ok {
		return
	}
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid fields"})
		return
	}
	roomID := domain.RoomID(c.Param("room"))
	inv, err := h.Store.Invite(c.Request.Context(), roomID, user.ID, domain.UserID(req.UserID))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h *Handlers) Revoke(c *gin.Context) {
	user, ok := h.caller(c)
	if !ok {
		return
	}
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid fields"})
		return
	}
	roomID := domain.RoomID(c.Param("room"))
	if err := h.Store.Revoke(c.Request.Context(), roomID, user.ID, domain.UserID(req.UserID)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) Accept(c *gin.Context) {
	user, ok := h.caller(c)
	if !ok {
		return
	}
	roomID := domain.RoomID(c.Param("room"))
	if err := h.Store.Accept(c.Request.Context(), roomID, user.ID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) Ban(c *gin.Context) {
	user, ok := h.caller(c)
	if !ok {
		return
	}
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid fields"})
		return
	}
	roomID := domain.RoomID(c.Param("room"))
	target := domain.UserID(req.UserID)
	if err := h.Store.Ban(c.Request.Context(), roomID, user.ID, target); err != nil {
		fail(c, err)
		return
	}
	// Live connections of the banned user go away immediately.
	if s := h.Registry.Peek(roomID); s != nil {
		for _, u := range s.Participants() {
			if u.ID == target {
				s.KickUser(u.Username, core.KickReasonBanned)
				break
			}
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) Lock(c *gin.Context) {
	user, ok := h.caller(c)
	if !ok {
		return
	}
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid fields"})
		return
	}
	roomID := domain.RoomID(c.Param("room"))
	if err := h.Store.SetLocked(c.Request.Context(), roomID, user.ID, *req.Locked); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
