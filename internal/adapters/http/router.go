// Package http wires the gin router: the websocket endpoint plus the
// room-management REST surface.
package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chatterhq/chatter/internal/config"
	"github.com/chatterhq/chatter/internal/gateway"
)

// ClientTokenMiddleware tags every browser with a stable token cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, h *Handlers, gw *gateway.Gateway) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ChatterSessions", store))
	r.Use(ClientTokenMiddleware())

	api := r.Group("/api")

	api.POST("/rooms", h.CreateRoom)
	api.GET("/rooms/:room", h.RoomInfo)
	api.POST("/rooms/:room/invite", h.Invite)
	api.POST("/rooms/:room/revoke", h.Revoke)
	api.POST("/rooms/:room/accept", h.Accept)
	api.POST("/rooms/:room/ban", h.Ban)
	api.POST("/rooms/:room/lock", h.Lock)

	api.GET("/ws/rooms/:room", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("room", c.Param("room")).
			Str("sid", c.GetString("client_token")).Msg("ws endpoint hit")
		gw.Handle(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
