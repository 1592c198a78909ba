package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/chatterhq/chatter/internal/core"
	"github.com/chatterhq/chatter/internal/domain"
)

type joinedFrame struct {
	Type     string `json:"type"`
	JoinedAs string `json:"joined_as"`
	Seq      uint64 `json:"seq"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type infoFrame struct {
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Policy       string   `json:"policy"`
	OwnerID      string   `json:"owner_id"`
	Participants []string `json:"participants"`
}

// inbound is the client frame shape. Type defaults to "message"; the
// room is bound at connection time, never per frame.
type inbound struct {
	Type     string `json:"type,omitempty"`
	Body     string `json:"body,omitempty"`
	Username string `json:"username,omitempty"`
}

func (g *Gateway) writePump(ctx context.Context, c *client) {
	ping := time.NewTicker(g.opts.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.shutdown(websocket.CloseGoingAway, "transport_failure")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				c.shutdown(websocket.CloseGoingAway, "transport_failure")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "gateway").Msg("writePump write error")
				c.shutdown(websocket.CloseGoingAway, "transport_failure")
				return
			}
		}
	}
}

func (g *Gateway) readPump(ctx context.Context, c *client, room *domain.Room) {
	defer c.shutdown(websocket.CloseNormalClosure, "closed")

	c.conn.SetReadLimit(g.opts.ReadLimit)
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Str("module", "gateway").Str("user", string(c.user.ID)).Msg("readPump read error")
				}
				return
			}
			g.handleFrame(ctx, c, room, data)
		}
	}
}

func (g *Gateway) handleFrame(ctx context.Context, c *client, room *domain.Room, data []byte) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		c.sendJSON(errorFrame{Type: "error", Error: "bad_payload"})
		return
	}
	switch in.Type {
	case "", "message":
		g.handleMessage(ctx, c, in.Body)
	case "info":
		g.handleInfo(c, room)
	case "kick":
		g.handleKick(c, in.Username)
	case "ban":
		g.handleBan(ctx, c, in.Username)
	default:
		log.Warn().Str("module", "gateway").Str("type", in.Type).Msg("unknown frame type")
		c.sendJSON(errorFrame{Type: "error", Error: "unknown_type"})
	}
}

func (g *Gateway) handleMessage(ctx context.Context, c *client, body string) {
	if err := domain.ValidateBody(body, g.opts.MaxMessageBytes); err != nil {
		if errors.Is(err, domain.ErrMessageTooLarge) {
			c.sendJSON(errorFrame{Type: "error", Error: "message_too_large"})
		} else {
			c.sendJSON(errorFrame{Type: "error", Error: "message_empty"})
		}
		return
	}
	if _, err := c.session.Publish(ctx, c.user, body); err != nil {
		c.sendJSON(errorFrame{Type: "error", Error: "room_closed"})
	}
}

func (g *Gateway) handleInfo(c *client, room *domain.Room) {
	users := c.session.Participants()
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	sort.Strings(names)
	c.sendJSON(infoFrame{
		Type:         "info",
		Name:         string(room.Name),
		Policy:       string(room.Policy),
		OwnerID:      string(room.OwnerID),
		Participants: names,
	})
}

func (g *Gateway) handleKick(c *client, username string) {
	if c.role != domain.RoleOwner || username == "" {
		c.sendJSON(errorFrame{Type: "error", Error: "forbidden"})
		return
	}
	n := c.session.KickUser(username, core.KickReasonKicked)
	log.Info().Str("module", "gateway").Str("room", string(c.roomID)).
		Str("target", username).Int("connections", n).Msg("user kicked")
}

func (g *Gateway) handleBan(ctx context.Context, c *client, username string) {
	if c.role != domain.RoleOwner || username == "" {
		c.sendJSON(errorFrame{Type: "error", Error: "forbidden"})
		return
	}
	// Usernames only resolve to durable ids while the user is connected;
	// banning someone offline goes through the management API by user id.
	target := c.session.FindParticipant(username)
	if target == nil {
		c.sendJSON(errorFrame{Type: "error", Error: "user_not_connected"})
		return
	}
	// Guests have no durable identity to ban; they only get kicked.
	if !target.IsGuest() {
		if err := g.store.Ban(ctx, c.roomID, c.user.ID, target.ID); err != nil {
			log.Error().Err(err).Str("module", "gateway").Str("room", string(c.roomID)).
				Str("target", username).Msg("persist ban")
			c.sendJSON(errorFrame{Type: "error", Error: "storage_unavailable"})
			return
		}
	}
	n := c.session.KickUser(username, core.KickReasonBanned)
	log.Info().Str("module", "gateway").Str("room", string(c.roomID)).
		Str("target", username).Int("connections", n).Msg("user banned")
}

func (c *client) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "gateway").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

// writeJSON writes v to the socket directly. Only valid before the
// pumps start; afterwards all writes go through the send channel.
func (c *client) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}
