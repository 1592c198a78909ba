package domain

import "time"

// InviteStatus tracks an invitation through its lifecycle.
type InviteStatus string

const (
	InvitePending  InviteStatus = "PENDING"
	InviteAccepted InviteStatus = "ACCEPTED"
	InviteRevoked  InviteStatus = "REVOKED"
)

// Invitation grants a user access to a Private room. A Pending invitation
// already admits; it flips to Accepted on the first successful join.
type Invitation struct {
	RoomID    RoomID       `json:"room_id"`
	InviteeID UserID       `json:"invitee_id"`
	InviterID UserID       `json:"inviter_id"`
	Status    InviteStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// Admits reports whether this invitation currently grants access.
func (i Invitation) Admits() bool {
	return i.Status == InviteAccepted || i.Status == InvitePending
}
