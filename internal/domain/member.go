package domain

// Role is a user's standing inside one room.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleMember Role = "MEMBER"
)

// Membership ties a user to a room. Rows exist only for Private rooms;
// Public and Confirmed rooms treat any admitted user as a de-facto member.
type Membership struct {
	RoomID RoomID `json:"room_id"`
	UserID UserID `json:"user_id"`
	Role   Role   `json:"role"`
}
