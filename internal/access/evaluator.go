// Package access decides whether a user may join a room. Evaluate is a
// pure function over a membership snapshot so it can be retried and
// tested without transport or storage in the picture.
package access

import "github.com/chatterhq/chatter/internal/domain"

// Reason codes for denied join attempts. Stable strings: the gateway
// sends them verbatim as close reasons.
type Reason string

const (
	ReasonRoomNotFound      Reason = "room_not_found"
	ReasonBadUsername       Reason = "bad_username"
	ReasonEmailNotConfirmed Reason = "email_not_confirmed"
	ReasonBanned            Reason = "banned"
	ReasonNotInvited        Reason = "not_invited"
	ReasonRoomLocked        Reason = "room_locked"
)

// View is a point-in-time snapshot of one room's membership state,
// assembled by the membership store.
type View struct {
	Room        *domain.Room
	Memberships map[domain.UserID]domain.Role
	Invitations map[domain.UserID]domain.Invitation
	Banned      map[domain.UserID]struct{}
}

// Decision is the evaluator verdict for one (user, room) pair.
type Decision struct {
	Admitted bool
	Role     domain.Role
	Reason   Reason
}

func admit(role domain.Role) Decision { return Decision{Admitted: true, Role: role} }
func deny(r Reason) Decision          { return Decision{Reason: r} }

// Evaluate checks user against the room in v. It never mutates v.
//
// Check order follows the original access rules: missing room, then
// username validity, then confirmation, then bans, then invitations,
// then the lock flag.
func Evaluate(user *domain.User, v View) Decision {
	if v.Room == nil {
		return deny(ReasonRoomNotFound)
	}
	if err := domain.ValidateUsername(user.Username); err != nil {
		return deny(ReasonBadUsername)
	}
	if v.Room.Policy == domain.PolicyConfirmed && !user.EmailConfirmed {
		return deny(ReasonEmailNotConfirmed)
	}
	if _, banned := v.Banned[user.ID]; banned {
		return deny(ReasonBanned)
	}
	owner := v.Room.OwnerID == user.ID
	if v.Room.Policy == domain.PolicyPrivate && !owner {
		inv, ok := v.Invitations[user.ID]
		if !ok || !inv.Admits() {
			return deny(ReasonNotInvited)
		}
	}
	role, member := v.Memberships[user.ID]
	if v.Room.Locked && !member && !owner {
		return deny(ReasonRoomLocked)
	}
	if owner {
		return admit(domain.RoleOwner)
	}
	if member {
		return admit(role)
	}
	return admit(domain.RoleMember)
}

// DenialError maps a deny reason onto the shared error taxonomy.
func DenialError(r Reason) error {
	switch r {
	case ReasonRoomNotFound:
		return domain.ErrRoomNotFound
	case ReasonBadUsername:
		return domain.ErrBadUsername
	case ReasonEmailNotConfirmed:
		return domain.ErrEmailNotConfirmed
	case ReasonBanned:
		return domain.ErrBanned
	case ReasonNotInvited:
		return domain.ErrNotInvited
	case ReasonRoomLocked:
		return domain.ErrRoomLocked
	}
	return domain.ErrForbidden
}
