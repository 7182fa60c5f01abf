// Package rbac holds the conference role hierarchy and the single static
// permission matrix that every handler and service consults.
package rbac

import "strings"

type Role string
type Action string

const (
	RoleGod           Role = "god"
	RoleOwner         Role = "owner"
	RoleAdministrator Role = "administrator"
	RoleModerator     Role = "moderator"
	RoleChair         Role = "chair"
	RoleDelegate      Role = "delegate"
)

const (
	ActionModerate           Action = "moderate"
	ActionViewAllPending     Action = "view_all_pending"
	ActionListParticipants   Action = "list_participants"
	ActionManageParticipants Action = "manage_participants"
	ActionDeleteAnyNote      Action = "delete_any_note"
)

// Roles lists every role, most privileged first.
var Roles = []Role{RoleGod, RoleOwner, RoleAdministrator, RoleModerator, RoleChair, RoleDelegate}

type policy struct {
	contacts         map[Role]bool
	requiresApproval bool
	contactable      bool
}

func all(except ...Role) map[Role]bool {
	out := make(map[Role]bool, len(Roles))
	for _, role := range Roles {
		out[role] = true
	}
	for _, role := range except {
		out[role] = false
	}
	return out
}

// Every row enumerates all six recipients explicitly; a missing entry would
// read as false, so the rows are built from the full role list.
var matrix = map[Role]policy{
	RoleGod: {
		contacts:         all(RoleGod),
		requiresApproval: false,
		contactable:      false,
	},
	RoleOwner: {
		contacts:         all(),
		requiresApproval: false,
		contactable:      true,
	},
	RoleAdministrator: {
		contacts:         all(),
		requiresApproval: true,
		contactable:      true,
	},
	RoleModerator: {
		contacts:         all(),
		requiresApproval: false,
		contactable:      true,
	},
	RoleChair: {
		contacts:         all(),
		requiresApproval: true,
		contactable:      true,
	},
	RoleDelegate: {
		contacts:         all(RoleGod, RoleDelegate),
		requiresApproval: true,
		contactable:      true,
	},
}

// Parse reports whether value names a known role, ignoring case and
// surrounding whitespace.
func Parse(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := matrix[role]; !ok {
		return "", false
	}
	return role, true
}

// Normalize maps a role string onto the enumeration. Unknown values fall back
// to delegate, the most restricted role.
func Normalize(value string) Role {
	if role, ok := Parse(value); ok {
		return role
	}
	return RoleDelegate
}

func lookup(role Role) policy {
	return matrix[Normalize(string(role))]
}

// CanContact reports whether the matrix lets sender start a note addressed to
// recipient. It does not apply CanBeContacted; callers creating notes check
// both.
func CanContact(sender, recipient Role) bool {
	return lookup(sender).contacts[Normalize(string(recipient))]
}

// RequiresApproval reports whether a note from sender to recipient has to pass
// moderation before delivery. Approval depends only on the sending role.
func RequiresApproval(sender, recipient Role) bool {
	return lookup(sender).requiresApproval
}

func CanBeContacted(role Role) bool {
	return lookup(role).contactable
}

// Can gates the management actions that sit beside the messaging matrix.
func Can(role Role, action Action) bool {
	switch Normalize(string(role)) {
	case RoleGod, RoleOwner, RoleAdministrator:
		return true
	case RoleModerator:
		return action == ActionModerate || action == ActionListParticipants
	case RoleChair, RoleDelegate:
		return action == ActionListParticipants
	default:
		return false
	}
}

// CanManageRole reports whether actor may add, change or remove a participant
// holding target. God records are only touched by god, owners only by god or
// another owner.
func CanManageRole(actor, target Role) bool {
	actor = Normalize(string(actor))
	if !Can(actor, ActionManageParticipants) {
		return false
	}
	switch Normalize(string(target)) {
	case RoleGod:
		return actor == RoleGod
	case RoleOwner:
		return actor == RoleGod || actor == RoleOwner
	default:
		return true
	}
}
