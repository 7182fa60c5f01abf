package rbac

import "testing"

func TestMatrixTruthTable(t *testing.T) {
	// contact[sender][recipient]
	contact := map[Role]map[Role]bool{
		RoleGod:           {RoleGod: false, RoleOwner: true, RoleAdministrator: true, RoleModerator: true, RoleChair: true, RoleDelegate: true},
		RoleOwner:         {RoleGod: true, RoleOwner: true, RoleAdministrator: true, RoleModerator: true, RoleChair: true, RoleDelegate: true},
		RoleAdministrator: {RoleGod: true, RoleOwner: true, RoleAdministrator: true, RoleModerator: true, RoleChair: true, RoleDelegate: true},
		RoleModerator:     {RoleGod: true, RoleOwner: true, RoleAdministrator: true, RoleModerator: true, RoleChair: true, RoleDelegate: true},
		RoleChair:         {RoleGod: true, RoleOwner: true, RoleAdministrator: true, RoleModerator: true, RoleChair: true, RoleDelegate: true},
		RoleDelegate:      {RoleGod: false, RoleOwner: true, RoleAdministrator: true, RoleModerator: true, RoleChair: true, RoleDelegate: false},
	}
	approval := map[Role]bool{
		RoleGod:           false,
		RoleOwner:         false,
		RoleAdministrator: true,
		RoleModerator:     false,
		RoleChair:         true,
		RoleDelegate:      true,
	}

	for _, sender := range Roles {
		for _, recipient := range Roles {
			sender, recipient := sender, recipient
			t.Run(string(sender)+"->"+string(recipient), func(t *testing.T) {
				if got, want := CanContact(sender, recipient), contact[sender][recipient]; got != want {
					t.Fatalf("CanContact(%q, %q) = %v, want %v", sender, recipient, got, want)
				}
				if got, want := RequiresApproval(sender, recipient), approval[sender]; got != want {
					t.Fatalf("RequiresApproval(%q, %q) = %v, want %v", sender, recipient, got, want)
				}
			})
		}
	}
}

func TestCanBeContacted(t *testing.T) {
	for _, role := range Roles {
		want := role != RoleGod
		if got := CanBeContacted(role); got != want {
			t.Fatalf("CanBeContacted(%q) = %v, want %v", role, got, want)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want Role
	}{
		{in: "Moderator", want: RoleModerator},
		{in: "  OWNER ", want: RoleOwner},
		{in: "GoD", want: RoleGod},
		{in: "superuser", want: RoleDelegate},
		{in: "", want: RoleDelegate},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if _, ok := Parse("superuser"); ok {
		t.Fatal("Parse accepted an unknown role")
	}
}

func TestUnknownRoleFallsBackToDelegate(t *testing.T) {
	if CanContact("superuser", RoleDelegate) {
		t.Fatal("unknown sender should not reach delegates")
	}
	if !RequiresApproval("superuser", RoleChair) {
		t.Fatal("unknown sender should require approval")
	}
	if !CanContact("CHAIR", "delegate") {
		t.Fatal("role lookups should ignore case")
	}
}

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "moderator moderates", role: RoleModerator, action: ActionModerate, allow: true},
		{name: "moderator sees filtered queue only", role: RoleModerator, action: ActionViewAllPending, allow: false},
		{name: "administrator sees all pending", role: RoleAdministrator, action: ActionViewAllPending, allow: true},
		{name: "chair cannot moderate", role: RoleChair, action: ActionModerate, allow: false},
		{name: "delegate lists participants", role: RoleDelegate, action: ActionListParticipants, allow: true},
		{name: "delegate cannot manage", role: RoleDelegate, action: ActionManageParticipants, allow: false},
		{name: "owner manages", role: RoleOwner, action: ActionManageParticipants, allow: true},
		{name: "administrator deletes any note", role: RoleAdministrator, action: ActionDeleteAnyNote, allow: true},
		{name: "moderator cannot delete others' notes", role: RoleModerator, action: ActionDeleteAnyNote, allow: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestCanManageRole(t *testing.T) {
	cases := []struct {
		actor, target Role
		allow         bool
	}{
		{actor: RoleGod, target: RoleGod, allow: true},
		{actor: RoleOwner, target: RoleGod, allow: false},
		{actor: RoleOwner, target: RoleOwner, allow: true},
		{actor: RoleAdministrator, target: RoleOwner, allow: false},
		{actor: RoleAdministrator, target: RoleDelegate, allow: true},
		{actor: RoleModerator, target: RoleDelegate, allow: false},
	}
	for _, tc := range cases {
		if got := CanManageRole(tc.actor, tc.target); got != tc.allow {
			t.Fatalf("CanManageRole(%q, %q) = %v, want %v", tc.actor, tc.target, got, tc.allow)
		}
	}
}
