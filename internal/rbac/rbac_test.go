package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "general moderate", role: RoleGeneral, action: ActionModerate, allow: true},
		{name: "general assign", role: RoleGeneral, action: ActionAssign, allow: false},
		{name: "general administer", role: RoleGeneral, action: ActionAdminister, allow: false},
		{name: "service assign", role: RoleService, action: ActionAssign, allow: true},
		{name: "service administer", role: RoleService, action: ActionAdminister, allow: false},
		{name: "admin administer", role: RoleAdmin, action: ActionAdminister, allow: true},
		{name: "unknown moderate", role: Role("youtube"), action: ActionModerate, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalizeFallsBackToGeneral(t *testing.T) {
	if got := Normalize("admin"); got != RoleAdmin {
		t.Fatalf("Normalize(admin) = %q", got)
	}
	if got := Normalize(""); got != RoleGeneral {
		t.Fatalf("Normalize(\"\") = %q, want general", got)
	}
	if got := Normalize("superuser"); got != RoleGeneral {
		t.Fatalf("Normalize(superuser) = %q, want general", got)
	}
}
