package auth

import (
	"encoding/json"
	"testing"
)

func TestRoleRanksAreOrdered(t *testing.T) {
	for i := 1; i < len(Roles); i++ {
		if Roles[i].Rank() <= Roles[i-1].Rank() {
			t.Fatalf("rank of %s must exceed %s", Roles[i], Roles[i-1])
		}
	}
}

func TestShippedTiersAreSupersets(t *testing.T) {
	// Property of the shipped table only; the engine never assumes it.
	for i := 1; i < len(Roles); i++ {
		lower := PermissionsFor(Roles[i-1])
		higher := PermissionsFor(Roles[i])
		for _, p := range lower {
			if !permissionSetContains(higher, p) {
				t.Fatalf("%s is missing %s held by lower tier %s", Roles[i], p, Roles[i-1])
			}
		}
	}
}

func TestPermissionsForReturnsCopies(t *testing.T) {
	a := PermissionsFor(RoleViewer)
	a[0] = "mutated"
	b := PermissionsFor(RoleViewer)
	if b[0] == "mutated" {
		t.Fatal("PermissionsFor must not share backing arrays")
	}
}

func TestHasRoleAtLeastIsMonotonic(t *testing.T) {
	u := User{Role: RoleManager}
	for _, r := range Roles {
		got := u.HasRoleAtLeast(r)
		want := r.Rank() <= RoleManager.Rank()
		if got != want {
			t.Fatalf("HasRoleAtLeast(%s) = %v, want %v", r, got, want)
		}
	}
}

func TestHasPermissionMatchesRoleTable(t *testing.T) {
	all := []Permission{
		PermDataRead, PermDataWrite, PermDataDelete, PermDataExport,
		PermViewAnalytics, PermRunPredictions, PermManageUsers,
		PermManageRoles, PermManageSystem, PermViewAudit,
		PermGrantsRead, PermGrantsWrite,
	}
	for _, r := range Roles {
		u := User{Role: r, Permissions: PermissionsFor(r)}
		for _, p := range all {
			if u.HasPermission(p) != permissionSetContains(rolePermissions(r), p) {
				t.Fatalf("role %s: HasPermission(%s) disagrees with table", r, p)
			}
		}
	}
}

func TestParseRoleRoundTrip(t *testing.T) {
	for _, r := range Roles {
		parsed, err := ParseRole(r.String())
		if err != nil {
			t.Fatalf("ParseRole(%s): %v", r, err)
		}
		if parsed != r {
			t.Fatalf("round trip failed for %s", r)
		}
	}
	if _, err := ParseRole("intern"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestRoleJSON(t *testing.T) {
	data, err := json.Marshal(RoleAnalyst)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"analyst"` {
		t.Fatalf("unexpected encoding: %s", data)
	}
	var r Role
	if err := json.Unmarshal([]byte(`"admin"`), &r); err != nil || r != RoleAdmin {
		t.Fatalf("unmarshal: %v %v", r, err)
	}
	if _, err := json.Marshal(Role(42)); err == nil {
		t.Fatal("expected error encoding invalid role")
	}
}
