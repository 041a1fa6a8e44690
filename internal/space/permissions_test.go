package space

import "testing"

func TestPermissionsContains(t *testing.T) {
	all := AllPermissions()
	if !all.Contains(PermissionAssert) || !all.Contains(PermissionDelegate) || !all.Contains(PermissionAdmin) {
		t.Fatal("full set should contain every capability")
	}
	if PermissionAssert.Contains(PermissionAdmin) {
		t.Fatal("assert must not imply admin")
	}
	if !PermissionAssert.Union(PermissionAdmin).Contains(PermissionAdmin) {
		t.Fatal("union lost a capability")
	}
}

func TestPermissionsContainsAny(t *testing.T) {
	delegatorGate := PermissionDelegate.Union(PermissionAdmin)
	if !PermissionAdmin.ContainsAny(delegatorGate) {
		t.Fatal("admin should pass the delegate-or-admin gate")
	}
	if !PermissionDelegate.ContainsAny(delegatorGate) {
		t.Fatal("delegate should pass the delegate-or-admin gate")
	}
	if PermissionAssert.ContainsAny(delegatorGate) {
		t.Fatal("assert alone must not pass the delegate-or-admin gate")
	}
}

func TestPermissionsString(t *testing.T) {
	if got := AllPermissions().String(); got != "assert|delegate|admin" {
		t.Fatalf("unexpected rendering: %s", got)
	}
	if got := Permissions(0).String(); got != "none" {
		t.Fatalf("unexpected rendering: %s", got)
	}
}
