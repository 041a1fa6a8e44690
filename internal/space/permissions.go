package space

import "strings"

// Permissions is the closed capability set a delegate can hold over a space.
// The bitmask representation is internal; callers go through Contains,
// ContainsAny and Union.
type Permissions uint32

const (
	// PermissionAssert allows anchoring metered entries against the space.
	PermissionAssert Permissions = 1 << iota
	// PermissionDelegate allows granting PermissionAssert to others.
	PermissionDelegate
	// PermissionAdmin allows space administration, including delegate
	// management and archival.
	PermissionAdmin
)

// AllPermissions returns the full capability set granted to a space creator.
func AllPermissions() Permissions {
	return PermissionAssert | PermissionDelegate | PermissionAdmin
}

// Contains reports whether every capability in required is present.
func (p Permissions) Contains(required Permissions) bool {
	return p&required == required
}

// ContainsAny reports whether at least one capability in candidates is
// present. Used by authorization profiles that accept alternatives, such as
// delegate-or-admin.
func (p Permissions) ContainsAny(candidates Permissions) bool {
	return p&candidates != 0
}

// Union combines two capability sets.
func (p Permissions) Union(other Permissions) Permissions {
	return p | other
}

func (p Permissions) String() string {
	if p == 0 {
		return "none"
	}
	var parts []string
	if p.Contains(PermissionAssert) {
		parts = append(parts, "assert")
	}
	if p.Contains(PermissionDelegate) {
		parts = append(parts, "delegate")
	}
	if p.Contains(PermissionAdmin) {
		parts = append(parts, "admin")
	}
	return strings.Join(parts, "|")
}
