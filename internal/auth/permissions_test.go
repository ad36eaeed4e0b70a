package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleUser, PermDeviceOperate, true},
		{RoleUser, PermAuditRead, false},
		{RoleUser, PermSystemRead, false},
		{RoleOperator, PermDeviceOperate, true},
		{RoleOperator, PermDeviceProvision, false},
		{RoleAdmin, PermDeviceProvision, true},
		{RoleAdmin, PermAuditRead, true},
		{"ghost", PermDeviceRead, false},
	}

	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestCanAccessDevice(t *testing.T) {
	tests := []struct {
		name    string
		role    Role
		userID  string
		ownerID string
		want    bool
	}{
		{"user owns lock", RoleUser, "usr-1", "usr-1", true},
		{"user foreign lock", RoleUser, "usr-1", "usr-2", false},
		{"user unowned lock", RoleUser, "usr-1", "", false},
		{"operator any lock", RoleOperator, "usr-9", "usr-2", true},
		{"admin unowned lock", RoleAdmin, "usr-9", "", true},
		{"unknown role", "ghost", "usr-1", "usr-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanAccessDevice(tt.role, tt.userID, tt.ownerID); got != tt.want {
				t.Errorf("CanAccessDevice() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPermissionsForRole_ReturnsCopy(t *testing.T) {
	perms := PermissionsForRole(RoleUser)
	perms[0] = PermUserManage
	if HasPermission(RoleUser, PermUserManage) {
		t.Error("mutating the returned slice changed the role mapping")
	}
	if PermissionsForRole("ghost") != nil {
		t.Error("unknown role should have no permissions")
	}
}
