package shared

import "fmt"

// PermissionEntryLockKey builds lock keys for single-entry critical sections.
func PermissionEntryLockKey(entryID string) string {
	return fmt.Sprintf("permissions:entry:%s:lock", entryID)
}

// PermissionScopeLockKey builds lock keys for (facility, role) bulk updates.
func PermissionScopeLockKey(facility, role string) string {
	return fmt.Sprintf("permissions:scope:%s:%s:lock", facility, role)
}
