package access

import (
	"context"

	"github.com/google/uuid"
)

// Store is the single source of truth for permission entries.
//
// Implementations must make SetEnabledBulk atomic relative to readers: a
// concurrent ListByFacility or Get observes either every entry of the
// (facility, role) scope updated or none of them. I/O failures are reported
// wrapped in ErrPersistence.
type Store interface {
	Get(ctx context.Context, facility Facility, role Role, page string) (PermissionEntry, error)
	GetByID(ctx context.Context, id uuid.UUID) (PermissionEntry, error)
	ListByFacility(ctx context.Context, facility Facility) ([]PermissionEntry, error)
	UpsertSeed(ctx context.Context, facility Facility, role Role, page string) (PermissionEntry, error)
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) (PermissionEntry, error)
	SetEnabledBulk(ctx context.Context, facility Facility, role Role, enabled bool) (int, error)
}
