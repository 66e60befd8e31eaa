package access

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"
)

// QueryService answers permission questions from the Store. It never keeps
// results beyond a single call.
type QueryService struct {
	store Store
	group singleflight.Group
}

// NewQueryService constructs a QueryService over store.
func NewQueryService(store Store) *QueryService {
	return &QueryService{store: store}
}

// IsEnabled reports whether page is enabled for (facility, role). Missing
// entries and unknown scopes are disabled. Superadmin is always enabled.
func (s *QueryService) IsEnabled(ctx context.Context, facility Facility, role Role, page string) (bool, error) {
	if role == RoleSuperadmin {
		return true, nil
	}
	page = NormalizePage(page)
	if !facility.Valid() || !role.Gated() || page == "" {
		return false, nil
	}
	entry, err := s.store.Get(ctx, facility, role, page)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return entry.IsEnabled, nil
}

// List returns every entry of facility grouped by role. Concurrent identical
// calls share one store read.
func (s *QueryService) List(ctx context.Context, facility Facility) ([]PermissionEntry, error) {
	if !facility.Valid() {
		return nil, ErrUnknownFacility
	}
	resultCh := s.group.DoChan("list:"+string(facility), func() (interface{}, error) {
		return s.store.ListByFacility(context.WithoutCancel(ctx), facility)
	})
	select {
	case <-ctx.Done():
		return nil, persistenceError("list entries", ctx.Err())
	case res := <-resultCh:
		if res.Err != nil {
			return nil, res.Err
		}
		shared := res.Val.([]PermissionEntry)
		entries := make([]PermissionEntry, len(shared))
		copy(entries, shared)
		return entries, nil
	}
}

// EnabledPages lists the pages enabled for (facility, role) in page order.
func (s *QueryService) EnabledPages(ctx context.Context, facility Facility, role Role) ([]string, error) {
	if !facility.Valid() || !role.Gated() {
		return []string{}, nil
	}
	entries, err := s.List(ctx, facility)
	if err != nil {
		return nil, err
	}
	pages := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Role == role && entry.IsEnabled {
			pages = append(pages, entry.PageName)
		}
	}
	return pages, nil
}
