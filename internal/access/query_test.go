package access

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore fails every call with err.
type failingStore struct {
	err error
}

func (s failingStore) Get(context.Context, Facility, Role, string) (PermissionEntry, error) {
	return PermissionEntry{}, s.err
}

func (s failingStore) GetByID(context.Context, uuid.UUID) (PermissionEntry, error) {
	return PermissionEntry{}, s.err
}

func (s failingStore) ListByFacility(context.Context, Facility) ([]PermissionEntry, error) {
	return nil, s.err
}

func (s failingStore) UpsertSeed(context.Context, Facility, Role, string) (PermissionEntry, error) {
	return PermissionEntry{}, s.err
}

func (s failingStore) SetEnabled(context.Context, uuid.UUID, bool) (PermissionEntry, error) {
	return PermissionEntry{}, s.err
}

func (s failingStore) SetEnabledBulk(context.Context, Facility, Role, bool) (int, error) {
	return 0, s.err
}

// slowListStore counts and delays ListByFacility calls.
type slowListStore struct {
	*MemoryStore
	calls   atomic.Int32
	release chan struct{}
}

func (s *slowListStore) ListByFacility(ctx context.Context, facility Facility) ([]PermissionEntry, error) {
	s.calls.Add(1)
	<-s.release
	return s.MemoryStore.ListByFacility(ctx, facility)
}

func TestIsEnabledAfterSeedForEveryTriple(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	query := NewQueryService(store)
	pages := []string{"tasks", "reports", "borrow-items"}
	for _, f := range Facilities() {
		for _, r := range GatedRoles() {
			for _, p := range pages {
				_, err := store.UpsertSeed(ctx, f, r, p)
				require.NoError(t, err)
				ok, err := query.IsEnabled(ctx, f, r, p)
				require.NoError(t, err)
				assert.True(t, ok, "%s/%s/%s", f, r, p)
			}
		}
	}
}

func TestIsEnabledUnknownPageIsFalseNotError(t *testing.T) {
	query := NewQueryService(NewMemoryStore())
	ok, err := query.IsEnabled(context.Background(), FacilityRCC, RoleAdmin, "never-seeded")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsEnabledInvalidScopeIsFalse(t *testing.T) {
	query := NewQueryService(failingStore{err: errors.New("must not be called")})
	ctx := context.Background()
	for _, tc := range []struct {
		f Facility
		r Role
		p string
	}{
		{"", RoleAdmin, "reports"},
		{"HQ", RoleAdmin, "reports"},
		{FacilityRCC, "janitor", "reports"},
		{FacilityRCC, RoleAdmin, " "},
	} {
		ok, err := query.IsEnabled(ctx, tc.f, tc.r, tc.p)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestIsEnabledSuperadminSkipsStore(t *testing.T) {
	query := NewQueryService(failingStore{err: errors.New("must not be called")})
	ok, err := query.IsEnabled(context.Background(), "", RoleSuperadmin, "anything")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsEnabledPropagatesStoreErrors(t *testing.T) {
	query := NewQueryService(failingStore{err: persistenceError("get entry", errors.New("timeout"))})
	ok, err := query.IsEnabled(context.Background(), FacilityRCC, RoleAdmin, "reports")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrPersistence))
}

func TestListRejectsUnknownFacility(t *testing.T) {
	query := NewQueryService(NewMemoryStore())
	_, err := query.List(context.Background(), "HQ")
	assert.True(t, errors.Is(err, ErrUnknownFacility))
}

func TestListReturnsIndependentCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.UpsertSeed(ctx, FacilityRCC, RoleGuest, "borrow-items")
	require.NoError(t, err)
	query := NewQueryService(store)

	first, err := query.List(ctx, FacilityRCC)
	require.NoError(t, err)
	first[0].IsEnabled = false

	second, err := query.List(ctx, FacilityRCC)
	require.NoError(t, err)
	assert.True(t, second[0].IsEnabled)
}

func TestListCoalescesConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	store := &slowListStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
	_, err := store.UpsertSeed(ctx, FacilityISC, RoleAdmin, "reports")
	require.NoError(t, err)
	query := NewQueryService(store)

	var wg sync.WaitGroup
	results := make([][]PermissionEntry, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries, err := query.List(ctx, FacilityISC)
			assert.NoError(t, err)
			results[i] = entries
		}(i)
	}
	require.Eventually(t, func() bool { return store.calls.Load() == 1 }, time.Second, time.Millisecond)
	// Give the remaining callers time to join the in-flight read.
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	wg.Wait()

	assert.Equal(t, int32(1), store.calls.Load())
	for _, entries := range results {
		require.Len(t, entries, 1)
		assert.Equal(t, "reports", entries[0].PageName)
	}
}

func TestListHonoursCallerCancellation(t *testing.T) {
	store := &slowListStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
	defer close(store.release)
	query := NewQueryService(store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := query.List(ctx, FacilityRCC)
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestEnabledPages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seeded := seedStore(t, store,
		triple(FacilityRCC, RoleHousekeeper, "tasks"),
		triple(FacilityRCC, RoleHousekeeper, "profile"),
		triple(FacilityRCC, RoleGuest, "tasks"),
	)
	_, err := store.SetEnabled(ctx, seeded["RCC/housekeeper/profile"].ID, false)
	require.NoError(t, err)

	pages, err := NewQueryService(store).EnabledPages(ctx, FacilityRCC, RoleHousekeeper)
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks"}, pages)

	pages, err = NewQueryService(store).EnabledPages(ctx, FacilityRCC, RoleSuperadmin)
	require.NoError(t, err)
	assert.Empty(t, pages)
}
