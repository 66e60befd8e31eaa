package access

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facilityops/housekeeping/internal/shared"
)

var superadmin = Claims{Subject: "root", Role: RoleSuperadmin}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []ChangeEvent
	err    error
}

func (b *recordingBroadcaster) Publish(_ context.Context, event ChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return b.err
}

func (b *recordingBroadcaster) Events() []ChangeEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ChangeEvent, len(b.events))
	copy(out, b.events)
	return out
}

type countingObserver struct {
	mu     sync.Mutex
	ok     map[string]int
	failed map[string]int
}

func (o *countingObserver) ObserveMutation(op string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ok == nil {
		o.ok, o.failed = map[string]int{}, map[string]int{}
	}
	if err != nil {
		o.failed[op]++
		return
	}
	o.ok[op]++
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string) (func(), error) {
	return nil, errors.New("lock backend down")
}

func newMutationFixture(t *testing.T, store Store) (*MutationService, *recordingBroadcaster, *shared.MemoryAuditLogger, *countingObserver) {
	t.Helper()
	events := &recordingBroadcaster{}
	audit := shared.NewMemoryAuditLogger()
	observer := &countingObserver{}
	svc := NewMutationService(MutationConfig{
		Store:       store,
		Broadcaster: events,
		Audit:       audit,
		Observer:    observer,
	})
	return svc, events, audit, observer
}

func TestToggleTwiceRestoresOriginal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seeded := seedStore(t, store,
		triple(FacilityRCC, RoleAdmin, "reports"),
		triple(FacilityISC, RoleGuest, "borrow-items"),
	)
	_, err := store.SetEnabled(ctx, seeded["ISC/guest/borrow-items"].ID, false)
	require.NoError(t, err)
	svc, _, _, _ := newMutationFixture(t, store)

	for _, entry := range seeded {
		original, err := store.GetByID(ctx, entry.ID)
		require.NoError(t, err)

		once, err := svc.Toggle(ctx, superadmin, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, !original.IsEnabled, once.IsEnabled)

		twice, err := svc.Toggle(ctx, superadmin, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, original.IsEnabled, twice.IsEnabled)
	}
}

func TestToggleEmitsEventAndAuditAfterWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	entry := seedStore(t, store, triple(FacilityRCC, RoleAdmin, "reports"))["RCC/admin/reports"]
	svc, events, audit, observer := newMutationFixture(t, store)

	updated, err := svc.Toggle(ctx, superadmin, entry.ID)
	require.NoError(t, err)
	assert.False(t, updated.IsEnabled)

	got := events.Events()
	require.Len(t, got, 1)
	assert.Equal(t, FacilityRCC, got[0].Facility)
	assert.Equal(t, RoleAdmin, got[0].Role)

	logs := audit.Entries()
	require.Len(t, logs, 1)
	assert.Equal(t, AuditActionToggle, logs[0].Action)
	assert.Equal(t, "root", logs[0].Actor)
	assert.Equal(t, "superadmin", logs[0].ActorRole)
	assert.Equal(t, entry.ID.String(), logs[0].EntityID)
	assert.Equal(t, false, logs[0].Meta["is_enabled"])
	assert.Equal(t, 1, observer.ok["toggle"])
}

func TestToggleUnknownIDPassesNotFound(t *testing.T) {
	svc, events, audit, observer := newMutationFixture(t, NewMemoryStore())
	_, err := svc.Toggle(context.Background(), superadmin, uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrPersistence))
	assert.Empty(t, events.Events())
	assert.Empty(t, audit.Entries())
	assert.Equal(t, 1, observer.failed["toggle"])
}

func TestConcurrentTogglesSerialise(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	entry := seedStore(t, store, triple(FacilityRCC, RoleHousekeeper, "tasks"))["RCC/housekeeper/tasks"]
	svc, events, _, _ := newMutationFixture(t, store)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Toggle(ctx, superadmin, entry.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := store.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	// An even number of serialised flips lands back on the seed value.
	assert.True(t, final.IsEnabled)
	assert.Equal(t, 1, store.Len())
	assert.Len(t, events.Events(), n)
}

func TestTwoConcurrentTogglesLeaveSingleState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	entry := seedStore(t, store, triple(FacilityRCC, RoleGuest, "rate-service"))["RCC/guest/rate-service"]
	svc, _, _, _ := newMutationFixture(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Toggle(ctx, superadmin, entry.ID)
		}()
	}
	wg.Wait()

	entries, err := store.ListByFacility(ctx, FacilityRCC)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.True(t, entries[0].IsEnabled)
}

func TestSetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	entry := seedStore(t, store, triple(FacilityISC, RoleAdmin, "inventory"))["ISC/admin/inventory"]
	svc, events, audit, _ := newMutationFixture(t, store)

	for i := 0; i < 2; i++ {
		updated, err := svc.Set(ctx, superadmin, entry.ID, false)
		require.NoError(t, err)
		assert.False(t, updated.IsEnabled)
	}
	assert.Len(t, events.Events(), 2)
	logs := audit.Entries()
	require.Len(t, logs, 2)
	assert.Equal(t, AuditActionSet, logs[0].Action)
}

func TestBulkSetForRoleScenario(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedStore(t, store,
		triple(FacilityRCC, RoleHousekeeper, "task-history"),
		triple(FacilityRCC, RoleGuest, "task-history"),
	)
	query := NewQueryService(store)
	guard := NewGuard(query, nil, nil)
	svc, events, audit, _ := newMutationFixture(t, store)

	housekeeper := Claims{Role: RoleHousekeeper, Facility: FacilityRCC}
	guest := Claims{Role: RoleGuest, Facility: FacilityRCC}
	require.True(t, guard.CanAccess(ctx, housekeeper, "task-history"))

	n, err := svc.BulkSetForRole(ctx, superadmin, FacilityRCC, RoleHousekeeper, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.False(t, guard.CanAccess(ctx, housekeeper, "task-history"))
	assert.True(t, guard.CanAccess(ctx, guest, "task-history"))

	got := events.Events()
	require.Len(t, got, 1)
	assert.Equal(t, FacilityRCC, got[0].Facility)
	assert.Equal(t, RoleHousekeeper, got[0].Role)

	logs := audit.Entries()
	require.Len(t, logs, 1)
	assert.Equal(t, AuditActionBulkSet, logs[0].Action)
	assert.Equal(t, "RCC:housekeeper", logs[0].EntityID)
	assert.Equal(t, 1, logs[0].Meta["updated"])
}

func TestBulkSetForRoleListShowsRoleDisabled(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	_, err = Reconcile(ctx, store, catalog)
	require.NoError(t, err)
	svc, _, _, _ := newMutationFixture(t, store)

	_, err = svc.BulkSetForRole(ctx, superadmin, FacilityISC, RoleGuest, false)
	require.NoError(t, err)

	entries, err := store.ListByFacility(ctx, FacilityISC)
	require.NoError(t, err)
	for _, e := range entries {
		if e.Role == RoleGuest {
			assert.False(t, e.IsEnabled, e.PageName)
		} else {
			assert.True(t, e.IsEnabled, e.PageName)
		}
	}
}

func TestBulkSetForRoleRejectsInvalidScope(t *testing.T) {
	svc, events, _, _ := newMutationFixture(t, NewMemoryStore())
	ctx := context.Background()

	_, err := svc.BulkSetForRole(ctx, superadmin, "HQ", RoleGuest, false)
	assert.True(t, errors.Is(err, ErrInvalidEntry))
	assert.True(t, errors.Is(err, ErrUnknownFacility))

	_, err = svc.BulkSetForRole(ctx, superadmin, FacilityRCC, RoleSuperadmin, false)
	assert.True(t, errors.Is(err, ErrInvalidEntry))
	assert.Empty(t, events.Events())
}

func TestFailedWritesEmitNothing(t *testing.T) {
	store := failingStore{err: errors.New("disk full")}
	svc, events, audit, observer := newMutationFixture(t, store)
	ctx := context.Background()

	_, err := svc.BulkSetForRole(ctx, superadmin, FacilityRCC, RoleAdmin, false)
	assert.True(t, errors.Is(err, ErrPersistence))
	_, err = svc.Toggle(ctx, superadmin, uuid.New())
	assert.True(t, errors.Is(err, ErrPersistence))
	_, err = svc.Set(ctx, superadmin, uuid.New(), true)
	assert.True(t, errors.Is(err, ErrPersistence))

	assert.Empty(t, events.Events())
	assert.Empty(t, audit.Entries())
	assert.Equal(t, 1, observer.failed["bulk_set"])
	assert.Equal(t, 1, observer.failed["toggle"])
	assert.Equal(t, 1, observer.failed["set"])
}

func TestLockFailureIsPersistenceError(t *testing.T) {
	store := NewMemoryStore()
	entry := seedStore(t, store, triple(FacilityRCC, RoleAdmin, "reports"))["RCC/admin/reports"]
	svc := NewMutationService(MutationConfig{Store: store, Locker: failingLocker{}})

	_, err := svc.Toggle(context.Background(), superadmin, entry.ID)
	assert.True(t, errors.Is(err, ErrPersistence))
	current, err := store.GetByID(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.True(t, current.IsEnabled)
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	store := NewMemoryStore()
	entry := seedStore(t, store, triple(FacilityRCC, RoleAdmin, "reports"))["RCC/admin/reports"]
	events := &recordingBroadcaster{err: errors.New("redis down")}
	svc := NewMutationService(MutationConfig{Store: store, Broadcaster: events})

	updated, err := svc.Toggle(context.Background(), superadmin, entry.ID)
	require.NoError(t, err)
	assert.False(t, updated.IsEnabled)
	assert.Len(t, events.Events(), 1)
}
