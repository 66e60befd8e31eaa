package access

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	assert.Equal(t, []string{"borrow-history", "borrow-items", "rate-service", "service-requests"}, catalog.Pages(RoleGuest))
	assert.Contains(t, catalog.Pages(RoleHousekeeper), "task-history")
	assert.Contains(t, catalog.Pages(RoleAdmin), "dashboard")
	assert.Empty(t, catalog.Pages(RoleSuperadmin))
	assert.Equal(t, 15, catalog.Size())
	// borrow-requests is shared by housekeeper and admin.
	assert.Len(t, catalog.AllPages(), 14)
}

func TestLoadCatalogNormalises(t *testing.T) {
	catalog, err := LoadCatalog(strings.NewReader(`
pages:
  Guest:
    - " b "
    - a
    - b
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, catalog.Pages(RoleGuest))
}

func TestLoadCatalogRejects(t *testing.T) {
	cases := map[string]string{
		"unknown role":  "pages:\n  janitor: [mop]\n",
		"ungated role":  "pages:\n  superadmin: [all]\n",
		"empty page":    "pages:\n  guest: [\"\"]\n",
		"unknown field": "pages: {}\nextra: true\n",
		"not yaml":      "pages: [",
	}
	for name, doc := range cases {
		_, err := LoadCatalog(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pages:\n  admin: [reports]\n"), 0o600))
	catalog, err := LoadCatalogFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"reports"}, catalog.Pages(RoleAdmin))

	_, err = LoadCatalogFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReconcileSeedsEveryFacility(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	n, err := Reconcile(ctx, store, catalog)
	require.NoError(t, err)
	assert.Equal(t, catalog.Size()*len(Facilities()), n)
	assert.Equal(t, n, store.Len())

	entry, err := store.Get(ctx, FacilityISC, RoleHousekeeper, "tasks")
	require.NoError(t, err)
	_, err = store.SetEnabled(ctx, entry.ID, false)
	require.NoError(t, err)

	again, err := Reconcile(ctx, store, catalog)
	require.NoError(t, err)
	assert.Equal(t, n, again)
	assert.Equal(t, n, store.Len())
	kept, err := store.Get(ctx, FacilityISC, RoleHousekeeper, "tasks")
	require.NoError(t, err)
	assert.False(t, kept.IsEnabled)
}

func TestReconcileStopsOnStoreError(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)
	cause := errors.New("down")
	n, err := Reconcile(context.Background(), failingStore{err: cause}, catalog)
	assert.Zero(t, n)
	assert.True(t, errors.Is(err, cause))
}
