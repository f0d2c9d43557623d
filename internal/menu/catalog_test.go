package menu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doyein2020/gats-ussd/internal/models"
	"github.com/doyein2020/gats-ussd/internal/storage"
)

func seedService(t *testing.T, store storage.Store, code, structure string, active bool) {
	t.Helper()
	err := store.SaveService(context.Background(), &models.Service{
		Code:          code,
		Name:          "Test Service",
		MenuStructure: structure,
		IsActive:      active,
	})
	require.NoError(t, err)
}

func TestCatalogResolve(t *testing.T) {
	store := storage.NewMemoryStore()
	seedService(t, store, "*123#", validMenu, true)

	catalog := NewCatalog(store, nil)

	service, graph, err := catalog.Resolve(context.Background(), "*123#")
	require.NoError(t, err)
	assert.Equal(t, "*123#", service.Code)
	assert.Equal(t, "main", graph.Root)
}

func TestCatalogResolve_UnknownService(t *testing.T) {
	catalog := NewCatalog(storage.NewMemoryStore(), nil)

	_, _, err := catalog.Resolve(context.Background(), "*999#")
	assert.ErrorIs(t, err, storage.ErrServiceNotFound)
}

func TestCatalogResolve_InactiveService(t *testing.T) {
	store := storage.NewMemoryStore()
	seedService(t, store, "*123#", validMenu, false)

	catalog := NewCatalog(store, nil)

	_, _, err := catalog.Resolve(context.Background(), "*123#")
	assert.ErrorIs(t, err, storage.ErrServiceInactive)
}

func TestCatalogResolve_InvalidMenuFailsAtLoad(t *testing.T) {
	store := storage.NewMemoryStore()
	seedService(t, store, "*123#", `{"root": "main", "nodes": {}}`, true)

	catalog := NewCatalog(store, nil)

	_, _, err := catalog.Resolve(context.Background(), "*123#")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no nodes")
}

func TestCatalogCachesUntilInvalidated(t *testing.T) {
	store := storage.NewMemoryStore()
	seedService(t, store, "*123#", validMenu, true)

	catalog := NewCatalog(store, nil)

	_, graph1, err := catalog.Resolve(context.Background(), "*123#")
	require.NoError(t, err)

	// Republish a different definition; the cache still serves the old
	// snapshot until invalidated.
	republished := `{
	  "root": "start",
	  "nodes": {"start": {"title": "New", "options": [{"code": "1", "text": "x", "action": "noop"}]}}
	}`
	seedService(t, store, "*123#", republished, true)

	_, graph2, err := catalog.Resolve(context.Background(), "*123#")
	require.NoError(t, err)
	assert.Same(t, graph1, graph2)

	catalog.Invalidate("*123#")

	_, graph3, err := catalog.Resolve(context.Background(), "*123#")
	require.NoError(t, err)
	assert.Equal(t, "start", graph3.Root)
}
