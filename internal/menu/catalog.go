package menu

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/doyein2020/gats-ussd/internal/models"
	"github.com/doyein2020/gats-ussd/internal/storage"
)

// cached is one compiled catalog entry. stamp is the service row's UpdatedAt
// at compile time; a differing stamp on reload means the admin surface
// published a new definition.
type cached struct {
	service *models.Service
	graph   *Graph
	stamp   time.Time
}

// Catalog resolves service codes to validated menu graphs. Read-mostly:
// definitions are compiled once per publish and served from cache until
// explicitly invalidated.
type Catalog struct {
	store        storage.ServiceStore
	knownActions map[string]bool

	mu    sync.RWMutex
	cache map[string]*cached
}

// NewCatalog creates a catalog backed by the given service store.
// knownActions, when non-nil, is enforced during graph validation.
func NewCatalog(store storage.ServiceStore, knownActions map[string]bool) *Catalog {
	return &Catalog{
		store:        store,
		knownActions: knownActions,
		cache:        make(map[string]*cached),
	}
}

// Resolve returns the active service definition and its compiled graph.
// Returns storage.ErrServiceNotFound / storage.ErrServiceInactive when the
// code is unknown or disabled.
func (c *Catalog) Resolve(ctx context.Context, code string) (*models.Service, *Graph, error) {
	c.mu.RLock()
	entry, ok := c.cache[code]
	c.mu.RUnlock()
	if ok {
		return entry.service, entry.graph, nil
	}

	return c.load(ctx, code)
}

// Invalidate drops a cached definition. Called when the admin surface
// updates a service; the next Resolve recompiles.
func (c *Catalog) Invalidate(code string) {
	c.mu.Lock()
	delete(c.cache, code)
	c.mu.Unlock()
}

func (c *Catalog) load(ctx context.Context, code string) (*models.Service, *Graph, error) {
	service, err := c.store.GetServiceByCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if !service.IsActive {
		return nil, nil, storage.ErrServiceInactive
	}

	graph, result, err := Compile([]byte(service.MenuStructure), c.knownActions)
	if err != nil {
		return nil, nil, fmt.Errorf("service %s: %w", code, err)
	}
	for _, id := range result.Unreachable {
		log.Printf("⚠️  service %s: menu node %q unreachable from root", code, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent loader may have raced us here; keep the fresher stamp.
	if existing, ok := c.cache[code]; ok && !existing.stamp.Before(service.UpdatedAt) {
		return existing.service, existing.graph, nil
	}
	c.cache[code] = &cached{service: service, graph: graph, stamp: service.UpdatedAt}
	return service, graph, nil
}
