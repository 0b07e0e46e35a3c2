// Package storage is the Storage Controller: it dispatches CRUD calls to
// whichever registered StorageProvider claims a rest name via ShouldManage
// (first claimant in registration order wins), and orchestrates cascading
// delete across provider boundaries — a single StorageProvider only ever
// cascades within its own records, so the controller walks
// Entity.ChildrenRestNames() itself and re-dispatches each child subtree to
// whichever provider manages it.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dogild/garuda/internal/model"
	"github.com/dogild/garuda/internal/plugins"
)

// Controller dispatches storage operations to registered providers.
type Controller struct {
	registry *plugins.Registry
}

// NewController returns a controller dispatching against registry.
func NewController(registry *plugins.Registry) *Controller {
	return &Controller{registry: registry}
}

// providerFor returns the first registered provider that claims restName.
func (c *Controller) providerFor(restName, identifier string) (plugins.StorageProvider, error) {
	for _, p := range c.registry.StorageProviders() {
		if p.ShouldManage(restName, identifier) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("storage: no provider claims rest name %q: %w", restName, ErrNotFound)
}

// ErrNotFound is returned when no registered storage provider claims a rest
// name; the operations controller maps this to a NOTFOUND response.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

// Instantiate returns a zero-valued entity for restName from whichever
// provider claims it.
func (c *Controller) Instantiate(restName string) (model.Entity, error) {
	p, err := c.providerFor(restName, "")
	if err != nil {
		return nil, err
	}
	return p.Instantiate(restName)
}

// Get retrieves a single entity.
func (c *Controller) Get(ctx context.Context, restName, identifier, filter string) (model.Entity, error) {
	p, err := c.providerFor(restName, identifier)
	if err != nil {
		return nil, err
	}
	return p.Get(ctx, restName, identifier, filter)
}

// GetAll retrieves a page of entities related to parent (or unrelated, when
// parent is nil) under restName.
func (c *Controller) GetAll(ctx context.Context, parent model.Entity, restName string, page, pageSize int, filter, orderBy string) ([]model.Entity, int, error) {
	p, err := c.providerFor(restName, "")
	if err != nil {
		return nil, 0, err
	}
	return p.GetAll(ctx, parent, restName, page, pageSize, filter, orderBy)
}

// Count reports how many entities of restName are related to parent.
func (c *Controller) Count(ctx context.Context, parent model.Entity, restName, filter string) (int, error) {
	p, err := c.providerFor(restName, "")
	if err != nil {
		return 0, err
	}
	return p.Count(ctx, parent, restName, filter)
}

// Create persists a new entity under parent (nil for a root-level rest
// name).
func (c *Controller) Create(ctx context.Context, entity, parent model.Entity) error {
	p, err := c.providerFor(entity.RestName(), "")
	if err != nil {
		return err
	}
	return p.Create(ctx, entity, parent)
}

// Update persists changes to an existing entity. CONFLICT-on-no-change is
// enforced by the claiming provider itself.
func (c *Controller) Update(ctx context.Context, entity model.Entity) error {
	p, err := c.providerFor(entity.RestName(), entity.Identifier())
	if err != nil {
		return err
	}
	return p.Update(ctx, entity)
}

// Delete removes entity and, recursively, every entity reachable through
// its ChildrenRestNames relationships — regardless of which provider
// actually stores each subtree.
func (c *Controller) Delete(ctx context.Context, entity model.Entity) error {
	for _, childRestName := range entity.ChildrenRestNames() {
		children, _, err := c.GetAll(ctx, entity, childRestName, 0, 0, "", "")
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return err
		}
		for _, child := range children {
			if err := c.Delete(ctx, child); err != nil {
				return err
			}
		}
	}

	p, err := c.providerFor(entity.RestName(), entity.Identifier())
	if err != nil {
		return err
	}
	return p.Delete(ctx, entity, false)
}

// Assign replaces the member/child association list for restName under
// parent with entities.
func (c *Controller) Assign(ctx context.Context, restName string, entities []model.Entity, parent model.Entity) error {
	p, err := c.providerFor(restName, "")
	if err != nil {
		return err
	}
	return p.Assign(ctx, restName, entities, parent)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
