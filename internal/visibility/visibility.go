// Package visibility owns the active set: which vehicles and vehicle types
// the user wants on the map. It persists the set through a storage.Backend
// and answers the reconciler's visibility gate.
package visibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/transitlive/livemap/internal/storage"
	"github.com/transitlive/livemap/pkg/core"
)

const (
	activeVehiclesKey = "activeVehicles"
	activeTypesKey    = "activeTypes"
)

// TrackedEnumerator lists tracked identities of a type. The reconciler
// implements it; the controller never owns vehicle data.
type TrackedEnumerator interface {
	TrackedIdentities(ctx context.Context, t core.VehicleType) []string
}

// Change describes one visibility edit. Identity is empty for a type toggle.
type Change struct {
	Identity string
	Type     core.VehicleType
	Active   bool
}

// Controller is safe for concurrent use.
type Controller struct {
	mu        sync.RWMutex
	backend   storage.Backend
	namespace string
	logger    *slog.Logger

	// identities holds per-vehicle overrides; absent means "follow the type".
	identities map[string]bool
	types      map[core.VehicleType]bool
	listeners  []func(Change)
}

// New loads the persisted active set. Missing identity state starts empty.
// Missing type state activates only defaultTypes, which is empty unless the
// caller opts in. Corrupt state of either kind is logged and treated as
// nothing active.
func New(ctx context.Context, backend storage.Backend, namespace string, logger *slog.Logger, defaultTypes []core.VehicleType) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		backend:    backend,
		namespace:  namespace,
		logger:     logger.With("component", "visibility"),
		identities: make(map[string]bool),
		types:      make(map[core.VehicleType]bool),
	}
	c.loadIdentities(ctx)
	c.loadTypes(ctx, defaultTypes)
	return c
}

// Visible reports whether a vehicle may be rendered. A per-vehicle setting
// wins over its type filter.
func (c *Controller) Visible(identity string, t core.VehicleType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if active, ok := c.identities[identity]; ok {
		return active
	}
	return c.types[t]
}

// SetActive records a per-vehicle choice and persists it.
func (c *Controller) SetActive(ctx context.Context, identity string, active bool) {
	c.mu.Lock()
	prev, had := c.identities[identity]
	c.identities[identity] = active
	snapshot := c.identitiesJSON()
	c.mu.Unlock()

	if had && prev == active {
		return
	}
	c.persist(ctx, activeVehiclesKey, snapshot)
	c.notify(Change{Identity: identity, Active: active})
}

// IsActive reports whether a vehicle of type t is in the active set. It
// gives the same answer as Visible.
func (c *Controller) IsActive(identity string, t core.VehicleType) bool {
	return c.Visible(identity, t)
}

// ActiveIdentities returns the identities with an explicit "on" override,
// sorted. Vehicles shown only through their type filter are not listed.
func (c *Controller) ActiveIdentities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.identities))
	for id, active := range c.identities {
		if active {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// SetTypeActive changes the filter for vehicles of type t without an
// explicit per-vehicle choice.
func (c *Controller) SetTypeActive(ctx context.Context, t core.VehicleType, active bool) {
	c.mu.Lock()
	prev := c.types[t]
	c.types[t] = active
	snapshot := c.typesJSON()
	c.mu.Unlock()

	if prev == active {
		return
	}
	c.persist(ctx, activeTypesKey, snapshot)
	c.notify(Change{Type: t, Active: active})
}

func (c *Controller) IsTypeActive(t core.VehicleType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.types[t]
}

// ToggleType sets the type filter and drops the per-vehicle overrides of
// every currently tracked vehicle of that type, so all of them follow the
// filter. It returns those identities.
func (c *Controller) ToggleType(ctx context.Context, t core.VehicleType, active bool, tracked TrackedEnumerator) []string {
	var ids []string
	if tracked != nil {
		ids = tracked.TrackedIdentities(ctx, t)
	}

	c.mu.Lock()
	c.types[t] = active
	for _, id := range ids {
		delete(c.identities, id)
	}
	vehicles, types := c.identitiesJSON(), c.typesJSON()
	c.mu.Unlock()

	c.persist(ctx, activeVehiclesKey, vehicles)
	c.persist(ctx, activeTypesKey, types)
	c.notify(Change{Type: t, Active: active})
	return ids
}

// OnChange registers fn to run after every effective change.
func (c *Controller) OnChange(fn func(Change)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) notify(ch Change) {
	c.mu.RLock()
	listeners := append([]func(Change){}, c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(ch)
	}
}

func (c *Controller) key(name string) string {
	return storage.Key(c.namespace, name)
}

func (c *Controller) persist(ctx context.Context, name string, value []byte) {
	if c.backend == nil || value == nil {
		return
	}
	if err := c.backend.Set(ctx, c.key(name), value); err != nil {
		c.logger.Warn("failed to persist active set", "key", c.key(name), "error", err)
	}
}

func (c *Controller) read(ctx context.Context, name string) ([]byte, bool) {
	if c.backend == nil {
		return nil, false
	}
	raw, err := c.backend.Get(ctx, c.key(name))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("failed to load active set", "key", c.key(name), "error", err)
		}
		return nil, false
	}
	return raw, true
}

func (c *Controller) loadIdentities(ctx context.Context) {
	raw, ok := c.read(ctx, activeVehiclesKey)
	if !ok {
		return
	}
	ids, err := decodeIdentities(raw)
	if err != nil {
		c.logger.Warn("corrupt active vehicle state, starting empty", "error", err)
		return
	}
	c.identities = ids
}

func (c *Controller) loadTypes(ctx context.Context, defaults []core.VehicleType) {
	raw, ok := c.read(ctx, activeTypesKey)
	if !ok {
		for _, t := range defaults {
			c.types[t] = true
		}
		return
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		c.logger.Warn("corrupt active type state, starting empty", "error", err)
		return
	}
	for _, n := range names {
		if t := core.NormalizeVehicleType(n); t != core.VehicleUnknown {
			c.types[t] = true
		}
	}
}

// decodeIdentities accepts the current object form and a plain list of
// active identities.
func decodeIdentities(raw []byte) (map[string]bool, error) {
	obj := map[string]bool{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj == nil {
			obj = map[string]bool{}
		}
		return obj, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode active vehicles: %w", err)
	}
	for _, id := range list {
		obj[id] = true
	}
	return obj, nil
}

// identitiesJSON must be called with mu held.
func (c *Controller) identitiesJSON() []byte {
	raw, err := json.Marshal(c.identities)
	if err != nil {
		c.logger.Error("failed to encode active vehicles", "error", err)
		return nil
	}
	return raw
}

// typesJSON must be called with mu held.
func (c *Controller) typesJSON() []byte {
	names := make([]string, 0, len(c.types))
	for t, active := range c.types {
		if active {
			names = append(names, string(t))
		}
	}
	sort.Strings(names)
	raw, err := json.Marshal(names)
	if err != nil {
		c.logger.Error("failed to encode active types", "error", err)
		return nil
	}
	return raw
}
