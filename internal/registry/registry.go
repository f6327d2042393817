// Package registry holds the closed set of agent descriptors. It is
// populated once at startup and read-only afterwards.
package registry

import (
	"errors"
	"fmt"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/store"
)

var ErrSealed = errors.New("registry is sealed")

type Registry struct {
	store    *store.Store
	descs    map[agent.Role]agent.Descriptor
	order    []agent.Role
	position map[agent.Role]int
	sealed   bool
}

// New creates an empty registry. s may be nil, in which case Sync is a no-op.
func New(s *store.Store) *Registry {
	return &Registry{
		store:    s,
		descs:    make(map[agent.Role]agent.Descriptor, agent.NumRoles()),
		position: make(map[agent.Role]int, agent.NumRoles()),
	}
}

// Register adds the descriptor for one role. Each role may be registered
// once, with a non-nil actor, before Seal.
func (r *Registry) Register(d agent.Descriptor) error {
	if r.sealed {
		return ErrSealed
	}
	if !d.Role.Valid() {
		return fmt.Errorf("register: invalid role %d", int(d.Role))
	}
	if d.Actor == nil {
		return fmt.Errorf("register %s: nil actor", d.Role)
	}
	if _, dup := r.descs[d.Role]; dup {
		return fmt.Errorf("register %s: already registered", d.Role)
	}
	if d.AvgCostEstimateMs < 0 {
		return fmt.Errorf("register %s: negative cost estimate", d.Role)
	}
	d.Keywords = append([]string(nil), d.Keywords...)
	r.position[d.Role] = len(r.order)
	r.order = append(r.order, d.Role)
	r.descs[d.Role] = d
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() { r.sealed = true }

func (r *Registry) Get(role agent.Role) (agent.Descriptor, bool) {
	d, ok := r.descs[role]
	return d, ok
}

func (r *Registry) Has(role agent.Role) bool {
	_, ok := r.descs[role]
	return ok
}

// Roles returns the registered roles in registration order.
func (r *Registry) Roles() []agent.Role {
	return append([]agent.Role(nil), r.order...)
}

// Descriptors returns the registered descriptors in registration order.
func (r *Registry) Descriptors() []agent.Descriptor {
	out := make([]agent.Descriptor, 0, len(r.order))
	for _, role := range r.order {
		out = append(out, r.descs[role])
	}
	return out
}

// Position returns the registration index of role, or -1.
func (r *Registry) Position(role agent.Role) int {
	if p, ok := r.position[role]; ok {
		return p
	}
	return -1
}

func (r *Registry) Len() int { return len(r.order) }

// Sync persists the registered descriptors and removes stale rows.
func (r *Registry) Sync() error {
	if r.store == nil {
		return nil
	}
	ids := make([]string, 0, len(r.order))
	for i, role := range r.order {
		d := r.descs[role]
		ids = append(ids, role.String())

		rec := &store.RoleRecord{
			ID:             role.String(),
			Title:          role.Title(),
			Description:    d.Description,
			Keywords:       d.Keywords,
			CostEstimateMs: d.AvgCostEstimateMs,
			Position:       i,
		}
		if err := r.store.SaveRole(rec); err != nil {
			return fmt.Errorf("save role %s: %w", role, err)
		}
	}

	if err := r.store.DeleteRolesNotIn(ids); err != nil {
		return fmt.Errorf("delete stale roles: %w", err)
	}
	return nil
}

// Describe builds the descriptor for role from the built-in defaults and
// an optional config override.
func Describe(role agent.Role, actor agent.Actor, cfg *config.Config) agent.Descriptor {
	d := Default(role)
	d.Actor = actor
	if cfg == nil {
		return d
	}
	ov, ok := cfg.AgentOverride(role)
	if !ok {
		return d
	}
	if ov.Description != "" {
		d.Description = ov.Description
	}
	if len(ov.Keywords) > 0 {
		d.Keywords = ov.Keywords
	}
	if ov.CostEstimateMs > 0 {
		d.AvgCostEstimateMs = ov.CostEstimateMs
	}
	return d
}
