// Package agents implements the in-process actor behind each role.
package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/export"
	"github.com/mtzanidakis/quorum/internal/fetch"
	"github.com/mtzanidakis/quorum/internal/ledger"
	"github.com/mtzanidakis/quorum/internal/model"
	"github.com/mtzanidakis/quorum/internal/monitor"
	"github.com/mtzanidakis/quorum/internal/registry"
	"github.com/mtzanidakis/quorum/internal/store"
	"github.com/mtzanidakis/quorum/internal/vault"
)

// Resources is the read side of the resource monitor.
type Resources interface {
	Latest() monitor.Snapshot
	IsThrottled() bool
}

// Deps are the collaborators shared by the actors. Vault and Resources may
// be nil.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Model     model.Generator
	Vault     *vault.Vault
	Fetcher   *fetch.Fetcher
	Exporter  *export.Exporter
	Ledger    *ledger.Ledger
	Resources Resources
	Now       func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// New returns the actor for role.
func New(role agent.Role, deps Deps) (agent.Actor, error) {
	switch role {
	case agent.Coordinator:
		return &Coordinator{deps: deps}, nil
	case agent.Research:
		return &Research{deps: deps}, nil
	case agent.Knowledge:
		return &Knowledge{deps: deps}, nil
	case agent.TaskCoordination:
		return &Tasks{deps: deps}, nil
	case agent.CreativeExport:
		return &Creative{deps: deps}, nil
	case agent.CodeArchitecture:
		return &Code{deps: deps}, nil
	case agent.SelfImprovement:
		return &SelfImprovement{deps: deps}, nil
	default:
		return nil, fmt.Errorf("no actor for role %s", role)
	}
}

// RegisterAll registers one actor per role, in role order, and seals the
// registry.
func RegisterAll(reg *registry.Registry, deps Deps) error {
	for _, role := range agent.Roles() {
		actor, err := New(role, deps)
		if err != nil {
			return err
		}
		if err := reg.Register(registry.Describe(role, actor, deps.Config)); err != nil {
			return fmt.Errorf("register %s: %w", role, err)
		}
	}
	reg.Seal()
	return nil
}

// generate calls the model with the role's system prompt and its configured
// model override, if any.
func generate(ctx context.Context, deps Deps, role agent.Role, system, prompt string) (string, error) {
	if deps.Model == nil {
		return "", fmt.Errorf("%w: no model configured", agent.ErrModelUnavailable)
	}
	opts := model.Options{System: system}
	if deps.Config != nil {
		if ov, ok := deps.Config.AgentOverride(role); ok {
			opts.Model = ov.Model
		}
	}
	out, err := deps.Model.Generate(ctx, prompt, opts)
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", role, err)
	}
	return strings.TrimSpace(out), nil
}

// stripPrefix removes the first matching command word (case-insensitive)
// and any following colon from text.
func stripPrefix(text string, prefixes ...string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			if len(lower) > len(p) && !strings.ContainsRune(" :\n\t", rune(lower[len(p)])) {
				continue
			}
			rest := strings.TrimSpace(trimmed[len(p):])
			rest = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
			return rest, true
		}
	}
	return trimmed, false
}

// headline returns the first line of text, shortened for titles.
func headline(text string, n int) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimLeft(text, "# ")
	r := []rune(text)
	if len(r) > n {
		return strings.TrimSpace(string(r[:n])) + "..."
	}
	return text
}
