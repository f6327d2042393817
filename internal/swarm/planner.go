package swarm

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/config"
	"github.com/mtzanidakis/quorum/internal/ledger"
	"github.com/mtzanidakis/quorum/internal/registry"
	"github.com/mtzanidakis/quorum/internal/router"
)

// Throttler reports resource pressure.
type Throttler interface {
	IsThrottled() bool
}

// Stats provides per-role performance for tie-breaks.
type Stats interface {
	Stats(role agent.Role) ledger.Stats
}

type workflow struct {
	name    string
	trigger string
	roles   []agent.Role
}

type Planner struct {
	registry   *registry.Registry
	classifier *router.Classifier
	stats      Stats
	throttle   Throttler

	workflows        []workflow
	maxConcurrency   int
	throttledMaxCost float64
}

// chainSplit separates the phases of "do X then Y" style requests.
var chainSplit = regexp.MustCompile(`(?i)\s*(?:,?\s*\band then\b|\bthen\b|->)\s*`)

func NewPlanner(reg *registry.Registry, cls *router.Classifier, stats Stats, throttle Throttler, cfg *config.Config) *Planner {
	p := &Planner{
		registry:         reg,
		classifier:       cls,
		stats:            stats,
		throttle:         throttle,
		maxConcurrency:   cfg.Orchestrator.MaxConcurrency,
		throttledMaxCost: cfg.Orchestrator.ThrottledMaxCostMs,
	}
	if p.maxConcurrency < 1 {
		p.maxConcurrency = 1
	}
	for _, wf := range cfg.Workflows {
		w := workflow{name: wf.Name, trigger: strings.ToLower(strings.TrimSpace(wf.Trigger))}
		for _, r := range wf.Roles {
			// Config validation already rejected unknown roles.
			if role, err := agent.ParseRole(r); err == nil {
				w.roles = append(w.roles, role)
			}
		}
		if w.trigger != "" && len(w.roles) > 0 {
			p.workflows = append(p.workflows, w)
		}
	}
	return p
}

// Plan builds the execution plan for req from its classification.
func (p *Planner) Plan(req agent.Request, cls router.Classification) (*Plan, error) {
	if cls.Explicit && strings.TrimSpace(cls.Text) == "" {
		return nil, agent.Validationf("no message for @%s", cls.Candidates[0].Role)
	}

	throttled := p.throttle != nil && p.throttle.IsThrottled()

	admitted := p.admit(cls.Candidates, throttled)
	if len(admitted) == 0 {
		return nil, fmt.Errorf("%w: none of %d candidates admitted", agent.ErrNoEligibleAgent, len(cls.Candidates))
	}

	text := cls.Text
	if text == "" && !cls.Explicit {
		text = strings.TrimSpace(req.Text)
	}

	var plan *Plan
	switch {
	case cls.Multi:
		plan = &Plan{Shape: ShapeParallel}
		for i, c := range admitted {
			plan.Steps = append(plan.Steps, Step{Index: i, Role: c.Role, Text: text})
		}
	case !cls.Explicit:
		plan = p.pipeline(text, throttled)
	}
	if plan == nil {
		plan = &Plan{
			Shape: ShapeSingle,
			Steps: []Step{{Index: 0, Role: p.pick(admitted), Text: text}},
		}
	}

	plan.Throttled = throttled
	plan.MaxConcurrency = min(p.maxConcurrency, len(plan.Steps))
	if throttled {
		plan.MaxConcurrency = 1
	}
	return plan, nil
}

// admit drops unregistered roles and, under throttling, roles whose cost
// estimate exceeds the throttled ceiling.
func (p *Planner) admit(cands []router.Candidate, throttled bool) []router.Candidate {
	out := make([]router.Candidate, 0, len(cands))
	for _, c := range cands {
		if p.admitRole(c.Role, throttled) {
			out = append(out, c)
		}
	}
	return out
}

func (p *Planner) admitRole(role agent.Role, throttled bool) bool {
	d, ok := p.registry.Get(role)
	if !ok {
		return false
	}
	if throttled && p.throttledMaxCost > 0 && d.AvgCostEstimateMs > p.throttledMaxCost {
		return false
	}
	return true
}

// pick chooses among candidates sharing the top confidence: higher success
// rate, then lower average latency, then earlier registration.
func (p *Planner) pick(cands []router.Candidate) agent.Role {
	top := cands[0].Confidence
	for _, c := range cands[1:] {
		top = max(top, c.Confidence)
	}
	tied := make([]agent.Role, 0, len(cands))
	for _, c := range cands {
		if c.Confidence == top {
			tied = append(tied, c.Role)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}

	slices.SortStableFunc(tied, func(a, b agent.Role) int {
		sa, sb := p.roleStats(a), p.roleStats(b)
		switch {
		case sa.SuccessRate > sb.SuccessRate:
			return -1
		case sa.SuccessRate < sb.SuccessRate:
			return 1
		case sa.AvgLatencyMs < sb.AvgLatencyMs:
			return -1
		case sa.AvgLatencyMs > sb.AvgLatencyMs:
			return 1
		}
		return p.registry.Position(a) - p.registry.Position(b)
	})
	return tied[0]
}

func (p *Planner) roleStats(role agent.Role) ledger.Stats {
	if p.stats == nil {
		return ledger.Neutral
	}
	return p.stats.Stats(role)
}

// pipeline matches configured workflows first, then chained phrasing.
// It returns nil when text is not a pipeline request.
func (p *Planner) pipeline(text string, throttled bool) *Plan {
	lower := strings.ToLower(text)
	for _, wf := range p.workflows {
		if !strings.Contains(lower, wf.trigger) {
			continue
		}
		var roles []agent.Role
		for _, r := range wf.roles {
			if p.admitRole(r, throttled) {
				roles = append(roles, r)
			}
		}
		if len(roles) == 0 {
			continue
		}
		texts := make([]string, len(roles))
		for i := range texts {
			texts[i] = text
		}
		plan := chain(roles, texts)
		plan.Workflow = wf.name
		return plan
	}

	if p.classifier == nil {
		return nil
	}
	var phases []string
	for _, ph := range chainSplit.Split(text, -1) {
		if ph = strings.TrimSpace(ph); ph != "" {
			phases = append(phases, ph)
		}
	}
	if len(phases) < 2 {
		return nil
	}

	roles := make([]agent.Role, 0, len(phases))
	for _, ph := range phases {
		cls := p.classifier.Classify(ph)
		if cls.Fallback() || cls.Multi {
			return nil
		}
		admitted := p.admit(cls.Candidates, throttled)
		if len(admitted) == 0 {
			return nil
		}
		roles = append(roles, p.pick(admitted))
	}
	return chain(roles, phases)
}

func chain(roles []agent.Role, texts []string) *Plan {
	plan := &Plan{Shape: ShapePipeline}
	for i, r := range roles {
		s := Step{Index: i, Role: r, Text: texts[i]}
		if i > 0 {
			s.DependsOn = []int{i - 1}
		}
		plan.Steps = append(plan.Steps, s)
	}
	return plan
}
