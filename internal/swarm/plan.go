// Package swarm turns a classified request into an executable plan of
// agent steps and validates plan dependency graphs.
package swarm

import (
	"fmt"
	"strings"

	"github.com/mtzanidakis/quorum/internal/agent"
)

// Shape names the structure of a plan.
type Shape string

const (
	ShapeSingle   Shape = "single"
	ShapeParallel Shape = "parallel"
	ShapePipeline Shape = "pipeline"
)

// Step is one unit of work for one role. DependsOn holds indices of
// earlier steps whose results feed this one.
type Step struct {
	Index     int        `json:"index"`
	Role      agent.Role `json:"role"`
	Text      string     `json:"text"`
	DependsOn []int      `json:"depends_on,omitempty"`
}

// Plan is produced per request and discarded after execution.
type Plan struct {
	Steps          []Step `json:"steps"`
	Shape          Shape  `json:"shape"`
	MaxConcurrency int    `json:"max_concurrency"`
	Throttled      bool   `json:"throttled"`
	// Workflow names the configured template a pipeline came from.
	Workflow string `json:"workflow,omitempty"`
}

// Roles lists the step roles in plan order.
func (p *Plan) Roles() []agent.Role {
	out := make([]agent.Role, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Role
	}
	return out
}

// FailureMarker is what downstream steps see in place of a failed
// dependency's output.
func FailureMarker(r agent.Result) string {
	kind, msg := agent.KindInternal, ""
	if r.Error != nil {
		kind, msg = r.Error.Kind, r.Error.Message
	}
	return fmt.Sprintf("[%s failed: %s: %s]", r.Role, kind, msg)
}

// Input builds the text and context an actor receives for this step.
// upstream holds the terminal results of DependsOn, in the same order.
// Upstream outputs, or failure markers, are stored in the context under
// agent.UpstreamKey and appended to the text.
func (s Step) Input(base agent.Request, upstream []agent.Result) (string, map[string]any) {
	text := s.Text
	rctx := base.CloneContext()
	if len(upstream) == 0 {
		return text, rctx
	}

	ups := make([]agent.Upstream, 0, len(upstream))
	var sb strings.Builder
	sb.WriteString(text)
	for _, r := range upstream {
		u := agent.Upstream{Role: r.Role, Success: r.Success}
		if r.Success {
			u.Output = r.Output.String()
		} else {
			u.Output = FailureMarker(r)
			if r.Error != nil {
				u.Error = r.Error.Kind
			}
		}
		ups = append(ups, u)
		fmt.Fprintf(&sb, "\n\n### Output from %s\n%s", r.Role.Title(), u.Output)
	}
	rctx[agent.UpstreamKey] = ups
	return sb.String(), rctx
}
