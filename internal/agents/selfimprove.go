package agents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mtzanidakis/quorum/internal/agent"
	"github.com/mtzanidakis/quorum/internal/registry"
)

const (
	minSamplesForAdvice = 5
	unreliableBelow     = 0.8
)

// SelfImprovement reads the performance ledger and recommends tuning
// changes. It never applies them.
type SelfImprovement struct {
	deps Deps
}

// Recommendation is one tuning suggestion for a role.
type Recommendation struct {
	Role              agent.Role `json:"role"`
	Issue             string     `json:"issue"`
	Suggestion        string     `json:"suggestion"`
	SuccessRate       float64    `json:"success_rate"`
	AvgLatencyMs      float64    `json:"avg_latency_ms"`
	SuggestedCostMs   float64    `json:"suggested_cost_estimate_ms,omitempty"`
	SuggestedTimeoutS float64    `json:"suggested_step_timeout_s,omitempty"`
}

func (s *SelfImprovement) Act(ctx context.Context, text string, rctx map[string]any) (agent.Output, error) {
	if s.deps.Ledger == nil {
		return agent.Output{Text: "No performance data is being recorded."}, nil
	}

	recs := s.recommend()
	if len(recs) == 0 {
		return agent.Output{Text: "All agents are within their expected latency and reliability.", Data: recs}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d recommendation(s):", len(recs))
	for _, r := range recs {
		fmt.Fprintf(&b, "\n- %s: %s. %s", r.Role.Title(), r.Issue, r.Suggestion)
	}
	return agent.Output{Text: b.String(), Data: recs}, nil
}

func (s *SelfImprovement) recommend() []Recommendation {
	stepTimeout := 60 * time.Second
	if s.deps.Config != nil && s.deps.Config.Orchestrator.StepTimeout > 0 {
		stepTimeout = s.deps.Config.Orchestrator.StepTimeout
	}
	timeoutMs := float64(stepTimeout / time.Millisecond)

	var recs []Recommendation
	snap := s.deps.Ledger.Snapshot()
	for _, role := range agent.Roles() {
		st, ok := snap[role]
		if !ok || st.SampleCount < minSamplesForAdvice {
			continue
		}
		base := Recommendation{Role: role, SuccessRate: st.SuccessRate, AvgLatencyMs: st.AvgLatencyMs}

		if st.SuccessRate < unreliableBelow {
			r := base
			r.Issue = fmt.Sprintf("only %.0f%% of the last %d steps succeeded", st.SuccessRate*100, st.SampleCount)
			r.Suggestion = "Check the model backend and this agent's logs; raise orchestrator.max_retries if failures are transient."
			recs = append(recs, r)
		}

		if st.AvgLatencyMs > timeoutMs/2 {
			r := base
			r.Issue = fmt.Sprintf("average latency %.0fms is over half the step timeout", st.AvgLatencyMs)
			r.SuggestedTimeoutS = math.Ceil(st.AvgLatencyMs*2.5/1000)
			r.Suggestion = fmt.Sprintf("Raise orchestrator.step_timeout to about %.0fs.", r.SuggestedTimeoutS)
			recs = append(recs, r)
		}

		estimate := registry.Default(role).AvgCostEstimateMs
		if s.deps.Config != nil {
			if ov, ok := s.deps.Config.AgentOverride(role); ok && ov.CostEstimateMs > 0 {
				estimate = ov.CostEstimateMs
			}
		}
		if estimate > 0 && (st.AvgLatencyMs > estimate*2 || st.AvgLatencyMs < estimate/2) {
			r := base
			r.Issue = fmt.Sprintf("observed latency %.0fms is far from the %.0fms cost estimate", st.AvgLatencyMs, estimate)
			r.SuggestedCostMs = math.Round(st.AvgLatencyMs)
			r.Suggestion = fmt.Sprintf("Set agents.%s.cost_estimate_ms to %.0f so throttled admission matches reality.", role, r.SuggestedCostMs)
			recs = append(recs, r)
		}
	}
	return recs
}
